package ruleset

import (
	"strings"
	"testing"
)

func TestLoadReplacementFileLiteral(t *testing.T) {
	src := "TOKEN=abcdef==>TOKEN=REDACTED\n# a comment\n\nliteral:bare==>gone\n"
	rules, err := LoadReplacementFile(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Kind != ReplaceLiteral || string(rules[0].Pattern) != "TOKEN=abcdef" || string(rules[0].Replacement) != "TOKEN=REDACTED" {
		t.Errorf("unexpected first rule: %+v", rules[0])
	}
}

func TestLoadReplacementFileRegexAndGlob(t *testing.T) {
	src := "regex:sec[rR]et==>REDACTED\nglob:*.key==>STRIPPED\n"
	rules, err := LoadReplacementFile(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rules[0].Kind != ReplaceRegex || rules[0].Regexp == nil {
		t.Errorf("expected compiled regex rule")
	}
	if rules[1].Kind != ReplaceGlob || rules[1].Regexp == nil {
		t.Errorf("expected compiled glob rule")
	}
	if !rules[1].Regexp.MatchString("id_rsa.key") {
		t.Errorf("expected glob-compiled regex to match id_rsa.key")
	}
}

func TestLoadReplacementFileNoSeparatorDeletes(t *testing.T) {
	rules, err := LoadReplacementFile(strings.NewReader("justpattern\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rules[0].Replacement != nil {
		t.Errorf("expected nil replacement for no-separator rule")
	}
}

func TestLoadPathRenameFile(t *testing.T) {
	src := "frontend==>\ndocs==>documentation\n"
	pairs, err := LoadPathRenameFile(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if string(pairs[0].Old) != "frontend" || string(pairs[0].New) != "" {
		t.Errorf("unexpected first pair: %+v", pairs[0])
	}
}

func TestLoadIdentityRewriteFile(t *testing.T) {
	src := "old@example.com==>new@example.com\n"
	rules, err := LoadIdentityRewriteFile(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rules[0].Old != "old@example.com" || rules[0].New != "new@example.com" {
		t.Errorf("unexpected rewrite: %+v", rules[0])
	}
}

func TestLoadBlobIDStripFile(t *testing.T) {
	valid := strings.Repeat("ab", 20)
	set, err := LoadBlobIDStripFile(strings.NewReader(valid + "\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := set[valid]; !ok {
		t.Errorf("expected %s in strip set", valid)
	}
}

func TestLoadBlobIDStripFileRejectsBadOid(t *testing.T) {
	_, err := LoadBlobIDStripFile(strings.NewReader("not-an-oid\n"))
	if err == nil {
		t.Fatal("expected an error for invalid oid")
	}
}

func TestLoadMailmapFile(t *testing.T) {
	src := "Jane Doe <jane@example.com> <jane.old@example.com>\n"
	entries, err := LoadMailmapFile(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.CanonicalName != "Jane Doe" || e.CanonicalEmail != "jane@example.com" || e.OldEmail != "jane.old@example.com" {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestNewDefaults(t *testing.T) {
	rs := New()
	if rs.PruneEmptyCommits != PruneAuto || rs.PruneDegenerate != PruneAuto {
		t.Errorf("expected default prune policy Auto")
	}
	if rs.PathCompat != CompatSanitize {
		t.Errorf("expected default compat policy Sanitize")
	}
}
