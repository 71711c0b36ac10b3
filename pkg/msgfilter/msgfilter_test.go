package msgfilter

import (
	"strings"
	"testing"

	"github.com/reposieve/reposieve/pkg/ruleset"
)

func TestLiteralReplacer(t *testing.T) {
	rules := []ruleset.Replacement{
		{Kind: ruleset.ReplaceLiteral, Pattern: []byte("foo"), Replacement: []byte("bar")},
	}
	lr := NewLiteralReplacer(rules)
	got := lr.Apply([]byte("a foo b foo c"))
	if string(got) != "a bar b bar c" {
		t.Errorf("got %q", got)
	}
}

func TestLiteralReplacerEarliestDeclaredWins(t *testing.T) {
	rules := []ruleset.Replacement{
		{Kind: ruleset.ReplaceLiteral, Pattern: []byte("foo"), Replacement: []byte("FIRST")},
		{Kind: ruleset.ReplaceLiteral, Pattern: []byte("foobar"), Replacement: []byte("SECOND")},
	}
	lr := NewLiteralReplacer(rules)
	got := lr.Apply([]byte("foobar"))
	if string(got) != "FIRSTbar" {
		t.Errorf("got %q, want FIRSTbar (earliest declared rule wins)", got)
	}
}

func TestTransformerRegexPass(t *testing.T) {
	rs := ruleset.New()
	rules, err := ruleset.LoadReplacementFile(strings.NewReader("regex:JIRA-\\d+==>[ticket]\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rs.MessageRules = rules
	tr := New(rs, nil)
	got := tr.Apply([]byte("fixes JIRA-123 and JIRA-456"))
	if string(got) != "fixes [ticket] and [ticket]" {
		t.Errorf("got %q", got)
	}
}

func TestShortHashMapperFullHash(t *testing.T) {
	m := NewShortHashMapper()
	old := strings.Repeat("a", 40)
	repl := strings.Repeat("b", 40)
	m.Update(old, repl)
	got := m.Rewrite([]byte("see " + old + " for details"))
	want := "see " + repl + " for details"
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestShortHashMapperPrunedMapsToZero(t *testing.T) {
	m := NewShortHashMapper()
	old := strings.Repeat("c", 40)
	m.Update(old, nullOID)
	got := m.Rewrite([]byte(old[:7]))
	want := nullOID[:7]
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestShortHashMapperAmbiguousPrefixLeftUnresolved(t *testing.T) {
	m := NewShortHashMapper()
	m.Update("deadbee1"+strings.Repeat("0", 32), strings.Repeat("1", 40))
	m.Update("deadbee2"+strings.Repeat("0", 32), strings.Repeat("2", 40))
	got := m.Rewrite([]byte("deadbee"))
	if string(got) != "deadbee" {
		t.Errorf("expected ambiguous short hash left untouched, got %q", got)
	}
}

func TestLoadShortHashMapperRoundTrip(t *testing.T) {
	old := strings.Repeat("d", 40)
	repl := strings.Repeat("e", 40)
	src := old + " " + repl + "\n"
	m, err := LoadShortHashMapper(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := m.Rewrite([]byte(old[:7]))
	if string(got) != repl[:7] {
		t.Errorf("got %q, want %q", got, repl[:7])
	}
}
