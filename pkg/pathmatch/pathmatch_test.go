package pathmatch

import (
	"bytes"
	"regexp"
	"testing"
)

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pat, text string
		want      bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "sub/main.go", false},
		{"**/*.go", "sub/dir/main.go", true},
		{"a?c", "abc", true},
		{"a?c", "a/c", false},
		{"src/**", "src/a/b/c.txt", true},
	}
	for _, c := range cases {
		got := globMatch([]byte(c.pat), []byte(c.text))
		if got != c.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", c.pat, c.text, got, c.want)
		}
	}
}

func TestMatcherPrefixKeep(t *testing.T) {
	m := NewMatcher(Rule{Kind: Prefix, Pattern: []byte("vendor")})
	if !m.Keep([]byte("vendor/pkg/x.go")) {
		t.Error("expected vendor/... to be kept")
	}
	if m.Keep([]byte("src/main.go")) {
		t.Error("expected src/main.go to be dropped (no matching rule)")
	}
}

func TestMatcherInvert(t *testing.T) {
	m := NewMatcher(
		Rule{Kind: Prefix, Pattern: []byte("")},
		Rule{Kind: Prefix, Pattern: []byte("secrets"), Invert: true},
	)
	if !m.Keep([]byte("src/main.go")) {
		t.Error("expected src/main.go to be kept")
	}
	if m.Keep([]byte("secrets/key.pem")) {
		t.Error("expected secrets/key.pem to be dropped by the invert rule")
	}
}

func TestMatcherRegex(t *testing.T) {
	re := regexp.MustCompile(`\.pem$`)
	m := NewMatcher(Rule{Kind: Regex, Regexp: re})
	if !m.Keep([]byte("certs/server.pem")) {
		t.Error("expected .pem file to match regex rule")
	}
	if m.Keep([]byte("certs/server.key")) {
		t.Error("expected .key file not to match")
	}
}

func TestMatcherNoRulesKeepsAll(t *testing.T) {
	m := NewMatcher()
	if !m.Keep([]byte("anything")) {
		t.Error("expected default-keep-all with no rules")
	}
}

func TestRenameTableLongestPrefix(t *testing.T) {
	rt := NewRenameTable(
		[][]byte{[]byte("a"), []byte("a/b")},
		[][]byte{[]byte("x"), []byte("y")},
	)
	got, ok := rt.Rewrite([]byte("a/b/c.txt"))
	if !ok {
		t.Fatal("expected a match")
	}
	if !bytes.Equal(got, []byte("y/c.txt")) {
		t.Errorf("expected longest-prefix rename to y/c.txt, got %q", got)
	}

	got2, ok2 := rt.Rewrite([]byte("a/z.txt"))
	if !ok2 {
		t.Fatal("expected a match for a/z.txt")
	}
	if !bytes.Equal(got2, []byte("x/z.txt")) {
		t.Errorf("expected a/z.txt -> x/z.txt, got %q", got2)
	}
}

func TestRenameTableNoMatch(t *testing.T) {
	rt := NewRenameTable([][]byte{[]byte("vendor")}, [][]byte{[]byte("third_party")})
	got, ok := rt.Rewrite([]byte("src/main.go"))
	if ok {
		t.Error("expected no match")
	}
	if !bytes.Equal(got, []byte("src/main.go")) {
		t.Errorf("expected unchanged path, got %q", got)
	}
}

func TestRenameTableEmpty(t *testing.T) {
	rt := NewRenameTable(nil, nil)
	got, ok := rt.Rewrite([]byte("anything"))
	if ok {
		t.Error("expected no match on empty table")
	}
	if string(got) != "anything" {
		t.Errorf("expected unchanged path")
	}
}
