// Package ruleset defines the immutable rule-set data model (spec.md
// section 3) and the rule-file loaders (spec.md section 6's "Rule file
// formats"). The path-rename loader uses github.com/anmitsu/go-shlex to
// tokenize prefixes that may be shell-quoted to contain whitespace; the
// other loaders split lines without it. go-shlex is the same tokenizer
// the teacher uses for its own command-line splitting
// (surgeon/reposurgeon.go's repeated shlex.Split(line, true) calls).
package ruleset

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	shlex "github.com/anmitsu/go-shlex"

	"github.com/reposieve/reposieve/pkg/pathmatch"
	"github.com/reposieve/reposieve/pkg/rerror"
)

// PrunePolicy controls when empty commits or degenerate merges are
// dropped, per spec.md section 3.
type PrunePolicy int

const (
	// PruneAuto preserves originally-empty commits, dropping only ones
	// emptied by filtering.
	PruneAuto PrunePolicy = iota
	// PruneAlways drops every qualifying commit.
	PruneAlways
	// PruneNever keeps every commit regardless of emptiness.
	PruneNever
)

// CompatPolicy names what should happen to a rewritten path that is
// illegal on the target filesystem, per spec.md section 4.2. The commit
// rewriter does not consult it; the value only appears in the debug
// rule-set snapshot.
type CompatPolicy int

const (
	// CompatSanitize silently rewrites the offending path and records
	// the substitution.
	CompatSanitize CompatPolicy = iota
	// CompatSkip drops the filechange entirely.
	CompatSkip
	// CompatError aborts the run with a PathCompatError.
	CompatError
)

// ReplaceKind distinguishes literal, regex, and glob replacement rules.
type ReplaceKind int

const (
	ReplaceLiteral ReplaceKind = iota
	ReplaceRegex
	ReplaceGlob
)

// Replacement is one pattern/replacement pair from a message, blob-text,
// or identity rule file.
type Replacement struct {
	Kind        ReplaceKind
	Pattern     []byte
	Regexp      *regexp.Regexp // set for ReplaceRegex and compiled ReplaceGlob
	Replacement []byte
}

// RenamePair is one old-prefix -> new-prefix path rename.
type RenamePair struct {
	Old []byte
	New []byte
}

// IdentityRewrite is one "old==>new" line from an explicit-mode identity
// rewrite file.
type IdentityRewrite struct {
	Old string
	New string
}

// MailmapEntry is one parsed line of a standard git mailmap file:
// "Canonical Name <canonical@email> <old@email>", with the old name
// portion optional.
type MailmapEntry struct {
	CanonicalName  string
	CanonicalEmail string
	OldName        string
	OldEmail       string
}

// RuleSet is the immutable, run-scoped bundle of every rewrite rule,
// built once at startup and read-only thereafter (spec.md section 3).
type RuleSet struct {
	PathMatcher   *pathmatch.Matcher
	PathRenames   []RenamePair
	MessageRules  []Replacement
	BlobRules     []Replacement
	IdentityRules []Replacement

	MaxBlobSize  int64 // 0 means unset
	StripBlobIDs map[string]struct{}

	TagRenames    []RenamePair
	BranchRenames []RenamePair

	PruneEmptyCommits PrunePolicy
	PruneDegenerate   PrunePolicy
	NoFF              bool

	PathCompat CompatPolicy

	Mailmap            []MailmapEntry
	AuthorNameRules    []IdentityRewrite
	CommitterNameRules []IdentityRewrite
	EmailRules         []IdentityRewrite
}

// New builds an empty RuleSet with default (permissive) policies:
// PruneAuto for both empty-commit and degenerate-merge pruning, and
// CompatSanitize for path compatibility.
func New() *RuleSet {
	return &RuleSet{
		StripBlobIDs:      make(map[string]struct{}),
		PruneEmptyCommits: PruneAuto,
		PruneDegenerate:   PruneAuto,
		PathCompat:        CompatSanitize,
	}
}

// LoadReplacementFile parses a message/blob-text/identity replacement
// rule file per spec.md section 6: one rule per line, "regex:" and
// "glob:" prefixes select rule kind (default literal), "==>" separates
// pattern from replacement, blank lines and "#" comments are ignored.
func LoadReplacementFile(r io.Reader) ([]Replacement, error) {
	var out []Replacement
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		rule, err := parseReplacementLine(line)
		if err != nil {
			return nil, rerror.Wrap(rerror.Config, err, "replacement rule file line %d", lineNo).WithInput(line)
		}
		out = append(out, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, rerror.Wrap(rerror.Config, err, "reading replacement rule file")
	}
	return out, nil
}

// cutSep splits s on the first occurrence of sep, reporting whether sep
// was found. Equivalent to strings.Cut, reimplemented locally since this
// module targets an older Go release than strings.Cut's introduction.
func cutSep(s, sep string) (before, after string, found bool) {
	if i := strings.Index(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

func parseReplacementLine(line string) (Replacement, error) {
	kind := ReplaceLiteral
	body := line
	switch {
	case strings.HasPrefix(body, "regex:"):
		kind = ReplaceRegex
		body = body[len("regex:"):]
	case strings.HasPrefix(body, "glob:"):
		kind = ReplaceGlob
		body = body[len("glob:"):]
	case strings.HasPrefix(body, "literal:"):
		kind = ReplaceLiteral
		body = body[len("literal:"):]
	}

	pattern, replacement, hasSep := cutSep(body, "==>")
	var r Replacement
	r.Kind = kind
	r.Pattern = []byte(pattern)
	if hasSep {
		r.Replacement = []byte(replacement)
	} else {
		// No separator means "delete on match" (empty replacement),
		// matching the common git-filter-repo convention.
		r.Replacement = nil
	}

	switch kind {
	case ReplaceRegex:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Replacement{}, fmt.Errorf("compiling regex %q: %w", pattern, err)
		}
		r.Regexp = re
	case ReplaceGlob:
		re, err := globToRegexp(pattern)
		if err != nil {
			return Replacement{}, fmt.Errorf("compiling glob %q: %w", pattern, err)
		}
		r.Regexp = re
	}
	return r, nil
}

// globToRegexp compiles a glob pattern (*, **, ?) to the equivalent
// regexp, since spec.md section 4.3 requires glob replacement rules to
// "compile to regex internally".
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	return regexp.Compile(b.String())
}

// LoadPathRenameFile parses a path-rename rule file: one "old==>new"
// pair per line, tokenized with shlex so that paths containing spaces
// can be shell-quoted.
func LoadPathRenameFile(r io.Reader) ([]RenamePair, error) {
	var out []RenamePair
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		oldS, newS, ok := cutSep(line, "==>")
		if !ok {
			return nil, rerror.New(rerror.Config, "path rename line %d missing '==>' separator", lineNo).WithInput(line)
		}
		oldTok, err := shlex.Split(strings.TrimSpace(oldS), true)
		if err != nil || len(oldTok) != 1 {
			return nil, rerror.Wrap(rerror.Config, err, "path rename line %d: invalid old-prefix token", lineNo).WithInput(line)
		}
		newTok, err := shlex.Split(strings.TrimSpace(newS), true)
		if err != nil {
			return nil, rerror.Wrap(rerror.Config, err, "path rename line %d: invalid new-prefix token", lineNo).WithInput(line)
		}
		newPrefix := ""
		if len(newTok) == 1 {
			newPrefix = newTok[0]
		}
		out = append(out, RenamePair{Old: []byte(oldTok[0]), New: []byte(newPrefix)})
	}
	if err := scanner.Err(); err != nil {
		return nil, rerror.Wrap(rerror.Config, err, "reading path rename file")
	}
	return out, nil
}

// LoadIdentityRewriteFile parses an explicit-mode identity rewrite file:
// one "old==>new" pair per line.
func LoadIdentityRewriteFile(r io.Reader) ([]IdentityRewrite, error) {
	var out []IdentityRewrite
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		oldS, newS, ok := cutSep(line, "==>")
		if !ok {
			return nil, rerror.New(rerror.Config, "identity rewrite line %d missing '==>' separator", lineNo).WithInput(line)
		}
		out = append(out, IdentityRewrite{Old: strings.TrimSpace(oldS), New: strings.TrimSpace(newS)})
	}
	if err := scanner.Err(); err != nil {
		return nil, rerror.Wrap(rerror.Config, err, "reading identity rewrite file")
	}
	return out, nil
}

// LoadBlobIDStripFile parses a blob-id strip list: one 40-hex oid per
// line.
func LoadBlobIDStripFile(r io.Reader) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	lineNo := 0
	hex := regexp.MustCompile(`^[0-9a-fA-F]{40}$`)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !hex.MatchString(line) {
			return nil, rerror.New(rerror.Config, "blob id strip list line %d is not a 40-hex oid", lineNo).WithInput(line)
		}
		out[strings.ToLower(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, rerror.Wrap(rerror.Config, err, "reading blob id strip file")
	}
	return out, nil
}

// LoadMailmapFile parses a standard git mailmap file. Supported line
// shapes: "Name <email>", "Name <email> <old-email>", and
// "Name <email> Old Name <old-email>".
func LoadMailmapFile(r io.Reader) ([]MailmapEntry, error) {
	var out []MailmapEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, err := parseMailmapLine(line)
		if err != nil {
			return nil, rerror.Wrap(rerror.Config, err, "parsing mailmap line").WithInput(line)
		}
		out = append(out, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, rerror.Wrap(rerror.Config, err, "reading mailmap file")
	}
	return out, nil
}

func parseMailmapLine(line string) (MailmapEntry, error) {
	var angled []string
	rest := line
	for {
		start := strings.Index(rest, "<")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], ">")
		if end < 0 {
			return MailmapEntry{}, fmt.Errorf("unterminated <...> in mailmap line %q", line)
		}
		angled = append(angled, rest[start+1:start+end])
		rest = rest[start+end+1:]
	}
	if len(angled) == 0 {
		return MailmapEntry{}, fmt.Errorf("no <email> found in mailmap line %q", line)
	}
	beforeFirst := strings.TrimSpace(line[:strings.Index(line, "<")])
	var e MailmapEntry
	e.CanonicalName = beforeFirst
	e.CanonicalEmail = angled[0]
	if len(angled) >= 2 {
		between := line[strings.Index(line, ">")+1:]
		secondStart := strings.Index(between, "<")
		if secondStart >= 0 {
			e.OldName = strings.TrimSpace(between[:secondStart])
		}
		e.OldEmail = angled[1]
	}
	return e, nil
}
