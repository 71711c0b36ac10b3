// Package pathmatch implements spec.md section 4.2: deciding whether a
// path survives filtering, and rewriting paths that do via the
// longest-matching-prefix rename table.
//
// Grounded on filter-repo-rs's glob_match_bytes/path_matches/should_keep/
// rewrite_path (pathutil.rs) for predicate semantics, and on the
// teacher's use of github.com/acomagu/trie in surgeon/svnread.go for the
// prefix-tree shape reused here for the rename table (see SPEC_FULL.md
// Part C).
package pathmatch

import (
	"bytes"
	"regexp"

	"github.com/acomagu/trie"
)

// Kind distinguishes the three predicate forms spec.md section 4.2
// allows a single path rule to carry.
type Kind int

const (
	// Prefix matches any path sharing the given directory/file prefix.
	Prefix Kind = iota
	// Glob matches via glob_match_bytes semantics: ** spans "/", * excludes
	// it, ? matches exactly one non-"/" byte.
	Glob
	// Regex matches via an arbitrary compiled byte-regex.
	Regex
)

// Rule is a single path predicate, optionally inverted.
type Rule struct {
	Kind    Kind
	Pattern []byte
	Regexp  *regexp.Regexp // set when Kind == Regex
	Invert  bool
}

// Matches reports whether path satisfies rule, honoring Invert.
func (r Rule) Matches(path []byte) bool {
	hit := r.hit(path)
	if r.Invert {
		return !hit
	}
	return hit
}

// hit reports whether the rule's predicate matches path, ignoring Invert.
// An empty Prefix pattern matches every path.
func (r Rule) hit(path []byte) bool {
	switch r.Kind {
	case Prefix:
		return len(r.Pattern) == 0 || bytes.HasPrefix(path, r.Pattern) &&
			(len(path) == len(r.Pattern) || path[len(r.Pattern)] == '/')
	case Glob:
		return globMatch(r.Pattern, path)
	case Regex:
		return r.Regexp.Match(path)
	}
	return false
}

// Matcher evaluates an ordered list of path rules in declaration order:
// the last rule whose predicate matches a path decides, keeping the path
// for a plain rule and dropping it for an inverted one. A path that no
// rule's predicate matches is dropped.
type Matcher struct {
	rules []Rule
}

// NewMatcher builds a Matcher from rules, evaluated in the given order.
func NewMatcher(rules ...Rule) *Matcher {
	return &Matcher{rules: append([]Rule(nil), rules...)}
}

// Keep reports whether path should be retained. With no rules, everything
// is retained (spec.md's default-keep-all path policy).
func (m *Matcher) Keep(path []byte) bool {
	if len(m.rules) == 0 {
		return true
	}
	keep := false
	matchedAny := false
	for _, r := range m.rules {
		if r.hit(path) {
			matchedAny = true
			keep = !r.Invert
		}
	}
	if !matchedAny {
		return false
	}
	return keep
}

// globMatch implements filter-repo-rs's glob_match_bytes: "**" spans "/",
// "*" matches any run of bytes excluding "/", "?" matches exactly one
// byte other than "/", everything else matches literally.
func globMatch(pat, text []byte) bool {
	return matchFrom(pat, text)
}

func matchFrom(pat, text []byte) bool {
	switch {
	case len(pat) == 0:
		return len(text) == 0
	case pat[0] == '*' && len(pat) > 1 && pat[1] == '*':
		rest := pat[2:]
		for i := 0; i <= len(text); i++ {
			if matchFrom(rest, text[i:]) {
				return true
			}
		}
		return false
	case pat[0] == '*':
		rest := pat[1:]
		for i := 0; i <= len(text); i++ {
			if i > 0 && text[i-1] == '/' {
				break
			}
			if matchFrom(rest, text[i:]) {
				return true
			}
		}
		return false
	case pat[0] == '?':
		if len(text) == 0 || text[0] == '/' {
			return false
		}
		return matchFrom(pat[1:], text[1:])
	default:
		if len(text) == 0 || text[0] != pat[0] {
			return false
		}
		return matchFrom(pat[1:], text[1:])
	}
}

// RenameTable implements the longest-matching-prefix rename lookup the
// same way the teacher's branchtrie/longestPrefix pair does (svnread.go):
// register old path prefixes mapped to new prefixes, then rewrite any
// path sharing the longest registered prefix, splicing in the
// replacement and keeping the remainder. Built once from a fixed rule
// set via trie.New, since acomagu/trie builds an immutable trie.Tree
// from the full key/value set rather than supporting incremental Add.
type RenameTable struct {
	root    trie.Tree
	entries []renameEntry
}

type renameEntry struct {
	oldPrefix []byte
	newPrefix []byte
}

// NewRenameTable builds a rename table from paired old/new prefixes.
func NewRenameTable(oldPrefixes, newPrefixes [][]byte) *RenameTable {
	entries := make([]renameEntry, len(oldPrefixes))
	keys := make([][]byte, len(oldPrefixes))
	values := make([]interface{}, len(oldPrefixes))
	for i := range oldPrefixes {
		entries[i] = renameEntry{oldPrefix: oldPrefixes[i], newPrefix: newPrefixes[i]}
		keys[i] = oldPrefixes[i]
		values[i] = i
	}
	var root trie.Tree
	if len(keys) > 0 {
		root = trie.New(keys, values)
	}
	return &RenameTable{root: root, entries: entries}
}

// Rewrite applies the longest matching registered prefix rename to path,
// returning the rewritten path and true, or the path unchanged and false
// if no registered prefix matches. A match only counts at a path-segment
// boundary (end of path, or the next byte is "/").
func (t *RenameTable) Rewrite(path []byte) ([]byte, bool) {
	if t.root == nil {
		return path, false
	}
	bestIdx := -1
	node := t.root
	for i, b := range path {
		node = node.TraceByte(b)
		if node == nil {
			break
		}
		if v, ok := node.Terminal(); ok {
			if i+1 == len(path) || path[i+1] == '/' {
				bestIdx = v.(int)
			}
		}
	}
	if bestIdx < 0 {
		return path, false
	}
	entry := t.entries[bestIdx]
	rest := path[len(entry.oldPrefix):]
	out := append([]byte(nil), entry.newPrefix...)
	out = append(out, rest...)
	return out, true
}
