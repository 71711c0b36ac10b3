// Package markset provides insertion-ordered sets and alias tables over
// fast-import marks. Set is backed by
// github.com/emirpasic/gods/sets/linkedhashset, per SPEC_FULL.md's
// domain-stack wiring. The commit rewriter and the tag/ref reconciler use
// only AliasTable and Mark; the reconciler keeps its dedupe order in a
// plain slice, and no package in the module uses Set.
package markset

import (
	orderedset "github.com/emirpasic/gods/sets/linkedhashset"
)

// Mark is a fast-import mark number, named ":N" in the stream.
type Mark uint32

// Set is an insertion-ordered set of marks.
type Set struct {
	inner *orderedset.Set
}

// NewSet builds an empty mark set.
func NewSet() *Set {
	return &Set{inner: orderedset.New()}
}

// Add records mark as present.
func (s *Set) Add(mark Mark) {
	s.inner.Add(mark)
}

// Contains reports whether mark has been recorded.
func (s *Set) Contains(mark Mark) bool {
	return s.inner.Contains(mark)
}

// Len returns the number of distinct marks recorded.
func (s *Set) Len() int {
	return s.inner.Size()
}

// Values returns the recorded marks in insertion order.
func (s *Set) Values() []Mark {
	raw := s.inner.Values()
	out := make([]Mark, len(raw))
	for i, v := range raw {
		out[i] = v.(Mark)
	}
	return out
}

// AliasTable implements the transitive parent-rewrite table described in
// spec.md section 9: a union-find-flavored chain from a pruned commit's
// mark to the mark of its nearest kept ancestor, with cycle guarding.
type AliasTable struct {
	next map[Mark]Mark
}

// NewAliasTable builds an empty alias table.
func NewAliasTable() *AliasTable {
	return &AliasTable{next: make(map[Mark]Mark)}
}

// Set records that mark aliases directly to target (target may itself be
// aliased; Resolve follows the whole chain).
func (t *AliasTable) Set(mark, target Mark) {
	t.next[mark] = target
}

// Resolve follows the alias chain from mark to its canonical (non-aliased)
// mark, guarding against cycles by bailing out the moment a mark repeats.
func (t *AliasTable) Resolve(mark Mark) Mark {
	current := mark
	seen := map[Mark]struct{}{}
	for {
		next, ok := t.next[current]
		if !ok || next == current {
			return current
		}
		if _, looped := seen[current]; looped {
			return current
		}
		seen[current] = struct{}{}
		current = next
	}
}

// Has reports whether mark has a direct alias entry.
func (t *AliasTable) Has(mark Mark) bool {
	_, ok := t.next[mark]
	return ok
}
