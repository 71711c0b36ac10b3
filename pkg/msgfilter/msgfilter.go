// Package msgfilter implements spec.md section 4.4: the message
// transformer. It runs a literal multi-pattern pass, then declaration-
// ordered regex passes, then short/long commit-hash remapping through a
// commit map.
//
// Grounded on filter-repo-rs's message.rs: MessageReplacer's literal
// pass (its aho-corasick fast path is reproduced here with a plain
// leftmost-earliest single-pass scanner, since the pack carries no
// aho-corasick library) and ShortHashMapper's prefix-indexed,
// ambiguity-aware short-hash lookup.
package msgfilter

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/reposieve/reposieve/pkg/ruleset"
)

const nullOID = "0000000000000000000000000000000000000000"
const minShortHashLen = 7

var shortHashPattern = regexp.MustCompile(`(?i)\b[0-9a-f]{7,40}\b`)

// LiteralReplacer applies an ordered set of literal byte replacements in
// a single left-to-right pass, matching MessageReplacer's leftmost,
// non-overlapping semantics without depending on an Aho-Corasick
// library: at each position it takes the earliest-declared pattern that
// matches (ties broken by declaration order, mirroring the reference's
// automaton construction order).
type LiteralReplacer struct {
	pairs []ruleset.Replacement
}

// NewLiteralReplacer builds a LiteralReplacer from literal-kind rules.
func NewLiteralReplacer(rules []ruleset.Replacement) *LiteralReplacer {
	var pairs []ruleset.Replacement
	for _, r := range rules {
		if r.Kind == ruleset.ReplaceLiteral && len(r.Pattern) > 0 {
			pairs = append(pairs, r)
		}
	}
	return &LiteralReplacer{pairs: pairs}
}

// Apply runs the literal pass over data.
func (l *LiteralReplacer) Apply(data []byte) []byte {
	if len(l.pairs) == 0 {
		return data
	}
	var out bytes.Buffer
	i := 0
	for i < len(data) {
		matched := false
		for _, p := range l.pairs {
			if bytes.HasPrefix(data[i:], p.Pattern) {
				out.Write(p.Replacement)
				i += len(p.Pattern)
				matched = true
				break
			}
		}
		if !matched {
			out.WriteByte(data[i])
			i++
		}
	}
	return out.Bytes()
}

// Transformer runs the full message-transform pipeline: literal pass,
// then regex passes, then hash remapping.
type Transformer struct {
	literal *LiteralReplacer
	regexes []ruleset.Replacement
	hashes  *ShortHashMapper // may be nil if no commit map is configured
}

// New builds a Transformer from rs's message rules and an optional
// short-hash mapper (nil disables hash remapping).
func New(rs *ruleset.RuleSet, hashes *ShortHashMapper) *Transformer {
	var regexes []ruleset.Replacement
	for _, r := range rs.MessageRules {
		if r.Kind == ruleset.ReplaceRegex || r.Kind == ruleset.ReplaceGlob {
			regexes = append(regexes, r)
		}
	}
	return &Transformer{
		literal: NewLiteralReplacer(rs.MessageRules),
		regexes: regexes,
		hashes:  hashes,
	}
}

// Apply runs literal, then regex, then hash-remap passes over message.
func (t *Transformer) Apply(message []byte) []byte {
	out := t.literal.Apply(message)
	for _, r := range t.regexes {
		out = r.Regexp.ReplaceAll(out, r.Replacement)
	}
	if t.hashes != nil {
		out = t.hashes.Rewrite(out)
	}
	return out
}

// ShortHashMapper resolves 7-to-40 hex-byte, word-boundary-isolated hash
// references against a commit map, substituting the corresponding new
// oid truncated to the same length, or the same-length zero oid when the
// match resolves to a pruned commit.
type ShortHashMapper struct {
	mu          sync.RWMutex
	lookup      map[string]string // old(lower) -> new(lower); "" means pruned
	prefixIndex map[string][]string
	cache       map[string]string
}

// NewShortHashMapper builds an empty mapper; commit-map entries are added
// via Update, or loaded up front from a previous run's commit-map file
// via LoadShortHashMapper.
func NewShortHashMapper() *ShortHashMapper {
	return &ShortHashMapper{
		lookup:      make(map[string]string),
		prefixIndex: make(map[string][]string),
		cache:       make(map[string]string),
	}
}

// LoadShortHashMapper parses a commit-map file (old-oid new-oid pairs,
// one per line) into a ready-to-use mapper, supporting spec.md section
// 4.4's "commit map is read lazily and may be populated from a previous
// run's output file" round-trip property.
func LoadShortHashMapper(r io.Reader) (*ShortHashMapper, error) {
	m := NewShortHashMapper()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		m.Update(fields[0], fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// Update records that oldOID now maps to newOID (newOID == the all-zeros
// oid records a pruned commit).
func (m *ShortHashMapper) Update(oldOID, newOID string) {
	if oldOID == "" || newOID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	oldNorm := strings.ToLower(oldOID)
	newNorm := ""
	if !strings.EqualFold(newOID, nullOID) {
		newNorm = strings.ToLower(newOID)
	}
	prefixLen := minShortHashLen
	if len(oldNorm) < prefixLen {
		prefixLen = len(oldNorm)
	}
	prefix := oldNorm[:prefixLen]
	entries := m.prefixIndex[prefix]
	found := false
	for _, e := range entries {
		if e == oldNorm {
			found = true
			break
		}
	}
	if !found {
		m.prefixIndex[prefix] = append(entries, oldNorm)
	}
	m.lookup[oldNorm] = newNorm
	m.cache = make(map[string]string)
}

// Rewrite scans data for hash-shaped word-boundary tokens and substitutes
// resolvable ones.
func (m *ShortHashMapper) Rewrite(data []byte) []byte {
	return shortHashPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		if resolved, ok := m.translate(match); ok {
			return resolved
		}
		return match
	})
}

func (m *ShortHashMapper) translate(candidate []byte) ([]byte, bool) {
	if len(candidate) < minShortHashLen {
		return nil, false
	}
	key := strings.ToLower(string(candidate))

	m.mu.RLock()
	if cached, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		if cached == "" {
			return nil, false
		}
		return []byte(cached), true
	}
	m.mu.RUnlock()

	var resolved string
	var ok bool
	if len(key) == 40 {
		newOID, exists := m.lookup[key]
		if exists {
			resolved, ok = m.resultFor(newOID, len(key))
		}
	} else {
		resolved, ok = m.lookupPrefix(key, len(key))
	}

	m.mu.Lock()
	if ok {
		m.cache[key] = resolved
	} else {
		m.cache[key] = ""
	}
	m.mu.Unlock()

	if !ok {
		return nil, false
	}
	return []byte(resolved), true
}

// resultFor truncates newOID to length, or returns the same-length zero
// oid when newOID is empty (a pruned commit).
func (m *ShortHashMapper) resultFor(newOID string, length int) (string, bool) {
	if newOID == "" {
		return nullOID[:length], true
	}
	if len(newOID) < length {
		return "", false
	}
	return newOID[:length], true
}

func (m *ShortHashMapper) lookupPrefix(short string, origLen int) (string, bool) {
	if len(short) < minShortHashLen {
		return "", false
	}
	key := short[:minShortHashLen]
	entries, ok := m.prefixIndex[key]
	if !ok {
		return "", false
	}
	var fullOld string
	matches := 0
	for _, full := range entries {
		if len(full) >= origLen && full[:origLen] == short {
			matches++
			fullOld = full
		}
	}
	if matches != 1 {
		return "", false
	}
	newOID := m.lookup[fullOld]
	return m.resultFor(newOID, origLen)
}
