// Package blobfilter implements spec.md section 4.3: the blob
// transformer. It decides whether a blob's payload survives (size limit,
// id-strip set) and, if so, applies literal/regex/glob content
// replacement rules in a single pass per rule kind.
//
// Grounded on filter-repo-rs's blob-handling precedence in commit.rs and
// filechange.rs (max-size drop, then strip-set drop, then content
// replace) for ordering, and on spec.md section 5's optional bounded
// worker pool for the parallel path, backed by
// github.com/orcaman/concurrent-map for the reorder buffer keyed by
// blob mark (SPEC_FULL.md Part C).
package blobfilter

import (
	"bytes"
	"fmt"
	"sync"

	cmap "github.com/orcaman/concurrent-map"

	"github.com/reposieve/reposieve/pkg/markset"
	"github.com/reposieve/reposieve/pkg/ruleset"
)

// Blob is one blob record from the fast-export stream.
type Blob struct {
	Mark         markset.Mark
	OriginalOID  string // 40-hex, empty if not annotated
	Payload      []byte
}

// Result is the transformer's decision for one blob.
type Result struct {
	Mark    markset.Mark
	Dropped bool
	Payload []byte // unchanged (same backing array) when no rule matched
}

// Transformer applies a RuleSet's blob rules to a stream of blobs.
type Transformer struct {
	maxSize  int64
	stripSet map[string]struct{}
	rules    []ruleset.Replacement
}

// New builds a Transformer from rs's blob-related fields.
func New(rs *ruleset.RuleSet) *Transformer {
	return &Transformer{
		maxSize:  rs.MaxBlobSize,
		stripSet: rs.StripBlobIDs,
		rules:    rs.BlobRules,
	}
}

// Apply transforms one blob, implementing spec.md section 4.3's
// precedence: max-size drop, then strip-set drop, then content
// replacement.
func (t *Transformer) Apply(b Blob) Result {
	if t.maxSize > 0 && int64(len(b.Payload)) > t.maxSize {
		return Result{Mark: b.Mark, Dropped: true}
	}
	if b.OriginalOID != "" {
		if _, stripped := t.stripSet[b.OriginalOID]; stripped {
			return Result{Mark: b.Mark, Dropped: true}
		}
	}
	out := applyReplacements(b.Payload, t.rules)
	return Result{Mark: b.Mark, Payload: out}
}

// applyReplacements runs all literal rules together in one single pass
// over the payload, so no literal rule rescans text another literal rule
// produced. Regex and glob rules then run one after another in
// declaration order, each over the previous rule's output.
func applyReplacements(payload []byte, rules []ruleset.Replacement) []byte {
	if len(rules) == 0 {
		return payload
	}
	var literals []ruleset.Replacement
	var scanning []ruleset.Replacement // regex and glob rules, applied sequentially
	for _, r := range rules {
		if r.Kind == ruleset.ReplaceLiteral {
			literals = append(literals, r)
		} else {
			scanning = append(scanning, r)
		}
	}

	current := payload
	if len(literals) > 0 {
		current = replaceLiteralsSinglePass(current, literals)
	}
	for _, r := range scanning {
		current = r.Regexp.ReplaceAll(current, r.Replacement)
	}
	if bytes.Equal(current, payload) {
		return payload
	}
	return current
}

// replaceLiteralsSinglePass scans text once, left to right, and at each
// position tries every literal pattern, taking the longest match at the
// leftmost position (a deterministic leftmost-longest policy) so that
// overlapping literal rules don't get scanned by more than one pass.
func replaceLiteralsSinglePass(text []byte, rules []ruleset.Replacement) []byte {
	var out bytes.Buffer
	i := 0
	for i < len(text) {
		bestLen := -1
		var bestRule ruleset.Replacement
		for _, r := range rules {
			if len(r.Pattern) == 0 {
				continue
			}
			if bytes.HasPrefix(text[i:], r.Pattern) && len(r.Pattern) > bestLen {
				bestLen = len(r.Pattern)
				bestRule = r
			}
		}
		if bestLen < 0 {
			out.WriteByte(text[i])
			i++
			continue
		}
		out.Write(bestRule.Replacement)
		i += bestLen
	}
	return out.Bytes()
}

// DropSet tracks which blob marks were dropped, so the commit rewriter
// can convert referencing M filechanges to D per spec.md section 4.3.
type DropSet struct {
	mu   sync.RWMutex
	seen map[markset.Mark]struct{}
}

// NewDropSet builds an empty DropSet.
func NewDropSet() *DropSet {
	return &DropSet{seen: make(map[markset.Mark]struct{})}
}

// Record marks a blob mark as dropped.
func (d *DropSet) Record(mark markset.Mark) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[mark] = struct{}{}
}

// Dropped reports whether mark was dropped.
func (d *DropSet) Dropped(mark markset.Mark) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.seen[mark]
	return ok
}

// job is one unit of parallel work submitted to the pool.
type job struct {
	blob Blob
}

// ParallelPool runs Transformer.Apply across a bounded worker pool,
// reordering results back into submission order via a concurrent map
// keyed by blob mark, per spec.md section 5's "optimization, not a
// semantic change" requirement: callers observe results in exactly the
// order blobs were submitted regardless of completion order.
type ParallelPool struct {
	t         *Transformer
	workers   int
	jobs      chan job
	results   cmap.ConcurrentMap
	wg        sync.WaitGroup
	nextEmit  int
	submitted int
	mu        sync.Mutex
	cond      *sync.Cond
}

// NewParallelPool starts a bounded pool of workers, each applying t's
// rules to submitted blobs concurrently.
func NewParallelPool(t *Transformer, workers int) *ParallelPool {
	if workers < 1 {
		workers = 1
	}
	p := &ParallelPool{
		t:       t,
		workers: workers,
		jobs:    make(chan job, workers*2),
		results: cmap.New(),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *ParallelPool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		r := p.t.Apply(j.blob)
		p.results.Set(resultKey(r.Mark), r)
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

func resultKey(mark markset.Mark) string {
	return fmt.Sprintf("%d", mark)
}

// Submit enqueues a blob for parallel processing. Blobs must be
// submitted in the order they appear in the stream (ascending mark
// order), matching fast-export's monotonic mark guarantee.
func (p *ParallelPool) Submit(b Blob) {
	p.mu.Lock()
	p.submitted++
	p.mu.Unlock()
	p.jobs <- job{blob: b}
}

// Next blocks until the result for the blob with the given mark is
// available, then returns it; calling it with marks in submission order
// yields results in submission order.
func (p *ParallelPool) Next(mark markset.Mark) Result {
	key := resultKey(mark)
	for {
		if v, ok := p.results.Get(key); ok {
			p.results.Remove(key)
			return v.(Result)
		}
		p.mu.Lock()
		p.cond.Wait()
		p.mu.Unlock()
	}
}

// Close stops accepting submissions and waits for in-flight work to
// finish.
func (p *ParallelPool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
