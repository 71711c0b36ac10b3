// Package rewrite implements spec.md section 4.7: the commit rewriter.
// For each commit it applies identity and message transforms, filters
// and renames filechanges, converts dropped-blob references to deletes,
// rewrites parents through the alias map, and decides prune/keep.
//
// Grounded on filter-repo-rs's should_keep_commit/finalize_parent_lines
// (commit.rs) for the prune-policy and degenerate-merge rules, and on
// pkg/markset.AliasTable for the transitive parent-rewrite chain spec.md
// section 9 names.
package rewrite

import (
	"github.com/reposieve/reposieve/pkg/blobfilter"
	"github.com/reposieve/reposieve/pkg/fastexport"
	"github.com/reposieve/reposieve/pkg/identity"
	"github.com/reposieve/reposieve/pkg/markset"
	"github.com/reposieve/reposieve/pkg/msgfilter"
	"github.com/reposieve/reposieve/pkg/pathmatch"
	"github.com/reposieve/reposieve/pkg/ruleset"
)

// Outcome is what became of a processed commit.
type Outcome int

const (
	// Kept means the commit is emitted to fast-import with its own mark.
	Kept Outcome = iota
	// Pruned means the commit is replaced by an `alias` directive
	// pointing at its effective first-ancestor mark.
	Pruned
)

// Result is the rewriter's decision for one commit.
type Result struct {
	Outcome    Outcome
	Commit     *fastexport.Commit // rewritten in place; nil if Pruned
	AliasFrom  markset.Mark
	AliasTo    markset.Mark // only meaningful when Outcome == Pruned
}

// Rewriter holds the rule-derived state the commit rewriter consults for
// every commit: path matcher/renamer, identity/message transformers, the
// blob drop set, and the running alias table.
type Rewriter struct {
	matcher   *pathmatch.Matcher
	renames   *pathmatch.RenameTable
	identity  *identity.Transformer
	message   *msgfilter.Transformer
	drops     *blobfilter.DropSet
	aliases   *markset.AliasTable
	noFF      bool
	prunePolicy ruleset.PrunePolicy
	mergePrune  ruleset.PrunePolicy
}

// New builds a Rewriter from a RuleSet and the shared drop-set and alias
// table the orchestrator owns for the run.
func New(rs *ruleset.RuleSet, matcher *pathmatch.Matcher, renames *pathmatch.RenameTable, idT *identity.Transformer, msgT *msgfilter.Transformer, drops *blobfilter.DropSet, aliases *markset.AliasTable) *Rewriter {
	return &Rewriter{
		matcher:     matcher,
		renames:     renames,
		identity:    idT,
		message:     msgT,
		drops:       drops,
		aliases:     aliases,
		noFF:        rs.NoFF,
		prunePolicy: rs.PruneEmptyCommits,
		mergePrune:  rs.PruneDegenerate,
	}
}

// Process applies the full commit-rewrite pipeline (spec.md section
// 4.7's seven steps) to c in place and returns the outcome.
func (rw *Rewriter) Process(c *fastexport.Commit) Result {
	originallyEmpty := len(c.FileChanges) == 0 && len(c.Merges) == 0

	if c.AuthorLine != "" {
		if id, err := identity.Parse(c.AuthorLine); err == nil {
			c.AuthorLine = rw.identity.RewriteAuthor(id).String()
		}
	}
	if id, err := identity.Parse(c.CommitterLine); err == nil {
		c.CommitterLine = rw.identity.RewriteCommitter(id).String()
	}
	c.Message = rw.message.Apply(c.Message)

	c.FileChanges = rw.rewriteFileChanges(c.FileChanges)

	parents := rw.collectParents(c)
	rewrittenParents := make([]markset.Mark, 0, len(parents))
	for _, p := range parents {
		rewrittenParents = append(rewrittenParents, rw.aliases.Resolve(p))
	}
	rewrittenParents = dedupeMarks(rewrittenParents)

	wasMerge := len(parents) >= 2
	isMerge := wasMerge
	degenerate := wasMerge && len(rewrittenParents) < 2
	if degenerate && !rw.noFF {
		isMerge = false
	} else if degenerate && rw.noFF {
		// no-ff forces keeping the merge shape even if a parent collapsed;
		// pad back to the original parent's alias so fast-import still
		// sees two parents.
		for len(rewrittenParents) < 2 && len(parents) >= 2 {
			rewrittenParents = append(rewrittenParents, rw.aliases.Resolve(parents[0]))
		}
	}
	rw.applyParents(c, rewrittenParents, isMerge)

	empty := len(c.FileChanges) == 0
	if rw.shouldPrune(empty, isMerge, wasMerge, originallyEmpty) {
		firstParent := markset.Mark(0)
		if len(rewrittenParents) > 0 {
			firstParent = rewrittenParents[0]
		}
		rw.aliases.Set(c.Mark, firstParent)
		return Result{Outcome: Pruned, AliasFrom: c.Mark, AliasTo: firstParent}
	}
	return Result{Outcome: Kept, Commit: c}
}

// shouldPrune implements spec.md section 4.7 step 6: a merge that is
// still shaped as a merge (non-degenerate, or kept by no-ff) is never
// pruned; a commit that collapsed from a degenerate merge is pruned
// under the degenerate-merge policy; every other empty commit is pruned
// under the plain empty-commit policy.
func (rw *Rewriter) shouldPrune(empty, isMerge, wasMerge, originallyEmpty bool) bool {
	if isMerge || !empty {
		return false
	}
	policy := rw.prunePolicy
	if wasMerge {
		policy = rw.mergePrune
	}
	switch policy {
	case ruleset.PruneNever:
		return false
	case ruleset.PruneAlways:
		return true
	default: // PruneAuto
		return !originallyEmpty
	}
}

func (rw *Rewriter) collectParents(c *fastexport.Commit) []markset.Mark {
	var parents []markset.Mark
	if m, ok := fastexport.MarkRef(c.From); ok {
		parents = append(parents, m)
	}
	for _, merge := range c.Merges {
		if m, ok := fastexport.MarkRef(merge); ok {
			parents = append(parents, m)
		}
	}
	return parents
}

func (rw *Rewriter) applyParents(c *fastexport.Commit, parents []markset.Mark, isMerge bool) {
	if len(parents) == 0 {
		c.From = ""
		c.Merges = nil
		return
	}
	c.From = markRefString(parents[0])
	if isMerge {
		c.Merges = make([]string, 0, len(parents)-1)
		for _, p := range parents[1:] {
			c.Merges = append(c.Merges, markRefString(p))
		}
	} else {
		c.Merges = nil
	}
}

func markRefString(m markset.Mark) string {
	if m == 0 {
		return ""
	}
	return ":" + itoa(uint32(m))
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func dedupeMarks(marks []markset.Mark) []markset.Mark {
	seen := make(map[markset.Mark]struct{}, len(marks))
	out := make([]markset.Mark, 0, len(marks))
	for _, m := range marks {
		if m == 0 {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// rewriteFileChanges applies the path matcher, rename, and
// dropped-blob-to-delete conversion, then dedupes by final path (last
// write wins). It applies no path-compat sanitization: the rule set's
// PathCompat policy is not consulted, so renamed paths are emitted as
// the rename table produced them.
func (rw *Rewriter) rewriteFileChanges(in []fastexport.FileChange) []fastexport.FileChange {
	var kept []fastexport.FileChange
	for _, fc := range in {
		if fc.Op == fastexport.OpDeleteAll {
			kept = append(kept, fc)
			continue
		}
		if !rw.matcher.Keep(fc.Path) {
			continue
		}
		if newPath, ok := rw.renames.Rewrite(fc.Path); ok {
			fc.Path = newPath
		}
		if len(fc.Path) == 0 {
			continue
		}
		if fc.Op == fastexport.OpModify {
			if mark, ok := fastexport.MarkRef(fc.Ref); ok && rw.drops.Dropped(mark) {
				fc = fastexport.FileChange{Op: fastexport.OpDelete, Path: fc.Path}
			}
		}
		kept = append(kept, fc)
	}
	return dedupeByPath(kept)
}

// dedupeByPath keeps, for each final path, only the last filechange
// touching it, preserving overall order of first-occurrence except that
// a later write replaces an earlier one in place.
func dedupeByPath(in []fastexport.FileChange) []fastexport.FileChange {
	lastIdx := make(map[string]int, len(in))
	for i, fc := range in {
		if fc.Op == fastexport.OpDeleteAll {
			continue
		}
		lastIdx[string(fc.Path)] = i
	}
	out := make([]fastexport.FileChange, 0, len(in))
	for i, fc := range in {
		if fc.Op != fastexport.OpDeleteAll && lastIdx[string(fc.Path)] != i {
			continue
		}
		out = append(out, fc)
	}
	return out
}
