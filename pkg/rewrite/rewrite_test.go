package rewrite

import (
	"testing"

	"github.com/reposieve/reposieve/pkg/blobfilter"
	"github.com/reposieve/reposieve/pkg/fastexport"
	"github.com/reposieve/reposieve/pkg/identity"
	"github.com/reposieve/reposieve/pkg/markset"
	"github.com/reposieve/reposieve/pkg/msgfilter"
	"github.com/reposieve/reposieve/pkg/pathmatch"
	"github.com/reposieve/reposieve/pkg/ruleset"
)

func newTestRewriter(rs *ruleset.RuleSet) (*Rewriter, *blobfilter.DropSet, *markset.AliasTable) {
	matcher := rs.PathMatcher
	if matcher == nil {
		matcher = pathmatch.NewMatcher()
	}
	renames := pathmatch.NewRenameTable(nil, nil)
	for _, r := range rs.PathRenames {
		renames = pathmatch.NewRenameTable([][]byte{r.Old}, [][]byte{r.New})
	}
	idT := identity.New(rs)
	msgT := msgfilter.New(rs, nil)
	drops := blobfilter.NewDropSet()
	aliases := markset.NewAliasTable()
	rw := New(rs, matcher, renames, idT, msgT, drops, aliases)
	return rw, drops, aliases
}

func basicCommit(mark markset.Mark) *fastexport.Commit {
	return &fastexport.Commit{
		Mark:          mark,
		Branch:        "refs/heads/main",
		CommitterLine: "Jane <jane@example.com> 1 +0000",
		Message:       []byte("msg"),
	}
}

func TestProcessKeepsNonEmptyCommit(t *testing.T) {
	rs := ruleset.New()
	rw, _, _ := newTestRewriter(rs)
	c := basicCommit(1)
	c.FileChanges = []fastexport.FileChange{{Op: fastexport.OpModify, Mode: "100644", Ref: ":1", Path: []byte("a.txt")}}
	res := rw.Process(c)
	if res.Outcome != Kept {
		t.Errorf("expected Kept, got %v", res.Outcome)
	}
}

func TestProcessPrunesEmptyCommitUnderAuto(t *testing.T) {
	rs := ruleset.New()
	rs.PathMatcher = pathmatch.NewMatcher(pathmatch.Rule{Kind: pathmatch.Prefix, Pattern: []byte("keep")})
	rw, _, aliases := newTestRewriter(rs)
	c := basicCommit(2)
	c.From = ":1"
	// This filechange makes the commit not originally empty, but it
	// touches a path the matcher excludes, so filtering empties it out.
	c.FileChanges = []fastexport.FileChange{{Op: fastexport.OpModify, Mode: "100644", Ref: ":1", Path: []byte("excluded/file.txt")}}
	res := rw.Process(c)
	if res.Outcome != Pruned {
		t.Errorf("expected Pruned for filtered-empty commit, got %v", res.Outcome)
	}
	if aliases.Resolve(2) != 1 {
		t.Errorf("expected mark 2 aliased to 1, got %d", aliases.Resolve(2))
	}
}

func TestProcessPreservesOriginallyEmptyUnderAuto(t *testing.T) {
	rs := ruleset.New()
	rw, _, _ := newTestRewriter(rs)
	c := basicCommit(3)
	c.From = ":1"
	// originallyEmpty is computed before any filtering: no filechanges,
	// no merges declared at parse time, so PruneAuto must not prune it.
	res := rw.Process(c)
	if res.Outcome != Kept {
		t.Errorf("expected Kept for originally-empty commit under auto policy, got %v", res.Outcome)
	}
}

func TestProcessAlwaysPrunesEmpty(t *testing.T) {
	rs := ruleset.New()
	rs.PruneEmptyCommits = ruleset.PruneAlways
	rw, _, _ := newTestRewriter(rs)
	c := basicCommit(4)
	c.From = ":1"
	res := rw.Process(c)
	if res.Outcome != Pruned {
		t.Errorf("expected Pruned under always policy, got %v", res.Outcome)
	}
}

func TestProcessNeverPrunesEmpty(t *testing.T) {
	rs := ruleset.New()
	rs.PruneEmptyCommits = ruleset.PruneNever
	rw, _, _ := newTestRewriter(rs)
	c := basicCommit(5)
	c.From = ":1"
	res := rw.Process(c)
	if res.Outcome != Kept {
		t.Errorf("expected Kept under never policy, got %v", res.Outcome)
	}
}

func TestProcessDroppedBlobBecomesDelete(t *testing.T) {
	rs := ruleset.New()
	rw, drops, _ := newTestRewriter(rs)
	drops.Record(9)
	c := basicCommit(6)
	c.FileChanges = []fastexport.FileChange{{Op: fastexport.OpModify, Mode: "100644", Ref: ":9", Path: []byte("big.bin")}}
	res := rw.Process(c)
	if res.Outcome != Kept {
		t.Fatalf("expected Kept, got %v", res.Outcome)
	}
	if len(c.FileChanges) != 1 || c.FileChanges[0].Op != fastexport.OpDelete {
		t.Errorf("expected the dropped-blob M to become D, got %+v", c.FileChanges)
	}
}

func TestProcessDedupesFileChangesLastWins(t *testing.T) {
	rs := ruleset.New()
	rw, _, _ := newTestRewriter(rs)
	c := basicCommit(7)
	c.FileChanges = []fastexport.FileChange{
		{Op: fastexport.OpModify, Mode: "100644", Ref: ":1", Path: []byte("a.txt")},
		{Op: fastexport.OpModify, Mode: "100644", Ref: ":2", Path: []byte("a.txt")},
	}
	res := rw.Process(c)
	if res.Outcome != Kept {
		t.Fatalf("expected Kept, got %v", res.Outcome)
	}
	if len(c.FileChanges) != 1 || c.FileChanges[0].Ref != ":2" {
		t.Errorf("expected only the last write to survive, got %+v", c.FileChanges)
	}
}

func TestProcessDegenerateMergeCollapses(t *testing.T) {
	rs := ruleset.New()
	rw, _, aliases := newTestRewriter(rs)
	// Mark 1 was pruned and aliases to mark 10.
	aliases.Set(1, 10)
	c := basicCommit(8)
	c.From = ":1"
	c.Merges = []string{":10"} // resolves to the same mark as the aliased first parent
	c.FileChanges = []fastexport.FileChange{{Op: fastexport.OpModify, Mode: "100644", Ref: ":3", Path: []byte("a.txt")}}
	res := rw.Process(c)
	if res.Outcome != Kept {
		t.Fatalf("expected Kept, got %v", res.Outcome)
	}
	if len(c.Merges) != 0 {
		t.Errorf("expected degenerate merge to collapse to non-merge, got merges %v", c.Merges)
	}
	if c.From != ":10" {
		t.Errorf("expected surviving parent :10, got %q", c.From)
	}
}

func TestProcessNoFFKeepsMergeShape(t *testing.T) {
	rs := ruleset.New()
	rs.NoFF = true
	rw, _, aliases := newTestRewriter(rs)
	aliases.Set(1, 10)
	c := basicCommit(9)
	c.From = ":1"
	c.Merges = []string{":10"}
	res := rw.Process(c)
	if res.Outcome != Kept {
		t.Fatalf("expected Kept, got %v", res.Outcome)
	}
	if len(c.Merges) != 1 {
		t.Errorf("expected no-ff to preserve merge shape, got merges %v", c.Merges)
	}
}
