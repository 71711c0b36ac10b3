package preview

import (
	"strings"
	"testing"

	"github.com/reposieve/reposieve/pkg/markset"
)

func TestDoRenamesListsBranchAndTag(t *testing.T) {
	var out strings.Builder
	plan := &Plan{
		BranchRenames: []RenamePreview{{Old: "master", New: "main"}},
		TagRenames:    []RenamePreview{{Old: "v1", New: "release-v1"}},
	}
	s := NewShell(plan, &out)
	s.DoRenames("")
	got := out.String()
	if !strings.Contains(got, "master -> main") || !strings.Contains(got, "v1 -> release-v1") {
		t.Errorf("unexpected renames output: %q", got)
	}
}

func TestDoRenamesEmptyPlan(t *testing.T) {
	var out strings.Builder
	s := NewShell(&Plan{}, &out)
	s.DoRenames("")
	if !strings.Contains(out.String(), "no renames planned") {
		t.Errorf("expected no-renames message, got %q", out.String())
	}
}

func TestDoTagsShowsShadowed(t *testing.T) {
	var out strings.Builder
	plan := &Plan{TagDedupe: []TagDedupePreview{
		{Ref: "refs/tags/v1.0", KeptFrom: "second tag", ShadowedFrom: []string{"first tag"}},
	}}
	s := NewShell(plan, &out)
	s.DoTags("")
	got := out.String()
	if !strings.Contains(got, "refs/tags/v1.0") || !strings.Contains(got, "kept second tag") {
		t.Errorf("unexpected tags output: %q", got)
	}
}

func TestDoPruneListsMarks(t *testing.T) {
	var out strings.Builder
	plan := &Plan{Pruned: []PrunedCommitPreview{{Mark: 5, OriginalOID: "abc", AliasTo: 3}}}
	s := NewShell(plan, &out)
	s.DoPrune("")
	got := out.String()
	if !strings.Contains(got, ":5") || !strings.Contains(got, ":3") {
		t.Errorf("unexpected prune output: %q", got)
	}
}

func TestDoDiffSelectsSampleByMark(t *testing.T) {
	var out strings.Builder
	plan := &Plan{MessageDiffs: []MessageSample{
		{CommitMark: markset.Mark(1), Before: "one\n", After: "ONE\n"},
		{CommitMark: markset.Mark(2), Before: "two\n", After: "TWO\n"},
	}}
	s := NewShell(plan, &out)
	s.DoDiff("2")
	got := out.String()
	if !strings.Contains(got, "-two") || !strings.Contains(got, "+TWO") {
		t.Errorf("expected diff of mark 2, got %q", got)
	}
}

func TestDoApproveSetsApprovedAndStops(t *testing.T) {
	s := NewShell(&Plan{}, &strings.Builder{})
	stop := s.DoApprove("")
	if !stop || !s.Approved() {
		t.Errorf("expected approve to stop the loop and set approved")
	}
}

func TestDoQuitDoesNotApprove(t *testing.T) {
	s := NewShell(&Plan{}, &strings.Builder{})
	stop := s.DoQuit("")
	if !stop || s.Approved() {
		t.Errorf("expected quit to stop without approving")
	}
}
