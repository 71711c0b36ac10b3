package finalize

import (
	"strings"
	"testing"

	"github.com/reposieve/reposieve/pkg/markset"
	"github.com/reposieve/reposieve/pkg/ruleset"
)

func TestLoadMarksExport(t *testing.T) {
	src := ":1 aaaa\n:2 bbbb\nmalformed line\n:3 cccc\n"
	m, err := LoadMarksExport(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m[markset.Mark(1)] != "aaaa" || m[markset.Mark(2)] != "bbbb" || m[markset.Mark(3)] != "cccc" {
		t.Errorf("unexpected marks table: %+v", m)
	}
}

func TestBuildCommitMapPrunedMapsToZero(t *testing.T) {
	tr := NewTracker()
	tr.RecordKept(1, "orig1")
	tr.RecordPruned(2, "orig2")
	tr.RecordKept(3, "orig3")

	newOIDs := map[markset.Mark]string{1: "new1", 3: "new3"}
	entries := tr.BuildCommitMap(newOIDs)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0] != (CommitMapEntry{OldOID: "orig1", NewOID: "new1"}) {
		t.Errorf("unexpected entry 0: %+v", entries[0])
	}
	if entries[1].NewOID != zeroOID {
		t.Errorf("expected pruned commit to map to zero oid, got %+v", entries[1])
	}
	if entries[2] != (CommitMapEntry{OldOID: "orig3", NewOID: "new3"}) {
		t.Errorf("unexpected entry 2: %+v", entries[2])
	}
}

func TestWriteCommitMap(t *testing.T) {
	var buf strings.Builder
	err := WriteCommitMap(&buf, []CommitMapEntry{{OldOID: "a", NewOID: "b"}, {OldOID: "c", NewOID: zeroOID}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "a b\nc " + zeroOID + "\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestIsCaseOnlyRename(t *testing.T) {
	if !isCaseOnlyRename("refs/tags/v1.0", "refs/tags/V1.0") {
		t.Errorf("expected case-only rename to be detected")
	}
	if isCaseOnlyRename("refs/tags/v1.0", "refs/tags/v1.0") {
		t.Errorf("identical refs are not a rename at all")
	}
	if isCaseOnlyRename("refs/tags/v1.0", "refs/tags/v2.0") {
		t.Errorf("different names must not be flagged as case-only")
	}
}

func TestRetargetHeadFollowsRename(t *testing.T) {
	got := RetargetHead("main", map[string]string{"main": "trunk"}, []string{"trunk"})
	if got != "trunk" {
		t.Errorf("expected retarget to trunk, got %q", got)
	}
}

func TestRetargetHeadFallsBackWhenMissing(t *testing.T) {
	got := RetargetHead("gone", map[string]string{}, []string{"zeta", "alpha"})
	if got != "alpha" {
		t.Errorf("expected fallback to first sorted updated branch, got %q", got)
	}
}

func TestRetargetHeadUnchangedWhenStillPresent(t *testing.T) {
	got := RetargetHead("main", map[string]string{}, []string{"main", "develop"})
	if got != "main" {
		t.Errorf("expected HEAD to stay on main, got %q", got)
	}
}

func TestSnapshotRuleSet(t *testing.T) {
	rs := ruleset.New()
	rs.NoFF = true
	rs.TagRenames = []ruleset.RenamePair{{Old: []byte("old"), New: []byte("new")}}
	snap := SnapshotRuleSet(rs)
	if !snap.NoFF {
		t.Errorf("expected NoFF to carry through")
	}
	if len(snap.TagRenames) != 1 || snap.TagRenames[0] != "old=>new" {
		t.Errorf("unexpected tag renames: %+v", snap.TagRenames)
	}
	if snap.PruneEmptyCommits != "auto" || snap.PathCompat != "sanitize" {
		t.Errorf("unexpected default policy names: %+v", snap)
	}
}
