// Package finalize implements spec.md section 4.10: everything that
// happens after both fast-export and fast-import children have exited
// successfully. It reads the marks-export file fast-import wrote, joins
// it against the run's original-oid table to produce the commit map,
// applies ref updates in one batched transaction, retargets HEAD, and
// optionally triggers a repack.
//
// The marks-file line format (":N sha1") and its line-by-line Fields
// parsing are grounded on the teacher's ReposStreamer.gatherAllReferences
// (surgeon/extractor.go), which reads a --export-marks file the same
// way. The ref-update transaction shells out to `git update-ref
// --stdin`, in the same style as the teacher's runProcess/exec.Command
// plumbing (surgeon/reposurgeon.go), since driving refs through git
// itself is the only way to keep the operation atomic and hook-aware.
package finalize

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	shutil "github.com/termie/go-shutil"
	yaml "gopkg.in/yaml.v2"

	"github.com/reposieve/reposieve/pkg/markset"
	"github.com/reposieve/reposieve/pkg/rerror"
	"github.com/reposieve/reposieve/pkg/ruleset"
)

const zeroOID = "0000000000000000000000000000000000000000"

// CommitMapEntry is one line of the emitted commit map: an original oid
// and the oid it became, or the zero oid if the commit was pruned.
type CommitMapEntry struct {
	OldOID string
	NewOID string
}

// RefMapEntry is one line of the emitted ref map: an original ref name
// and the name it was renamed to (equal if unchanged).
type RefMapEntry struct {
	OldRef string
	NewRef string
}

// Tracker accumulates the mark->original-oid table as the record loop
// processes commits and tags, so Finalize can join it against the
// marks-export file once both children exit.
type Tracker struct {
	originals map[markset.Mark]string
	pruned    map[markset.Mark]bool
	order     []markset.Mark
	refRenames []RefMapEntry
}

// NewTracker builds an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		originals: make(map[markset.Mark]string),
		pruned:    make(map[markset.Mark]bool),
	}
}

// RecordKept notes that mark was emitted with originalOID as its
// original identity (may be empty if the source had none).
func (t *Tracker) RecordKept(mark markset.Mark, originalOID string) {
	if _, seen := t.originals[mark]; !seen {
		t.order = append(t.order, mark)
	}
	t.originals[mark] = originalOID
}

// RecordPruned notes that mark was pruned and must map to the zero oid
// in the commit map regardless of what marks-export reports for it (it
// was never actually emitted, so marks-export has no entry for it).
func (t *Tracker) RecordPruned(mark markset.Mark, originalOID string) {
	t.RecordKept(mark, originalOID)
	t.pruned[mark] = true
}

// RecordRefRename notes a branch or tag rename for the ref map.
func (t *Tracker) RecordRefRename(oldRef, newRef string) {
	t.refRenames = append(t.refRenames, RefMapEntry{OldRef: oldRef, NewRef: newRef})
}

// LoadMarksExport parses a fast-import --export-marks file (lines of the
// form ":N <sha1>") into a mark->new-oid table.
func LoadMarksExport(r io.Reader) (map[markset.Mark]string, error) {
	out := make(map[markset.Mark]string)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 || !strings.HasPrefix(fields[0], ":") {
			continue
		}
		var n uint64
		if _, err := fmt.Sscanf(fields[0][1:], "%d", &n); err != nil {
			continue
		}
		out[markset.Mark(n)] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, rerror.Wrap(rerror.Finalize, err, "reading marks-export file")
	}
	return out, nil
}

// BuildCommitMap joins the tracker's mark->original-oid table against
// the mark->new-oid table read from marks-export, producing one entry
// per originally-seen mark in first-seen order. Pruned marks map to the
// zero oid.
func (t *Tracker) BuildCommitMap(newOIDs map[markset.Mark]string) []CommitMapEntry {
	out := make([]CommitMapEntry, 0, len(t.order))
	for _, mark := range t.order {
		old := t.originals[mark]
		if old == "" {
			continue
		}
		newOID := zeroOID
		if !t.pruned[mark] {
			if oid, ok := newOIDs[mark]; ok {
				newOID = oid
			}
		}
		out = append(out, CommitMapEntry{OldOID: old, NewOID: newOID})
	}
	return out
}

// RefMap returns the accumulated ref renames in the order they were
// recorded.
func (t *Tracker) RefMap() []RefMapEntry {
	return t.refRenames
}

// WriteCommitMap writes one "old new" line per entry, git's own
// filter-branch commit-map convention.
func WriteCommitMap(w io.Writer, entries []CommitMapEntry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if _, err := fmt.Fprintf(bw, "%s %s\n", e.OldOID, e.NewOID); err != nil {
			return rerror.Wrap(rerror.Finalize, err, "writing commit map")
		}
	}
	return bw.Flush()
}

// WriteRefMap writes one "old new" line per ref rename.
func WriteRefMap(w io.Writer, entries []RefMapEntry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if _, err := fmt.Fprintf(bw, "%s %s\n", e.OldRef, e.NewRef); err != nil {
			return rerror.Wrap(rerror.Finalize, err, "writing ref map")
		}
	}
	return bw.Flush()
}

// isCaseOnlyRename reports whether old and new differ only in ASCII
// case, per spec.md section 9's case-only-rename safeguard: a rename
// like v1.0 -> V1.0 must never delete the old ref, since on a
// case-insensitive filesystem the two names collide.
func isCaseOnlyRename(oldRef, newRef string) bool {
	return oldRef != newRef && strings.EqualFold(oldRef, newRef)
}

// RefUpdate is one line of the atomic ref-update transaction: set ref to
// newOID (create or move it), and if oldRef is set and differs from ref,
// delete oldRef once ref exists (unless it's a case-only rename of it).
type RefUpdate struct {
	Ref    string
	NewOID string
	OldRef string // empty if this ref was not renamed
}

// ApplyRefUpdates drives `git update-ref --stdin` with a single
// start/commit transaction: every new/updated ref is set first, then
// every superseded old ref is deleted, skipping deletions that would be
// case-only renames on the same underlying name and deletions whose new
// ref neither is set in this transaction nor already exists.
func ApplyRefUpdates(gitDir string, updates []RefUpdate) error {
	cmd := exec.Command("git", "--git-dir", gitDir, "update-ref", "--stdin")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return rerror.Wrap(rerror.Finalize, err, "connecting update-ref stdin")
	}
	var stderr strings.Builder
	cmd.Stderr = &stderrWriter{&stderr}
	if err := cmd.Start(); err != nil {
		return rerror.Wrap(rerror.Finalize, err, "starting git update-ref")
	}

	bw := bufio.NewWriter(stdin)
	fmt.Fprintf(bw, "start\n")
	for _, u := range updates {
		// A rename-only update has no NewOID: fast-import already
		// created the renamed ref by writing the rewritten name into
		// the stream, so only the stale old ref needs deleting below.
		if u.NewOID == "" {
			continue
		}
		fmt.Fprintf(bw, "update %s %s\n", u.Ref, u.NewOID)
	}
	for _, u := range updates {
		if u.OldRef == "" || u.OldRef == u.Ref {
			continue
		}
		if isCaseOnlyRename(u.OldRef, u.Ref) {
			continue
		}
		// With no NewOID in this transaction, the renamed ref must already
		// exist before its old name is deleted.
		if u.NewOID == "" && exec.Command("git", "--git-dir", gitDir, "rev-parse", "--verify", "--quiet", u.Ref).Run() != nil {
			continue
		}
		fmt.Fprintf(bw, "delete %s\n", u.OldRef)
	}
	fmt.Fprintf(bw, "commit\n")
	bw.Flush()
	stdin.Close()

	if err := cmd.Wait(); err != nil {
		return rerror.Wrap(rerror.Finalize, err, "git update-ref failed: %s", stderr.String())
	}
	return nil
}

type stderrWriter struct{ b *strings.Builder }

func (w *stderrWriter) Write(p []byte) (int, error) { return w.b.Write(p) }

// RetargetHead implements spec.md section 4.10's HEAD-update rule: if
// currentTarget was renamed, follow the rename; if currentTarget no
// longer appears among updatedBranches, fall back to the first updated
// branch (sorted for determinism).
func RetargetHead(currentTarget string, branchRenames map[string]string, updatedBranches []string) string {
	if renamed, ok := branchRenames[currentTarget]; ok {
		return renamed
	}
	for _, b := range updatedBranches {
		if b == currentTarget {
			return currentTarget
		}
	}
	if len(updatedBranches) == 0 {
		return currentTarget
	}
	sorted := append([]string(nil), updatedBranches...)
	sort.Strings(sorted)
	return sorted[0]
}

// Repack triggers `git repack -ad` in gitDir, the optional post-step
// spec.md section 4.10 allows after the ref transaction commits.
func Repack(gitDir string) error {
	cmd := exec.Command("git", "--git-dir", gitDir, "repack", "-ad")
	if out, err := cmd.CombinedOutput(); err != nil {
		return rerror.Wrap(rerror.Finalize, err, "git repack failed: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// Snapshot is a debug artifact capturing the effective rule set for a
// run, written as YAML alongside the mirror streams. Only the parts of a
// RuleSet with a sane textual form are captured; compiled matchers and
// regexes are summarized by count.
type Snapshot struct {
	PathRenameCount   int      `yaml:"path_rename_count"`
	MessageRuleCount  int      `yaml:"message_rule_count"`
	BlobRuleCount     int      `yaml:"blob_rule_count"`
	TagRenames        []string `yaml:"tag_renames"`
	BranchRenames     []string `yaml:"branch_renames"`
	PruneEmptyCommits string   `yaml:"prune_empty_commits"`
	PruneDegenerate   string   `yaml:"prune_degenerate"`
	NoFF              bool     `yaml:"no_ff"`
	PathCompat        string   `yaml:"path_compat"`
	MailmapEntries    int      `yaml:"mailmap_entries"`
}

// SnapshotRuleSet builds a Snapshot from rs for debug logging.
func SnapshotRuleSet(rs *ruleset.RuleSet) Snapshot {
	s := Snapshot{
		PathRenameCount:  len(rs.PathRenames),
		MessageRuleCount: len(rs.MessageRules),
		BlobRuleCount:    len(rs.BlobRules),
		NoFF:             rs.NoFF,
		MailmapEntries:   len(rs.Mailmap),
	}
	for _, r := range rs.TagRenames {
		s.TagRenames = append(s.TagRenames, string(r.Old)+"=>"+string(r.New))
	}
	for _, r := range rs.BranchRenames {
		s.BranchRenames = append(s.BranchRenames, string(r.Old)+"=>"+string(r.New))
	}
	s.PruneEmptyCommits = prunePolicyName(rs.PruneEmptyCommits)
	s.PruneDegenerate = prunePolicyName(rs.PruneDegenerate)
	s.PathCompat = compatPolicyName(rs.PathCompat)
	return s
}

func prunePolicyName(p ruleset.PrunePolicy) string {
	switch p {
	case ruleset.PruneAlways:
		return "always"
	case ruleset.PruneNever:
		return "never"
	default:
		return "auto"
	}
}

func compatPolicyName(p ruleset.CompatPolicy) string {
	switch p {
	case ruleset.CompatSkip:
		return "skip"
	case ruleset.CompatError:
		return "error"
	default:
		return "sanitize"
	}
}

// WriteDebugSnapshot marshals a rule-set snapshot as YAML into path.
func WriteDebugSnapshot(path string, rs *ruleset.RuleSet) error {
	out, err := yaml.Marshal(SnapshotRuleSet(rs))
	if err != nil {
		return rerror.Wrap(rerror.Finalize, err, "marshaling rule-set snapshot")
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return rerror.Wrap(rerror.Finalize, err, "writing rule-set snapshot to %q", path)
	}
	return nil
}

// CopyAsideDebugDir copies the mirror streams and any preserved files
// from src into dst, in the same shutil.CopyTree/shutil.Copy style the
// teacher uses to preserve files across a repository move
// (surgeon/reposurgeon.go's preserveSet handling), repurposed here to
// stash a run's debug artifacts before a caller might overwrite them.
func CopyAsideDebugDir(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return rerror.Wrap(rerror.Finalize, err, "stat debug source %q", src)
	}
	if info.IsDir() {
		if err := shutil.CopyTree(src, dst, nil); err != nil {
			return rerror.Wrap(rerror.Finalize, err, "copying debug directory %q to %q", src, dst)
		}
		return nil
	}
	if _, err := shutil.Copy(src, dst, false); err != nil {
		return rerror.Wrap(rerror.Finalize, err, "copying debug file %q to %q", src, dst)
	}
	return nil
}
