// Package preview implements the optional interactive shell (`reposieve
// shell`) an operator can use to step through a planned rewrite before
// committing to the real run: branch/tag renames, tag dedupe decisions,
// and which commits would be pruned. The `reposieve shell` command fills
// in renames, pruned commits and message samples; it leaves TagDedupe
// empty, so there the "tags" command always reports no duplicates. It is
// the direct descendant of the
// teacher's whole Reposurgeon command-language REPL (surgeon/reposurgeon.go,
// built on gitlab.com/ianbruene/kommandant with github.com/chzyer/readline
// line editing), scoped down to inspection only: no scripting extension
// surface, no repository mutation commands, matching the Non-goal that
// excludes a general command language.
package preview

import (
	"context"
	"fmt"
	"io"

	difflib "github.com/ianbruene/go-difflib/difflib"
	kommandant "gitlab.com/ianbruene/kommandant"

	"github.com/reposieve/reposieve/pkg/markset"
)

// RenamePreview is one old-name -> new-name decision the operator can
// inspect before the run.
type RenamePreview struct {
	Old string
	New string
}

// TagDedupePreview describes what the tag/ref reconciler decided for one
// final tag ref: which candidate survived and how many others it shadowed.
type TagDedupePreview struct {
	Ref          string
	KeptFrom     string
	ShadowedFrom []string
}

// PrunedCommitPreview describes one commit the commit rewriter decided
// to prune, and what it now aliases to.
type PrunedCommitPreview struct {
	Mark        markset.Mark
	OriginalOID string
	AliasTo     markset.Mark
}

// MessageSample pairs a message before and after the message transformer
// ran, for the "diff" command to render.
type MessageSample struct {
	CommitMark markset.Mark
	Before     string
	After      string
}

// Plan is the dry-run summary a caller builds by running the rewrite
// pipeline with fast-import's output discarded, before offering the
// operator a chance to inspect it interactively.
type Plan struct {
	BranchRenames []RenamePreview
	TagRenames    []RenamePreview
	TagDedupe     []TagDedupePreview
	Pruned        []PrunedCommitPreview
	MessageDiffs  []MessageSample
}

// Shell is the kommandant command target backing the preview REPL.
type Shell struct {
	cmd      *kommandant.Kmdt
	plan     *Plan
	out      io.Writer
	approved bool
}

// NewShell builds a Shell over plan, writing output to out.
func NewShell(plan *Plan, out io.Writer) *Shell {
	return &Shell{plan: plan, out: out}
}

// SetCore is kommandant's housekeeping hook, mirroring the teacher's
// Reposurgeon.SetCore.
func (s *Shell) SetCore(k *kommandant.Kmdt) {
	s.cmd = k
}

// Approved reports whether the operator issued "approve" before quitting.
func (s *Shell) Approved() bool {
	return s.approved
}

func (s *Shell) HelpRenames() {
	fmt.Fprint(s.out, "List planned branch and tag renames.\n")
}

// DoRenames is the handler for the "renames" command.
func (s *Shell) DoRenames(line string) bool {
	if len(s.plan.BranchRenames) == 0 && len(s.plan.TagRenames) == 0 {
		fmt.Fprintln(s.out, "no renames planned")
		return false
	}
	for _, r := range s.plan.BranchRenames {
		fmt.Fprintf(s.out, "branch: %s -> %s\n", r.Old, r.New)
	}
	for _, r := range s.plan.TagRenames {
		fmt.Fprintf(s.out, "tag:    %s -> %s\n", r.Old, r.New)
	}
	return false
}

func (s *Shell) HelpTags() {
	fmt.Fprint(s.out, "List tag dedupe decisions: which tag was kept for each ref, and what it shadowed.\n")
}

// DoTags is the handler for the "tags" command.
func (s *Shell) DoTags(line string) bool {
	if len(s.plan.TagDedupe) == 0 {
		fmt.Fprintln(s.out, "no duplicate tags found")
		return false
	}
	for _, d := range s.plan.TagDedupe {
		fmt.Fprintf(s.out, "%s: kept %s", d.Ref, d.KeptFrom)
		if len(d.ShadowedFrom) > 0 {
			fmt.Fprintf(s.out, " (shadowed %v)", d.ShadowedFrom)
		}
		fmt.Fprintln(s.out)
	}
	return false
}

func (s *Shell) HelpPrune() {
	fmt.Fprint(s.out, "List commits the run would prune, and what they alias to.\n")
}

// DoPrune is the handler for the "prune" command.
func (s *Shell) DoPrune(line string) bool {
	if len(s.plan.Pruned) == 0 {
		fmt.Fprintln(s.out, "no commits would be pruned")
		return false
	}
	for _, p := range s.plan.Pruned {
		fmt.Fprintf(s.out, "mark :%d (%s) -> alias :%d\n", p.Mark, p.OriginalOID, p.AliasTo)
	}
	return false
}

func (s *Shell) HelpDiff() {
	fmt.Fprint(s.out, "Show a unified diff of a sample commit message before and after rewriting.\n")
}

// DoDiff is the handler for the "diff" command; with no argument it
// shows the first sample, or a decimal mark number picks one.
func (s *Shell) DoDiff(line string) bool {
	if len(s.plan.MessageDiffs) == 0 {
		fmt.Fprintln(s.out, "no message samples captured")
		return false
	}
	sample := s.plan.MessageDiffs[0]
	if line != "" {
		for _, m := range s.plan.MessageDiffs {
			if fmt.Sprintf("%d", m.CommitMark) == line {
				sample = m
				break
			}
		}
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(sample.Before),
		B:        difflib.SplitLines(sample.After),
		FromFile: fmt.Sprintf("mark:%d before", sample.CommitMark),
		ToFile:   fmt.Sprintf("mark:%d after", sample.CommitMark),
		Context:  2,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		fmt.Fprintf(s.out, "diff error: %v\n", err)
		return false
	}
	fmt.Fprint(s.out, text)
	return false
}

func (s *Shell) HelpApprove() {
	fmt.Fprint(s.out, "Approve the plan and exit the shell; the caller proceeds with the real run.\n")
}

// DoApprove is the handler for the "approve" command.
func (s *Shell) DoApprove(line string) bool {
	s.approved = true
	return true
}

func (s *Shell) HelpQuit() {
	fmt.Fprint(s.out, "Exit the shell without approving.\n")
}

// DoQuit is the handler for the "quit" command.
func (s *Shell) DoQuit(line string) bool {
	return true
}

// DoEOF handles end-of-input the same way "quit" does.
func (s *Shell) DoEOF(line string) bool {
	return true
}

// Run drives the shell's read-eval-print loop until the operator quits
// or approves, enabling readline only when interactive is true (a
// non-interactive stdin, e.g. under CI, falls back to a plain scanner).
func Run(plan *Plan, out io.Writer, interactive bool) (bool, error) {
	shell := NewShell(plan, out)
	interpreter := kommandant.NewKommandant(shell)
	interpreter.EnableReadline(interactive)
	interpreter.CmdLoop(context.Background(), "")
	return shell.Approved(), nil
}
