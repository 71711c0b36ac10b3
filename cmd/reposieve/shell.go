package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/reposieve/reposieve/pkg/finalize"
	"github.com/reposieve/reposieve/pkg/msgfilter"
	"github.com/reposieve/reposieve/pkg/orchestrator"
	"github.com/reposieve/reposieve/pkg/preview"
	"github.com/reposieve/reposieve/pkg/rerror"
	"github.com/reposieve/reposieve/pkg/ruleset"
)

// newShellCommand builds the "shell" subcommand: a dry run of the same
// rule set a "run" would use, piped into a throwaway sink command (by
// default one that discards the stream), with the results held open in the interactive preview
// REPL described in SPEC_FULL.md's domain-stack wiring for
// gitlab.com/ianbruene/kommandant, so the operator can approve or bail
// out before spending a real import.
func newShellCommand() *cobra.Command {
	f := &runFlags{}
	var sinkCommand string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Preview a planned rewrite interactively before running it for real",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShellPreview(f, sinkCommand)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.exportCommand, "export-command", "git fast-export --all", "command whose stdout is the fast-export stream")
	flags.StringVar(&sinkCommand, "sink-command", `sh -c "cat >/dev/null"`, "command the filtered stream is discarded into for the dry run")
	flags.StringVar(&f.messageReplaceFile, "replace-message", "", "path to a literal/regex message replacement rule file")
	flags.StringVar(&f.blobReplaceFile, "replace-text", "", "path to a literal/regex blob replacement rule file")
	flags.StringVar(&f.pathRenameFile, "path-rename-file", "", "path to an old==>new path rename rule file")
	flags.StringVar(&f.identityFile, "replace-identity", "", "path to an old==>new identity rewrite rule file")
	flags.StringVar(&f.mailmapFile, "mailmap", "", "path to a mailmap file taking precedence over --replace-identity")
	flags.StringVar(&f.blobStripFile, "strip-blobs-with-ids", "", "path to a file of 40-hex blob ids to drop")
	flags.StringArrayVar(&f.pathKeeps, "path", nil, "keep only paths under this prefix (repeatable)")
	flags.StringArrayVar(&f.pathGlobKeeps, "path-glob", nil, "keep only paths matching this glob (repeatable)")
	flags.StringArrayVar(&f.pathExcludes, "path-exclude", nil, "drop paths under this prefix, keeping everything else (repeatable)")
	flags.StringArrayVar(&f.tagRenames, "tag-rename", nil, "old=new tag name prefix rename (repeatable)")
	flags.StringArrayVar(&f.branchRenames, "branch-rename", nil, "old=new branch name prefix rename (repeatable)")
	flags.Int64Var(&f.maxBlobSize, "max-blob-size", 0, "drop blobs larger than this many bytes (0 disables)")
	flags.BoolVar(&f.pruneAlways, "prune-empty-always", false, "always prune empty commits instead of the auto policy")
	flags.BoolVar(&f.pruneNever, "prune-empty-never", false, "never prune empty commits")
	flags.BoolVar(&f.mergeNoFF, "no-ff", false, "keep every merge's shape even if it becomes degenerate")
	return cmd
}

func runShellPreview(f *runFlags, sinkCommand string) error {
	rs, matcher, renames, err := buildRuleSet(f)
	if err != nil {
		return err
	}

	pipeline, err := orchestrator.Start(orchestrator.Options{
		ExportCommand: f.exportCommand,
		ImportCommand: sinkCommand,
	}, nil)
	if err != nil {
		return err
	}

	plan := buildStaticPlan(rs)
	tracker := finalize.NewTracker()
	hashMapper := msgfilter.NewShortHashMapper()
	if err := runRecordLoop(rs, matcher, renames, pipeline, tracker, hashMapper, plan); err != nil {
		return rerror.Wrap(rerror.Sanity, err, "dry run failed; nothing was imported")
	}

	approved, err := preview.Run(plan, os.Stdout, terminal.IsTerminal(int(os.Stdin.Fd())))
	if err != nil {
		return err
	}
	if approved {
		os.Stdout.WriteString("plan approved; re-run `reposieve run` with the same rule flags to apply it.\n")
	}
	return nil
}

// buildStaticPlan seeds a Plan with the rename decisions that are known
// purely from the rule set, before the dry run over the export stream
// fills in per-commit prune/message-diff samples.
func buildStaticPlan(rs *ruleset.RuleSet) *preview.Plan {
	plan := &preview.Plan{}
	for _, r := range rs.BranchRenames {
		plan.BranchRenames = append(plan.BranchRenames, preview.RenamePreview{Old: string(r.Old), New: string(r.New)})
	}
	for _, r := range rs.TagRenames {
		plan.TagRenames = append(plan.TagRenames, preview.RenamePreview{Old: string(r.Old), New: string(r.New)})
	}
	return plan
}
