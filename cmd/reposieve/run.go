package main

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reposieve/reposieve/pkg/blobfilter"
	"github.com/reposieve/reposieve/pkg/fastexport"
	"github.com/reposieve/reposieve/pkg/finalize"
	"github.com/reposieve/reposieve/pkg/identity"
	"github.com/reposieve/reposieve/pkg/markset"
	"github.com/reposieve/reposieve/pkg/msgfilter"
	"github.com/reposieve/reposieve/pkg/orchestrator"
	"github.com/reposieve/reposieve/pkg/pathmatch"
	"github.com/reposieve/reposieve/pkg/preview"
	"github.com/reposieve/reposieve/pkg/rerror"
	"github.com/reposieve/reposieve/pkg/rewrite"
	"github.com/reposieve/reposieve/pkg/ruleset"
	"github.com/reposieve/reposieve/pkg/tagref"
)

// runFlags holds every --run flag before it is compiled into a RuleSet
// and a Matcher/RenameTable pair.
type runFlags struct {
	exportCommand string
	importCommand string
	marksExport   string
	gitDir        string
	repack        bool

	filteredMirror string
	originalMirror string
	debugSnapshot  string

	messageReplaceFile string
	blobReplaceFile    string
	pathRenameFile     string
	identityFile       string
	mailmapFile        string
	blobStripFile      string
	commitMapFile      string

	pathKeeps     []string
	pathGlobKeeps []string
	pathExcludes  []string

	tagRenames    []string
	branchRenames []string

	maxBlobSize int64
	pruneAlways bool
	pruneNever  bool
	mergeNoFF   bool
	quiet       bool
}

func newRunCommand() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one export/filter/import pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilterPass(f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.exportCommand, "export-command", "git fast-export --all", "command whose stdout is the fast-export stream")
	flags.StringVar(&f.importCommand, "import-command", "", "command whose stdin is fed the filtered stream (required)")
	flags.StringVar(&f.marksExport, "marks-export", "", "path fast-import writes --export-marks to (required)")
	flags.StringVar(&f.gitDir, "git-dir", "", "repository to apply ref updates to after a successful run")
	flags.BoolVar(&f.repack, "repack", false, "run git repack -ad after ref updates commit")

	flags.StringVar(&f.filteredMirror, "filtered-mirror", "", "path to always capture the filtered stream to")
	flags.StringVar(&f.originalMirror, "original-mirror", "", "path to capture the original export stream to (debug/report only)")
	flags.StringVar(&f.debugSnapshot, "debug-snapshot", "", "path to write a YAML snapshot of the effective rule set")

	flags.StringVar(&f.messageReplaceFile, "replace-message", "", "path to a literal/regex message replacement rule file")
	flags.StringVar(&f.blobReplaceFile, "replace-text", "", "path to a literal/regex blob replacement rule file")
	flags.StringVar(&f.pathRenameFile, "path-rename-file", "", "path to an old==>new path rename rule file")
	flags.StringVar(&f.identityFile, "replace-identity", "", "path to an old==>new identity rewrite rule file")
	flags.StringVar(&f.mailmapFile, "mailmap", "", "path to a mailmap file taking precedence over --replace-identity")
	flags.StringVar(&f.blobStripFile, "strip-blobs-with-ids", "", "path to a file of 40-hex blob ids to drop")
	flags.StringVar(&f.commitMapFile, "commit-map", "", "a previous run's commit-map file, to seed short/long hash remapping")

	flags.StringArrayVar(&f.pathKeeps, "path", nil, "keep only paths under this prefix (repeatable)")
	flags.StringArrayVar(&f.pathGlobKeeps, "path-glob", nil, "keep only paths matching this glob (repeatable)")
	flags.StringArrayVar(&f.pathExcludes, "path-exclude", nil, "drop paths under this prefix, keeping everything else (repeatable)")

	flags.StringArrayVar(&f.tagRenames, "tag-rename", nil, "old=new tag name prefix rename (repeatable)")
	flags.StringArrayVar(&f.branchRenames, "branch-rename", nil, "old=new branch name prefix rename (repeatable)")

	flags.Int64Var(&f.maxBlobSize, "max-blob-size", 0, "drop blobs larger than this many bytes (0 disables)")
	flags.BoolVar(&f.pruneAlways, "prune-empty-always", false, "always prune empty commits instead of the auto policy")
	flags.BoolVar(&f.pruneNever, "prune-empty-never", false, "never prune empty commits")
	flags.BoolVar(&f.mergeNoFF, "no-ff", false, "keep every merge's shape even if it becomes degenerate")
	flags.BoolVar(&f.quiet, "quiet", false, "disable interactive progress rendering")

	return cmd
}

func openOrFail(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rerror.Wrap(rerror.Config, err, "opening rule file %q", path)
	}
	return f, nil
}

func parseRenamePair(spec string) (ruleset.RenamePair, error) {
	old, new_, found := cutSep(spec, "=")
	if !found {
		return ruleset.RenamePair{}, rerror.New(rerror.Config, "rename %q must be old=new", spec)
	}
	return ruleset.RenamePair{Old: []byte(old), New: []byte(new_)}, nil
}

func cutSep(s, sep string) (before, after string, found bool) {
	if i := strings.Index(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

// buildRuleSet compiles every --run flag into a RuleSet plus the
// standalone path matcher and rename table the rewriter needs alongside
// it (spec.md section 4.2 keeps those out of the rule-file formats
// section 6 governs).
func buildRuleSet(f *runFlags) (*ruleset.RuleSet, *pathmatch.Matcher, *pathmatch.RenameTable, error) {
	rs := ruleset.New()
	rs.MaxBlobSize = f.maxBlobSize
	if f.pruneAlways {
		rs.PruneEmptyCommits = ruleset.PruneAlways
		rs.PruneDegenerate = ruleset.PruneAlways
	}
	if f.pruneNever {
		rs.PruneEmptyCommits = ruleset.PruneNever
		rs.PruneDegenerate = ruleset.PruneNever
	}
	rs.NoFF = f.mergeNoFF

	if f.messageReplaceFile != "" {
		r, err := openOrFail(f.messageReplaceFile)
		if err != nil {
			return nil, nil, nil, err
		}
		defer r.Close()
		rules, err := ruleset.LoadReplacementFile(r)
		if err != nil {
			return nil, nil, nil, err
		}
		rs.MessageRules = rules
	}
	if f.blobReplaceFile != "" {
		r, err := openOrFail(f.blobReplaceFile)
		if err != nil {
			return nil, nil, nil, err
		}
		defer r.Close()
		rules, err := ruleset.LoadReplacementFile(r)
		if err != nil {
			return nil, nil, nil, err
		}
		rs.BlobRules = rules
	}
	var renames *pathmatch.RenameTable
	if f.pathRenameFile != "" {
		r, err := openOrFail(f.pathRenameFile)
		if err != nil {
			return nil, nil, nil, err
		}
		defer r.Close()
		pairs, err := ruleset.LoadPathRenameFile(r)
		if err != nil {
			return nil, nil, nil, err
		}
		rs.PathRenames = pairs
		olds := make([][]byte, len(pairs))
		news := make([][]byte, len(pairs))
		for i, p := range pairs {
			olds[i], news[i] = p.Old, p.New
		}
		renames = pathmatch.NewRenameTable(olds, news)
	} else {
		renames = pathmatch.NewRenameTable(nil, nil)
	}
	if f.identityFile != "" {
		r, err := openOrFail(f.identityFile)
		if err != nil {
			return nil, nil, nil, err
		}
		defer r.Close()
		rewrites, err := ruleset.LoadIdentityRewriteFile(r)
		if err != nil {
			return nil, nil, nil, err
		}
		rs.EmailRules = rewrites
	}
	if f.mailmapFile != "" {
		r, err := openOrFail(f.mailmapFile)
		if err != nil {
			return nil, nil, nil, err
		}
		defer r.Close()
		entries, err := ruleset.LoadMailmapFile(r)
		if err != nil {
			return nil, nil, nil, err
		}
		rs.Mailmap = entries
	}
	if f.blobStripFile != "" {
		r, err := openOrFail(f.blobStripFile)
		if err != nil {
			return nil, nil, nil, err
		}
		defer r.Close()
		ids, err := ruleset.LoadBlobIDStripFile(r)
		if err != nil {
			return nil, nil, nil, err
		}
		rs.StripBlobIDs = ids
	}
	for _, spec := range f.tagRenames {
		p, err := parseRenamePair(spec)
		if err != nil {
			return nil, nil, nil, err
		}
		rs.TagRenames = append(rs.TagRenames, p)
	}
	for _, spec := range f.branchRenames {
		p, err := parseRenamePair(spec)
		if err != nil {
			return nil, nil, nil, err
		}
		rs.BranchRenames = append(rs.BranchRenames, p)
	}

	var rules []pathmatch.Rule
	if len(f.pathExcludes) > 0 && len(f.pathKeeps) == 0 && len(f.pathGlobKeeps) == 0 {
		rules = append(rules, pathmatch.Rule{Kind: pathmatch.Glob, Pattern: []byte("**")})
	}
	for _, p := range f.pathKeeps {
		rules = append(rules, pathmatch.Rule{Kind: pathmatch.Prefix, Pattern: []byte(p)})
	}
	for _, p := range f.pathGlobKeeps {
		rules = append(rules, pathmatch.Rule{Kind: pathmatch.Glob, Pattern: []byte(p)})
	}
	for _, p := range f.pathExcludes {
		rules = append(rules, pathmatch.Rule{Kind: pathmatch.Prefix, Pattern: []byte(p), Invert: true})
	}
	matcher := pathmatch.NewMatcher(rules...)

	return rs, matcher, renames, nil
}

// runFilterPass wires a RuleSet into the orchestrator and drives the
// record loop to completion, per spec.md sections 4.7-4.10.
func runFilterPass(f *runFlags) error {
	if f.importCommand == "" || f.marksExport == "" {
		return rerror.New(rerror.Config, "--import-command and --marks-export are required")
	}
	rs, matcher, renames, err := buildRuleSet(f)
	if err != nil {
		return err
	}
	if f.debugSnapshot != "" {
		if err := finalize.WriteDebugSnapshot(f.debugSnapshot, rs); err != nil {
			return err
		}
	}

	bat := newBaton(f.quiet)
	pipeline, err := orchestrator.Start(orchestrator.Options{
		ExportCommand:      f.exportCommand,
		ImportCommand:      f.importCommand,
		FilteredMirrorPath: f.filteredMirror,
		OriginalMirrorPath: f.originalMirror,
	}, bat)
	if err != nil {
		return err
	}

	tracker := finalize.NewTracker()
	hashMapper := msgfilter.NewShortHashMapper()
	if f.commitMapFile != "" {
		mf, err := openOrFail(f.commitMapFile)
		if err != nil {
			return pipeline.Abort(err)
		}
		loaded, err := msgfilter.LoadShortHashMapper(mf)
		mf.Close()
		if err != nil {
			return pipeline.Abort(err)
		}
		hashMapper = loaded
	}

	if err := runRecordLoop(rs, matcher, renames, pipeline, tracker, hashMapper, nil); err != nil {
		return err
	}

	if f.gitDir != "" {
		if err := applyFinalization(f, tracker); err != nil {
			return err
		}
	}
	return nil
}

// runRecordLoop is the main-thread-only record parser/transformer/
// serializer loop spec.md section 5 requires: strictly single-threaded
// over the mutable rule state, marks, and child stdin. When plan is
// non-nil (the "shell" subcommand's dry run), pruned commits and a
// handful of changed commit messages are captured into it for the
// preview REPL to show.
func runRecordLoop(rs *ruleset.RuleSet, matcher *pathmatch.Matcher, renames *pathmatch.RenameTable, pipeline *orchestrator.Pipeline, tracker *finalize.Tracker, hashMapper *msgfilter.ShortHashMapper, plan *preview.Plan) error {
	parser := fastexport.NewParser(pipeline.ExportReader)
	ser := fastexport.NewSerializer(pipeline.ImportWriter)

	drops := blobfilter.NewDropSet()
	blobT := blobfilter.New(rs)
	idT := identity.New(rs)
	msgT := msgfilter.New(rs, hashMapper)
	aliases := markset.NewAliasTable()
	rw := rewrite.New(rs, matcher, renames, idT, msgT, drops, aliases)
	tags := tagref.New(rs, msgT, aliases)

	for {
		rec, err := parser.Next()
		if err == io.EOF {
			return pipeline.Finish()
		}
		if err != nil {
			return pipeline.Abort(err)
		}
		switch r := rec.(type) {
		case *fastexport.Blob:
			res := blobT.Apply(blobfilter.Blob{Mark: r.Mark, OriginalOID: r.OriginalOID, Payload: r.Data})
			if res.Dropped {
				drops.Record(r.Mark)
				continue
			}
			r.Data = res.Payload
			if err := ser.WriteBlob(r); err != nil {
				return pipeline.Abort(err)
			}
		case *fastexport.Commit:
			originalMessage := string(r.Message)
			result := rw.Process(r)
			if result.Outcome == rewrite.Pruned {
				tracker.RecordPruned(result.AliasFrom, r.OriginalOID)
				if plan != nil {
					plan.Pruned = append(plan.Pruned, preview.PrunedCommitPreview{
						Mark: result.AliasFrom, OriginalOID: r.OriginalOID, AliasTo: result.AliasTo,
					})
				}
				if err := ser.WriteAlias(result.AliasFrom, result.AliasTo); err != nil {
					return pipeline.Abort(err)
				}
				continue
			}
			tracker.RecordKept(r.Mark, r.OriginalOID)
			if plan != nil && len(plan.MessageDiffs) < 10 && string(r.Message) != originalMessage {
				plan.MessageDiffs = append(plan.MessageDiffs, preview.MessageSample{
					CommitMark: r.Mark, Before: originalMessage, After: string(r.Message),
				})
			}
			if err := ser.WriteCommit(r); err != nil {
				return pipeline.Abort(err)
			}
		case *fastexport.Tag:
			tags.ProcessTag(r)
		case *fastexport.Reset:
			if branch, ok := tags.ProcessReset(r); ok {
				if err := ser.WriteReset(branch); err != nil {
					return pipeline.Abort(err)
				}
			}
		case *fastexport.Passthrough:
			if err := ser.WritePassthrough(r); err != nil {
				return pipeline.Abort(err)
			}
		case *fastexport.Done:
			finishErr := tags.Finish(
				func(t *fastexport.Tag) error { return ser.WriteTag(t) },
				func(rst *fastexport.Reset) error { return ser.WriteReset(rst) },
			)
			if finishErr != nil {
				return pipeline.Abort(finishErr)
			}
			if err := ser.WriteDone(); err != nil {
				return pipeline.Abort(err)
			}
		}
	}
}

// applyFinalization implements the second half of spec.md section 4.10:
// once the marks-export file exists, join it against the tracker's
// original-oid table, write the commit/ref maps next to the marks file,
// and apply the ref-update transaction (repack is opt-in).
func applyFinalization(f *runFlags, tracker *finalize.Tracker) error {
	mf, err := openOrFail(f.marksExport)
	if err != nil {
		return err
	}
	newOIDs, err := finalize.LoadMarksExport(mf)
	mf.Close()
	if err != nil {
		return err
	}

	commitMap := tracker.BuildCommitMap(newOIDs)
	if cmf, err := os.Create(f.marksExport + ".commit-map"); err == nil {
		finalize.WriteCommitMap(cmf, commitMap)
		cmf.Close()
	}
	refMap := tracker.RefMap()
	if rmf, err := os.Create(f.marksExport + ".ref-map"); err == nil {
		finalize.WriteRefMap(rmf, refMap)
		rmf.Close()
	}

	var updates []finalize.RefUpdate
	for _, r := range refMap {
		updates = append(updates, finalize.RefUpdate{Ref: r.NewRef, OldRef: r.OldRef})
	}
	if len(updates) > 0 {
		if err := finalize.ApplyRefUpdates(f.gitDir, updates); err != nil {
			return err
		}
	}
	if f.repack {
		if err := finalize.Repack(f.gitDir); err != nil {
			return err
		}
	}
	return nil
}
