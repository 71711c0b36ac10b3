// Package tagref implements spec.md section 4.8: the tag/ref reconciler.
// Annotated tags and lightweight tag resets buffer until `done`, so that
// a later tag can replace an earlier one with the same final name before
// anything is emitted. Branch resets are not buffered; they are rewritten
// and emitted as they arrive.
//
// Grounded on original_source/filter-repo-rs/src/tag.rs's
// process_tag_block/process_reset_header/maybe_capture_pending_tag_reset,
// adapted from that file's buffer-until-flush shape. One deliberate
// divergence: process_tag_block there keeps the *first* tag seen for a
// duplicated ref (it returns early once updated_refs already contains the
// target), where spec.md section 4.8 says the dedupe key's last-seen
// entry wins. reposieve follows spec.md and keeps the last tag, recorded
// in DESIGN.md.
package tagref

import (
	"github.com/reposieve/reposieve/pkg/fastexport"
	"github.com/reposieve/reposieve/pkg/markset"
	"github.com/reposieve/reposieve/pkg/msgfilter"
	"github.com/reposieve/reposieve/pkg/ruleset"
)

// lightweightReset is a buffered `reset refs/tags/<name>` plus its `from`.
type lightweightReset struct {
	ref  string
	from string
}

// Reconciler buffers annotated tags and lightweight tag resets until
// Finish, applying tag-rename prefix rewriting and last-wins dedupe by
// final ref name. Branch resets pass through Reconciler only to have
// their name rewritten; they are never buffered.
type Reconciler struct {
	tagRenames    []ruleset.RenamePair
	branchRenames []ruleset.RenamePair
	message       *msgfilter.Transformer
	aliases       *markset.AliasTable

	tagOrder []string // insertion order of final ref names, for last-wins replay
	tags     map[string]*fastexport.Tag

	resetOrder []string
	resets     map[string]lightweightReset

	pendingReset *lightweightReset
}

// New builds a Reconciler from the active rename rules, the shared
// message transformer (annotated tag bodies pass through the same
// literal/regex/hash-remap pipeline as commit messages), and the commit
// rewriter's alias table (a tag's `from` may name a pruned mark).
func New(rs *ruleset.RuleSet, message *msgfilter.Transformer, aliases *markset.AliasTable) *Reconciler {
	return &Reconciler{
		tagRenames:    rs.TagRenames,
		branchRenames: rs.BranchRenames,
		message:       message,
		aliases:       aliases,
		tags:          make(map[string]*fastexport.Tag),
		resets:        make(map[string]lightweightReset),
	}
}

// renamed applies the longest-matching old-prefix -> new-prefix rewrite
// from rules to name, leaving it unchanged if no prefix matches.
func renamed(rules []ruleset.RenamePair, name string) string {
	best := -1
	var out string
	for _, r := range rules {
		old := string(r.Old)
		if len(old) <= best {
			continue
		}
		if len(name) >= len(old) && name[:len(old)] == old {
			best = len(old)
			out = string(r.New) + name[len(old):]
		}
	}
	if best < 0 {
		return name
	}
	return out
}

func resolveFrom(aliases *markset.AliasTable, from string) string {
	if aliases == nil {
		return from
	}
	if m, ok := fastexport.MarkRef(from); ok {
		return ":" + itoa(uint32(aliases.Resolve(m)))
	}
	return from
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

// ProcessTag buffers an annotated tag, rewriting its name through
// tag-rename and its message through the message transformer, and
// resolving its `from` through the alias table. The final ref name
// (refs/tags/<renamed-name>) is the dedupe key; a tag seen later for the
// same final ref replaces one seen earlier.
func (r *Reconciler) ProcessTag(t *fastexport.Tag) {
	newName := renamed(r.tagRenames, t.Name)
	rewritten := &fastexport.Tag{
		Mark:        t.Mark,
		Name:        newName,
		From:        resolveFrom(r.aliases, t.From),
		OriginalOID: t.OriginalOID,
		TaggerLine:  t.TaggerLine,
		Message:     r.message.Apply(t.Message),
	}
	ref := "refs/tags/" + newName
	if _, exists := r.tags[ref]; !exists {
		r.tagOrder = append(r.tagOrder, ref)
	}
	r.tags[ref] = rewritten
}

// ProcessReset handles a `reset` record for a branch or tag ref. Branch
// resets are rewritten in place and returned for immediate emission (ok
// is true). Tag resets are buffered: one that already carries its `from`
// is buffered at once; one without stays pending until CaptureFrom
// supplies the `from`, or until Finish buffers it as is.
func (r *Reconciler) ProcessReset(reset *fastexport.Reset) (branch *fastexport.Reset, ok bool) {
	const tagPrefix = "refs/tags/"
	if len(reset.Ref) >= len(tagPrefix) && reset.Ref[:len(tagPrefix)] == tagPrefix {
		name := reset.Ref[len(tagPrefix):]
		newRef := tagPrefix + renamed(r.tagRenames, name)
		r.pendingReset = &lightweightReset{ref: newRef, from: resolveFrom(r.aliases, reset.From)}
		if reset.From != "" {
			r.flushPendingReset()
		}
		return nil, false
	}
	const branchPrefix = "refs/heads/"
	newRef := reset.Ref
	if len(reset.Ref) >= len(branchPrefix) && reset.Ref[:len(branchPrefix)] == branchPrefix {
		name := reset.Ref[len(branchPrefix):]
		newRef = branchPrefix + renamed(r.branchRenames, name)
	}
	return &fastexport.Reset{Ref: newRef, From: resolveFrom(r.aliases, reset.From)}, true
}

// CaptureFrom records a standalone `from` line following a tag reset
// header when the parser surfaces it as a separate token rather than
// inline on the Reset record. It is a no-op unless a tag reset is
// currently pending without a from value.
func (r *Reconciler) CaptureFrom(from string) bool {
	if r.pendingReset == nil || r.pendingReset.from != "" {
		return false
	}
	r.pendingReset.from = resolveFrom(r.aliases, from)
	r.flushPendingReset()
	return true
}

func (r *Reconciler) flushPendingReset() {
	p := r.pendingReset
	r.pendingReset = nil
	if p == nil {
		return
	}
	if _, exists := r.resets[p.ref]; !exists {
		r.resetOrder = append(r.resetOrder, p.ref)
	}
	r.resets[p.ref] = *p
}

// Finish emits all buffered annotated tags (in the order each final ref
// name was first seen, each carrying its last-seen tag), then
// all buffered lightweight tag resets whose final ref has no surviving
// annotated tag, via emitTag/emitReset.
func (r *Reconciler) Finish(emitTag func(*fastexport.Tag) error, emitReset func(*fastexport.Reset) error) error {
	r.flushPendingReset()
	for _, ref := range r.tagOrder {
		t, ok := r.tags[ref]
		if !ok {
			continue
		}
		if err := emitTag(t); err != nil {
			return err
		}
	}
	for _, ref := range r.resetOrder {
		if _, shadowed := r.tags[ref]; shadowed {
			continue
		}
		lr, ok := r.resets[ref]
		if !ok {
			continue
		}
		if err := emitReset(&fastexport.Reset{Ref: lr.ref, From: lr.from}); err != nil {
			return err
		}
	}
	return nil
}
