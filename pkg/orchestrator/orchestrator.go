// Package orchestrator spawns the fast-export/fast-import children, wires
// their binary pipes around the record parser/rewriter/serializer loop,
// and tears the pipeline down on the first error. Grounded on the
// teacher's readFromProcess/writeToProcess helpers and runProcess
// (surgeon/reposurgeon.go), generalized from interactive subcommand
// plumbing into a two-child export/import pipeline per spec.md section
// 4.9, with github.com/kballard/go-shellquote doing the same command-line
// tokenization the teacher used there.
package orchestrator

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"os/exec"
	"sync"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/reposieve/reposieve/pkg/baton"
	"github.com/reposieve/reposieve/pkg/rerror"
)

// Options configures one run of the export -> filter -> import pipeline.
type Options struct {
	ExportCommand string // e.g. "git fast-export --all --signed-tags=strip"
	ImportCommand string // e.g. "git fast-import --export-marks=..."

	// FilteredMirrorPath, if non-empty, receives a copy of every byte
	// the serializer writes toward the import child (always captured,
	// per spec.md section 4.9, for post-mortem).
	FilteredMirrorPath string

	// OriginalMirrorPath, if non-empty, receives a copy of every byte
	// read from the export child, before parsing (only set when
	// debug/report flags are on).
	OriginalMirrorPath string
}

// Pipeline owns the spawned children, their stderr monitors, and the
// optional mirror files for one run. ExportReader and ImportWriter are
// the streams the record parser and serializer operate on.
type Pipeline struct {
	exportCmd *exec.Cmd
	importCmd *exec.Cmd

	exportStdout io.ReadCloser
	importStdin  io.WriteCloser

	filteredMirror *os.File
	originalMirror *os.File

	ExportReader io.Reader
	ImportWriter io.Writer

	bat *baton.Baton

	stderrWG   sync.WaitGroup
	stderrErrs []error
	stderrMu   sync.Mutex

	started bool
}

// Start spawns both children and begins their stderr monitor goroutines.
// It returns a ready-to-use Pipeline or a *rerror.Error of kind
// ChildProcess if either child fails to start or a mirror file cannot be
// opened.
func Start(opts Options, bat *baton.Baton) (*Pipeline, error) {
	exportWords, err := shellquote.Split(opts.ExportCommand)
	if err != nil {
		return nil, rerror.Wrap(rerror.Config, err, "parsing export command %q", opts.ExportCommand)
	}
	importWords, err := shellquote.Split(opts.ImportCommand)
	if err != nil {
		return nil, rerror.Wrap(rerror.Config, err, "parsing import command %q", opts.ImportCommand)
	}
	if len(exportWords) == 0 || len(importWords) == 0 {
		return nil, rerror.New(rerror.Config, "export/import commands must not be empty")
	}

	p := &Pipeline{bat: bat}

	p.exportCmd = exec.Command(exportWords[0], exportWords[1:]...)
	exportStderr, err := p.exportCmd.StderrPipe()
	if err != nil {
		return nil, rerror.Wrap(rerror.ChildProcess, err, "connecting export stderr")
	}
	exportOut, err := p.exportCmd.StdoutPipe()
	if err != nil {
		return nil, rerror.Wrap(rerror.ChildProcess, err, "connecting export stdout")
	}
	p.exportStdout = exportOut

	p.importCmd = exec.Command(importWords[0], importWords[1:]...)
	importStderr, err := p.importCmd.StderrPipe()
	if err != nil {
		return nil, rerror.Wrap(rerror.ChildProcess, err, "connecting import stderr")
	}
	importIn, err := p.importCmd.StdinPipe()
	if err != nil {
		return nil, rerror.Wrap(rerror.ChildProcess, err, "connecting import stdin")
	}
	p.importStdin = importIn
	p.importCmd.Stdout = os.Stdout

	if opts.FilteredMirrorPath != "" {
		f, err := os.Create(opts.FilteredMirrorPath)
		if err != nil {
			return nil, rerror.Wrap(rerror.ChildProcess, err, "creating filtered mirror %q", opts.FilteredMirrorPath)
		}
		p.filteredMirror = f
	}
	if opts.OriginalMirrorPath != "" {
		f, err := os.Create(opts.OriginalMirrorPath)
		if err != nil {
			return nil, rerror.Wrap(rerror.ChildProcess, err, "creating original mirror %q", opts.OriginalMirrorPath)
		}
		p.originalMirror = f
	}

	if err := p.exportCmd.Start(); err != nil {
		return nil, rerror.Wrap(rerror.ChildProcess, err, "starting export command %q", opts.ExportCommand)
	}
	if err := p.importCmd.Start(); err != nil {
		p.exportCmd.Process.Kill()
		return nil, rerror.Wrap(rerror.ChildProcess, err, "starting import command %q", opts.ImportCommand)
	}
	p.started = true

	p.monitorStderr("fast-export", exportStderr)
	p.monitorStderr("fast-import", importStderr)

	if p.originalMirror != nil {
		p.ExportReader = io.TeeReader(p.exportStdout, p.originalMirror)
	} else {
		p.ExportReader = p.exportStdout
	}
	if p.filteredMirror != nil {
		p.ImportWriter = io.MultiWriter(p.importStdin, p.filteredMirror)
	} else {
		p.ImportWriter = p.importStdin
	}

	return p, nil
}

// monitorStderr drains a child's stderr into the baton's logging surface
// and records a ChildProcess error if the child emitted anything on it,
// mirroring the teacher's goroutine-joined stderr pumps (reposurgeon.go,
// readFromProcess callers).
func (p *Pipeline) monitorStderr(name string, r io.Reader) {
	p.stderrWG.Add(1)
	go func() {
		defer p.stderrWG.Done()
		var buf bytes.Buffer
		scanner := bufio.NewScanner(io.TeeReader(r, &buf))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if p.bat != nil {
				p.bat.Logf("%s: %s", name, line)
			}
		}
		if buf.Len() > 0 {
			p.stderrMu.Lock()
			p.stderrErrs = append(p.stderrErrs, rerror.New(rerror.ChildProcess, "%s stderr: %s", name, bytes.TrimSpace(buf.Bytes())))
			p.stderrMu.Unlock()
		}
	}()
}

// Abort closes the import child's stdin (signaling end-of-stream without
// a clean `done`), kills the export child if still running, and waits
// for both, returning the first error observed. Callers invoke Abort on
// any parser or transformer error per spec.md section 4.9.
func (p *Pipeline) Abort(cause error) error {
	if p.importStdin != nil {
		p.importStdin.Close()
	}
	if p.exportCmd.Process != nil {
		p.exportCmd.Process.Kill()
	}
	p.exportCmd.Wait()
	p.importCmd.Wait()
	p.stderrWG.Wait()
	p.closeMirrors()
	if cause != nil {
		return cause
	}
	return p.collectedErr()
}

// Finish closes the import child's stdin (a clean end-of-stream after a
// `done` record was written), waits for both children, and reports a
// ChildProcess error if either exited non-zero or wrote to stderr.
func (p *Pipeline) Finish() error {
	if err := p.importStdin.Close(); err != nil {
		return rerror.Wrap(rerror.ChildProcess, err, "closing import stdin")
	}
	exportErr := p.exportCmd.Wait()
	importErr := p.importCmd.Wait()
	p.stderrWG.Wait()
	p.closeMirrors()
	if exportErr != nil {
		return rerror.Wrap(rerror.ChildProcess, exportErr, "fast-export exited non-zero")
	}
	if importErr != nil {
		return rerror.Wrap(rerror.ChildProcess, importErr, "fast-import exited non-zero")
	}
	return p.collectedErr()
}

func (p *Pipeline) collectedErr() error {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()
	if len(p.stderrErrs) > 0 {
		return p.stderrErrs[0]
	}
	return nil
}

func (p *Pipeline) closeMirrors() {
	if p.filteredMirror != nil {
		p.filteredMirror.Close()
	}
	if p.originalMirror != nil {
		p.originalMirror.Close()
	}
}
