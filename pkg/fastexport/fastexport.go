// Package fastexport implements spec.md section 4.6: a streaming parser
// and serializer for the git fast-export/fast-import wire format. The
// parser is a line-oriented state machine that switches to raw,
// length-prefixed reads for `data <n>` blocks so it never scans for
// newlines inside binary blob payloads.
//
// Grounded on the teacher's StreamParser (surgeon/reposurgeon.go's
// readline/pushback/fiReadline/fiReadData/parseFastImport, lines
// ~4492-4980) for the read/pushback/data-block shape, generalized from
// mutating an in-memory Repository into emitting the typed Record
// values spec.md section 4.6's state table names.
package fastexport

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/reposieve/reposieve/pkg/markset"
	"github.com/reposieve/reposieve/pkg/pathcodec"
	"github.com/reposieve/reposieve/pkg/rerror"
)

// Record is the sealed set of typed values the parser emits: *Blob,
// *Commit, *Tag, *Reset, *Passthrough, or *Done.
type Record interface {
	isRecord()
}

// Blob is a `blob` record: an optional mark, an optional original-oid
// annotation, and its raw payload.
type Blob struct {
	Mark        markset.Mark
	OriginalOID string
	Data        []byte
}

func (*Blob) isRecord() {}

// FileChangeOp distinguishes the five filechange forms spec.md section 3
// names.
type FileChangeOp int

const (
	OpModify FileChangeOp = iota
	OpDelete
	OpCopy
	OpRename
	OpDeleteAll
)

// FileChange is one filechange line within a commit.
type FileChange struct {
	Op   FileChangeOp
	Mode string // for OpModify
	Ref  string // mark (":N") or 40-hex sha, for OpModify
	Path []byte // decoded (unquoted) path; primary path for M/D, source for C/R
	Dst  []byte // destination path for C/R
}

// Commit is a `commit` record, headers through its filechange list.
type Commit struct {
	Mark        markset.Mark
	Branch      string
	AuthorLine  string // raw "<name> <email> <ts> <tz>" text
	CommitterLine string
	OriginalOID string
	Message     []byte
	From        string // mark or oid reference, empty if none
	Merges      []string
	FileChanges []FileChange
}

func (*Commit) isRecord() {}

// Tag is an annotated `tag` record.
type Tag struct {
	Mark        markset.Mark
	Name        string
	From        string
	OriginalOID string
	TaggerLine  string
	Message     []byte
}

func (*Tag) isRecord() {}

// Reset is a `reset` record: a ref name and optional from target.
type Reset struct {
	Ref  string
	From string // empty if the reset has no "from" line (a delete)
}

func (*Reset) isRecord() {}

// Passthrough is a `feature`/`option`/comment line passed through
// unmodified.
type Passthrough struct {
	Line string
}

func (*Passthrough) isRecord() {}

// Done marks the terminating `done` line.
type Done struct{}

func (*Done) isRecord() {}

// Parser is a streaming fast-export reader.
type Parser struct {
	r          *bufio.Reader
	lineNo     int
	pushedBack [][]byte
}

// NewParser wraps r for streaming record-at-a-time parsing.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReaderSize(r, 64*1024)}
}

func (p *Parser) readline() ([]byte, error) {
	if n := len(p.pushedBack); n > 0 {
		line := p.pushedBack[n-1]
		p.pushedBack = p.pushedBack[:n-1]
		return line, nil
	}
	line, err := p.r.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return nil, rerror.Wrap(rerror.Parse, err, "reading fast-export stream").WithInput(fmt.Sprintf("line %d", p.lineNo))
	}
	p.lineNo++
	if len(line) == 0 && err == io.EOF {
		return nil, io.EOF
	}
	return line, nil
}

func (p *Parser) pushback(line []byte) {
	p.lineNo--
	p.pushedBack = append(p.pushedBack, line)
}

func (p *Parser) readExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return nil, rerror.Wrap(rerror.Parse, err, "truncated data block (wanted %d bytes)", n)
	}
	p.lineNo += bytes.Count(buf, []byte{'\n'})
	return buf, nil
}

// readData reads a `data <n>\n<bytes>` block per spec.md section 4.6: it
// reads exactly n bytes without scanning for newlines inside the
// payload, then consumes the trailing LF fast-export appends after
// inline data.
func (p *Parser) readData(header []byte) ([]byte, error) {
	trimmed := bytes.TrimRight(header, "\n")
	if !bytes.HasPrefix(trimmed, []byte("data ")) {
		return nil, rerror.New(rerror.Parse, "expected data header, got %q", trimmed)
	}
	countStr := strings.TrimSpace(string(trimmed[len("data "):]))
	n, err := strconv.Atoi(countStr)
	if err != nil {
		return nil, rerror.Wrap(rerror.Parse, err, "malformed data length %q", countStr)
	}
	data, err := p.readExact(n)
	if err != nil {
		return nil, err
	}
	// Consume the single optional LF fast-export emits after an inline
	// data block, whenever the byte right after the payload is an LF
	// (mirrors the teacher's fiReadData optional-LF handling).
	if peek, err := p.r.Peek(1); err == nil && peek[0] == '\n' {
		p.r.Discard(1)
		p.lineNo++
	}
	return data, nil
}

// Next parses and returns the next record, or io.EOF at end of stream.
func (p *Parser) Next() (Record, error) {
	line, err := p.readline()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	text := string(bytes.TrimRight(line, "\n"))
	text = strings.TrimRight(text, "\r")

	switch {
	case text == "":
		return p.Next()
	case strings.HasPrefix(text, "feature ") || strings.HasPrefix(text, "option ") || strings.HasPrefix(text, "#"):
		return &Passthrough{Line: text}, nil
	case text == "blob":
		return p.parseBlob()
	case strings.HasPrefix(text, "commit "):
		return p.parseCommit(strings.TrimPrefix(text, "commit "))
	case strings.HasPrefix(text, "tag "):
		return p.parseTag(strings.TrimPrefix(text, "tag "))
	case strings.HasPrefix(text, "reset "):
		return p.parseReset(strings.TrimPrefix(text, "reset "))
	case text == "done":
		return &Done{}, nil
	default:
		return nil, rerror.New(rerror.Parse, "unexpected fast-export line").WithInput(text)
	}
}

func (p *Parser) parseBlob() (Record, error) {
	b := &Blob{}
	for {
		line, err := p.readline()
		if err != nil {
			return nil, err
		}
		text := strings.TrimRight(string(line), "\r\n")
		switch {
		case strings.HasPrefix(text, "mark :"):
			m, err := parseMark(text)
			if err != nil {
				return nil, err
			}
			b.Mark = m
		case strings.HasPrefix(text, "original-oid "):
			b.OriginalOID = strings.TrimPrefix(text, "original-oid ")
		case strings.HasPrefix(text, "data"):
			data, err := p.readData(line)
			if err != nil {
				return nil, err
			}
			b.Data = data
			return b, nil
		default:
			return nil, rerror.New(rerror.Parse, "unexpected line in blob header").WithInput(text)
		}
	}
}

func parseMark(text string) (markset.Mark, error) {
	numStr := strings.TrimPrefix(text, "mark :")
	n, err := strconv.ParseUint(numStr, 10, 32)
	if err != nil {
		return 0, rerror.Wrap(rerror.Parse, err, "malformed mark %q", text)
	}
	return markset.Mark(n), nil
}

func parseMarkRef(ref string) (markset.Mark, bool) {
	if !strings.HasPrefix(ref, ":") {
		return 0, false
	}
	n, err := strconv.ParseUint(ref[1:], 10, 32)
	if err != nil {
		return 0, false
	}
	return markset.Mark(n), true
}

func (p *Parser) parseCommit(branch string) (Record, error) {
	c := &Commit{Branch: branch}
	for {
		line, err := p.readline()
		if err != nil {
			return nil, err
		}
		text := strings.TrimRight(string(line), "\r\n")
		switch {
		case strings.HasPrefix(text, "mark :"):
			m, err := parseMark(text)
			if err != nil {
				return nil, err
			}
			c.Mark = m
		case strings.HasPrefix(text, "original-oid "):
			c.OriginalOID = strings.TrimPrefix(text, "original-oid ")
		case strings.HasPrefix(text, "author "):
			c.AuthorLine = strings.TrimPrefix(text, "author ")
		case strings.HasPrefix(text, "committer "):
			c.CommitterLine = strings.TrimPrefix(text, "committer ")
		case strings.HasPrefix(text, "data"):
			data, err := p.readData(line)
			if err != nil {
				return nil, err
			}
			c.Message = data
			if err := p.parseFromMerge(c); err != nil {
				return nil, err
			}
			if err := p.parseFileChanges(c); err != nil {
				return nil, err
			}
			return c, nil
		default:
			return nil, rerror.New(rerror.Parse, "unexpected line in commit header").WithInput(text)
		}
	}
}

// parseFromMerge reads the `from`/`merge` lines that follow a commit's
// message in fast-export's actual emission order (mark, original-oid,
// author, committer, data <message>, from, merge*, filechanges).
func (p *Parser) parseFromMerge(c *Commit) error {
	for {
		line, err := p.readline()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		text := strings.TrimRight(string(line), "\r\n")
		switch {
		case strings.HasPrefix(text, "from "):
			c.From = strings.TrimPrefix(text, "from ")
		case strings.HasPrefix(text, "merge "):
			c.Merges = append(c.Merges, strings.TrimPrefix(text, "merge "))
		default:
			p.pushback(line)
			return nil
		}
	}
}

func (p *Parser) parseFileChanges(c *Commit) error {
	for {
		line, err := p.readline()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		text := strings.TrimRight(string(line), "\r\n")
		if text == "" {
			return nil
		}
		fc, err := parseFileChangeLine(text)
		if err != nil {
			// Not a filechange line: this begins the next record.
			p.pushback(line)
			return nil
		}
		c.FileChanges = append(c.FileChanges, fc)
	}
}

func parseFileChangeLine(text string) (FileChange, error) {
	switch {
	case text == "deleteall":
		return FileChange{Op: OpDeleteAll}, nil
	case strings.HasPrefix(text, "M "):
		fields := strings.SplitN(text[2:], " ", 3)
		if len(fields) != 3 {
			return FileChange{}, rerror.New(rerror.Parse, "malformed M fileop").WithInput(text)
		}
		return FileChange{Op: OpModify, Mode: fields[0], Ref: fields[1], Path: pathcodec.Decode([]byte(fields[2]))}, nil
	case strings.HasPrefix(text, "D "):
		return FileChange{Op: OpDelete, Path: pathcodec.Decode([]byte(text[2:]))}, nil
	case strings.HasPrefix(text, "C "):
		src, dst, err := splitTwoPaths(text[2:])
		if err != nil {
			return FileChange{}, err
		}
		return FileChange{Op: OpCopy, Path: src, Dst: dst}, nil
	case strings.HasPrefix(text, "R "):
		src, dst, err := splitTwoPaths(text[2:])
		if err != nil {
			return FileChange{}, err
		}
		return FileChange{Op: OpRename, Path: src, Dst: dst}, nil
	default:
		return FileChange{}, rerror.New(rerror.Parse, "not a filechange line").WithInput(text)
	}
}

// splitTwoPaths splits the two space-separated (possibly quoted) paths
// in a C/R fileop line.
func splitTwoPaths(rest string) ([]byte, []byte, error) {
	if strings.HasPrefix(rest, "\"") {
		end := findQuoteEnd(rest, 1)
		if end < 0 {
			return nil, nil, rerror.New(rerror.Parse, "unterminated quoted path").WithInput(rest)
		}
		src := pathcodec.Decode([]byte(rest[:end+1]))
		remainder := strings.TrimPrefix(rest[end+1:], " ")
		return src, pathcodec.Decode([]byte(remainder)), nil
	}
	idx := strings.IndexByte(rest, ' ')
	if idx < 0 {
		return nil, nil, rerror.New(rerror.Parse, "expected two paths").WithInput(rest)
	}
	return pathcodec.Decode([]byte(rest[:idx])), pathcodec.Decode([]byte(rest[idx+1:])), nil
}

func findQuoteEnd(s string, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == '"' {
			return i
		}
	}
	return -1
}

func (p *Parser) parseTag(name string) (Record, error) {
	t := &Tag{Name: name}
	for {
		line, err := p.readline()
		if err != nil {
			return nil, err
		}
		text := strings.TrimRight(string(line), "\r\n")
		switch {
		case strings.HasPrefix(text, "mark :"):
			m, err := parseMark(text)
			if err != nil {
				return nil, err
			}
			t.Mark = m
		case strings.HasPrefix(text, "from "):
			t.From = strings.TrimPrefix(text, "from ")
		case strings.HasPrefix(text, "original-oid "):
			t.OriginalOID = strings.TrimPrefix(text, "original-oid ")
		case strings.HasPrefix(text, "tagger "):
			t.TaggerLine = strings.TrimPrefix(text, "tagger ")
		case strings.HasPrefix(text, "data"):
			data, err := p.readData(line)
			if err != nil {
				return nil, err
			}
			t.Message = data
			return t, nil
		default:
			return nil, rerror.New(rerror.Parse, "unexpected line in tag header").WithInput(text)
		}
	}
}

func (p *Parser) parseReset(ref string) (Record, error) {
	r := &Reset{Ref: ref}
	line, err := p.readline()
	if err == io.EOF {
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	text := strings.TrimRight(string(line), "\r\n")
	if strings.HasPrefix(text, "from ") {
		r.From = strings.TrimPrefix(text, "from ")
		return r, nil
	}
	if text != "" {
		p.pushback(line)
	}
	return r, nil
}

// Serializer writes typed records back out in fast-import form.
type Serializer struct {
	w *bufio.Writer
}

// NewSerializer wraps w for record-at-a-time fast-import output.
func NewSerializer(w io.Writer) *Serializer {
	return &Serializer{w: bufio.NewWriterSize(w, 64*1024)}
}

// Flush flushes any buffered output.
func (s *Serializer) Flush() error {
	return s.w.Flush()
}

func writeData(w *bufio.Writer, data []byte) {
	fmt.Fprintf(w, "data %d\n", len(data))
	w.Write(data)
	w.WriteByte('\n')
}

// WriteBlob serializes a blob record.
func (s *Serializer) WriteBlob(b *Blob) error {
	fmt.Fprintf(s.w, "blob\n")
	if b.Mark != 0 {
		fmt.Fprintf(s.w, "mark :%d\n", b.Mark)
	}
	if b.OriginalOID != "" {
		fmt.Fprintf(s.w, "original-oid %s\n", b.OriginalOID)
	}
	writeData(s.w, b.Data)
	return s.w.Flush()
}

// WriteCommit serializes a commit record.
func (s *Serializer) WriteCommit(c *Commit) error {
	fmt.Fprintf(s.w, "commit %s\n", c.Branch)
	if c.Mark != 0 {
		fmt.Fprintf(s.w, "mark :%d\n", c.Mark)
	}
	if c.OriginalOID != "" {
		fmt.Fprintf(s.w, "original-oid %s\n", c.OriginalOID)
	}
	if c.AuthorLine != "" {
		fmt.Fprintf(s.w, "author %s\n", c.AuthorLine)
	}
	fmt.Fprintf(s.w, "committer %s\n", c.CommitterLine)
	writeData(s.w, c.Message)
	if c.From != "" {
		fmt.Fprintf(s.w, "from %s\n", c.From)
	}
	for _, m := range c.Merges {
		fmt.Fprintf(s.w, "merge %s\n", m)
	}
	for _, fc := range c.FileChanges {
		writeFileChange(s.w, fc)
	}
	s.w.WriteByte('\n')
	return s.w.Flush()
}

func writeFileChange(w *bufio.Writer, fc FileChange) {
	switch fc.Op {
	case OpDeleteAll:
		fmt.Fprintf(w, "deleteall\n")
	case OpModify:
		fmt.Fprintf(w, "M %s %s %s\n", fc.Mode, fc.Ref, pathcodec.Encode(fc.Path))
	case OpDelete:
		fmt.Fprintf(w, "D %s\n", pathcodec.Encode(fc.Path))
	case OpCopy:
		fmt.Fprintf(w, "C %s %s\n", pathcodec.Encode(fc.Path), pathcodec.Encode(fc.Dst))
	case OpRename:
		fmt.Fprintf(w, "R %s %s\n", pathcodec.Encode(fc.Path), pathcodec.Encode(fc.Dst))
	}
}

// WriteTag serializes an annotated tag record.
func (s *Serializer) WriteTag(t *Tag) error {
	fmt.Fprintf(s.w, "tag %s\n", t.Name)
	if t.Mark != 0 {
		fmt.Fprintf(s.w, "mark :%d\n", t.Mark)
	}
	fmt.Fprintf(s.w, "from %s\n", t.From)
	if t.OriginalOID != "" {
		fmt.Fprintf(s.w, "original-oid %s\n", t.OriginalOID)
	}
	if t.TaggerLine != "" {
		fmt.Fprintf(s.w, "tagger %s\n", t.TaggerLine)
	}
	writeData(s.w, t.Message)
	return s.w.Flush()
}

// WriteReset serializes a reset record.
func (s *Serializer) WriteReset(r *Reset) error {
	fmt.Fprintf(s.w, "reset %s\n", r.Ref)
	if r.From != "" {
		fmt.Fprintf(s.w, "from %s\n", r.From)
	}
	return s.w.Flush()
}

// WriteAlias emits a fast-import `alias` directive mapping mark to
// target, used by the commit rewriter to prune a commit while keeping
// references to it resolvable (spec.md section 4.7).
func (s *Serializer) WriteAlias(mark, target markset.Mark) error {
	fmt.Fprintf(s.w, "alias\nmark :%d\nto :%d\n\n", mark, target)
	return s.w.Flush()
}

// WritePassthrough re-emits a feature/option/comment line unmodified.
func (s *Serializer) WritePassthrough(p *Passthrough) error {
	fmt.Fprintf(s.w, "%s\n", p.Line)
	return s.w.Flush()
}

// WriteDone emits the terminating `done` line.
func (s *Serializer) WriteDone() error {
	fmt.Fprintf(s.w, "done\n")
	return s.w.Flush()
}

// MarkRef parses a fast-import mark reference (":N") if ref is one.
func MarkRef(ref string) (markset.Mark, bool) {
	return parseMarkRef(ref)
}
