package fastexport

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"testing"
)

func TestParseBlob(t *testing.T) {
	src := "blob\nmark :1\noriginal-oid abc123\ndata 5\nhello\n"
	p := NewParser(strings.NewReader(src))
	rec, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, ok := rec.(*Blob)
	if !ok {
		t.Fatalf("expected *Blob, got %T", rec)
	}
	if b.Mark != 1 || b.OriginalOID != "abc123" || string(b.Data) != "hello" {
		t.Errorf("unexpected blob: %+v", b)
	}
}

func TestParseCommitBasic(t *testing.T) {
	msg := "first commit"
	src := "commit refs/heads/main\n" +
		"mark :2\n" +
		"author Jane Doe <jane@example.com> 1 +0000\n" +
		"committer Jane Doe <jane@example.com> 1 +0000\n" +
		"data " + strconv.Itoa(len(msg)) + "\n" + msg + "\n" +
		"from :1\n" +
		"M 100644 :3 path/to/file.txt\n" +
		"D old/file.txt\n" +
		"\n"
	p := NewParser(strings.NewReader(src))
	rec, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, ok := rec.(*Commit)
	if !ok {
		t.Fatalf("expected *Commit, got %T", rec)
	}
	if c.Mark != 2 || c.From != ":1" || string(c.Message) != msg {
		t.Errorf("unexpected commit: %+v", c)
	}
	if len(c.FileChanges) != 2 {
		t.Fatalf("expected 2 filechanges, got %d", len(c.FileChanges))
	}
	if c.FileChanges[0].Op != OpModify || string(c.FileChanges[0].Path) != "path/to/file.txt" {
		t.Errorf("unexpected filechange 0: %+v", c.FileChanges[0])
	}
	if c.FileChanges[1].Op != OpDelete || string(c.FileChanges[1].Path) != "old/file.txt" {
		t.Errorf("unexpected filechange 1: %+v", c.FileChanges[1])
	}
}

func TestParseQuotedPath(t *testing.T) {
	msg := "m"
	src := "commit refs/heads/main\n" +
		"committer Jane <jane@example.com> 1 +0000\n" +
		"data " + strconv.Itoa(len(msg)) + "\n" + msg + "\n" +
		"M 100644 :1 \"has space.txt\"\n" +
		"\n"
	p := NewParser(strings.NewReader(src))
	rec, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := rec.(*Commit)
	if string(c.FileChanges[0].Path) != "has space.txt" {
		t.Errorf("got %q", c.FileChanges[0].Path)
	}
}

func TestParseResetWithFrom(t *testing.T) {
	src := "reset refs/heads/main\nfrom :5\n"
	p := NewParser(strings.NewReader(src))
	rec, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := rec.(*Reset)
	if r.Ref != "refs/heads/main" || r.From != ":5" {
		t.Errorf("unexpected reset: %+v", r)
	}
}

func TestParseResetNoFrom(t *testing.T) {
	src := "reset refs/heads/main\ndone\n"
	p := NewParser(strings.NewReader(src))
	rec, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := rec.(*Reset)
	if r.Ref != "refs/heads/main" || r.From != "" {
		t.Errorf("unexpected reset: %+v", r)
	}
	rec2, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := rec2.(*Done); !ok {
		t.Errorf("expected *Done, got %T", rec2)
	}
}

func TestParseEOF(t *testing.T) {
	p := NewParser(strings.NewReader(""))
	_, err := p.Next()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestRoundTripBlobSerialize(t *testing.T) {
	var buf bytes.Buffer
	s := NewSerializer(&buf)
	b := &Blob{Mark: 7, OriginalOID: "deadbeef", Data: []byte("payload")}
	if err := s.WriteBlob(b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := NewParser(strings.NewReader(buf.String()))
	rec, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := rec.(*Blob)
	if got.Mark != 7 || got.OriginalOID != "deadbeef" || string(got.Data) != "payload" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestMarkRef(t *testing.T) {
	m, ok := MarkRef(":42")
	if !ok || m != 42 {
		t.Errorf("expected mark 42, got %v %v", m, ok)
	}
	if _, ok := MarkRef("deadbeef"); ok {
		t.Errorf("expected non-mark ref to report false")
	}
}
