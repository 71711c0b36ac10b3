package blobfilter

import (
	"bytes"
	"testing"

	"github.com/reposieve/reposieve/pkg/markset"
	"github.com/reposieve/reposieve/pkg/ruleset"
)

func TestMaxSizeDrop(t *testing.T) {
	rs := ruleset.New()
	rs.MaxBlobSize = 4
	xf := New(rs)
	r := xf.Apply(Blob{Mark: 1, Payload: []byte("too long")})
	if !r.Dropped {
		t.Error("expected drop for over-size blob")
	}
}

func TestStripSetDrop(t *testing.T) {
	rs := ruleset.New()
	oid := "deadbeef00000000000000000000000000000000"[:40]
	rs.StripBlobIDs[oid] = struct{}{}
	xf := New(rs)
	r := xf.Apply(Blob{Mark: 1, OriginalOID: oid, Payload: []byte("secret")})
	if !r.Dropped {
		t.Error("expected drop for stripped oid")
	}
}

func TestUnchangedPayloadPreservesIdentity(t *testing.T) {
	rs := ruleset.New()
	xf := New(rs)
	payload := []byte("nothing to see here")
	r := xf.Apply(Blob{Mark: 1, Payload: payload})
	if r.Dropped {
		t.Fatal("did not expect drop")
	}
	if !bytes.Equal(r.Payload, payload) {
		t.Error("expected payload unchanged")
	}
}

func TestLiteralReplacement(t *testing.T) {
	rs := ruleset.New()
	rs.BlobRules = []ruleset.Replacement{
		{Kind: ruleset.ReplaceLiteral, Pattern: []byte("TOKEN=abcdef"), Replacement: []byte("TOKEN=REDACTED")},
	}
	xf := New(rs)
	r := xf.Apply(Blob{Mark: 1, Payload: []byte("prefix TOKEN=abcdef suffix")})
	want := "prefix TOKEN=REDACTED suffix"
	if string(r.Payload) != want {
		t.Errorf("got %q, want %q", r.Payload, want)
	}
}

func TestLiteralLongestMatchWins(t *testing.T) {
	rs := ruleset.New()
	rs.BlobRules = []ruleset.Replacement{
		{Kind: ruleset.ReplaceLiteral, Pattern: []byte("foo"), Replacement: []byte("SHORT")},
		{Kind: ruleset.ReplaceLiteral, Pattern: []byte("foobar"), Replacement: []byte("LONG")},
	}
	xf := New(rs)
	r := xf.Apply(Blob{Mark: 1, Payload: []byte("foobar")})
	if string(r.Payload) != "LONG" {
		t.Errorf("expected longest-match rule to win, got %q", r.Payload)
	}
}

func TestRegexReplacement(t *testing.T) {
	rs := ruleset.New()
	rules, err := ruleset.LoadReplacementFile(bytes.NewReader([]byte("regex:sec[rR]et==>REDACTED\n")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rs.BlobRules = rules
	xf := New(rs)
	r := xf.Apply(Blob{Mark: 1, Payload: []byte("this is a seCret")})
	if string(r.Payload) != "this is a seCret" {
		t.Errorf("expected seCret to be left untouched, got %q", r.Payload)
	}
	r2 := xf.Apply(Blob{Mark: 2, Payload: []byte("this is a secret")})
	if string(r2.Payload) != "this is a REDACTED" {
		t.Errorf("got %q", r2.Payload)
	}
}

func TestDropSet(t *testing.T) {
	ds := NewDropSet()
	if ds.Dropped(1) {
		t.Error("expected mark 1 not dropped initially")
	}
	ds.Record(1)
	if !ds.Dropped(1) {
		t.Error("expected mark 1 dropped after Record")
	}
}

func TestParallelPoolPreservesOrder(t *testing.T) {
	rs := ruleset.New()
	xf := New(rs)
	pool := NewParallelPool(xf, 4)
	defer pool.Close()

	n := 20
	for i := 0; i < n; i++ {
		pool.Submit(Blob{Mark: markset.Mark(i), Payload: []byte{byte(i)}})
	}
	for i := 0; i < n; i++ {
		r := pool.Next(markset.Mark(i))
		if r.Mark != markset.Mark(i) {
			t.Errorf("expected mark %d, got %d", i, r.Mark)
		}
	}
}
