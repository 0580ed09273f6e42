package pdfcache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestCache(t *testing.T, maxBytes int64) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), maxBytes)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func blobCount(t *testing.T, c *Cache) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(c.dir, "objects", "*.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	return len(matches)
}

func TestCache_Dedup(t *testing.T) {
	c := newTestCache(t, 1<<20)
	data := []byte("%PDF-1.5 fake pdf body")

	h1, err := c.Store("doi:10.1/a", "arxiv", data)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := c.Store("arxiv:2101.00001", "arxiv", data)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("identical bytes must share one content hash")
	}
	if n := blobCount(t, c); n != 1 {
		t.Errorf("expected one blob on disk, found %d", n)
	}

	// Deleting one identifier keeps the content reachable via the other.
	if err := c.Delete("doi:10.1/a"); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get("arxiv:2101.00001")
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("content lost after deleting one identifier: %v", err)
	}
	if n := blobCount(t, c); n != 1 {
		t.Errorf("blob removed while still referenced")
	}

	// Deleting the last identifier removes the blob.
	if err := c.Delete("arxiv:2101.00001"); err != nil {
		t.Fatal(err)
	}
	if n := blobCount(t, c); n != 0 {
		t.Errorf("expected empty object dir, found %d blobs", n)
	}
	if _, err := c.Get("arxiv:2101.00001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCache_Metadata(t *testing.T) {
	c := newTestCache(t, 1<<20)
	data := []byte("%PDF-1.5 body")

	hash, err := c.Store("2101.00001", "arxiv", data)
	if err != nil {
		t.Fatal(err)
	}
	meta, err := c.Meta("2101.00001")
	if err != nil {
		t.Fatal(err)
	}
	if meta.ContentHash != hash {
		t.Errorf("metadata hash %q != stored hash %q", meta.ContentHash, hash)
	}
	if meta.Size != int64(len(data)) || meta.Source != "arxiv" || meta.Identifier != "2101.00001" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if meta.RetrievedAt.IsZero() {
		t.Error("retrieved_at must be set")
	}
}

func TestCache_ByteCapEviction(t *testing.T) {
	c := newTestCache(t, 100)

	big := bytes.Repeat([]byte("a"), 60)
	big2 := bytes.Repeat([]byte("b"), 60)

	if _, err := c.Store("one", "s2", big); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Store("two", "s2", big2); err != nil {
		t.Fatal(err)
	}

	// 120 bytes exceeds the 100-byte cap: the older blob is evicted.
	if c.TotalBytes() > 100 {
		t.Errorf("total %d exceeds cap", c.TotalBytes())
	}
	if c.Contains("one") {
		t.Error("least-recently-used blob should have been evicted")
	}
	if !c.Contains("two") {
		t.Error("most recent blob must survive eviction")
	}
}

func TestCache_ReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	data := []byte("%PDF persistent")

	c1, err := New(dir, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c1.Store("10.5/xyz", "openalex", data); err != nil {
		t.Fatal(err)
	}

	c2, err := New(dir, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c2.Get("10.5/xyz")
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("reloaded cache lost data: %v", err)
	}
}

func TestCache_RejectsEmpty(t *testing.T) {
	c := newTestCache(t, 1<<20)
	if _, err := c.Store("", "s2", []byte("x")); err == nil {
		t.Error("empty identifier must be rejected")
	}
	if _, err := c.Store("id", "s2", nil); err == nil {
		t.Error("empty blob must be rejected")
	}
	if _, err := os.Stat(filepath.Join(c.dir, "objects")); err != nil {
		t.Fatal(err)
	}
}
