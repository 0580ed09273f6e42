// Package pdfcache is a content-addressed on-disk store for fetched PDFs.
//
// Blobs are keyed by sha256 of their bytes; any number of external
// identifiers (doi, arxiv id, url) map onto the same blob through an index.
// Storing a duplicate blob is a no-op apart from the new index entry. A blob
// survives until every identifier referencing it is deleted or the byte cap
// evicts it.
package pdfcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotFound is returned when an identifier has no cached blob.
var ErrNotFound = errors.New("pdfcache: not found")

// Metadata is the sidecar stored next to each blob.
type Metadata struct {
	Identifier  string    `json:"identifier"` // identifier that first stored the blob
	Source      string    `json:"source"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"content_hash"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

type object struct {
	hash       string
	size       int64
	refs       int
	lastAccess time.Time
}

// Cache is the content-addressed store. All state mutations hold the cache
// mutex; file writes happen inside the lock because blobs are small relative
// to the network fetch that precedes them.
type Cache struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	total    int64
	objects  map[string]*object // hash -> object
	index    map[string]string  // identifier -> hash
	nowFunc  func() time.Time
}

// New opens (or creates) a cache rooted at dir, capped at maxBytes of blob
// data. Existing blobs and the identifier index are reloaded from disk.
func New(dir string, maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		maxBytes = 1 << 30 // 1 GiB
	}
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("pdfcache: create dir: %w", err)
	}
	c := &Cache{
		dir:      dir,
		maxBytes: maxBytes,
		objects:  make(map[string]*object),
		index:    make(map[string]string),
		nowFunc:  time.Now,
	}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Store writes pdf bytes under identifier. If the identical content is
// already cached only the index entry is added. Returns the content hash.
func (c *Cache) Store(identifier, source string, data []byte) (string, error) {
	if identifier == "" {
		return "", errors.New("pdfcache: identifier required")
	}
	if len(data) == 0 {
		return "", errors.New("pdfcache: empty pdf")
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.index[identifier]; ok && prev != hash {
		c.unrefLocked(prev)
	}

	obj, exists := c.objects[hash]
	if !exists {
		if err := os.WriteFile(c.blobPath(hash), data, 0o644); err != nil {
			return "", fmt.Errorf("pdfcache: write blob: %w", err)
		}
		meta := Metadata{
			Identifier:  identifier,
			Source:      source,
			Size:        int64(len(data)),
			ContentHash: hash,
			RetrievedAt: c.nowFunc().UTC(),
		}
		if err := c.writeMeta(hash, meta); err != nil {
			return "", err
		}
		obj = &object{hash: hash, size: int64(len(data))}
		c.objects[hash] = obj
		c.total += obj.size
	}

	if c.index[identifier] != hash {
		c.index[identifier] = hash
		obj.refs++
	}
	obj.lastAccess = c.nowFunc()

	if err := c.persistIndex(); err != nil {
		return "", err
	}
	c.evictLocked()
	return hash, nil
}

// Get returns the blob for identifier.
func (c *Cache) Get(identifier string) ([]byte, error) {
	c.mu.Lock()
	hash, ok := c.index[identifier]
	if ok {
		if obj := c.objects[hash]; obj != nil {
			obj.lastAccess = c.nowFunc()
		}
	}
	c.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(c.blobPath(hash))
	if err != nil {
		return nil, fmt.Errorf("pdfcache: read blob: %w", err)
	}
	return data, nil
}

// Contains reports whether identifier resolves to a cached blob.
func (c *Cache) Contains(identifier string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[identifier]
	return ok
}

// Meta returns the sidecar metadata for identifier.
func (c *Cache) Meta(identifier string) (Metadata, error) {
	c.mu.Lock()
	hash, ok := c.index[identifier]
	c.mu.Unlock()
	if !ok {
		return Metadata{}, ErrNotFound
	}
	return c.readMeta(hash)
}

// Delete removes the identifier mapping. The blob itself is removed only
// when its reference count reaches zero.
func (c *Cache) Delete(identifier string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash, ok := c.index[identifier]
	if !ok {
		return ErrNotFound
	}
	delete(c.index, identifier)
	c.unrefLocked(hash)
	return c.persistIndex()
}

// TotalBytes returns the cached blob volume.
func (c *Cache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *Cache) unrefLocked(hash string) {
	obj, ok := c.objects[hash]
	if !ok {
		return
	}
	obj.refs--
	if obj.refs <= 0 {
		c.removeObjectLocked(obj)
	}
}

// evictLocked drops least-recently-used blobs (and their identifiers) until
// the cache fits the byte cap.
func (c *Cache) evictLocked() {
	for c.total > c.maxBytes {
		var oldest *object
		for _, obj := range c.objects {
			if oldest == nil || obj.lastAccess.Before(oldest.lastAccess) {
				oldest = obj
			}
		}
		if oldest == nil {
			return
		}
		for id, h := range c.index {
			if h == oldest.hash {
				delete(c.index, id)
			}
		}
		c.removeObjectLocked(oldest)
		_ = c.persistIndex()
	}
}

func (c *Cache) removeObjectLocked(obj *object) {
	delete(c.objects, obj.hash)
	c.total -= obj.size
	_ = os.Remove(c.blobPath(obj.hash))
	_ = os.Remove(c.metaPath(obj.hash))
}

func (c *Cache) blobPath(hash string) string {
	return filepath.Join(c.dir, "objects", hash+".pdf")
}

func (c *Cache) metaPath(hash string) string {
	return filepath.Join(c.dir, "objects", hash+".json")
}

func (c *Cache) indexPath() string {
	return filepath.Join(c.dir, "index.json")
}

func (c *Cache) writeMeta(hash string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("pdfcache: marshal metadata: %w", err)
	}
	if err := os.WriteFile(c.metaPath(hash), data, 0o644); err != nil {
		return fmt.Errorf("pdfcache: write metadata: %w", err)
	}
	return nil
}

func (c *Cache) readMeta(hash string) (Metadata, error) {
	data, err := os.ReadFile(c.metaPath(hash))
	if err != nil {
		return Metadata{}, fmt.Errorf("pdfcache: read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("pdfcache: decode metadata: %w", err)
	}
	return meta, nil
}

func (c *Cache) persistIndex() error {
	data, err := json.Marshal(c.index)
	if err != nil {
		return fmt.Errorf("pdfcache: marshal index: %w", err)
	}
	if err := os.WriteFile(c.indexPath(), data, 0o644); err != nil {
		return fmt.Errorf("pdfcache: write index: %w", err)
	}
	return nil
}

func (c *Cache) reload() error {
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("pdfcache: read index: %w", err)
	}
	if err := json.Unmarshal(data, &c.index); err != nil {
		return fmt.Errorf("pdfcache: decode index: %w", err)
	}
	for id, hash := range c.index {
		obj, ok := c.objects[hash]
		if !ok {
			info, err := os.Stat(c.blobPath(hash))
			if err != nil {
				delete(c.index, id)
				continue
			}
			obj = &object{hash: hash, size: info.Size(), lastAccess: info.ModTime()}
			c.objects[hash] = obj
			c.total += obj.size
		}
		obj.refs++
	}
	return nil
}
