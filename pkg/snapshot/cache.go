package snapshot

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Cache holds parsed snapshots keyed by content hash. Raw dumps are kept
// zstd-compressed for reporting. Entries are reference counted: every
// Register or Acquire returns a Handle, and an entry is evicted once all of
// its handles are released.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

type entry struct {
	snap       *Snapshot
	compressed []byte
	rawSize    int
	refs       int
}

// Handle is one reference to a cached snapshot.
type Handle struct {
	cache *Cache
	hash  string
	snap  *Snapshot
	once  sync.Once
}

// NewCache creates an empty cache.
func NewCache() (*Cache, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Cache{
		entries: make(map[string]*entry),
		enc:     enc,
		dec:     dec,
	}, nil
}

// Register parses raw (or reuses an already parsed dump with the same
// content hash) and returns a new handle to it.
func (c *Cache) Register(raw string) (*Handle, error) {
	hash := ContentHash(raw)

	c.mu.Lock()
	if e, ok := c.entries[hash]; ok {
		e.refs++
		c.mu.Unlock()
		return &Handle{cache: c, hash: hash, snap: e.snap}, nil
	}
	c.mu.Unlock()

	snap, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	compressed := c.enc.EncodeAll([]byte(raw), nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have registered the same dump while we parsed.
	if e, ok := c.entries[hash]; ok {
		e.refs++
		return &Handle{cache: c, hash: hash, snap: e.snap}, nil
	}
	c.entries[hash] = &entry{snap: snap, compressed: compressed, rawSize: len(raw), refs: 1}
	return &Handle{cache: c, hash: hash, snap: snap}, nil
}

// Acquire returns a new handle to an entry that is already cached.
func (c *Cache) Acquire(hash string) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		return nil, fmt.Errorf("snapshot %s not cached", shortHash(hash))
	}
	e.refs++
	return &Handle{cache: c, hash: hash, snap: e.snap}, nil
}

// Raw returns the decompressed dump for hash.
func (c *Cache) Raw(hash string) (string, error) {
	c.mu.Lock()
	e, ok := c.entries[hash]
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("snapshot %s not cached", shortHash(hash))
	}
	out, err := c.dec.DecodeAll(e.compressed, make([]byte, 0, e.rawSize))
	if err != nil {
		return "", fmt.Errorf("decompress snapshot %s: %w", shortHash(hash), err)
	}
	return string(out), nil
}

// Refs returns the live reference count for hash (0 if not cached).
func (c *Cache) Refs(hash string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[hash]; ok {
		return e.refs
	}
	return 0
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close releases the codec resources. Handles must not be used afterwards.
func (c *Cache) Close() error {
	c.dec.Close()
	return c.enc.Close()
}

func (c *Cache) release(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(c.entries, hash)
	}
}

// Snapshot returns the parsed snapshot behind the handle.
func (h *Handle) Snapshot() *Snapshot { return h.snap }

// Hash returns the content hash the handle refers to.
func (h *Handle) Hash() string { return h.hash }

// Release drops this reference. Calling Release more than once is a no-op.
func (h *Handle) Release() {
	h.once.Do(func() { h.cache.release(h.hash) })
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
