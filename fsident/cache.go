package fsident

import (
	"container/list"
	"os"
	"sync"
	"time"
	"unicode/utf8"
)

// Encoding enumerates the text encodings the cache's detector recognises.
type Encoding string

const (
	EncodingUTF8    Encoding = "utf-8"
	EncodingUTF16LE Encoding = "utf-16le"
	EncodingUTF16BE Encoding = "utf-16be"
	EncodingUTF32LE Encoding = "utf-32le"
	EncodingUTF32BE Encoding = "utf-32be"
	EncodingUnknown Encoding = "unknown"
)

// Entry is a cached file's content plus the metadata needed to invalidate it.
type Entry struct {
	Content     []byte
	Encoding    Encoding
	ContentHash string
	MTimeNanos  int64
	SizeBytes   int64
	cachedAt    int64 // unix nanos, for TTL eviction
}

// Cache is a byte-bounded LRU keyed by absolute path. It is safe for
// concurrent use (every operation holds a single mutex) and never admits an entry
// larger than the configured byte cap.
type Cache struct {
	mu sync.Mutex

	capacityBytes int64
	usedBytes     int64
	ttl           time.Duration

	ll    *list.List // front = most recently used
	items map[string]*list.Element

	nowFunc func() time.Time
}

type cacheNode struct {
	path  string
	entry Entry
}

// DefaultCapacityBytes is the default LRU byte cap.
const DefaultCapacityBytes = 50 * 1024 * 1024

// NewCache constructs a Cache with the given byte capacity (DefaultCapacityBytes
// when zero) and TTL (no expiry when zero, beyond mtime/size invalidation).
func NewCache(capacityBytes int64, ttl time.Duration) *Cache {
	if capacityBytes <= 0 {
		capacityBytes = DefaultCapacityBytes
	}
	return &Cache{
		capacityBytes: capacityBytes,
		ttl:           ttl,
		ll:            list.New(),
		items:         make(map[string]*list.Element),
		nowFunc:       time.Now,
	}
}

// Get looks up path, validating the cached entry's mtime-ns, size, and TTL
// against the given current values. A mismatch evicts the entry and returns
// (Entry{}, false).
func (c *Cache) Get(path string, mtimeNanos, sizeBytes int64) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[path]
	if !ok {
		return Entry{}, false
	}
	node := el.Value.(*cacheNode)
	if node.entry.MTimeNanos != mtimeNanos || node.entry.SizeBytes != sizeBytes {
		c.removeElement(el)
		return Entry{}, false
	}
	if c.ttl > 0 && c.nowFunc().UnixNano()-node.entry.cachedAt > int64(c.ttl) {
		c.removeElement(el)
		return Entry{}, false
	}
	c.ll.MoveToFront(el)
	return node.entry, true
}

// Put inserts or replaces the cached entry for path. Entries larger than the
// cache's byte capacity are never cached and Put is then
// a no-op; callers should still use the content they read, simply uncached.
func (c *Cache) Put(path string, entry Entry) {
	if int64(len(entry.Content)) > c.capacityBytes {
		return
	}
	entry.cachedAt = c.nowFunc().UnixNano()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[path]; ok {
		old := el.Value.(*cacheNode)
		c.usedBytes -= int64(len(old.entry.Content))
		old.entry = entry
		c.ll.MoveToFront(el)
		c.usedBytes += int64(len(entry.Content))
	} else {
		el := c.ll.PushFront(&cacheNode{path: path, entry: entry})
		c.items[path] = el
		c.usedBytes += int64(len(entry.Content))
	}
	c.evictUntilWithinCapacity()
}

// Invalidate removes path from the cache unconditionally.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[path]; ok {
		c.removeElement(el)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// UsedBytes returns the current total cached content size.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}

func (c *Cache) evictUntilWithinCapacity() {
	for c.usedBytes > c.capacityBytes {
		back := c.ll.Back()
		if back == nil {
			return
		}
		c.removeElement(back)
	}
}

func (c *Cache) removeElement(el *list.Element) {
	node := el.Value.(*cacheNode)
	c.usedBytes -= int64(len(node.entry.Content))
	delete(c.items, node.path)
	c.ll.Remove(el)
}

// StatOf returns the mtime-ns and size of path, for use as Get/Put's
// invalidation keys.
func StatOf(path string) (mtimeNanos, sizeBytes int64, err error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		return 0, 0, statErr
	}
	return info.ModTime().UnixNano(), info.Size(), nil
}

// DetectEncoding implements a BOM-first, then confidence-threshold probe:
// UTF-8 (with BOM recognition for UTF-8/16/32 LE/BE)
// is tried first; failing that, a lightweight heuristic probe is applied; on
// failure the file is treated as opaque bytes with EncodingUnknown.
func DetectEncoding(data []byte) Encoding {
	switch {
	case hasBOM(data, []byte{0xEF, 0xBB, 0xBF}):
		return EncodingUTF8
	case hasBOM(data, []byte{0xFF, 0xFE, 0x00, 0x00}):
		return EncodingUTF32LE
	case hasBOM(data, []byte{0x00, 0x00, 0xFE, 0xFF}):
		return EncodingUTF32BE
	case hasBOM(data, []byte{0xFF, 0xFE}):
		return EncodingUTF16LE
	case hasBOM(data, []byte{0xFE, 0xFF}):
		return EncodingUTF16BE
	}
	if utf8.Valid(data) {
		return EncodingUTF8
	}
	if looksLikeUTF16(data) {
		return EncodingUTF16LE
	}
	return EncodingUnknown
}

func hasBOM(data, bom []byte) bool {
	if len(data) < len(bom) {
		return false
	}
	for i, b := range bom {
		if data[i] != b {
			return false
		}
	}
	return true
}

// looksLikeUTF16 is a cheap chardet-style heuristic: a run of printable ASCII
// bytes interleaved with null bytes strongly suggests UTF-16 text, which is
// the common case this probe needs to catch beyond the BOM-tagged forms.
func looksLikeUTF16(data []byte) bool {
	if len(data) < 4 || len(data)%2 != 0 {
		return false
	}
	nulls := 0
	sample := data
	if len(sample) > 256 {
		sample = sample[:256]
	}
	for i := 1; i < len(sample); i += 2 {
		if sample[i] == 0 {
			nulls++
		}
	}
	return nulls > len(sample)/2/3
}
