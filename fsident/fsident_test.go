package fsident_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrun/structrun/fsident"
)

func TestResolver_IdentifySameFileTwice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	r := fsident.NewResolver("")
	id1, err := r.Identify(path)
	require.NoError(t, err)
	id2, err := r.Identify(path)
	require.NoError(t, err)
	assert.Equal(t, id1.Key(), id2.Key())
}

func TestResolver_DifferentFilesDifferentIdentity(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("hello"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("hello"), 0o600))

	r := fsident.NewResolver("")
	id1, err := r.Identify(a)
	require.NoError(t, err)
	id2, err := r.Identify(b)
	require.NoError(t, err)
	assert.NotEqual(t, id1.Key(), id2.Key())
}

func TestCache_PutGetInvalidateOnMtimeChange(t *testing.T) {
	c := fsident.NewCache(1024, 0)
	entry := fsident.Entry{Content: []byte("data"), MTimeNanos: 100, SizeBytes: 4}
	c.Put("/tmp/x", entry)

	got, ok := c.Get("/tmp/x", 100, 4)
	require.True(t, ok)
	assert.Equal(t, "data", string(got.Content))

	_, ok = c.Get("/tmp/x", 200, 4)
	assert.False(t, ok, "mtime mismatch must invalidate")

	_, ok = c.Get("/tmp/x", 100, 4)
	assert.False(t, ok, "cache entry should have been evicted by the failed lookup")
}

func TestCache_RejectsOversizeEntries(t *testing.T) {
	c := fsident.NewCache(4, 0)
	c.Put("/tmp/big", fsident.Entry{Content: []byte("toolarge"), MTimeNanos: 1, SizeBytes: 8})
	_, ok := c.Get("/tmp/big", 1, 8)
	assert.False(t, ok, "entries over the byte cap must never be cached")
}

func TestCache_EvictsLRUWhenOverCapacity(t *testing.T) {
	c := fsident.NewCache(10, 0)
	c.Put("/tmp/a", fsident.Entry{Content: []byte("12345"), MTimeNanos: 1, SizeBytes: 5})
	c.Put("/tmp/b", fsident.Entry{Content: []byte("67890"), MTimeNanos: 1, SizeBytes: 5})
	// Touch a so it becomes most-recently-used.
	_, _ = c.Get("/tmp/a", 1, 5)
	c.Put("/tmp/c", fsident.Entry{Content: []byte("abcde"), MTimeNanos: 1, SizeBytes: 5})

	_, aOK := c.Get("/tmp/a", 1, 5)
	_, bOK := c.Get("/tmp/b", 1, 5)
	_, cOK := c.Get("/tmp/c", 1, 5)
	assert.True(t, aOK, "recently used entry should survive eviction")
	assert.False(t, bOK, "least recently used entry should be evicted")
	assert.True(t, cOK)
}

func TestCache_ExactlyAtCapacityAdmitted(t *testing.T) {
	c := fsident.NewCache(4, 0)
	c.Put("/tmp/exact", fsident.Entry{Content: []byte("abcd"), MTimeNanos: 1, SizeBytes: 4})
	_, ok := c.Get("/tmp/exact", 1, 4)
	assert.True(t, ok, "entry exactly at the byte cap must be admitted")
}

func TestCache_TTLExpiry(t *testing.T) {
	c := fsident.NewCache(1024, 10*time.Millisecond)
	c.Put("/tmp/x", fsident.Entry{Content: []byte("data"), MTimeNanos: 1, SizeBytes: 4})
	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("/tmp/x", 1, 4)
	assert.False(t, ok, "entry should expire after TTL elapses")
}

func TestDetectEncoding(t *testing.T) {
	assert.Equal(t, fsident.EncodingUTF8, fsident.DetectEncoding([]byte{0xEF, 0xBB, 0xBF, 'h', 'i'}))
	assert.Equal(t, fsident.EncodingUTF8, fsident.DetectEncoding([]byte("plain ascii text")))
	assert.Equal(t, fsident.EncodingUTF16LE, fsident.DetectEncoding([]byte{0xFF, 0xFE, 'h', 0x00, 'i', 0x00}))
	invalidUTF8 := []byte{0xff, 0xfe, 0xfd, 0xfc, 0x81, 0x82}
	assert.NotEqual(t, fsident.EncodingUTF8, fsident.DetectEncoding(invalidUTF8))
}
