package retrieval_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/tools/retrieval"
)

type stubBackend struct {
	createCalls   int
	failCreates   int
	uploaded      []string
	deleted       []string
	storeDeleted  string
	statusSeq     []retrieval.Status
	statusIdx     int
}

func (s *stubBackend) CreateVectorStore(context.Context, string, time.Duration) (string, error) {
	s.createCalls++
	if s.createCalls <= s.failCreates {
		return "", fmt.Errorf("transient failure")
	}
	return "vs_1", nil
}

func (s *stubBackend) UploadFile(_ context.Context, path string) (string, error) {
	id := "file_" + filepath.Base(path)
	s.uploaded = append(s.uploaded, id)
	return id, nil
}

func (s *stubBackend) AttachFileBatch(context.Context, string, []string) error { return nil }

func (s *stubBackend) VectorStoreStatus(context.Context, string) (retrieval.Status, error) {
	if s.statusIdx >= len(s.statusSeq) {
		return retrieval.StatusReady, nil
	}
	st := s.statusSeq[s.statusIdx]
	s.statusIdx++
	return st, nil
}

func (s *stubBackend) DeleteFile(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubBackend) DeleteVectorStore(_ context.Context, id string) error {
	s.storeDeleted = id
	return nil
}

func noSleepDriver(backend retrieval.Backend) *retrieval.Driver {
	d := retrieval.New(retrieval.Options{
		Backend: backend,
		Retry:   retrieval.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, Factor: 2},
		Poll:    retrieval.PollPolicy{Timeout: 50 * time.Millisecond, Interval: time.Millisecond},
	})
	return d
}

func TestDriver_SetupUploadsAndBuildsConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(p, []byte("content"), 0o600))

	backend := &stubBackend{statusSeq: []retrieval.Status{retrieval.StatusIndexing, retrieval.StatusReady}}
	d := noSleepDriver(backend)

	cfg, err := d.Setup(context.Background(), "store", 7*24*time.Hour, []string{p})
	require.NoError(t, err)
	assert.Equal(t, "retrieval", cfg.Kind)
	assert.Equal(t, []string{"vs_1"}, cfg.StoreIDs)
	assert.Len(t, backend.uploaded, 1)
}

func TestDriver_ValidateFileRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(p, nil, 0o600))

	d := noSleepDriver(&stubBackend{})
	err := d.ValidateFile(p)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUploadFailed))
}

func TestDriver_CreateRetriesOnTransientFailure(t *testing.T) {
	backend := &stubBackend{failCreates: 1}
	d := noSleepDriver(backend)
	_, err := d.Setup(context.Background(), "store", time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.createCalls)
}

func TestDriver_CreateStopsAfterMaxAttempts(t *testing.T) {
	backend := &stubBackend{failCreates: 10}
	d := noSleepDriver(backend)
	_, err := d.Setup(context.Background(), "store", time.Hour, nil)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindVectorStoreFailed))
	assert.Equal(t, 2, backend.createCalls, "MaxAttempts bounds the total calls, not the retries after the first")
}

func TestDriver_SetupSurfacesVectorStoreFailedStatus(t *testing.T) {
	backend := &stubBackend{statusSeq: []retrieval.Status{retrieval.StatusFailed}}
	d := noSleepDriver(backend)
	_, err := d.Setup(context.Background(), "store", time.Hour, nil)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindVectorStoreFailed))
}

func TestDriver_SetupWithIDsSkipsUploadAndOwnsOnlyTheStore(t *testing.T) {
	backend := &stubBackend{statusSeq: []retrieval.Status{retrieval.StatusReady}}
	d := noSleepDriver(backend)

	cfg, err := d.SetupWithIDs(context.Background(), "store", time.Hour, []string{"file_shared"})
	require.NoError(t, err)
	assert.Equal(t, []string{"vs_1"}, cfg.StoreIDs)
	assert.Empty(t, backend.uploaded, "SetupWithIDs must not call UploadFile")

	d.Cleanup(context.Background())
	assert.Empty(t, backend.deleted, "SetupWithIDs-provided ids are owned by the caller, not this driver")
	assert.Equal(t, "vs_1", backend.storeDeleted)
}

func TestDriver_CleanupDeletesFilesThenStore(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.pdf")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))

	backend := &stubBackend{}
	d := noSleepDriver(backend)
	_, err := d.Setup(context.Background(), "store", time.Hour, []string{p})
	require.NoError(t, err)

	d.Cleanup(context.Background())
	assert.Len(t, backend.deleted, 1)
	assert.Equal(t, "vs_1", backend.storeDeleted)
}
