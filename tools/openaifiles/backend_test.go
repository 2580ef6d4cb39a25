package openaifiles_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrun/structrun/errs"
	"github.com/structrun/structrun/tools/openaifiles"
	"github.com/structrun/structrun/tools/retrieval"
)

func newBackend(t *testing.T, handler http.HandlerFunc) *openaifiles.Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return openaifiles.New(openaifiles.Options{BaseURL: srv.URL, APIKey: "sk-test-key-abcdefghijklmnop"})
}

func TestUploadSendsMultipartWithAssistantsPurpose(t *testing.T) {
	var gotPurpose, gotFilename, gotAuth string
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/files", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotPurpose = r.FormValue("purpose")
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		gotFilename = header.Filename
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "file_abc"})
	})

	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o600))

	id, err := backend.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "file_abc", id)
	assert.Equal(t, "assistants", gotPurpose)
	assert.Equal(t, "data.csv", gotFilename)
	assert.Equal(t, "Bearer sk-test-key-abcdefghijklmnop", gotAuth)
}

func TestUploadErrorIsClassified(t *testing.T) {
	backend := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "unsupported file type"}`, http.StatusBadRequest)
	})

	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x00}, 0o600))

	_, err := backend.Upload(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUploadFailed))
}

func TestUploadMissingFile(t *testing.T) {
	backend := newBackend(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected for an unreadable file")
	})
	_, err := backend.Upload(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUploadFailed))
}

func TestDelete(t *testing.T) {
	var gotPath string
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, backend.Delete(context.Background(), "file_abc"))
	assert.Equal(t, "/files/file_abc", gotPath)
}

func TestCreateVectorStoreSendsExpiry(t *testing.T) {
	var payload map[string]any
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/vector_stores", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "vs_123"})
	})

	id, err := backend.CreateVectorStore(context.Background(), "structrun-run", 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "vs_123", id)
	assert.Equal(t, "structrun-run", payload["name"])

	expiry, ok := payload["expires_after"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "last_active_at", expiry["anchor"])
	assert.Equal(t, float64(7), expiry["days"])
}

func TestAttachFileBatch(t *testing.T) {
	var payload map[string]any
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/vector_stores/vs_123/file_batches", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusOK)
	})

	err := backend.AttachFileBatch(context.Background(), "vs_123", []string{"file_1", "file_2"})
	require.NoError(t, err)
	assert.Equal(t, []any{"file_1", "file_2"}, payload["file_ids"])
}

func TestVectorStoreStatusMapping(t *testing.T) {
	cases := map[string]retrieval.Status{
		"in_progress": retrieval.StatusIndexing,
		"completed":   retrieval.StatusReady,
		"failed":      retrieval.StatusFailed,
		"expired":     retrieval.StatusFailed,
		"cancelled":   retrieval.StatusFailed,
		"queued":      retrieval.StatusCreating,
	}
	for wire, want := range cases {
		backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/vector_stores/vs_123", r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": wire})
		})
		got, err := backend.VectorStoreStatus(context.Background(), "vs_123")
		require.NoError(t, err, "wire status %q", wire)
		assert.Equal(t, want, got, "wire status %q", wire)
	}
}

func TestFetchContainerFile(t *testing.T) {
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/containers/cont_1/files/cfile_9/content", r.URL.Path)
		_, _ = w.Write([]byte("artifact"))
	})

	rc, err := backend.FetchContainerFile(context.Background(), "cont_1", "cfile_9")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "artifact", string(data))
}

func TestFetchFileNon200(t *testing.T) {
	backend := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	_, err := backend.FetchFile(context.Background(), "file_gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
