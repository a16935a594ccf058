package fetch

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/LinkNavi/galactica/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient() *Client {
	return New(Options{TLSVerify: true, Logger: logging.NewDefault()})
}

func TestGetString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello index"))
	}))
	defer srv.Close()

	body, err := newClient().GetString(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello index", body)
}

func TestGetStringNon200(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newClient().GetString(srv.URL + "/missing")
	assert.Error(t, err)
}

func TestGetFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload bytes"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "nested", "dir", "file.bin")
	require.NoError(t, newClient().GetFile(srv.URL, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload bytes", string(data))
}

func TestGetFileReusesCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "cached.bin")
	require.NoError(t, os.WriteFile(path, []byte("already here"), 0o644))

	require.NoError(t, newClient().GetFile(srv.URL, path))
	assert.Equal(t, int32(0), hits.Load(), "cached files are not refetched")

	data, _ := os.ReadFile(path)
	assert.Equal(t, "already here", string(data))
}

func TestGetFileRejectsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "empty.bin")
	err := newClient().GetFile(srv.URL, path)
	require.ErrorIs(t, err, ErrEmptyBody)
	assert.NoFileExists(t, path, "partial file removed")
}

func TestGetFileNon200LeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "missing.bin")
	err := newClient().GetFile(srv.URL+"/gone", path)
	require.Error(t, err)
	assert.NoFileExists(t, path)
}
