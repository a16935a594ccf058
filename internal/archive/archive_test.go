package archive

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name string
	body string
	mode int64
	dir  bool
}

func buildTar(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: e.mode, ModTime: mtime}
		if e.dir {
			hdr.Typeflag = tar.TypeDir
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !e.dir {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(data)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func zstded(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeArchive(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestOpenDetectsCompression(t *testing.T) {
	plain := buildTar(t, []entry{{name: "a.txt", body: "hello", mode: 0o644}})

	for name, data := range map[string][]byte{
		"plain": plain,
		"gzip":  gzipped(t, plain),
		"zstd":  zstded(t, plain),
	} {
		t.Run(name, func(t *testing.T) {
			r, err := Open(writeArchive(t, data))
			require.NoError(t, err)
			defer r.Close()

			hdr, err := r.Next()
			require.NoError(t, err)
			assert.Equal(t, "a.txt", hdr.Name)

			body, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "hello", string(body))

			_, err = r.Next()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestExtractAllPreservesModeAndTime(t *testing.T) {
	data := gzipped(t, buildTar(t, []entry{
		{name: "usr/", dir: true, mode: 0o755},
		{name: "usr/bin/", dir: true, mode: 0o755},
		{name: "usr/bin/hello", body: "#!/bin/sh\necho hi\n", mode: 0o755},
		{name: "usr/share/doc/README", body: "docs", mode: 0o644},
	}))

	dest := t.TempDir()
	require.NoError(t, ExtractAll(writeArchive(t, data), dest))

	bin := filepath.Join(dest, "usr/bin/hello")
	fi, err := os.Stat(bin)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), fi.Mode().Perm())
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), fi.ModTime().UTC())

	// Parent dirs are created even when the tar omits them.
	doc, err := os.ReadFile(filepath.Join(dest, "usr/share/doc/README"))
	require.NoError(t, err)
	assert.Equal(t, "docs", string(doc))
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.tar"))
	assert.Error(t, err)
}
