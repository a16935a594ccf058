// Package archive reads the tar archives the package manager consumes:
// repository databases (gzip tar) and package payloads (gzip or zstd tar).
// Compression is auto-detected from the stream's magic bytes.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Reader iterates the entries of a possibly-compressed tar archive.
type Reader struct {
	tr      *tar.Reader
	file    *os.File
	decoder io.Closer // gzip reader or zstd wrapper, nil for plain tar
}

// Open opens the archive at path, sniffing gzip, zstd, or plain tar.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("archive %s: %w", path, err)
	}

	r := &Reader{file: f}
	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("archive %s: %w", path, err)
		}
		r.decoder = gz
		r.tr = tar.NewReader(gz)
	case bytes.HasPrefix(magic, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("archive %s: %w", path, err)
		}
		r.decoder = closerFunc(func() error { zr.Close(); return nil })
		r.tr = tar.NewReader(zr)
	default:
		r.tr = tar.NewReader(br)
	}
	return r, nil
}

// Next advances to the next entry. io.EOF marks the end of the archive.
func (r *Reader) Next() (*tar.Header, error) {
	return r.tr.Next()
}

// Read reads the current entry's data.
func (r *Reader) Read(p []byte) (int, error) {
	return r.tr.Read(p)
}

// Close releases the decompressor and the underlying file.
func (r *Reader) Close() error {
	if r.decoder != nil {
		r.decoder.Close()
	}
	return r.file.Close()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// WriteEntry materializes the current entry under root, preserving mode
// and modification time. data is the Reader positioned at the entry.
func WriteEntry(root string, hdr *tar.Header, data io.Reader) error {
	target := filepath.Join(root, hdr.Name)

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, hdr.FileInfo().Mode().Perm()); err != nil {
			return fmt.Errorf("archive: mkdir %s: %w", target, err)
		}
	case tar.TypeSymlink:
		os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return fmt.Errorf("archive: symlink %s: %w", target, err)
		}
		return nil // symlink mtime/mode are not adjustable portably
	case tar.TypeLink:
		os.Remove(target)
		if err := os.Link(filepath.Join(root, hdr.Linkname), target); err != nil {
			return fmt.Errorf("archive: hardlink %s: %w", target, err)
		}
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("archive: mkdir %s: %w", filepath.Dir(target), err)
		}
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
		if err != nil {
			return fmt.Errorf("archive: create %s: %w", target, err)
		}
		if _, err := io.Copy(f, data); err != nil {
			f.Close()
			return fmt.Errorf("archive: write %s: %w", target, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("archive: close %s: %w", target, err)
		}
	default:
		// Character/block devices and FIFOs do not occur in package
		// payloads; skip anything unexpected.
		return nil
	}

	if !hdr.ModTime.IsZero() {
		os.Chtimes(target, hdr.ModTime, hdr.ModTime)
	}
	return nil
}

// ExtractAll unpacks every entry of the archive at path under dest.
func ExtractAll(path, dest string) error {
	r, err := Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		hdr, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive %s: %w", path, err)
		}
		if err := WriteEntry(dest, hdr, r); err != nil {
			return err
		}
	}
}
