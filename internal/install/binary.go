package install

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/LinkNavi/galactica/internal/archive"
	"github.com/LinkNavi/galactica/internal/catalog"
	"go.uber.org/zap"
)

// installBinary downloads (or reuses) the package archive, extracts it to
// the filesystem root recording a manifest of regular files, and registers
// the package.
func (m *Manager) installBinary(p *catalog.Package) error {
	m.log.Info("installing binary package",
		zap.String("package", p.Name), zap.String("version", p.Version))

	cached := filepath.Join(m.dirs.PkgCache, p.Filename)
	if err := m.ensureArchive(p, cached); err != nil {
		return err
	}

	files, err := m.extractToRoot(cached)
	if err != nil {
		return err
	}

	if err := m.manifests.Save(p.Name, files); err != nil {
		return err
	}

	m.reg.Add(p.Name, p.Version, catalog.SourceArch)
	if err := m.reg.Flush(); err != nil {
		return err
	}

	m.log.Info("installed", zap.String("package", p.Name),
		zap.Int("files", len(files)))
	return nil
}

// ensureArchive guarantees the package file exists in the cache, trying
// each mirror in order. The first 200 response with a nonzero body wins.
func (m *Manager) ensureArchive(p *catalog.Package, cached string) error {
	if fi, err := os.Stat(cached); err == nil && fi.Size() > 0 {
		return nil
	}
	for _, mirror := range m.cfg.Mirrors {
		url := fmt.Sprintf("%s/%s/os/%s/%s", mirror, p.Repo, m.cfg.Arch, p.Filename)
		if err := m.fetcher.GetFile(url, cached); err != nil {
			m.log.Debug("mirror miss",
				zap.String("mirror", mirror), zap.Error(err))
			continue
		}
		return nil
	}
	return fmt.Errorf("no mirror served %s", p.Filename)
}

// extractToRoot unpacks the archive under the manager's root. Entries
// whose path starts with "." are package metadata (.PKGINFO, .MTREE,
// .BUILDINFO, .INSTALL) and are skipped. Regular files are recorded as
// absolute paths in extraction order.
func (m *Manager) extractToRoot(path string) ([]string, error) {
	r, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var files []string
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", path, err)
		}
		if strings.HasPrefix(hdr.Name, ".") {
			continue
		}
		if err := archive.WriteEntry(m.root, hdr, r); err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeReg {
			files = append(files, "/"+strings.TrimPrefix(hdr.Name, "/"))
		}
	}
	return files, nil
}
