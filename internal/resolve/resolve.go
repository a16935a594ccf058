// Package resolve computes topological install orders over the two-source
// package graph. Dependencies come from the authoritative package metadata
// when it can be fetched (.PKGINFO inside the binary archive) and from the
// repo summary otherwise; source packages carry deps in their descriptors.
package resolve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/LinkNavi/galactica/internal/catalog"
	"github.com/LinkNavi/galactica/internal/config"
	"github.com/LinkNavi/galactica/internal/fetch"
	"github.com/LinkNavi/galactica/internal/logging"
	"github.com/LinkNavi/galactica/internal/repo"
	"go.uber.org/zap"
)

// ErrCycle reports a dependency cycle. Resolution aborts with an empty
// order; nothing is installed.
var ErrCycle = errors.New("resolve: dependency cycle")

// Resolver walks the dependency graph depth-first with temporary marks.
type Resolver struct {
	cat     *catalog.Catalog
	reg     *catalog.Registry
	cfg     config.PkgConfig
	dirs    config.Dirs
	fetcher *fetch.Client
	log     *logging.Logger
}

// New creates a Resolver over the given catalog and installed registry.
func New(cat *catalog.Catalog, reg *catalog.Registry, cfg config.PkgConfig, dirs config.Dirs, fetcher *fetch.Client, log *logging.Logger) *Resolver {
	return &Resolver{cat: cat, reg: reg, cfg: cfg, dirs: dirs, fetcher: fetcher, log: log}
}

// Resolve returns the install order for root: every dependency precedes
// its dependents, already-installed packages are omitted, and each name
// appears at most once. A cycle aborts the whole resolution.
func (r *Resolver) Resolve(root string) ([]string, error) {
	var order []string
	perm := make(map[string]bool)
	temp := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if r.reg.Has(name) || perm[name] {
			return nil
		}
		if temp[name] {
			return fmt.Errorf("%w through %s", ErrCycle, name)
		}

		if _, ok := r.cat.Get(name); !ok {
			// Virtual provides and split packages land here; the repo
			// summary names things the catalog cannot always map.
			r.log.Warn("dependency not in catalog", zap.String("name", name))
			return nil
		}

		temp[name] = true
		for _, dep := range r.depsFor(name) {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(temp, name)
		perm[name] = true
		order = append(order, name)
		return nil
	}

	if err := visit(root); err != nil {
		return nil, err
	}
	return order, nil
}

// depsFor returns the normalized dependency names of a package, promoting
// a binary package's dependency list to its authoritative .PKGINFO
// contents on first use.
func (r *Resolver) depsFor(name string) []string {
	p, ok := r.cat.Get(name)
	if !ok {
		return nil
	}

	if p.Source == catalog.SourceArch && !p.DepsResolved {
		r.resolveBinaryDeps(p)
	}

	deps := make([]string, 0, len(p.Dependencies))
	for _, dep := range p.Dependencies {
		dep = repo.StripConstraint(dep)
		if dep == "" {
			continue
		}
		deps = append(deps, MapSharedObject(r.cat, dep))
	}
	return deps
}

// resolveBinaryDeps downloads the package archive into the cache and reads
// the depend entries out of its .PKGINFO. When no mirror serves the file,
// the repo-summary dependency list stands, a warning is logged, and the
// in-memory package is marked resolved all the same.
func (r *Resolver) resolveBinaryDeps(p *catalog.Package) {
	cached := filepath.Join(r.dirs.PkgCache, p.Filename)

	downloaded := fileExists(cached)
	if !downloaded {
		for _, mirror := range r.cfg.Mirrors {
			url := fmt.Sprintf("%s/%s/os/%s/%s", mirror, p.Repo, r.cfg.Arch, p.Filename)
			if err := r.fetcher.GetFile(url, cached); err != nil {
				r.log.Debug("mirror miss for dep metadata",
					zap.String("package", p.Name), zap.Error(err))
				continue
			}
			downloaded = true
			break
		}
	}

	if !downloaded {
		r.log.Warn("using repo-summary dependencies",
			zap.String("package", p.Name))
		p.DepsResolved = true
		return
	}

	deps, err := PKGInfoDeps(cached)
	if err != nil {
		r.log.Warn("could not read package metadata",
			zap.String("package", p.Name), zap.Error(err))
		p.DepsResolved = true
		return
	}
	p.Dependencies = deps
	p.DepsResolved = true
}

// DownloadSize sums the known binary sizes across an install order.
func (r *Resolver) DownloadSize(order []string) uint64 {
	var total uint64
	for _, name := range order {
		if p, ok := r.cat.Get(name); ok {
			total += p.Size
		}
	}
	return total
}

// MapSharedObject maps a bare .so dependency token to a package name:
// exact catalog match first, then the name with a leading "lib" dropped.
// Unmappable tokens pass through unchanged.
func MapSharedObject(cat *catalog.Catalog, dep string) string {
	i := strings.Index(dep, ".so")
	if i < 0 {
		return dep
	}
	base := dep[:i]
	if _, ok := cat.Get(base); ok {
		return base
	}
	if strings.HasPrefix(base, "lib") {
		if _, ok := cat.Get(base[3:]); ok {
			return base[3:]
		}
	}
	return dep
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Size() > 0
}
