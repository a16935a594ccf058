// Package install materializes resolved packages onto the filesystem and
// takes them off again. Binary packages extract to the filesystem root and
// leave a manifest behind; source packages build in a scratch tree and own
// their installed paths.
package install

import (
	"errors"
	"fmt"

	"github.com/LinkNavi/galactica/internal/catalog"
	"github.com/LinkNavi/galactica/internal/config"
	"github.com/LinkNavi/galactica/internal/fetch"
	"github.com/LinkNavi/galactica/internal/logging"
	"github.com/LinkNavi/galactica/internal/modules"
	"go.uber.org/zap"
)

var (
	// ErrNotFound reports a name absent from the catalog.
	ErrNotFound = errors.New("install: package not found")
	// ErrNotInstalled reports a removal target absent from the registry.
	ErrNotInstalled = errors.New("install: package not installed")
)

// Manager owns install and remove flows over the catalog, registry, and
// manifest store.
type Manager struct {
	cat       *catalog.Catalog
	reg       *catalog.Registry
	manifests *catalog.ManifestStore
	host      *modules.Host
	cfg       config.PkgConfig
	dirs      config.Dirs
	fetcher   *fetch.Client
	log       *logging.Logger

	// root is the filesystem root binary packages extract under. "/" in
	// production; tests point it at a scratch directory.
	root string
}

// NewManager creates a Manager extracting under root.
func NewManager(cat *catalog.Catalog, reg *catalog.Registry, manifests *catalog.ManifestStore, host *modules.Host, cfg config.PkgConfig, dirs config.Dirs, fetcher *fetch.Client, log *logging.Logger, root string) *Manager {
	if root == "" {
		root = "/"
	}
	return &Manager{
		cat: cat, reg: reg, manifests: manifests, host: host,
		cfg: cfg, dirs: dirs, fetcher: fetcher, log: log, root: root,
	}
}

// InstallOrder installs the resolved order strictly in sequence. The
// first failure aborts; later packages are not attempted.
func (m *Manager) InstallOrder(order []string, forceBinary bool) error {
	for _, name := range order {
		if err := m.InstallOne(name, forceBinary); err != nil {
			return fmt.Errorf("install %s: %w", name, err)
		}
	}
	return nil
}

// InstallOne installs a single already-resolved package. Source-sourced
// packages build from source unless forceBinary is set. Installing an
// already-installed package warns and succeeds without side effects.
func (m *Manager) InstallOne(name string, forceBinary bool) error {
	if m.reg.Has(name) {
		m.log.Warn("already installed", zap.String("package", name))
		return nil
	}

	p, ok := m.cat.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if p.Source == catalog.SourceGalactica && !forceBinary {
		return m.installSource(p)
	}
	return m.installBinary(p)
}

// Dependents returns the transitive set of installed packages whose
// dependency lists (per the catalog) reach target. Used by cascading
// removal.
func (m *Manager) Dependents(target string) []string {
	direct := make(map[string][]string) // dep -> installed packages needing it
	for _, e := range m.reg.List() {
		p, ok := m.cat.Get(e.Name)
		if !ok {
			continue
		}
		for _, dep := range p.Dependencies {
			direct[dep] = append(direct[dep], e.Name)
		}
	}

	seen := make(map[string]bool)
	var out []string
	queue := []string{target}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dependent := range direct[cur] {
			if seen[dependent] || dependent == target {
				continue
			}
			seen[dependent] = true
			out = append(out, dependent)
			queue = append(queue, dependent)
		}
	}
	return out
}

// Orphans returns installed packages no other installed package depends
// on. Auto-remove candidates.
func (m *Manager) Orphans() []string {
	needed := make(map[string]bool)
	for _, e := range m.reg.List() {
		p, ok := m.cat.Get(e.Name)
		if !ok {
			continue
		}
		for _, dep := range p.Dependencies {
			needed[dep] = true
		}
	}

	var out []string
	for _, e := range m.reg.List() {
		if !needed[e.Name] {
			out = append(out, e.Name)
		}
	}
	return out
}
