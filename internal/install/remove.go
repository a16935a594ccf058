package install

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/LinkNavi/galactica/internal/catalog"
	"go.uber.org/zap"
)

// Remove uninstalls a package the registry knows about, routing on its
// source-tag: binary packages unwind their manifest, modules unload and
// delete their shared object, source packages only leave the registry.
func (m *Manager) Remove(name string) error {
	e, ok := m.reg.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}

	m.log.Info("removing", zap.String("package", name),
		zap.String("source", e.Source.Tag()))

	switch e.Source {
	case catalog.SourceModule:
		m.removeModule(name)
	case catalog.SourceArch:
		if m.manifests.Exists(name) {
			if err := m.removeManifest(name); err != nil {
				return err
			}
		} else {
			m.log.Warn("no manifest, removing registry entry only",
				zap.String("package", name))
		}
	case catalog.SourceGalactica:
		// Source builds own their installed paths; nothing tracked to
		// unwind.
	}

	m.reg.Remove(name)
	return m.reg.Flush()
}

// removeManifest unlinks every path the manifest lists, files before
// their directories (reverse lexicographic order), tolerating paths that
// are already gone, then deletes the manifest itself.
func (m *Manager) removeManifest(name string) error {
	paths, err := m.manifests.Load(name)
	if err != nil {
		return err
	}

	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	removed := 0
	for _, p := range paths {
		target := filepath.Join(m.root, p)
		if err := os.Remove(target); err == nil {
			removed++
		} else if !os.IsNotExist(err) {
			m.log.Debug("could not remove file",
				zap.String("path", target), zap.Error(err))
		}
	}
	m.log.Info("files removed", zap.String("package", name),
		zap.Int("count", removed))

	return m.manifests.Delete(name)
}

// removeModule unloads the module from the host (running its cleanup) and
// unlinks the shared object from the modules directory.
func (m *Manager) removeModule(name string) {
	if m.host == nil {
		return
	}
	path := filepath.Join(m.host.InstallDir(), name+".so")
	if mod, ok := m.host.Get(name); ok {
		path = mod.Path
	}
	m.host.Unload(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.log.Warn("could not unlink module object",
			zap.String("path", path), zap.Error(err))
	}
}
