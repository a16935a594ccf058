// Package repo syncs the two package repositories into the local catalog:
// the Galactica source repository (an INDEX of build descriptors) and the
// Arch-style binary mirrors (compressed per-repo databases).
package repo

import (
	"fmt"
	"os"
	"strings"

	"github.com/LinkNavi/galactica/internal/catalog"
	"github.com/LinkNavi/galactica/internal/config"
	"github.com/LinkNavi/galactica/internal/fetch"
	"github.com/LinkNavi/galactica/internal/logging"
	"go.uber.org/zap"
)

// Syncer fetches repository metadata and fills a catalog.
type Syncer struct {
	cfg     config.PkgConfig
	dirs    config.Dirs
	fetcher *fetch.Client
	log     *logging.Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(cfg config.PkgConfig, dirs config.Dirs, fetcher *fetch.Client, log *logging.Logger) *Syncer {
	return &Syncer{cfg: cfg, dirs: dirs, fetcher: fetcher, log: log}
}

// FetchIndex downloads the source repository INDEX and returns the listed
// descriptor paths. Comment lines and blanks are skipped. The raw index is
// kept on disk for debugging.
func (s *Syncer) FetchIndex() ([]string, error) {
	content, err := s.fetcher.GetString(s.cfg.RepoBaseURL + "INDEX")
	if err != nil {
		return nil, fmt.Errorf("source index: %w", err)
	}
	if err := os.WriteFile(s.dirs.Index, []byte(content), 0o644); err != nil {
		s.log.Warn("could not save index copy", zap.Error(err))
	}

	var paths []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	return paths, nil
}

// FetchDescriptor downloads and parses one source-package descriptor.
func (s *Syncer) FetchDescriptor(path string) (*catalog.Package, error) {
	content, err := s.fetcher.GetString(s.cfg.RepoBaseURL + path)
	if err != nil {
		return nil, err
	}
	return ParseDescriptor(content)
}

// SyncGalactica loads every descriptor the INDEX lists into cat. Individual
// descriptor failures are logged and skipped; only a missing INDEX fails
// the source side of the sync.
func (s *Syncer) SyncGalactica(cat *catalog.Catalog) (int, error) {
	paths, err := s.FetchIndex()
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, p := range paths {
		pkg, err := s.FetchDescriptor(p)
		if err != nil {
			s.log.Debug("descriptor skipped", zap.String("path", p), zap.Error(err))
			continue
		}
		if cat.Add(pkg) {
			loaded++
		}
	}
	s.log.Info("source repository synced", zap.Int("packages", loaded))
	return loaded, nil
}

// ParseDescriptor parses a source-package descriptor. Sections: [Package]
// scalars, [Dependencies] whitespace-separated depends, [Build] free-form
// flags, [Script] raw body lines accumulated in file order (equals signs
// inside the script are not key=value pairs).
func ParseDescriptor(content string) (*catalog.Package, error) {
	p := &catalog.Package{
		Source:     catalog.SourceGalactica,
		BuildFlags: make(map[string]string),
	}

	var script []string
	section := ""
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if section == "Script" {
			switch line {
			case "[Package]", "[Dependencies]", "[Build]", "[Script]":
			default:
				script = append(script, strings.TrimRight(raw, "\r"))
				continue
			}
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line[1 : len(line)-1]
			continue
		}

		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
			value = value[1 : len(value)-1]
		}

		switch section {
		case "Package":
			switch key {
			case "name":
				p.Name = value
			case "version":
				p.Version = value
			case "description":
				p.Description = value
			case "url":
				p.URL = value
			case "category":
				p.Category = value
			}
		case "Dependencies":
			if key == "depends" {
				p.Dependencies = append(p.Dependencies, strings.Fields(value)...)
			}
		case "Build":
			p.BuildFlags[key] = value
		}
	}
	p.BuildScript = strings.Trim(strings.Join(script, "\n"), "\n")

	if p.Name == "" || p.Version == "" {
		return nil, fmt.Errorf("descriptor missing name or version")
	}
	return p, nil
}
