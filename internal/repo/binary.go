package repo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/LinkNavi/galactica/internal/archive"
	"github.com/LinkNavi/galactica/internal/catalog"
	"go.uber.org/zap"
)

// SyncBinary downloads and parses each configured binary repo database,
// trying mirrors in order. A mirror counts as good only when every repo
// fetched and parsed; on total failure the catalog is left untouched so a
// stale-but-usable view survives.
func (s *Syncer) SyncBinary(cat *catalog.Catalog) error {
	for _, mirror := range s.cfg.Mirrors {
		pkgs, err := s.syncFromMirror(mirror)
		if err != nil {
			s.log.Warn("mirror failed, trying next",
				zap.String("mirror", mirror), zap.Error(err))
			continue
		}
		added := 0
		for _, p := range pkgs {
			if cat.Add(p) {
				added++
			}
		}
		s.log.Info("binary repositories synced",
			zap.String("mirror", mirror), zap.Int("packages", added))
		return nil
	}
	return fmt.Errorf("binary sync: no mirror served all repos %v", s.cfg.Repos)
}

// syncFromMirror fetches every configured repo database from one mirror.
// Any failure abandons the mirror entirely.
func (s *Syncer) syncFromMirror(mirror string) ([]*catalog.Package, error) {
	var all []*catalog.Package
	for _, repoName := range s.cfg.Repos {
		url := fmt.Sprintf("%s/%s/os/%s/%s.db", mirror, repoName, s.cfg.Arch, repoName)
		dbFile := filepath.Join(s.dirs.DBCache, repoName+".db")

		// Databases change under the same name; never serve a stale copy.
		os.Remove(dbFile)
		if err := s.fetcher.GetFile(url, dbFile); err != nil {
			return nil, err
		}

		pkgs, err := s.parseRepoDB(dbFile, repoName)
		if err != nil {
			return nil, err
		}
		if len(pkgs) == 0 {
			return nil, fmt.Errorf("repo %s: database empty", repoName)
		}
		all = append(all, pkgs...)
	}
	return all, nil
}

// parseRepoDB extracts a repo database (a compressed tar of per-package
// directories) and parses each package's desc and depends files. The
// staging directory is recreated so stale packages vanish.
func (s *Syncer) parseRepoDB(dbFile, repoName string) ([]*catalog.Package, error) {
	stage := filepath.Join(s.dirs.DBCache, repoName)
	if err := os.RemoveAll(stage); err != nil {
		return nil, fmt.Errorf("repo %s: %w", repoName, err)
	}
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return nil, fmt.Errorf("repo %s: %w", repoName, err)
	}
	if err := archive.ExtractAll(dbFile, stage); err != nil {
		return nil, fmt.Errorf("repo %s: %w", repoName, err)
	}

	entries, err := os.ReadDir(stage)
	if err != nil {
		return nil, fmt.Errorf("repo %s: %w", repoName, err)
	}

	var pkgs []*catalog.Package
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(stage, e.Name())
		p, err := parsePackageDir(dir, repoName)
		if err != nil {
			s.log.Debug("package entry skipped",
				zap.String("dir", e.Name()), zap.Error(err))
			continue
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, nil
}

// parsePackageDir reads one package's desc (NAME, VERSION, DESC, FILENAME,
// CSIZE) and optional depends (DEPENDS) files.
func parsePackageDir(dir, repoName string) (*catalog.Package, error) {
	descFile, err := os.Open(filepath.Join(dir, "desc"))
	if err != nil {
		return nil, err
	}
	defer descFile.Close()

	p := &catalog.Package{Source: catalog.SourceArch, Repo: repoName}
	sections, err := readSections(descFile)
	if err != nil {
		return nil, err
	}
	for sec, values := range sections {
		if len(values) == 0 {
			continue
		}
		switch sec {
		case "NAME":
			p.Name = values[0]
		case "VERSION":
			p.Version = values[0]
		case "DESC":
			p.Description = values[0]
		case "FILENAME":
			p.Filename = values[0]
		case "CSIZE":
			p.Size, _ = strconv.ParseUint(values[0], 10, 64)
		}
	}
	if p.Name == "" {
		return nil, fmt.Errorf("desc missing NAME")
	}

	if depFile, err := os.Open(filepath.Join(dir, "depends")); err == nil {
		defer depFile.Close()
		depSections, err := readSections(depFile)
		if err == nil {
			for _, dep := range depSections["DEPENDS"] {
				p.Dependencies = append(p.Dependencies, StripConstraint(dep))
			}
		}
	}
	return p, nil
}

// readSections parses the %SECTION% line format used throughout the
// binary repo databases: a header line, then one value per line until the
// next header. Blank lines are skipped.
func readSections(r io.Reader) (map[string][]string, error) {
	out := make(map[string][]string)
	section := ""
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "%") && strings.HasSuffix(line, "%") {
			section = line[1 : len(line)-1]
			continue
		}
		if section != "" {
			out[section] = append(out[section], line)
		}
	}
	return out, sc.Err()
}

// StripConstraint removes a trailing version constraint (>=, <=, =, <, >)
// from a dependency token, yielding the bare package name.
func StripConstraint(dep string) string {
	if i := strings.IndexAny(dep, "><="); i >= 0 {
		dep = dep[:i]
	}
	return strings.TrimSpace(dep)
}
