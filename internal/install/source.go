package install

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/LinkNavi/galactica/internal/catalog"
	"github.com/go-git/go-git/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrMissingTool reports a build tool absent from PATH. Raised before any
// build step runs.
var ErrMissingTool = errors.New("install: required build tool not found")

// installSource fetches the package's source, builds it with either the
// descriptor's script or an autodetected build system, and registers the
// package. Source builds own their installed paths; no manifest is kept.
func (m *Manager) installSource(p *catalog.Package) error {
	buildID := uuid.NewString()[:8]
	log := m.log.With(zap.String("package", p.Name), zap.String("build", buildID))
	log.Info("installing from source", zap.String("version", p.Version))

	buildPath := filepath.Join(m.dirs.Build, p.Name)
	if err := os.RemoveAll(buildPath); err != nil {
		return fmt.Errorf("build dir: %w", err)
	}
	if err := os.MkdirAll(buildPath, 0o755); err != nil {
		return fmt.Errorf("build dir: %w", err)
	}

	if p.URL != "" {
		if err := m.fetchSource(p, buildPath); err != nil {
			return err
		}
	}

	if p.BuildScript != "" {
		if err := m.runBuildScript(p, buildPath); err != nil {
			return err
		}
	} else {
		if err := m.autoBuild(p, buildPath); err != nil {
			return err
		}
	}

	m.reg.Add(p.Name, p.Version, catalog.SourceGalactica)
	if err := m.reg.Flush(); err != nil {
		return err
	}
	log.Info("installed from source")
	return nil
}

// fetchSource materializes the package source under buildPath: a shallow
// git clone for .git URLs, otherwise a download that is unpacked in place
// when it looks like a tarball.
func (m *Manager) fetchSource(p *catalog.Package, buildPath string) error {
	if strings.HasSuffix(p.URL, ".git") {
		m.log.Info("cloning source", zap.String("url", p.URL))
		_, err := git.PlainClone(filepath.Join(buildPath, p.Name), false, &git.CloneOptions{
			URL:   p.URL,
			Depth: 1,
		})
		if err != nil {
			return fmt.Errorf("clone %s: %w", p.URL, err)
		}
		return nil
	}

	srcFile := p.Name + ".tar.gz"
	if i := strings.LastIndex(p.URL, "/"); i >= 0 && i < len(p.URL)-1 {
		srcFile = p.URL[i+1:]
	}
	dest := filepath.Join(buildPath, srcFile)

	m.log.Info("downloading source", zap.String("url", p.URL))
	if err := m.fetcher.GetFile(p.URL, dest); err != nil {
		return err
	}

	if strings.Contains(srcFile, ".tar") || strings.Contains(srcFile, ".tgz") {
		if err := runShell(buildPath, "tar -xf "+shellQuote(srcFile)); err != nil {
			return fmt.Errorf("extract source: %w", err)
		}
	}
	return nil
}

// runBuildScript writes the descriptor's script to build.sh with a set -e
// prologue and runs it with the shell.
func (m *Manager) runBuildScript(p *catalog.Package, buildPath string) error {
	script := "#!/bin/sh\nset -e\n\n" + p.BuildScript + "\n"
	scriptPath := filepath.Join(buildPath, "build.sh")
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		return fmt.Errorf("build script: %w", err)
	}
	if err := runShell(buildPath, "sh build.sh"); err != nil {
		return fmt.Errorf("build script: %w", err)
	}
	return nil
}

// autoBuild detects the build system in the (possibly nested) source root
// and drives it: configure, cmake, meson, or a bare Makefile. Missing
// tools fail before any step runs.
func (m *Manager) autoBuild(p *catalog.Package, buildPath string) error {
	srcDir := sourceRoot(buildPath)

	flag := func(key, fallback string) string {
		if v, ok := p.BuildFlags[key]; ok && v != "" {
			return v
		}
		return fallback
	}
	configureFlags := flag("configure_flags", "--prefix=/usr")
	makeFlags := flag("make_flags", "-j$(nproc)")
	installTarget := flag("install_target", "install")

	switch {
	case fileExists(filepath.Join(srcDir, "configure")):
		if err := requireTools("sh", "make"); err != nil {
			return err
		}
		for _, cmd := range []string{
			"./configure " + configureFlags,
			"make " + makeFlags,
			"make " + installTarget,
		} {
			if err := runShell(srcDir, cmd); err != nil {
				return err
			}
		}

	case fileExists(filepath.Join(srcDir, "CMakeLists.txt")):
		if err := requireTools("cmake", "make"); err != nil {
			return err
		}
		outDir := filepath.Join(srcDir, "build")
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("cmake build dir: %w", err)
		}
		for _, cmd := range []string{
			"cmake -DCMAKE_INSTALL_PREFIX=/usr ..",
			"make " + makeFlags,
			"make " + installTarget,
		} {
			if err := runShell(outDir, cmd); err != nil {
				return err
			}
		}

	case fileExists(filepath.Join(srcDir, "meson.build")):
		if err := requireTools("meson", "ninja"); err != nil {
			return err
		}
		for _, cmd := range []string{
			"meson setup build --prefix=/usr",
			"ninja -C build",
			"ninja -C build install",
		} {
			if err := runShell(srcDir, cmd); err != nil {
				return err
			}
		}

	case fileExists(filepath.Join(srcDir, "Makefile")) || fileExists(filepath.Join(srcDir, "makefile")):
		if err := requireTools("make"); err != nil {
			return err
		}
		for _, cmd := range []string{
			"make " + makeFlags,
			"make " + installTarget,
		} {
			if err := runShell(srcDir, cmd); err != nil {
				return err
			}
		}

	default:
		m.log.Warn("no build system detected, nothing to build",
			zap.String("dir", srcDir))
	}
	return nil
}

// sourceRoot returns the first subdirectory of buildPath in name order when
// there is one, else buildPath itself. Tarballs usually nest their tree
// one level down.
func sourceRoot(buildPath string) string {
	entries, err := os.ReadDir(buildPath)
	if err != nil {
		return buildPath
	}
	for _, e := range entries {
		if e.IsDir() {
			return filepath.Join(buildPath, e.Name())
		}
	}
	return buildPath
}

// requireTools verifies each command is on PATH before the build starts.
func requireTools(tools ...string) error {
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingTool, tool)
		}
	}
	return nil
}

// runShell runs one command line through the shell in dir, inheriting
// stdout/stderr so build output reaches the user.
func runShell(dir, command string) error {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %q: %w", command, err)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
