package config

import (
	"fmt"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all userland configuration.
type Config struct {
	Init    InitConfig
	Pkg     PkgConfig
	Logging LogConfig
}

// InitConfig holds supervisor configuration.
type InitConfig struct {
	ServicesDir  string `envconfig:"AIRRIDE_SERVICES_DIR" default:"/etc/airride/services"`
	SocketPath   string `envconfig:"AIRRIDE_SOCKET" default:"/run/airride.sock"`
	LogDir       string `envconfig:"AIRRIDE_LOG_DIR" default:"/var/log/airride"`
	HostnameFile string `envconfig:"AIRRIDE_HOSTNAME_FILE" default:"/etc/hostname"`
	RestartCap   int    `envconfig:"AIRRIDE_RESTART_CAP" default:"10"`
}

// PkgConfig holds package manager configuration.
type PkgConfig struct {
	RepoBaseURL string   `envconfig:"DREAMLAND_REPO_URL" default:"https://raw.githubusercontent.com/LinkNavi/GalacticaRepository/main/"`
	Mirrors     []string `envconfig:"DREAMLAND_MIRRORS" default:"https://mirror.rackspace.com/archlinux,https://mirrors.kernel.org/archlinux,https://geo.mirror.pkgbuild.com"`
	Repos       []string `envconfig:"DREAMLAND_REPOS" default:"core,extra"`
	Arch        string   `envconfig:"DREAMLAND_ARCH" default:"x86_64"`
	TLSVerify   bool     `envconfig:"DREAMLAND_TLS_VERIFY" default:"true"`
	AskConfirm  bool     `envconfig:"DREAMLAND_CONFIRM" default:"true"`
}

// LogConfig holds logging configuration. LOG_LEVEL=debug covers what
// DREAMLAND_DEBUG=1 used to enable.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Init: InitConfig{
			ServicesDir:  "/etc/airride/services",
			SocketPath:   "/run/airride.sock",
			LogDir:       "/var/log/airride",
			HostnameFile: "/etc/hostname",
			RestartCap:   10,
		},
		Pkg: PkgConfig{
			RepoBaseURL: "https://raw.githubusercontent.com/LinkNavi/GalacticaRepository/main/",
			Mirrors: []string{
				"https://mirror.rackspace.com/archlinux",
				"https://mirrors.kernel.org/archlinux",
				"https://geo.mirror.pkgbuild.com",
			},
			Repos:      []string{"core", "extra"},
			Arch:       "x86_64",
			TLSVerify:  true,
			AskConfirm: true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Dirs is the set of per-user directories the package manager owns. Cache
// contents are disposable; Data holds the installed registry and manifests.
type Dirs struct {
	Cache     string // downloads, build trees, extracted repo databases
	Build     string
	PkgCache  string
	DBCache   string
	Data      string
	Installed string // installed registry file
	Catalog   string // synced package catalog file
	Index     string // raw source-repo INDEX copy
	Manifests string
	Modules   []string // module search path, system first
}

// DefaultDirs derives the package manager directory set from the XDG
// base-directory specification.
func DefaultDirs() Dirs {
	cache := filepath.Join(xdg.CacheHome, "dreamland")
	data := filepath.Join(xdg.DataHome, "dreamland")
	return DirsAt(cache, data)
}

// DirsAt builds the directory set rooted at explicit cache and data
// directories. Tests use this to stay inside a temp dir.
func DirsAt(cache, data string) Dirs {
	return Dirs{
		Cache:     cache,
		Build:     filepath.Join(cache, "build"),
		PkgCache:  filepath.Join(cache, "packages"),
		DBCache:   filepath.Join(cache, "db"),
		Data:      data,
		Installed: filepath.Join(data, "installed.db"),
		Catalog:   filepath.Join(data, "packages.db"),
		Index:     filepath.Join(cache, "package_index.txt"),
		Manifests: filepath.Join(data, "manifests"),
		Modules: []string{
			"/usr/local/share/dreamland/modules",
			filepath.Join(data, "modules"),
		},
	}
}
