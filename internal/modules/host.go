package modules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"

	"github.com/LinkNavi/galactica/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Suffix is the platform shared-object suffix modules are discovered by.
const Suffix = ".so"

var (
	// ErrAPIVersion reports a module built against a different ABI.
	ErrAPIVersion = errors.New("modules: API version mismatch")
	// ErrInitFailed reports a module whose init entry point returned
	// nonzero.
	ErrInitFailed = errors.New("modules: module init failed")
)

// Loaded is one successfully loaded module.
type Loaded struct {
	Path     string
	Info     *Info
	Commands []Command
	cleanup  CleanupFunc
	handle   *plugin.Plugin
}

// Host discovers and loads modules from an ordered search path (system
// directories first, then user), and dispatches their commands.
type Host struct {
	searchPaths []string
	loaded      map[string]*Loaded // by module name
	order       []string           // load order, for deterministic cleanup
	dispatch    map[string]Command // first-writer-wins
	log         *logging.Logger
}

// NewHost creates a Host scanning the given directories in order.
func NewHost(searchPaths []string, log *logging.Logger) *Host {
	return &Host{
		searchPaths: searchPaths,
		loaded:      make(map[string]*Loaded),
		dispatch:    make(map[string]Command),
		log:         log,
	}
}

// InstallDir returns the first writable search path, falling back to the
// last (user) entry. New modules are installed there.
func (h *Host) InstallDir() string {
	if len(h.searchPaths) == 0 {
		return ""
	}
	for _, dir := range h.searchPaths {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			if unix.Access(dir, unix.W_OK) == nil {
				return dir
			}
		}
	}
	return h.searchPaths[len(h.searchPaths)-1]
}

// LoadAll scans every search directory and loads each shared object found.
// A module name already loaded from an earlier directory shadows later
// ones. Individual load failures are logged and skipped.
func (h *Host) LoadAll() {
	seen := make(map[string]bool)
	for _, dir := range h.searchPaths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), Suffix) {
				continue
			}
			stem := strings.TrimSuffix(e.Name(), Suffix)
			if seen[stem] {
				continue
			}
			seen[stem] = true
			if err := h.Load(filepath.Join(dir, e.Name())); err != nil {
				h.log.Warn("module rejected",
					zap.String("path", e.Name()), zap.Error(err))
			}
		}
	}
}

// Load opens one module shared object, validates its ABI, runs its init
// entry point, and registers its commands. Go plugin handles cannot be
// unloaded once opened; rejection drops every reference instead.
func (h *Host) Load(path string) error {
	p, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("modules: %w", err)
	}

	infoSym, err := p.Lookup("ModuleInfo")
	if err != nil {
		return fmt.Errorf("modules: %s: no ModuleInfo symbol", filepath.Base(path))
	}
	infoFn, ok := symbolValue[InfoFunc](infoSym)
	if !ok {
		return fmt.Errorf("modules: %s: ModuleInfo has wrong type", filepath.Base(path))
	}
	info := infoFn()
	if info == nil || info.APIVersion != APIVersion {
		return fmt.Errorf("%w: %s", ErrAPIVersion, filepath.Base(path))
	}

	if initSym, err := p.Lookup("ModuleInit"); err == nil {
		if initFn, ok := symbolValue[InitFunc](initSym); ok {
			if rc := initFn(); rc != 0 {
				return fmt.Errorf("%w: %s returned %d", ErrInitFailed, info.Name, rc)
			}
		}
	}

	m := &Loaded{Path: path, Info: info, handle: p}
	if cmdSym, err := p.Lookup("ModuleCommands"); err == nil {
		if cmdFn, ok := symbolValue[CommandsFunc](cmdSym); ok {
			m.Commands = cmdFn()
		}
	}
	if cleanSym, err := p.Lookup("ModuleCleanup"); err == nil {
		if cleanFn, ok := symbolValue[CleanupFunc](cleanSym); ok {
			m.cleanup = cleanFn
		}
	}

	h.register(m)
	h.log.Debug("module loaded",
		zap.String("name", info.Name), zap.String("version", info.Version))
	return nil
}

// register adds a validated module to the host's tables. Command name
// collisions resolve first-writer-wins.
func (h *Host) register(m *Loaded) {
	h.loaded[m.Info.Name] = m
	h.order = append(h.order, m.Info.Name)
	for _, c := range m.Commands {
		if _, taken := h.dispatch[c.Name]; !taken {
			h.dispatch[c.Name] = c
		}
	}
}

// Lookup finds a registered module command by verb.
func (h *Host) Lookup(verb string) (Command, bool) {
	c, ok := h.dispatch[verb]
	return c, ok
}

// Run dispatches a module command. args excludes the verb itself.
func (h *Host) Run(verb string, args []string) (int, bool) {
	c, ok := h.dispatch[verb]
	if !ok {
		return 0, false
	}
	return c.Handler(args), true
}

// Get returns the loaded module by name.
func (h *Host) Get(name string) (*Loaded, bool) {
	m, ok := h.loaded[name]
	return m, ok
}

// List returns loaded modules in load order.
func (h *Host) List() []*Loaded {
	out := make([]*Loaded, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, h.loaded[name])
	}
	return out
}

// Unload runs a module's cleanup and drops it from dispatch. Used when a
// module package is removed; the shared object itself stays mapped until
// process exit (Go plugins cannot be closed).
func (h *Host) Unload(name string) {
	m, ok := h.loaded[name]
	if !ok {
		return
	}
	if m.cleanup != nil {
		m.cleanup()
	}
	delete(h.loaded, name)
	for i, n := range h.order {
		if n == name {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	for verb, c := range h.dispatch {
		owned := false
		for _, mc := range m.Commands {
			if mc.Name == verb && sameHandler(c, mc) {
				owned = true
				break
			}
		}
		if owned {
			delete(h.dispatch, verb)
		}
	}
}

// Close runs every remaining module's cleanup in load order.
func (h *Host) Close() {
	for _, name := range h.order {
		if m := h.loaded[name]; m != nil && m.cleanup != nil {
			m.cleanup()
		}
	}
	h.loaded = make(map[string]*Loaded)
	h.order = nil
	h.dispatch = make(map[string]Command)
}

// symbolValue coerces a plugin symbol that may be exported either as the
// function itself or as a variable of function type.
func symbolValue[T any](sym plugin.Symbol) (T, bool) {
	if v, ok := sym.(T); ok {
		return v, true
	}
	if pv, ok := sym.(*T); ok {
		return *pv, true
	}
	var zero T
	return zero, false
}

func sameHandler(a, b Command) bool {
	return a.Name == b.Name && a.Description == b.Description && a.Usage == b.Usage
}
