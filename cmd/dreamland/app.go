package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/LinkNavi/galactica/internal/catalog"
	"github.com/LinkNavi/galactica/internal/config"
	"github.com/LinkNavi/galactica/internal/fetch"
	"github.com/LinkNavi/galactica/internal/install"
	"github.com/LinkNavi/galactica/internal/logging"
	"github.com/LinkNavi/galactica/internal/modules"
	"github.com/LinkNavi/galactica/internal/repo"
	"github.com/LinkNavi/galactica/internal/resolve"
)

// app wires the package manager's components for one CLI invocation.
type app struct {
	cfg       *config.Config
	dirs      config.Dirs
	log       *logging.Logger
	fetcher   *fetch.Client
	host      *modules.Host
	cat       *catalog.Catalog
	reg       *catalog.Registry
	manifests *catalog.ManifestStore

	noConfirm   bool
	forceBinary bool
}

func newApp() (*app, error) {
	cfg := config.LoadOrDefault()
	dirs := config.DefaultDirs()

	for _, dir := range []string{dirs.Cache, dirs.Build, dirs.PkgCache, dirs.DBCache, dirs.Data, dirs.Manifests} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("dreamland: %w", err)
		}
	}
	// Best effort; the user modules directory may be the only writable one.
	os.MkdirAll(dirs.Modules[len(dirs.Modules)-1], 0o755)

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: true, // interactive CLI: console encoding
	})
	if err != nil {
		logger = logging.NewDefault()
	}

	fetcher := fetch.New(fetch.Options{
		TLSVerify: cfg.Pkg.TLSVerify,
		Logger:    logger,
	})

	host := modules.NewHost(dirs.Modules, logger)
	host.LoadAll()

	return &app{
		cfg:       cfg,
		dirs:      dirs,
		log:       logger,
		fetcher:   fetcher,
		host:      host,
		manifests: catalog.NewManifestStore(dirs.Manifests),
	}, nil
}

// load pulls the persisted catalog and installed registry into memory.
func (a *app) load() error {
	cat, err := catalog.LoadCatalog(a.dirs.Catalog)
	if err != nil {
		return err
	}
	reg, err := catalog.LoadRegistry(a.dirs.Installed)
	if err != nil {
		return err
	}
	a.cat, a.reg = cat, reg
	return nil
}

func (a *app) manager() *install.Manager {
	return install.NewManager(a.cat, a.reg, a.manifests, a.host,
		a.cfg.Pkg, a.dirs, a.fetcher, a.log, "/")
}

func (a *app) resolver() *resolve.Resolver {
	return resolve.New(a.cat, a.reg, a.cfg.Pkg, a.dirs, a.fetcher, a.log)
}

// sync refreshes the catalog from both repositories. The binary side is
// all-or-nothing: if no mirror serves every repo, the previous catalog
// file survives untouched.
func (a *app) sync() error {
	banner()

	if err := a.load(); err != nil {
		return err
	}

	status("Clearing repository cache...")
	os.RemoveAll(a.dirs.DBCache)
	os.MkdirAll(a.dirs.DBCache, 0o755)

	fresh := catalog.NewCatalog(a.dirs.Catalog)
	syncer := repo.NewSyncer(a.cfg.Pkg, a.dirs, a.fetcher, a.log)

	status("Fetching Galactica index...")
	if n, err := syncer.SyncGalactica(fresh); err != nil {
		warn(fmt.Sprintf("Source repository unavailable: %v", err))
	} else {
		ok(fmt.Sprintf("%d Galactica packages", n))
	}

	status("Syncing binary repositories...")
	if err := syncer.SyncBinary(fresh); err != nil {
		fail("Failed to sync from all mirrors")
		return err
	}

	if err := fresh.Save(); err != nil {
		return err
	}
	a.cat = fresh

	ok("Sync complete")
	fmt.Printf("  %d packages available\n", len(fresh.Packages))
	fmt.Printf("  %d modules loaded\n", len(a.host.List()))
	return nil
}

func (a *app) search(q string) error {
	if err := a.load(); err != nil {
		return err
	}
	for _, p := range a.cat.Search(q) {
		marker := ""
		if a.reg.Has(p.Name) {
			marker = colGreen + " [installed]" + colReset
		}
		fmt.Printf("%s%s%s %s%s\n", colPink, p.Name, colReset, p.Version, marker)
	}
	return nil
}

func (a *app) install(name string) error {
	if err := a.load(); err != nil {
		return err
	}
	if a.reg.Has(name) {
		warn(name + " already installed")
		return nil
	}
	if _, found := a.cat.Get(name); !found {
		fail("Not found: " + name)
		return fmt.Errorf("package %s not found", name)
	}

	status("Resolving dependencies for " + name + "...")
	res := a.resolver()
	order, err := res.Resolve(name)
	if err != nil {
		fail("Dependency resolution failed: " + err.Error())
		return err
	}
	if len(order) == 0 {
		fail("Dependency resolution failed")
		return fmt.Errorf("empty install order for %s", name)
	}

	fmt.Printf("\n%sPackages to install (%d):%s\n", colCyan, len(order), colReset)
	for _, n := range order {
		if p, found := a.cat.Get(n); found {
			fmt.Printf("  %s %s%s%s\n", n, colYellow, p.Version, colReset)
		}
	}
	fmt.Printf("\n%sTotal download size:%s %s\n", colCyan, colReset,
		humanSize(res.DownloadSize(order)))

	if !a.confirm("\nProceed with installation? [Y/n]: ") {
		fmt.Println("Installation cancelled.")
		return nil
	}

	fmt.Println()
	if err := a.manager().InstallOrder(order, a.forceBinary); err != nil {
		fail(err.Error())
		return err
	}
	ok(fmt.Sprintf("Successfully installed %s with %d package(s)", name, len(order)))
	return nil
}

func (a *app) remove(name string, cascade bool) error {
	if err := a.load(); err != nil {
		return err
	}
	mgr := a.manager()

	targets := []string{name}
	if cascade {
		dependents := mgr.Dependents(name)
		if len(dependents) > 0 {
			fmt.Printf("%sPackages depending on %s (%d):%s\n",
				colCyan, name, len(dependents), colReset)
			for _, d := range dependents {
				fmt.Println("  " + d)
			}
			if !a.confirm("\nRemove them as well? [y/N]: ") {
				fmt.Println("Removal cancelled.")
				return nil
			}
			targets = append(dependents, name)
		}
	}

	for _, t := range targets {
		status("Uninstalling: " + t)
		if err := mgr.Remove(t); err != nil {
			fail(err.Error())
			return err
		}
		ok("Uninstalled: " + t)
	}
	return nil
}

func (a *app) autoRemove() error {
	if err := a.load(); err != nil {
		return err
	}
	mgr := a.manager()

	orphans := mgr.Orphans()
	if len(orphans) == 0 {
		ok("Nothing to remove")
		return nil
	}
	fmt.Printf("%sOrphaned packages (%d):%s\n", colCyan, len(orphans), colReset)
	for _, o := range orphans {
		fmt.Println("  " + o)
	}
	if !a.confirm("\nRemove them? [y/N]: ") {
		fmt.Println("Removal cancelled.")
		return nil
	}
	for _, o := range orphans {
		if err := mgr.Remove(o); err != nil {
			fail(err.Error())
			return err
		}
		ok("Uninstalled: " + o)
	}
	return nil
}

func (a *app) listInstalled() error {
	banner()
	if err := a.load(); err != nil {
		return err
	}
	if a.reg.Len() == 0 {
		warn("Nothing installed")
		return nil
	}
	for _, e := range a.reg.List() {
		var tag string
		switch e.Source {
		case catalog.SourceModule:
			tag = colPink + "[module]" + colReset
		case catalog.SourceGalactica:
			tag = colCyan + "[source]" + colReset
		default:
			tag = colYellow + "[binary]" + colReset
		}
		fmt.Printf("  %s %s %s\n", e.Name, e.Version, tag)
	}
	return nil
}

func (a *app) listModules() {
	banner()
	loaded := a.host.List()
	fmt.Printf("Modules (%d):\n\n", len(loaded))
	if len(loaded) == 0 {
		fmt.Println("  None. Install: dreamland install module-<name>")
		return
	}
	for _, m := range loaded {
		fmt.Printf("%s  %s%s v%s\n", colPink, m.Info.Name, colReset, m.Info.Version)
		fmt.Printf("    %s\n", m.Info.Description)
		for _, c := range m.Commands {
			fmt.Printf("      %s%s%s - %s\n", colCyan, c.Name, colReset, c.Description)
		}
		fmt.Println()
	}
}

func (a *app) usage(prog string) {
	banner()
	fmt.Printf("Usage: %s <command> [args]\n\n", prog)
	fmt.Println("Core:")
	fmt.Println("  sync              Sync repositories")
	fmt.Println("  install <pkg>     Install a package (--binary forces binary)")
	fmt.Println("  uninstall <pkg>   Uninstall a package (--cascade removes dependents)")
	fmt.Println("  autoremove        Remove packages nothing depends on")
	fmt.Println("  search <q>        Search packages")
	fmt.Println("  list              List installed packages")
	fmt.Println("  modules           List loaded modules")

	loaded := a.host.List()
	if len(loaded) == 0 {
		return
	}
	fmt.Println("\nModule commands:")
	for _, m := range loaded {
		for _, c := range m.Commands {
			fmt.Printf("  %-17s %s [%s]\n", c.Name, c.Description, m.Info.Name)
		}
	}
}

// confirm asks the user unless confirmation is suppressed.
func (a *app) confirm(prompt string) bool {
	if a.noConfirm || !a.cfg.Pkg.AskConfirm {
		return true
	}
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.TrimSpace(line)
	if strings.Contains(prompt, "[Y/n]") {
		return line == "" || strings.HasPrefix(strings.ToLower(line), "y")
	}
	return strings.HasPrefix(strings.ToLower(line), "y")
}
