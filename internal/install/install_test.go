package install

import (
	"archive/tar"
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/LinkNavi/galactica/internal/catalog"
	"github.com/LinkNavi/galactica/internal/config"
	"github.com/LinkNavi/galactica/internal/fetch"
	"github.com/LinkNavi/galactica/internal/logging"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pkgArchive builds a zstd tar shaped like a binary package: metadata
// entries first, then the payload tree.
func pkgArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)

	meta := map[string]string{
		".PKGINFO": "pkgname = test\n",
		".MTREE":   "#mtree\n",
	}
	for name, body := range meta {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body)),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(body)),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fixture struct {
	mgr     *Manager
	cat     *catalog.Catalog
	reg     *catalog.Registry
	man     *catalog.ManifestStore
	root    string
	dirs    config.Dirs
	cfg     config.PkgConfig
	log     *logging.Logger
	fetcher *fetch.Client
}

func newFixture(t *testing.T, mirror string) *fixture {
	t.Helper()
	dirs := config.DirsAt(t.TempDir(), t.TempDir())
	for _, d := range []string{dirs.PkgCache, dirs.Build, dirs.Manifests, dirs.Data} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}

	cat := catalog.NewCatalog(dirs.Catalog)
	reg, err := catalog.LoadRegistry(dirs.Installed)
	require.NoError(t, err)
	man := catalog.NewManifestStore(dirs.Manifests)
	log := logging.NewDefault()
	cfg := config.PkgConfig{Mirrors: []string{mirror}, Arch: "x86_64"}
	fetcher := fetch.New(fetch.Options{Logger: log})
	root := t.TempDir()

	mgr := NewManager(cat, reg, man, nil, cfg, dirs, fetcher, log, root)
	return &fixture{
		mgr: mgr, cat: cat, reg: reg, man: man, root: root,
		dirs: dirs, cfg: cfg, log: log, fetcher: fetcher,
	}
}

// reload round-trips the catalog through disk and rebuilds the manager
// over the reloaded copy, the way each dreamland invocation starts.
func (fx *fixture) reload(t *testing.T) {
	t.Helper()
	require.NoError(t, fx.cat.Save())
	cat, err := catalog.LoadCatalog(fx.dirs.Catalog)
	require.NoError(t, err)
	fx.cat = cat
	fx.mgr = NewManager(cat, fx.reg, fx.man, nil, fx.cfg, fx.dirs,
		fx.fetcher, fx.log, fx.root)
}

func TestBinaryInstallAndRemove(t *testing.T) {
	data := pkgArchive(t, map[string]string{
		"usr/bin/vim":             "elf",
		"usr/share/vim/syntax.vi": "syn",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/extra/os/x86_64/vim-9.1-1-x86_64.pkg.tar.zst" {
			w.Write(data)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL)
	fx.cat.Add(&catalog.Package{
		Name: "vim", Version: "9.1-1", Source: catalog.SourceArch,
		Repo: "extra", Filename: "vim-9.1-1-x86_64.pkg.tar.zst",
	})

	require.NoError(t, fx.mgr.InstallOne("vim", false))

	// Payload extracted; metadata entries skipped.
	assert.FileExists(t, filepath.Join(fx.root, "usr/bin/vim"))
	assert.NoFileExists(t, filepath.Join(fx.root, ".PKGINFO"))
	assert.NoFileExists(t, filepath.Join(fx.root, ".MTREE"))

	// Manifest holds exactly the regular payload files, absolute.
	paths, err := fx.man.Load("vim")
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"/usr/bin/vim", "/usr/share/vim/syntax.vi"}, paths)

	// Registry entry with the binary source-tag.
	e, found := fx.reg.Get("vim")
	require.True(t, found)
	assert.Equal(t, "9.1-1", e.Version)
	assert.Equal(t, catalog.SourceArch, e.Source)

	// Second install is a warning-level no-op; no re-download needed.
	srv.Close()
	require.NoError(t, fx.mgr.InstallOne("vim", false))

	// Remove unwinds every manifest path and the manifest itself.
	require.NoError(t, fx.mgr.Remove("vim"))
	assert.NoFileExists(t, filepath.Join(fx.root, "usr/bin/vim"))
	assert.NoFileExists(t, filepath.Join(fx.root, "usr/share/vim/syntax.vi"))
	assert.False(t, fx.man.Exists("vim"))
	assert.False(t, fx.reg.Has("vim"))

	// Registry change survived the flush.
	reloaded, err := catalog.LoadRegistry(fx.dirs.Installed)
	require.NoError(t, err)
	assert.False(t, reloaded.Has("vim"))
}

func TestRemoveToleratesMissingFiles(t *testing.T) {
	fx := newFixture(t, "http://unused.invalid")
	fx.reg.Add("ghost", "1.0", catalog.SourceArch)
	require.NoError(t, fx.man.Save("ghost", []string{"/usr/bin/ghost", "/usr/bin/gone"}))
	require.NoError(t, os.MkdirAll(filepath.Join(fx.root, "usr/bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(fx.root, "usr/bin/ghost"), []byte("x"), 0o755))

	require.NoError(t, fx.mgr.Remove("ghost"))
	assert.NoFileExists(t, filepath.Join(fx.root, "usr/bin/ghost"))
	assert.False(t, fx.reg.Has("ghost"))
}

func TestRemoveBinaryWithoutManifest(t *testing.T) {
	fx := newFixture(t, "http://unused.invalid")
	fx.reg.Add("bare", "1.0", catalog.SourceArch)

	require.NoError(t, fx.mgr.Remove("bare"))
	assert.False(t, fx.reg.Has("bare"))
}

func TestRemoveNotInstalled(t *testing.T) {
	fx := newFixture(t, "http://unused.invalid")
	err := fx.mgr.Remove("nothing")
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestInstallOrderAbortsOnFailure(t *testing.T) {
	fx := newFixture(t, "http://unused.invalid")
	fx.cat.Add(&catalog.Package{
		Name: "second", Version: "1.0", Source: catalog.SourceArch,
		Repo: "core", Filename: "second-1.0-x86_64.pkg.tar.zst",
	})

	err := fx.mgr.InstallOrder([]string{"first", "second"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, fx.reg.Has("second"), "later packages are not attempted")
}

func TestDependentsAndOrphans(t *testing.T) {
	fx := newFixture(t, "http://unused.invalid")
	fx.cat.Add(&catalog.Package{
		Name: "libc", Version: "1", Source: catalog.SourceArch,
	})
	fx.cat.Add(&catalog.Package{
		Name: "ncurses", Version: "1", Source: catalog.SourceArch,
		Dependencies: []string{"libc"},
	})
	fx.cat.Add(&catalog.Package{
		Name: "vim", Version: "1", Source: catalog.SourceGalactica,
		Dependencies: []string{"ncurses"},
	})
	fx.reg.Add("libc", "1", catalog.SourceArch)
	fx.reg.Add("ncurses", "1", catalog.SourceArch)
	fx.reg.Add("vim", "1", catalog.SourceGalactica)

	// Cascade and autoremove run in later invocations over the persisted
	// catalog; both sources must keep their dependency edges through it.
	fx.reload(t)

	deps := fx.mgr.Dependents("libc")
	assert.ElementsMatch(t, []string{"ncurses", "vim"}, deps,
		"dependents are transitive")

	orphans := fx.mgr.Orphans()
	assert.Equal(t, []string{"vim"}, orphans,
		"only the top of the chain is orphaned")
}

func TestSourceInstallRunsBuildScript(t *testing.T) {
	fx := newFixture(t, "http://unused.invalid")

	marker := filepath.Join(t.TempDir(), "built")
	fx.cat.Add(&catalog.Package{
		Name: "hello", Version: "1.0", Source: catalog.SourceGalactica,
		BuildScript: "touch " + marker,
		BuildFlags:  map[string]string{"make_flags": "-j2"},
	})

	// Install happens in a later invocation than sync: the script must
	// come out of the persisted catalog, not the in-memory copy.
	fx.reload(t)

	require.NoError(t, fx.mgr.InstallOne("hello", false))
	assert.FileExists(t, marker, "build script survived persistence and ran")

	e, found := fx.reg.Get("hello")
	require.True(t, found)
	assert.Equal(t, catalog.SourceGalactica, e.Source)
	assert.False(t, fx.man.Exists("hello"), "source installs keep no manifest")
}

func TestRequireToolsPreflight(t *testing.T) {
	assert.NoError(t, requireTools("sh"))
	assert.ErrorIs(t, requireTools("definitely-not-a-real-tool-xyz"),
		ErrMissingTool)
}
