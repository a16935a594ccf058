package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "installed.db")

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	reg.Add("vim", "9.1.0-1", SourceArch)
	reg.Add("hello", "2.12", SourceGalactica)
	reg.Add("workspace", "1.0", SourceModule)
	require.NoError(t, reg.Flush())

	loaded, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, reg.List(), loaded.List())

	e, found := loaded.Get("vim")
	require.True(t, found)
	assert.Equal(t, "9.1.0-1", e.Version)
	assert.Equal(t, SourceArch, e.Source)
}

func TestRegistryMissingFileIsEmpty(t *testing.T) {
	reg, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.db"))
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "installed.db")
	reg, _ := LoadRegistry(path)
	reg.Add("vim", "9.1.0-1", SourceArch)
	reg.Remove("vim")
	require.NoError(t, reg.Flush())

	loaded, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.False(t, loaded.Has("vim"))
}

func TestCatalogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packages.db")

	c := NewCatalog(path)
	c.Add(&Package{
		Name:         "ncurses",
		Version:      "6.4-1",
		Repo:         "core",
		Filename:     "ncurses-6.4-1-x86_64.pkg.tar.zst",
		Size:         1234567,
		Description:  "System V terminal handling",
		Source:       SourceArch,
		DepsResolved: true,
		Dependencies: []string{"glibc", "gcc-libs"},
	})
	c.Add(&Package{
		Name:         "hello",
		Version:      "2.12",
		URL:          "https://ftp.gnu.org/gnu/hello/hello-2.12.tar.gz",
		Category:     "base",
		Description:  "GNU greeting program",
		Source:       SourceGalactica,
		Dependencies: []string{"glibc", "ncurses"},
		BuildFlags: map[string]string{
			"configure_flags": "--prefix=/usr --disable-nls",
			"make_flags":      "-j4",
			"install_target":  "install-strip",
		},
		BuildScript: "./configure --prefix=/usr\nVAR=a|b make\nmake install",
	})
	require.NoError(t, c.Save())

	loaded, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, loaded.Packages, 2)

	ncurses, found := loaded.Get("ncurses")
	require.True(t, found)
	assert.Equal(t, uint64(1234567), ncurses.Size)
	assert.True(t, ncurses.DepsResolved)
	assert.Equal(t, "core", ncurses.Repo)
	assert.Equal(t, []string{"glibc", "gcc-libs"}, ncurses.Dependencies,
		"binary dependency lists survive the round trip")

	hello, found := loaded.Get("hello")
	require.True(t, found)
	assert.Equal(t, SourceGalactica, hello.Source)
	assert.Equal(t, "base", hello.Category)
	assert.Equal(t, []string{"glibc", "ncurses"}, hello.Dependencies,
		"source dependency lists survive the round trip")
	assert.Equal(t, "--prefix=/usr --disable-nls", hello.BuildFlags["configure_flags"])
	assert.Equal(t, "-j4", hello.BuildFlags["make_flags"])
	assert.Equal(t, "install-strip", hello.BuildFlags["install_target"])
	assert.Equal(t,
		"./configure --prefix=/usr\nVAR=a|b make\nmake install",
		hello.BuildScript,
		"multi-line scripts with pipes survive the round trip")
}

func TestCatalogRoundTripEmptyOptionals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packages.db")

	c := NewCatalog(path)
	c.Add(&Package{Name: "zlib", Version: "1.3-1", Source: SourceArch})
	c.Add(&Package{Name: "tiny", Version: "0.1", Source: SourceGalactica})
	require.NoError(t, c.Save())

	loaded, err := LoadCatalog(path)
	require.NoError(t, err)

	zlib, _ := loaded.Get("zlib")
	assert.Empty(t, zlib.Dependencies)

	tiny, _ := loaded.Get("tiny")
	assert.Empty(t, tiny.Dependencies)
	assert.Empty(t, tiny.BuildFlags)
	assert.Empty(t, tiny.BuildScript)
}

func TestCatalogFirstWriterWins(t *testing.T) {
	c := NewCatalog(filepath.Join(t.TempDir(), "packages.db"))
	assert.True(t, c.Add(&Package{Name: "zlib", Version: "1", Source: SourceArch}))
	assert.False(t, c.Add(&Package{Name: "zlib", Version: "2", Source: SourceArch}))

	p, _ := c.Get("zlib")
	assert.Equal(t, "1", p.Version)
}

func TestCatalogSearch(t *testing.T) {
	c := NewCatalog(filepath.Join(t.TempDir(), "packages.db"))
	c.Add(&Package{Name: "vim", Description: "Vi Improved", Source: SourceArch})
	c.Add(&Package{Name: "emacs", Description: "An editor", Source: SourceArch})

	assert.Len(t, c.Search("vim"), 1)
	assert.Len(t, c.Search("editor"), 1)
	assert.Len(t, c.Search("zzz"), 0)
}

func TestSourceTags(t *testing.T) {
	for _, tc := range []struct {
		src Source
		tag string
	}{
		{SourceArch, "arch"},
		{SourceGalactica, "galactica"},
		{SourceModule, "module"},
	} {
		assert.Equal(t, tc.tag, tc.src.Tag())
		assert.Equal(t, tc.src, SourceFromTag(tc.tag))
	}
}

func TestManifestStore(t *testing.T) {
	store := NewManifestStore(filepath.Join(t.TempDir(), "manifests"))

	paths := []string{"/usr/bin/vim", "/usr/share/vim/syntax.vim", "/usr/bin/vimdiff"}
	require.NoError(t, store.Save("vim", paths))
	require.True(t, store.Exists("vim"))

	loaded, err := store.Load("vim")
	require.NoError(t, err)
	assert.Equal(t, paths, loaded, "manifest order is extraction order")

	require.NoError(t, store.Delete("vim"))
	assert.False(t, store.Exists("vim"))
	require.NoError(t, store.Delete("vim"), "deleting an absent manifest is fine")
}

func TestManifestStoreLoadMissing(t *testing.T) {
	store := NewManifestStore(t.TempDir())
	_, err := store.Load("ghost")
	assert.Error(t, err)
}
