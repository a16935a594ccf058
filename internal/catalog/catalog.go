package catalog

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Catalog is the local view of both repositories, keyed by package name.
// It persists as a pipe-delimited line file read back by every later
// invocation, so everything the resolver and installers consume must
// survive the round trip: dependency lists ride along comma-joined, and
// build scripts/flags (which may contain any byte) are base64-wrapped.
// Pipes inside descriptions are flattened on save so columns never shift.
type Catalog struct {
	path     string
	Packages map[string]*Package
}

// NewCatalog creates an empty catalog persisting to path.
func NewCatalog(path string) *Catalog {
	return &Catalog{path: path, Packages: make(map[string]*Package)}
}

// LoadCatalog reads the catalog file at path. A missing file yields an
// empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	c := NewCatalog(path)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("catalog: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		switch fields[0] {
		case "ARCH":
			if len(fields) < 9 {
				continue
			}
			size, _ := strconv.ParseUint(fields[5], 10, 64)
			c.Packages[fields[1]] = &Package{
				Name:         fields[1],
				Version:      fields[2],
				Repo:         fields[3],
				Filename:     fields[4],
				Size:         size,
				Description:  fields[6],
				DepsResolved: fields[7] == "1",
				Dependencies: decodeDeps(fields[8]),
				Source:       SourceArch,
			}
		case "GALACTICA":
			if len(fields) < 9 {
				continue
			}
			c.Packages[fields[1]] = &Package{
				Name:         fields[1],
				Version:      fields[2],
				URL:          fields[3],
				Category:     fields[4],
				Description:  fields[5],
				Dependencies: decodeDeps(fields[6]),
				BuildFlags:   decodeFlags(fields[7]),
				BuildScript:  decodeBlob(fields[8]),
				Source:       SourceGalactica,
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return c, nil
}

// Save writes the catalog atomically (write-then-rename).
func (c *Catalog) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, name := range c.sortedNames() {
		p := c.Packages[name]
		desc := strings.ReplaceAll(p.Description, "|", " ")
		switch p.Source {
		case SourceArch:
			resolved := "0"
			if p.DepsResolved {
				resolved = "1"
			}
			fmt.Fprintf(w, "ARCH|%s|%s|%s|%s|%d|%s|%s|%s\n",
				p.Name, p.Version, p.Repo, p.Filename, p.Size, desc,
				resolved, encodeDeps(p.Dependencies))
		case SourceGalactica:
			fmt.Fprintf(w, "GALACTICA|%s|%s|%s|%s|%s|%s|%s|%s\n",
				p.Name, p.Version, p.URL, p.Category, desc,
				encodeDeps(p.Dependencies), encodeFlags(p.BuildFlags),
				encodeBlob(p.BuildScript))
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("catalog: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("catalog: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// Add inserts p unless a package of the same name already exists. The
// first repository to claim a name wins, matching repo precedence order.
func (c *Catalog) Add(p *Package) bool {
	if _, ok := c.Packages[p.Name]; ok {
		return false
	}
	c.Packages[p.Name] = p
	return true
}

// Get looks up a package by name.
func (c *Catalog) Get(name string) (*Package, bool) {
	p, ok := c.Packages[name]
	return p, ok
}

// Search returns packages whose name or description contains q, sorted by
// name.
func (c *Catalog) Search(q string) []*Package {
	var out []*Package
	for _, name := range c.sortedNames() {
		p := c.Packages[name]
		if strings.Contains(p.Name, q) || strings.Contains(p.Description, q) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Catalog) sortedNames() []string {
	names := make([]string, 0, len(c.Packages))
	for n := range c.Packages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// encodeDeps flattens a dependency list onto one column. Tokens come from
// whitespace-split descriptor fields and repo databases, so the comma and
// pipe never occur in them; strip both anyway so a hostile repo cannot
// shift columns.
func encodeDeps(deps []string) string {
	if len(deps) == 0 {
		return ""
	}
	clean := make([]string, 0, len(deps))
	for _, d := range deps {
		d = strings.ReplaceAll(d, "|", "")
		d = strings.ReplaceAll(d, ",", "")
		if d != "" {
			clean = append(clean, d)
		}
	}
	return strings.Join(clean, ",")
}

func decodeDeps(s string) []string {
	if s == "" {
		return nil
	}
	var deps []string
	for _, d := range strings.Split(s, ",") {
		if d != "" {
			deps = append(deps, d)
		}
	}
	return deps
}

// encodeFlags wraps the build-flag map as base64 JSON: flag values carry
// arbitrary shell text that no delimiter survives raw.
func encodeFlags(flags map[string]string) string {
	if len(flags) == 0 {
		return ""
	}
	data, err := json.Marshal(flags)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

func decodeFlags(s string) map[string]string {
	if s == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	var flags map[string]string
	if json.Unmarshal(data, &flags) != nil {
		return nil
	}
	return flags
}

// encodeBlob base64-wraps free multi-line text (the build script body).
func encodeBlob(s string) string {
	if s == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func decodeBlob(s string) string {
	if s == "" {
		return ""
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ""
	}
	return string(data)
}
