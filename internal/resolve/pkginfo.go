package resolve

import (
	"fmt"
	"io"
	"strings"

	"github.com/LinkNavi/galactica/internal/archive"
	"github.com/LinkNavi/galactica/internal/repo"
)

// PKGInfoDeps enumerates the archive at path until it finds the .PKGINFO
// metadata entry and returns that file's depend list with version
// constraints stripped. Package archives put .PKGINFO first, so this
// normally touches only the opening blocks of the file.
func PKGInfoDeps(path string) ([]string, error) {
	r, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	for {
		hdr, err := r.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("resolve: no .PKGINFO in %s", path)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve: %w", err)
		}
		if hdr.Name != ".PKGINFO" {
			continue
		}

		content, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("resolve: %w", err)
		}
		return parsePKGInfo(string(content)), nil
	}
}

// parsePKGInfo extracts "depend = NAME[<op>VER]" lines.
func parsePKGInfo(content string) []string {
	var deps []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "depend = ") {
			continue
		}
		dep := repo.StripConstraint(strings.TrimPrefix(line, "depend = "))
		if dep != "" {
			deps = append(deps, dep)
		}
	}
	return deps
}
