package login

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var errNoPasswdEntry = errors.New("login: no passwd entry")

// passwdEntry is one line of the passwd database.
type passwdEntry struct {
	Name  string
	UID   int
	GID   int
	Home  string
	Shell string
}

// lookupPasswd scans the passwd file for a username.
func lookupPasswd(path, name string) (*passwdEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Split(sc.Text(), ":")
		if len(fields) < 7 || fields[0] != name {
			continue
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		gid, err := strconv.Atoi(fields[3])
		if err != nil {
			continue
		}
		return &passwdEntry{
			Name:  fields[0],
			UID:   uid,
			GID:   gid,
			Home:  fields[5],
			Shell: fields[6],
		}, nil
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return nil, errNoPasswdEntry
}

// supplementaryGroups collects the GIDs of every group listing the user
// as a member, plus the primary group. The initgroups equivalent.
func supplementaryGroups(path, user string, primary int) []int {
	gids := []int{primary}

	f, err := os.Open(path)
	if err != nil {
		return gids
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Split(sc.Text(), ":")
		if len(fields) < 4 {
			continue
		}
		gid, err := strconv.Atoi(fields[2])
		if err != nil || gid == primary {
			continue
		}
		for _, member := range strings.Split(fields[3], ",") {
			if strings.TrimSpace(member) == user {
				gids = append(gids, gid)
				break
			}
		}
	}
	return gids
}

// ValidUsername enforces the login name grammar: 1-32 characters, first
// in [A-Za-z_], rest in [A-Za-z0-9_-].
func ValidUsername(name string) bool {
	if len(name) == 0 || len(name) > 32 {
		return false
	}
	first := name[0]
	if !(first >= 'a' && first <= 'z' || first >= 'A' && first <= 'Z' || first == '_') {
		return false
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		ok := c >= 'a' && c <= 'z' ||
			c >= 'A' && c <= 'Z' ||
			c >= '0' && c <= '9' ||
			c == '_' || c == '-'
		if !ok {
			return false
		}
	}
	return true
}
