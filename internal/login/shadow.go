// Package login implements the poyo TTY login gate: terminal acquisition,
// shadow-database authentication, session accounting, privilege drop, and
// the exec of the user's login shell.
package login

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/GehirnInc/crypt"
	"golang.org/x/crypto/bcrypt"

	// Hash schemes the shadow database may carry.
	_ "github.com/GehirnInc/crypt/md5_crypt"
	_ "github.com/GehirnInc/crypt/sha256_crypt"
	_ "github.com/GehirnInc/crypt/sha512_crypt"
)

// failDelay is the fixed cost of every authentication failure path. It
// flattens timing differences between unknown users, locked accounts, and
// wrong passwords.
const failDelay = 3 * time.Second

var errNoShadowEntry = errors.New("login: no shadow entry")

// shadowEntry is one line of the shadow database.
type shadowEntry struct {
	Name string
	Hash string
}

// lookupShadow scans the shadow file for a username.
func lookupShadow(path, name string) (*shadowEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Split(sc.Text(), ":")
		if len(fields) < 2 || fields[0] != name {
			continue
		}
		return &shadowEntry{Name: fields[0], Hash: fields[1]}, nil
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return nil, errNoShadowEntry
}

// Authenticator verifies credentials against the shadow database and
// reports every outcome to the auth log.
type Authenticator struct {
	ShadowPath string
	Delay      time.Duration // fixed failure delay, failDelay by default
	Log        AuthLogger
	TTYName    string
}

// AuthLogger receives authentication outcomes. Production wires the
// syslog auth facility; tests substitute a recorder.
type AuthLogger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

func (a *Authenticator) delay() {
	d := a.Delay
	if d == 0 {
		d = failDelay
	}
	time.Sleep(d)
}

// Authenticate checks password for user. The hash prefix encodes account
// policy: "*" disabled, "!!" never set, "!" locked, empty admits any
// password (documented policy for installer-created accounts; flag it in
// deployment docs). The plaintext buffer is zeroed before returning on
// every path.
func (a *Authenticator) Authenticate(user string, password []byte) bool {
	defer zero(password)

	entry, err := lookupShadow(a.ShadowPath, user)
	if err != nil {
		a.Log.Warnf("user not found: %s on %s", user, a.TTYName)
		a.delay()
		return false
	}

	hash := entry.Hash
	switch {
	case strings.HasPrefix(hash, "*"):
		a.Log.Warnf("account disabled: %s on %s", user, a.TTYName)
		a.delay()
		return false
	case strings.HasPrefix(hash, "!!"):
		a.Log.Warnf("password never set: %s on %s", user, a.TTYName)
		a.delay()
		return false
	case strings.HasPrefix(hash, "!"):
		a.Log.Warnf("account locked: %s on %s", user, a.TTYName)
		a.delay()
		return false
	case hash == "":
		a.Log.Infof("empty password login: %s on %s", user, a.TTYName)
		return true
	}

	if !verifyHash(hash, password) {
		a.Log.Warnf("failed login attempt: %s on %s", user, a.TTYName)
		a.delay()
		return false
	}

	a.Log.Infof("successful login: %s on %s", user, a.TTYName)
	return true
}

// verifyHash dispatches on the hash scheme. bcrypt hashes verify through
// x/crypto; the crypt(3) family ($1$, $5$, $6$) through its registered
// schemes. Both comparisons are constant time.
func verifyHash(hash string, password []byte) bool {
	if strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(hash), password) == nil
	}

	if !crypt.IsHashSupported(hash) {
		return false
	}
	return crypt.NewFromHash(hash).Verify(hash, password) == nil
}

// zero overwrites a sensitive buffer.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
