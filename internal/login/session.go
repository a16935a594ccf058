package login

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// ErrExhausted reports three failed attempts; the supervisor respawns the
// login service.
var ErrExhausted = errors.New("login: too many failed attempts")

// Paths locates the databases a session touches. Tests point these at
// scratch files.
type Paths struct {
	Shadow string
	Passwd string
	Group  string
	Motd   string
	Utmp   string
	Wtmp   string
}

// DefaultPaths returns the system locations.
func DefaultPaths() Paths {
	return Paths{
		Shadow: "/etc/shadow",
		Passwd: "/etc/passwd",
		Group:  "/etc/group",
		Motd:   "/etc/motd",
		Utmp:   "/run/utmp",
		Wtmp:   "/var/log/wtmp",
	}
}

// Session is one login attempt sequence on a terminal.
type Session struct {
	Paths       Paths
	TTYPath     string // empty: use inherited stdio
	MaxAttempts int
	BaseDelay   time.Duration // progressive failure delay unit

	ttyName  string
	hostname string
	in       *bufio.Reader
	auth     *Authenticator
}

// NewSession creates a session authenticating against the given paths
// and reporting outcomes to authLog.
func NewSession(ttyPath string, paths Paths, authLog AuthLogger) *Session {
	ttyName := TTYName(ttyPath)
	return &Session{
		Paths:       paths,
		TTYPath:     ttyPath,
		MaxAttempts: 3,
		BaseDelay:   3 * time.Second,
		ttyName:     ttyName,
		in:          bufio.NewReader(os.Stdin),
		auth: &Authenticator{
			ShadowPath: paths.Shadow,
			Log:        authLog,
			TTYName:    ttyName,
		},
	}
}

// Setup hardens the process and binds the terminal: core dumps off,
// prompt-breaking signals ignored, root required, TTY acquired when one
// was named on the command line.
func (s *Session) Setup() error {
	unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0})
	signal.Ignore(unix.SIGINT, unix.SIGQUIT, unix.SIGTSTP, unix.SIGHUP)

	if unix.Geteuid() != 0 {
		return errors.New("login: must run as root")
	}

	if s.TTYPath != "" {
		if err := AcquireTTY(s.TTYPath); err != nil {
			return err
		}
		s.in = bufio.NewReader(os.Stdin)
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "galactica"
	}
	s.hostname = host
	return nil
}

// Run drives the login loop: up to MaxAttempts prompts, progressive
// delays between failures, and the shell exec on success (which does not
// return). A closed terminal ends the session cleanly.
func (s *Session) Run() error {
	for attempts := 0; attempts < s.MaxAttempts; {
		s.banner()

		fmt.Printf("%s login: ", s.hostname)
		line, err := s.in.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println()
				return nil // terminal closed
			}
			continue
		}
		username := strings.TrimRight(line, "\r\n")
		if username == "" {
			continue
		}
		if !ValidUsername(username) {
			fmt.Println("Invalid username")
			s.auth.Log.Warnf("invalid username format on %s", s.ttyName)
			time.Sleep(s.BaseDelay)
			attempts++
			continue
		}

		fmt.Print("Password: ")
		password, err := ReadPassword(s.in, 0)
		if err != nil {
			if err == io.EOF {
				fmt.Println()
				return nil
			}
			attempts++
			continue
		}

		if s.auth.Authenticate(username, password) {
			return s.startSession(username)
		}

		fmt.Println("Login incorrect")
		fmt.Println()
		attempts++
		time.Sleep(time.Duration(attempts) * s.BaseDelay)
	}

	fmt.Println("\nToo many failed login attempts.")
	s.auth.Log.Warnf("too many failed login attempts on %s", s.ttyName)
	return ErrExhausted
}

// startSession hands the terminal to the authenticated user: sanitized
// environment, session accounting, home directory, privilege drop with
// mandatory readback verification, motd, then the login shell in place.
func (s *Session) startSession(username string) error {
	pwd, err := lookupPasswd(s.Paths.Passwd, username)
	if err != nil {
		s.auth.Log.Warnf("no passwd entry for authenticated user %s", username)
		return fmt.Errorf("login: %w", err)
	}

	sanitizeEnv(pwd, s.ttyName)

	if err := WriteSessionRecords(s.Paths.Utmp, s.Paths.Wtmp,
		pwd.Name, s.ttyName, os.Getpid(), time.Now()); err != nil {
		// Accounting must not block a login.
		fmt.Fprintf(os.Stderr, "Warning: session accounting failed: %v\n", err)
	}
	s.auth.Log.Infof("session started for %s on %s", pwd.Name, s.ttyName)

	if err := os.Chdir(pwd.Home); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not enter %s\n", pwd.Home)
		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf("login: chdir: %w", err)
		}
	}

	if err := dropPrivileges(s.Paths.Group, pwd); err != nil {
		s.auth.Log.Warnf("privilege drop failed for %s", pwd.Name)
		return err
	}

	s.emitMotd()

	shell := shellFor(pwd)
	argv0 := "-" + filepath.Base(shell)
	if err := unix.Exec(shell, []string{argv0}, os.Environ()); err != nil {
		s.auth.Log.Warnf("could not exec shell %s for %s", shell, pwd.Name)
		return fmt.Errorf("login: exec %s: %w", shell, err)
	}
	return nil // unreachable
}

// dropPrivileges moves the process to the target identity in the only
// safe order (groups, gid, uid) and re-reads every id afterwards. A
// readback mismatch is fatal; a session must never continue with mixed
// credentials.
func dropPrivileges(groupPath string, pwd *passwdEntry) error {
	groups := supplementaryGroups(groupPath, pwd.Name, pwd.GID)
	if err := unix.Setgroups(groups); err != nil {
		return fmt.Errorf("login: setgroups: %w", err)
	}
	if err := unix.Setgid(pwd.GID); err != nil {
		return fmt.Errorf("login: setgid: %w", err)
	}
	if err := unix.Setuid(pwd.UID); err != nil {
		return fmt.Errorf("login: setuid: %w", err)
	}

	if unix.Getuid() != pwd.UID || unix.Geteuid() != pwd.UID ||
		unix.Getgid() != pwd.GID || unix.Getegid() != pwd.GID {
		return errors.New("login: privilege drop verification failed")
	}
	return nil
}

// emitMotd prints the message of the day when one is readable.
func (s *Session) emitMotd() {
	data, err := os.ReadFile(s.Paths.Motd)
	if err != nil {
		return
	}
	os.Stdout.Write(data)
}

// banner clears the screen and paints the distribution banner.
func (s *Session) banner() {
	if !Interactive(0) {
		return
	}
	fmt.Print("\033[2J\033[H")
	fmt.Print("\033[38;5;213m")
	fmt.Println(`
  ________       .__                 __  .__
 /  _____/_____  |  | _____    _____/  |_|__| ____ _____
/   \  ___\__  \ |  | \__  \ _/ ___\   __\  |/ ___\\__  \
\    \_\  \/ __ \|  |__/ __ \\  \___|  | |  \  \___ / __ \_
 \______  (____  /____(____  /\___  >__| |__|\___  >____  /
        \/     \/          \/     \/             \/     \/`)
	fmt.Print("\033[0m")
	fmt.Println()
	fmt.Println("            Galactica Linux v0.1.0")
	fmt.Println("                Poyo Login")
	fmt.Println()
}
