package login

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// AcquireTTY binds the process to the given terminal device: new session,
// controlling TTY, stdio on the device, canonical line/echo discipline.
func AcquireTTY(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return fmt.Errorf("login: open tty: %w", err)
	}

	// Detach from any inherited controlling terminal; EPERM just means
	// we already lead a session.
	unix.Setsid()

	fd := int(f.Fd())
	if err := unix.IoctlSetInt(fd, unix.TIOCSCTTY, 0); err != nil {
		f.Close()
		return fmt.Errorf("login: set controlling tty: %w", err)
	}

	for _, std := range []int{0, 1, 2} {
		if err := unix.Dup3(fd, std, 0); err != nil {
			f.Close()
			return fmt.Errorf("login: dup tty: %w", err)
		}
	}
	if fd > 2 {
		f.Close()
	}

	return canonicalMode(0)
}

// canonicalMode puts the terminal into cooked line input with echo.
func canonicalMode(fd int) error {
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("login: tcgetattr: %w", err)
	}
	tio.Lflag |= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ECHOK
	tio.Iflag |= unix.ICRNL
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		return fmt.Errorf("login: tcsetattr: %w", err)
	}
	return nil
}

// ReadPassword reads one line with echo disabled: backspace erases,
// bytes outside printable ASCII are dropped, terminal attributes are
// restored on every path. io.EOF surfaces when the terminal closes.
func ReadPassword(r io.Reader, fd int) ([]byte, error) {
	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("login: tcgetattr: %w", err)
	}
	quiet := *saved
	quiet.Lflag &^= unix.ECHO | unix.ECHOE | unix.ECHOK | unix.ECHONL
	if err := unix.IoctlSetTermios(fd, unix.TCSETSF, &quiet); err != nil {
		return nil, fmt.Errorf("login: tcsetattr: %w", err)
	}
	defer unix.IoctlSetTermios(fd, unix.TCSETSF, saved)

	var password []byte
	buf := make([]byte, 1)
	for len(password) < 511 {
		n, err := r.Read(buf)
		if n == 0 || err != nil {
			if len(password) == 0 && err == io.EOF {
				return nil, io.EOF
			}
			break
		}
		c := buf[0]
		if c == '\n' || c == '\r' {
			break
		}
		if c == 127 || c == 8 { // backspace
			if len(password) > 0 {
				password = password[:len(password)-1]
			}
			continue
		}
		if c < 32 || c > 126 {
			continue
		}
		password = append(password, c)
	}

	fmt.Println()
	return password, nil
}

// Interactive reports whether fd is a terminal; the banner and prompts
// are only painted on real terminals.
func Interactive(fd int) bool {
	return term.IsTerminal(fd)
}

// TTYName derives the short line name ("tty1") from a device path or
// from the process's stdin when path is empty.
func TTYName(path string) string {
	if path == "" {
		if name, err := os.Readlink("/proc/self/fd/0"); err == nil {
			path = name
		}
	}
	return strings.TrimPrefix(path, "/dev/")
}

// termFor picks the TERM value for a line: serial consoles get vt100,
// virtual consoles get linux.
func termFor(ttyName string) string {
	if strings.HasPrefix(ttyName, "ttyS") || strings.HasPrefix(ttyName, "ttyUSB") {
		return "vt100"
	}
	return "linux"
}

// virtualConsole reports whether the line is a VT (tty1..ttyN), the only
// case that earns DISPLAY=:0.
func virtualConsole(ttyName string) bool {
	if !strings.HasPrefix(ttyName, "tty") || len(ttyName) <= 3 {
		return false
	}
	for _, c := range ttyName[3:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
