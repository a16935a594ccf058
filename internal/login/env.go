package login

import "os"

const (
	rootPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	userPath = "/usr/local/bin:/usr/bin:/bin:/usr/local/sbin:/usr/sbin:/sbin"
)

// sanitizeEnv rebuilds the process environment from scratch for the
// authenticated user. Everything inherited is dropped first; nothing the
// supervisor or a previous login exported may leak into the session.
func sanitizeEnv(pwd *passwdEntry, ttyName string) {
	os.Clearenv()

	os.Setenv("HOME", pwd.Home)
	os.Setenv("USER", pwd.Name)
	os.Setenv("LOGNAME", pwd.Name)
	os.Setenv("SHELL", shellFor(pwd))

	if pwd.UID == 0 {
		os.Setenv("PATH", rootPath)
	} else {
		os.Setenv("PATH", userPath)
	}

	os.Setenv("TERM", termFor(ttyName))
	os.Setenv("PS1", `[\u@\h \W]\$ `)

	if virtualConsole(ttyName) {
		os.Setenv("DISPLAY", ":0")
	}
}

// shellFor returns the user's shell, defaulting to /bin/sh for entries
// with an empty shell field.
func shellFor(pwd *passwdEntry) string {
	if pwd.Shell == "" {
		return "/bin/sh"
	}
	return pwd.Shell
}
