// Command poyo is the Galactica TTY login gate.
//
//	poyo [TTY_PATH]
//
// With a TTY path it binds that device as its controlling terminal;
// without one it uses the stdio it inherited. It exits nonzero on
// authentication exhaustion or setup failure and does not return after a
// successful shell exec.
package main

import (
	"fmt"
	"os"

	"github.com/LinkNavi/galactica/internal/login"
)

func main() {
	ttyPath := ""
	if len(os.Args) > 1 {
		ttyPath = os.Args[1]
	}

	var authLog login.AuthLogger
	if sl, err := login.NewSyslogAuthLogger(); err == nil {
		defer sl.Close()
		authLog = sl
	} else {
		authLog = login.StderrAuthLogger{}
	}

	session := login.NewSession(ttyPath, login.DefaultPaths(), authLog)
	if err := session.Setup(); err != nil {
		fmt.Fprintf(os.Stderr, "poyo: %v\n", err)
		os.Exit(1)
	}

	if err := session.Run(); err != nil {
		os.Exit(1)
	}
}
