// Command airridectl is the control-plane client for the airride
// supervisor: one command per invocation over the local socket.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/LinkNavi/galactica/internal/config"
	"github.com/LinkNavi/galactica/internal/control"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: airridectl <command> [service]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  start <service>    Start a service")
	fmt.Fprintln(os.Stderr, "  stop <service>     Stop a service")
	fmt.Fprintln(os.Stderr, "  restart <service>  Restart a service")
	fmt.Fprintln(os.Stderr, "  status <service>   Show service status")
	fmt.Fprintln(os.Stderr, "  list               List all services")
}

func main() {
	socketPath := flag.String("socket", "", "override control socket path")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	socket := *socketPath
	if socket == "" {
		socket = config.LoadOrDefault().Init.SocketPath
	}

	resp, err := control.Send(socket, strings.Join(args, " "))
	if err != nil {
		fmt.Fprintf(os.Stderr, "airridectl: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(resp)
	if resp == control.RespFailed || resp == control.RespUnknown {
		os.Exit(1)
	}
}
