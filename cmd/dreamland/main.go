// Command dreamland is the Galactica package manager: a hybrid
// source-and-binary installer with a command-extension module host.
package main

import (
	"fmt"
	"os"
)

func main() {
	a, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dreamland: %v\n", err)
		os.Exit(1)
	}
	defer a.host.Close()

	args := make([]string, 0, len(os.Args)-1)
	for _, arg := range os.Args[1:] {
		switch arg {
		case "--noconfirm":
			a.noConfirm = true
		case "--binary":
			a.forceBinary = true
		case "--cascade":
			// consumed by uninstall below
			args = append(args, arg)
		default:
			args = append(args, arg)
		}
	}

	if len(args) == 0 {
		a.usage(os.Args[0])
		os.Exit(1)
	}
	verb := args[0]

	// Module commands take precedence: a verb registered by a loaded module
	// is dispatched to that module before the core verb set is consulted.
	if _, found := a.host.Lookup(verb); found {
		rc, _ := a.host.Run(verb, args[1:])
		os.Exit(rc)
	}

	if err := a.run(verb, args[1:]); err != nil {
		os.Exit(1)
	}
}

func (a *app) run(verb string, args []string) error {
	switch verb {
	case "sync":
		return a.sync()
	case "search":
		if len(args) < 1 {
			a.usage(os.Args[0])
			return fmt.Errorf("search needs a query")
		}
		return a.search(args[0])
	case "install":
		if len(args) < 1 {
			a.usage(os.Args[0])
			return fmt.Errorf("install needs a package")
		}
		return a.install(args[0])
	case "uninstall", "remove":
		if len(args) < 1 {
			a.usage(os.Args[0])
			return fmt.Errorf("uninstall needs a package")
		}
		cascade := false
		name := ""
		for _, arg := range args {
			if arg == "--cascade" {
				cascade = true
			} else if name == "" {
				name = arg
			}
		}
		return a.remove(name, cascade)
	case "autoremove":
		return a.autoRemove()
	case "list":
		return a.listInstalled()
	case "modules":
		a.listModules()
		return nil
	default:
		a.usage(os.Args[0])
		return fmt.Errorf("unknown command %s", verb)
	}
}
