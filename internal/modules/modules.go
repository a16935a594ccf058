// Package modules hosts the package manager's command-extension plugins.
//
// A module is a Go plugin (a shared object built with -buildmode=plugin)
// exporting ModuleInfo, and optionally ModuleInit, ModuleCommands, and
// ModuleCleanup. Modules compiled against a different ABI version are
// rejected at load time. Registered commands extend the CLI verb set;
// name collisions resolve first-writer-wins in load order.
package modules

// APIVersion is the plugin ABI this host speaks. A module whose Info
// reports anything else is rejected.
const APIVersion = 1

// Info describes a loaded module.
type Info struct {
	APIVersion  int
	Name        string
	Version     string
	Description string
	Author      string
}

// Command is one CLI verb a module contributes. Handler receives the
// argument vector with the global verb position stripped; returning 0
// means success.
type Command struct {
	Name        string
	Description string
	Usage       string
	Handler     func(args []string) int
}

// The symbols a module shared object must export:
//
//	var ModuleInfo func() *modules.Info                 (required)
//	var ModuleInit func() int                           (optional, nonzero rejects)
//	var ModuleCommands func() []modules.Command         (optional)
//	var ModuleCleanup func()                            (optional)
type (
	InfoFunc     = func() *Info
	InitFunc     = func() int
	CommandsFunc = func() []Command
	CleanupFunc  = func()
)
