package supervisor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ParseServiceFile reads one .service definition. The format is INI-like:
// [Section] headers, key = value lines with whitespace trimming and
// optional double-quote stripping, # comments, blank lines ignored.
// Unknown sections and keys are ignored.
func ParseServiceFile(path string) (*Service, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("service file: %w", err)
	}
	defer f.Close()

	svc := &Service{
		Type:         TypeSimple,
		RestartDelay: 5,
		State:        StateStopped,
	}

	section := ""
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line[1 : len(line)-1]
			continue
		}

		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
			value = value[1 : len(value)-1]
		}

		switch section {
		case "Service":
			applyServiceKey(svc, key, value)
		case "Dependencies":
			switch key {
			case "requires":
				svc.Requires = append(svc.Requires, strings.Fields(value)...)
			case "after":
				svc.After = append(svc.After, strings.Fields(value)...)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("service file %s: %w", path, err)
	}

	if svc.Name == "" {
		return nil, fmt.Errorf("service file %s: missing name", path)
	}
	return svc, nil
}

func applyServiceKey(svc *Service, key, value string) {
	switch key {
	case "name":
		svc.Name = value
	case "description":
		svc.Description = value
	case "type":
		svc.Type = ParseType(value)
	case "exec_start":
		svc.ExecStart = value
	case "exec_stop":
		svc.ExecStop = value
	case "tty", "tty_device":
		svc.TTYDevice = value
	case "restart":
		svc.RestartOnFailure = value == "on-failure" || value == "always"
	case "restart_delay":
		if n, err := strconv.Atoi(value); err == nil {
			svc.RestartDelay = n
		}
	case "autostart":
		svc.Autostart = parseBool(value)
	case "parallel":
		svc.Parallel = parseBool(value)
	case "foreground":
		svc.Foreground = parseBool(value)
	case "clear_screen":
		svc.ClearScreen = parseBool(value)
	}
}

// parseBool accepts true, yes, and 1; anything else is false.
func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "1":
		return true
	default:
		return false
	}
}

// LoadServiceDir parses every *.service file in dir, sorted by filename
// so definition order is stable. Individual parse failures are collected
// and returned alongside the services that did parse.
func LoadServiceDir(dir string) ([]*Service, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("service dir: %w", err)}
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".service") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var services []*Service
	var errs []error
	for _, name := range names {
		svc, err := ParseServiceFile(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		services = append(services, svc)
	}
	return services, errs
}
