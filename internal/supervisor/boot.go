package supervisor

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/LinkNavi/galactica/internal/control"
	"go.uber.org/zap"
)

// Boot brings the system to steady state: virtual filesystems and device
// nodes (PID 1 only), hostname, control socket, service definitions, then
// the three startup buckets. Only a control socket failure is fatal; the
// supervisor must survive everything else.
func (s *Supervisor) Boot() error {
	if !s.testMode {
		s.mountFilesystems()
		s.createDeviceNodes()
	}
	s.applyHostname()

	ctl, err := control.Listen(s.cfg.SocketPath, s.log)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	s.ctl = ctl

	services, errs := LoadServiceDir(s.cfg.ServicesDir)
	for _, err := range errs {
		s.log.Warn("service definition rejected", zap.Error(err))
	}
	for _, svc := range services {
		s.AddService(svc)
	}
	s.log.Info("services loaded", zap.Int("count", len(services)))

	s.startAutostart()
	return nil
}

// startAutostart launches the autostart set: the parallel bucket
// concurrently while the sequential bucket is walked in definition order,
// a join and a settle pause, then the TTY bucket last so login prompts
// paint over boot output. An empty TTY bucket falls back to the emergency
// shell on the console.
func (s *Supervisor) startAutostart() {
	var parallel, sequential, tty []string

	s.mu.Lock()
	for _, name := range s.order {
		svc := s.services[name]
		if !svc.Autostart {
			continue
		}
		switch svc.StartupBucket() {
		case BucketTTY:
			tty = append(tty, name)
		case BucketParallel:
			parallel = append(parallel, name)
		default:
			sequential = append(sequential, name)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range parallel {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := s.Start(name); err != nil {
				s.log.Warn("autostart failed",
					zap.String("service", name), zap.Error(err))
			}
		}(name)
	}

	for _, name := range sequential {
		if err := s.Start(name); err != nil {
			s.log.Warn("autostart failed",
				zap.String("service", name), zap.Error(err))
		}
	}

	wg.Wait()

	// Let network-ish services settle before terminals take over.
	time.Sleep(s.settleDelay)
	s.clearConsole()

	if len(tty) == 0 {
		s.startFallbackShell()
		return
	}
	for _, name := range tty {
		if err := s.Start(name); err != nil {
			s.log.Warn("autostart failed",
				zap.String("service", name), zap.Error(err))
		}
	}
}

// startFallbackShell guarantees something interactive owns the console
// when no TTY service is defined.
func (s *Supervisor) startFallbackShell() {
	s.mu.Lock()
	if _, ok := s.services["shell"]; !ok {
		s.order = append(s.order, "shell")
		s.services["shell"] = &Service{
			Name:        "shell",
			Description: "Emergency Shell",
			Type:        TypeSimple,
			ExecStart:   "/bin/sh",
			Foreground:  true,
		}
	}
	s.mu.Unlock()

	if err := s.Start("shell"); err != nil {
		s.log.Error("emergency shell failed", zap.Error(err))
	}
}

// clearConsole wipes the console so the TTY bucket paints on a clean
// screen. Best effort; test mode has no console.
func (s *Supervisor) clearConsole() {
	if s.testMode {
		return
	}
	console, err := os.OpenFile("/dev/console", os.O_WRONLY, 0)
	if err != nil {
		return
	}
	defer console.Close()
	console.WriteString("\033[2J\033[H")
}

// applyHostname sets the kernel hostname from the hostname file, falling
// back to the distribution default.
func (s *Supervisor) applyHostname() {
	name := "galactica"
	if data, err := os.ReadFile(s.cfg.HostnameFile); err == nil {
		if h := strings.TrimSpace(string(data)); h != "" {
			name = h
		}
	}
	if err := setHostname(name); err != nil {
		s.log.Warn("could not set hostname",
			zap.String("hostname", name), zap.Error(err))
		return
	}
	s.log.Info("hostname applied", zap.String("hostname", name))
}
