package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	afterWaitBound = 10 * time.Second
	stopWaitBound  = 5 * time.Second
)

// Start brings a service to running, starting its hard dependencies
// first. Starting an already running or starting service is a no-op.
func (s *Supervisor) Start(name string) error {
	return s.start(name, make(map[string]bool))
}

func (s *Supervisor) start(name string, visiting map[string]bool) error {
	s.mu.Lock()
	svc, ok := s.services[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("service %s not found", name)
	}
	if visiting[name] {
		svc.State = StateFailed
		s.mu.Unlock()
		return fmt.Errorf("dependency cycle through %s", name)
	}
	if svc.State == StateRunning || svc.State == StateStarting {
		s.mu.Unlock()
		return nil
	}

	visiting[name] = true
	svc.State = StateStarting
	requires := append([]string(nil), svc.Requires...)
	after := append([]string(nil), svc.After...)
	s.mu.Unlock()

	s.log.Info("starting service", zap.String("service", name))

	for _, dep := range requires {
		if err := s.start(dep, visiting); err != nil {
			s.setState(name, StateFailed)
			return fmt.Errorf("required dependency %s: %w", dep, err)
		}
	}
	// Dependencies are settled; a later path reaching this service again
	// sees its state rather than a cycle.
	delete(visiting, name)

	// Soft ordering: wait for after-dependencies to settle, bounded so
	// cycles in the after graph stall nothing permanently.
	s.waitAfter(after)

	return s.launch(svc)
}

// waitAfter pauses until each named service reaches a terminal state
// (running, failed, or stopped for a completed oneshot), giving up after
// the bound. Purely advisory; a dependency that never settles does not
// fail the start.
func (s *Supervisor) waitAfter(after []string) {
	for _, dep := range after {
		deadline := time.Now().Add(afterWaitBound)
		for time.Now().Before(deadline) {
			s.mu.Lock()
			target, ok := s.services[dep]
			settled := !ok ||
				target.State == StateRunning ||
				target.State == StateFailed ||
				(target.State == StateStopped && target.Type == TypeOneshot)
			s.mu.Unlock()
			if settled {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// launch forks the service's process with the right stdio attachment and
// records the outcome. Oneshot services are waited on synchronously.
func (s *Supervisor) launch(svc *Service) error {
	tokens := strings.Fields(svc.ExecStart)
	if len(tokens) == 0 {
		s.setState(svc.Name, StateFailed)
		return fmt.Errorf("service %s: empty exec_start", svc.Name)
	}

	path, err := exec.LookPath(tokens[0])
	if err != nil {
		s.setState(svc.Name, StateFailed)
		return fmt.Errorf("service %s: %w", svc.Name, err)
	}

	files, attr, cleanup, err := s.attachStdio(svc)
	if err != nil {
		s.setState(svc.Name, StateFailed)
		return fmt.Errorf("service %s: %w", svc.Name, err)
	}
	defer cleanup()

	proc, err := os.StartProcess(path, tokens, &os.ProcAttr{
		Dir:   "/",
		Files: files,
		Sys:   attr,
	})
	if err != nil {
		s.setState(svc.Name, StateFailed)
		return fmt.Errorf("service %s: %w", svc.Name, err)
	}

	s.mu.Lock()
	svc.PID = proc.Pid
	svc.State = StateRunning
	s.mu.Unlock()
	s.log.Info("service started",
		zap.String("service", svc.Name), zap.Int("pid", proc.Pid))

	if svc.Type == TypeOneshot {
		return s.waitOneshot(svc, proc.Pid)
	}
	return nil
}

// waitOneshot blocks on a oneshot child. Success collapses the running
// state to stopped; a nonzero exit marks the service failed.
func (s *Supervisor) waitOneshot(svc *Service, pid int) error {
	var ws unix.WaitStatus
	_, err := unix.Wait4(pid, &ws, 0, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	svc.PID = 0
	if err == nil && ws.Exited() && ws.ExitStatus() == 0 {
		svc.State = StateStopped
		return nil
	}
	svc.State = StateFailed
	return fmt.Errorf("service %s: oneshot exited with status %d", svc.Name, ws.ExitStatus())
}

// attachStdio opens the child's three stdio streams: the bound TTY (which
// also becomes the controlling terminal), the console for foreground
// services, or a per-service log file with /dev/null stdin for plain
// background services.
func (s *Supervisor) attachStdio(svc *Service) ([]*os.File, *syscall.SysProcAttr, func(), error) {
	noop := func() {}

	switch {
	case svc.TTYDevice != "":
		tty, err := os.OpenFile(svc.TTYDevice, os.O_RDWR|unix.O_NOCTTY, 0)
		if err != nil {
			return nil, nil, noop, err
		}
		attr := &syscall.SysProcAttr{Setsid: true, Setctty: true, Ctty: 0}
		return []*os.File{tty, tty, tty}, attr, func() { tty.Close() }, nil

	case svc.Foreground:
		console, err := os.OpenFile("/dev/console", os.O_RDWR, 0)
		if err != nil {
			return nil, nil, noop, err
		}
		attr := &syscall.SysProcAttr{Setsid: true}
		return []*os.File{console, console, console}, attr, func() { console.Close() }, nil

	default:
		if err := os.MkdirAll(s.cfg.LogDir, 0o755); err != nil {
			return nil, nil, noop, err
		}
		logFile, err := os.OpenFile(
			filepath.Join(s.cfg.LogDir, svc.Name+".log"),
			os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			return nil, nil, noop, err
		}
		null, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
		if err != nil {
			logFile.Close()
			return nil, nil, noop, err
		}
		attr := &syscall.SysProcAttr{Setsid: true}
		cleanup := func() {
			null.Close()
			logFile.Close()
		}
		return []*os.File{null, logFile, logFile}, attr, cleanup, nil
	}
}

// Stop terminates a running service: SIGTERM, a bounded poll for exit,
// then SIGKILL. Stopping a service that is not running is a no-op.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	svc, ok := s.services[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("service %s not found", name)
	}
	if svc.State != StateRunning || svc.PID == 0 {
		s.mu.Unlock()
		return nil
	}
	svc.State = StateStopping
	pid := svc.PID
	s.mu.Unlock()

	s.log.Info("stopping service", zap.String("service", name), zap.Int("pid", pid))
	unix.Kill(pid, unix.SIGTERM)

	reaped := false
	deadline := time.Now().Add(stopWaitBound)
	for time.Now().Before(deadline) {
		if waitedOut(pid) {
			reaped = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if !reaped {
		s.log.Warn("force killing service", zap.String("service", name))
		unix.Kill(pid, unix.SIGKILL)
		var ws unix.WaitStatus
		unix.Wait4(pid, &ws, 0, nil)
	}

	s.mu.Lock()
	svc.PID = 0
	svc.State = StateStopped
	s.mu.Unlock()
	return nil
}

// waitedOut polls for pid's exit without blocking. ECHILD means another
// wait path (the reap loop) already collected it.
func waitedOut(pid int) bool {
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	return wpid == pid || err == unix.ECHILD
}

// Restart stops, settles briefly, and starts again.
func (s *Supervisor) Restart(name string) error {
	if err := s.Stop(name); err != nil {
		return err
	}
	time.Sleep(s.settleDelay)
	return s.Start(name)
}

func (s *Supervisor) setState(name string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if svc, ok := s.services[name]; ok {
		svc.State = state
	}
}
