package supervisor

import (
	"container/heap"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LinkNavi/galactica/internal/config"
	"github.com/LinkNavi/galactica/internal/control"
	"github.com/LinkNavi/galactica/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Supervisor is the service registry and its single-threaded main loop.
// One mutex guards every read and write of service state; operations that
// block (waiting out a stop, pacing an after-dependency) release it for
// the duration of the wait.
type Supervisor struct {
	mu       sync.Mutex
	services map[string]*Service
	order    []string // definition order

	restarts    restartHeap
	restartDue  map[string]bool // one outstanding restart per service
	restartCap  int
	cfg         config.InitConfig
	log         *logging.Logger
	ctl         *control.Server
	shutdown    atomic.Bool
	testMode    bool // not PID 1: skip mounts and device nodes
	loopPeriod  time.Duration
	settleDelay time.Duration
}

// New creates a Supervisor from configuration. testMode skips the PID-1
// only boot steps (mounts, device nodes).
func New(cfg config.InitConfig, log *logging.Logger, testMode bool) *Supervisor {
	limit := cfg.RestartCap
	if limit <= 0 {
		limit = 10
	}
	return &Supervisor{
		services:    make(map[string]*Service),
		restartDue:  make(map[string]bool),
		restartCap:  limit,
		cfg:         cfg,
		log:         log,
		testMode:    testMode,
		loopPeriod:  100 * time.Millisecond,
		settleDelay: 500 * time.Millisecond,
	}
}

// AddService registers a parsed service definition. Later definitions of
// the same name replace earlier ones.
func (s *Supervisor) AddService(svc *Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.services[svc.Name]; !exists {
		s.order = append(s.order, svc.Name)
	}
	s.services[svc.Name] = svc
}

// Run executes the main loop: accept and handle one control command per
// turn, reap zombies, fire due restarts, sleep. Returns once Shutdown is
// requested; the control socket is unlinked and running services receive
// SIGTERM on the way out.
func (s *Supervisor) Run() {
	for !s.shutdown.Load() {
		if s.ctl != nil {
			s.ctl.AcceptOne(s)
		}
		s.Reap()
		s.fireDueRestarts()
		time.Sleep(s.loopPeriod)
	}

	s.log.Info("shutting down")
	if s.ctl != nil {
		s.ctl.Close()
	}
	s.terminateAll()
}

// Shutdown requests loop exit. Safe from signal handlers.
func (s *Supervisor) Shutdown() {
	s.shutdown.Store(true)
}

// Reap collects exited children until none are pending. Children owned by
// a service move it to stopped (exit 0) or failed, and failed services
// with restart policy get a restart scheduled, capped at the failure
// limit. Unrecognized children are discarded; as PID 1 every orphan on
// the system lands here.
func (s *Supervisor) Reap() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}
		s.handleExit(pid, ws)
	}
}

func (s *Supervisor) handleExit(pid int, ws unix.WaitStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc := s.findByPID(pid)
	if svc == nil {
		s.log.Debug("reaped unowned child", zap.Int("pid", pid))
		return
	}

	svc.PID = 0
	if svc.State == StateStopping {
		// An explicit Stop is in flight; the exit belongs to it.
		svc.State = StateStopped
		return
	}
	switch {
	case ws.Exited() && ws.ExitStatus() == 0:
		s.log.Info("service exited", zap.String("service", svc.Name))
		svc.State = StateStopped
	case ws.Exited():
		s.log.Warn("service failed",
			zap.String("service", svc.Name),
			zap.Int("exit_code", ws.ExitStatus()))
		svc.State = StateFailed
		s.maybeScheduleRestart(svc)
	case ws.Signaled():
		s.log.Warn("service killed",
			zap.String("service", svc.Name),
			zap.String("signal", unix.SignalName(ws.Signal())))
		svc.State = StateFailed
		s.maybeScheduleRestart(svc)
	}
}

// maybeScheduleRestart pushes a restart onto the heap if the service's
// policy allows it and none is already outstanding. Caller holds the
// registry lock.
func (s *Supervisor) maybeScheduleRestart(svc *Service) {
	if !svc.RestartOnFailure || svc.Failures >= s.restartCap {
		return
	}
	if s.restartDue[svc.Name] {
		return
	}
	svc.Failures++
	s.restartDue[svc.Name] = true
	due := time.Now().Add(time.Duration(svc.RestartDelay) * time.Second)
	heap.Push(&s.restarts, restartEntry{due: due, name: svc.Name})
	s.log.Info("restart scheduled",
		zap.String("service", svc.Name),
		zap.Int("delay_s", svc.RestartDelay),
		zap.Int("failures", svc.Failures))
}

// fireDueRestarts drains the restart heap entries whose time has come and
// starts them.
func (s *Supervisor) fireDueRestarts() {
	for {
		s.mu.Lock()
		if len(s.restarts) == 0 || s.restarts[0].due.After(time.Now()) {
			s.mu.Unlock()
			return
		}
		entry := heap.Pop(&s.restarts).(restartEntry)
		delete(s.restartDue, entry.name)
		s.mu.Unlock()

		if err := s.Start(entry.name); err != nil {
			s.log.Warn("restart failed",
				zap.String("service", entry.name), zap.Error(err))
		}
	}
}

// findByPID locates the service owning pid. Caller holds the lock.
func (s *Supervisor) findByPID(pid int) *Service {
	for _, svc := range s.services {
		if svc.PID == pid {
			return svc
		}
	}
	return nil
}

// terminateAll sends SIGTERM to every running service at shutdown.
func (s *Supervisor) terminateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, svc := range s.services {
		if svc.PID > 0 {
			unix.Kill(svc.PID, unix.SIGTERM)
		}
	}
}

// Status formats one service's status block for the control protocol.
func (s *Supervisor) Status(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[name]
	if !ok {
		return "Service not found\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Service: %s\n", svc.Name)
	fmt.Fprintf(&b, "Description: %s\n", svc.Description)
	fmt.Fprintf(&b, "State: %s\n", svc.State)
	if svc.PID > 0 {
		fmt.Fprintf(&b, "PID: %d\n", svc.PID)
	}
	if svc.TTYDevice != "" {
		fmt.Fprintf(&b, "TTY: %s\n", svc.TTYDevice)
	}
	return b.String()
}

// List formats the service table for the control protocol, one line per
// service in definition order.
func (s *Supervisor) List() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	b.WriteString("Services:\n")
	for _, name := range s.order {
		svc := s.services[name]
		fmt.Fprintf(&b, "  %s - %s", svc.Name, svc.State)
		if svc.Autostart {
			b.WriteString(" [auto]")
		}
		if svc.TTYDevice != "" {
			fmt.Fprintf(&b, " [%s]", svc.TTYDevice)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Lookup returns a snapshot of a service's dynamic state.
func (s *Supervisor) Lookup(name string) (State, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[name]
	if !ok {
		return StateStopped, 0, false
	}
	return svc.State, svc.PID, true
}

// restartEntry is one scheduled restart in the min-heap.
type restartEntry struct {
	due  time.Time
	name string
}

type restartHeap []restartEntry

func (h restartHeap) Len() int            { return len(h) }
func (h restartHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h restartHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *restartHeap) Push(x interface{}) { *h = append(*h, x.(restartEntry)) }
func (h *restartHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
