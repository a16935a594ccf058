package supervisor

import (
	"strings"
	"testing"
	"time"

	"github.com/LinkNavi/galactica/internal/config"
	"github.com/LinkNavi/galactica/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	cfg := config.InitConfig{
		ServicesDir: t.TempDir(),
		SocketPath:  t.TempDir() + "/airride.sock",
		LogDir:      t.TempDir(),
		RestartCap:  10,
	}
	return New(cfg, logging.NewDefault(), true)
}

func simpleService(name, cmd string) *Service {
	return &Service{Name: name, Type: TypeSimple, ExecStart: cmd}
}

func TestStartStopLifecycle(t *testing.T) {
	s := newTestSupervisor(t)
	s.AddService(simpleService("sleeper", "sleep 30"))

	require.NoError(t, s.Start("sleeper"))
	state, pid, found := s.Lookup("sleeper")
	require.True(t, found)
	assert.Equal(t, StateRunning, state)
	assert.Greater(t, pid, 0, "running implies pid>0")

	// Starting again is a no-op.
	require.NoError(t, s.Start("sleeper"))
	_, samePID, _ := s.Lookup("sleeper")
	assert.Equal(t, pid, samePID)

	require.NoError(t, s.Stop("sleeper"))
	state, stoppedPID, _ := s.Lookup("sleeper")
	assert.Equal(t, StateStopped, state)
	assert.Equal(t, 0, stoppedPID, "stopped implies pid=0")

	// The child is reaped: signaling it fails.
	assert.Error(t, unix.Kill(pid, unix.Signal(0)))

	// Stopping again is a no-op.
	require.NoError(t, s.Stop("sleeper"))
}

func TestStartUnknownService(t *testing.T) {
	s := newTestSupervisor(t)
	assert.Error(t, s.Start("ghost"))
}

func TestOneshotSuccessCollapsesToStopped(t *testing.T) {
	s := newTestSupervisor(t)
	s.AddService(&Service{Name: "once", Type: TypeOneshot, ExecStart: "true"})

	require.NoError(t, s.Start("once"))
	state, pid, _ := s.Lookup("once")
	assert.Equal(t, StateStopped, state)
	assert.Equal(t, 0, pid)
}

func TestOneshotFailure(t *testing.T) {
	s := newTestSupervisor(t)
	s.AddService(&Service{Name: "once", Type: TypeOneshot, ExecStart: "false"})

	assert.Error(t, s.Start("once"))
	state, _, _ := s.Lookup("once")
	assert.Equal(t, StateFailed, state)
}

func TestDependencyChainStart(t *testing.T) {
	s := newTestSupervisor(t)
	s.AddService(simpleService("a", "sleep 30"))
	b := simpleService("b", "sleep 30")
	b.Requires = []string{"a"}
	s.AddService(b)
	c := simpleService("c", "sleep 30")
	c.Requires = []string{"b"}
	s.AddService(c)

	require.NoError(t, s.Start("c"))
	for _, name := range []string{"a", "b", "c"} {
		state, pid, _ := s.Lookup(name)
		assert.Equal(t, StateRunning, state, name)
		assert.Greater(t, pid, 0, name)
	}

	for _, name := range []string{"c", "b", "a"} {
		require.NoError(t, s.Stop(name))
	}
}

func TestRequiresCycleRejected(t *testing.T) {
	s := newTestSupervisor(t)
	x := simpleService("x", "sleep 30")
	x.Requires = []string{"y"}
	s.AddService(x)
	y := simpleService("y", "sleep 30")
	y.Requires = []string{"x"}
	s.AddService(y)

	assert.Error(t, s.Start("x"))

	for _, name := range []string{"x", "y"} {
		state, pid, _ := s.Lookup(name)
		assert.Contains(t, []State{StateStopped, StateFailed}, state, name)
		assert.Equal(t, 0, pid, "no fork occurred for %s", name)
	}
}

func TestFailedRequiresPropagates(t *testing.T) {
	s := newTestSupervisor(t)
	dep := simpleService("dep", "/nonexistent/binary")
	s.AddService(dep)
	app := simpleService("app", "sleep 30")
	app.Requires = []string{"dep"}
	s.AddService(app)

	assert.Error(t, s.Start("app"))
	state, _, _ := s.Lookup("app")
	assert.Equal(t, StateFailed, state)
	state, _, _ = s.Lookup("dep")
	assert.Equal(t, StateFailed, state)
}

func TestReapMarksExitedService(t *testing.T) {
	s := newTestSupervisor(t)
	s.AddService(simpleService("quick", "true"))
	require.NoError(t, s.Start("quick"))

	// Give the child a moment to exit, then reap.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.Reap()
		if state, _, _ := s.Lookup("quick"); state == StateStopped {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	state, pid, _ := s.Lookup("quick")
	assert.Equal(t, StateStopped, state)
	assert.Equal(t, 0, pid)
}

func TestReapSchedulesRestartUpToCap(t *testing.T) {
	s := newTestSupervisor(t)
	svc := simpleService("flaky", "false")
	svc.RestartOnFailure = true
	svc.RestartDelay = 1
	s.AddService(svc)

	// Drive the policy directly: the cap stops the 11th restart.
	s.mu.Lock()
	for i := 0; i < 12; i++ {
		svc.State = StateFailed
		s.maybeScheduleRestart(svc)
		delete(s.restartDue, svc.Name) // simulate the heap firing
	}
	scheduled := svc.Failures
	s.mu.Unlock()

	assert.Equal(t, 10, scheduled, "restart capped at 10 failures")
}

func TestRestartOutstandingGuard(t *testing.T) {
	s := newTestSupervisor(t)
	svc := simpleService("flaky", "false")
	svc.RestartOnFailure = true
	s.AddService(svc)

	s.mu.Lock()
	s.maybeScheduleRestart(svc)
	s.maybeScheduleRestart(svc)
	pending := len(s.restarts)
	s.mu.Unlock()

	assert.Equal(t, 1, pending, "one outstanding restart per service")
}

func TestStatusFormat(t *testing.T) {
	s := newTestSupervisor(t)
	s.AddService(&Service{
		Name:        "login-tty1",
		Description: "Login on tty1",
		TTYDevice:   "/dev/tty1",
		ExecStart:   "/sbin/poyo /dev/tty1",
	})

	status := s.Status("login-tty1")
	assert.Contains(t, status, "Service: login-tty1\n")
	assert.Contains(t, status, "Description: Login on tty1\n")
	assert.Contains(t, status, "State: stopped\n")
	assert.Contains(t, status, "TTY: /dev/tty1\n")
	assert.NotContains(t, status, "PID:", "no pid line while stopped")

	assert.Equal(t, "Service not found\n", s.Status("ghost"))
}

func TestListFormat(t *testing.T) {
	s := newTestSupervisor(t)
	s.AddService(&Service{
		Name: "login-tty1", TTYDevice: "/dev/tty1", Autostart: true,
		ExecStart: "/sbin/poyo /dev/tty1",
	})
	s.AddService(simpleService("plain", "sleep 1"))

	list := s.List()
	assert.True(t, strings.HasPrefix(list, "Services:\n"))
	assert.Contains(t, list, "  login-tty1 - stopped [auto] [/dev/tty1]\n")
	assert.Contains(t, list, "  plain - stopped\n")
}

func TestAfterWaitToleratesUnsettledAndCycles(t *testing.T) {
	s := newTestSupervisor(t)
	// after-deps that never settle must only delay, never fail.
	x := simpleService("x", "sleep 30")
	x.After = []string{"y"}
	s.AddService(x)
	y := simpleService("y", "sleep 30")
	y.After = []string{"x"}
	s.AddService(y)

	done := make(chan error, 1)
	go func() { done <- s.Start("x") }()

	select {
	case err := <-done:
		require.NoError(t, err, "after cycles are advisory, not fatal")
	case <-time.After(15 * time.Second):
		t.Fatal("after wait exceeded its bound")
	}
	s.Stop("x")
}
