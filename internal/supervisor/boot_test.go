package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LinkNavi/galactica/internal/config"
	"github.com/LinkNavi/galactica/internal/control"
	"github.com/LinkNavi/galactica/internal/logging"
	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBootAndControlRoundTrip boots a test-mode supervisor from service
// files on disk and drives it over the control socket like airridectl
// would.
func TestBootAndControlRoundTrip(t *testing.T) {
	ptmx, tts, err := pty.Open()
	require.NoError(t, err)
	defer ptmx.Close()
	defer tts.Close()

	servicesDir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(
			filepath.Join(servicesDir, name), []byte(content), 0o644))
	}
	write("10-base.service", `
[Service]
name = base
description = Background worker
exec_start = sleep 30
autostart = true
`)
	write("20-net.service", `
[Service]
name = net
description = Parallel worker
exec_start = sleep 30
autostart = true
parallel = true
`)
	write("30-login.service", `
[Service]
name = login-pts
description = Login on the test terminal
exec_start = sleep 30
tty = `+tts.Name()+`
autostart = true
`)
	write("40-extra.service", `
[Service]
name = extra
description = Started on demand
exec_start = sleep 30
`)

	cfg := config.InitConfig{
		ServicesDir: servicesDir,
		SocketPath:  filepath.Join(t.TempDir(), "airride.sock"),
		LogDir:      t.TempDir(),
		RestartCap:  10,
	}
	s := New(cfg, logging.NewDefault(), true)
	s.settleDelay = 10 * time.Millisecond // keep boot fast under test

	require.NoError(t, s.Boot())
	go s.Run()
	defer func() {
		s.Shutdown()
		time.Sleep(300 * time.Millisecond)
	}()

	for _, name := range []string{"base", "net", "login-pts"} {
		state, pid, found := s.Lookup(name)
		require.True(t, found, name)
		assert.Equal(t, StateRunning, state, name)
		assert.Greater(t, pid, 0, name)
	}
	state, _, _ := s.Lookup("extra")
	assert.Equal(t, StateStopped, state, "non-autostart services stay down")

	resp, err := control.Send(cfg.SocketPath, "list")
	require.NoError(t, err)
	assert.Contains(t, resp, "Services:\n")
	assert.Contains(t, resp, "login-pts - running [auto] ["+tts.Name()+"]")
	assert.Contains(t, resp, "extra - stopped")

	resp, err = control.Send(cfg.SocketPath, "start extra")
	require.NoError(t, err)
	assert.Equal(t, control.RespOK, resp)

	resp, err = control.Send(cfg.SocketPath, "status extra")
	require.NoError(t, err)
	assert.Contains(t, resp, "Service: extra\n")
	assert.Contains(t, resp, "State: running\n")
	assert.Contains(t, resp, "PID: ")

	resp, err = control.Send(cfg.SocketPath, "stop extra")
	require.NoError(t, err)
	assert.Equal(t, control.RespOK, resp)

	resp, err = control.Send(cfg.SocketPath, "frobnicate extra")
	require.NoError(t, err)
	assert.Equal(t, control.RespUnknown, resp)

	for _, name := range []string{"login-pts", "net", "base"} {
		require.NoError(t, s.Stop(name))
	}
}
