// Package control implements the line-oriented request/response protocol
// Init speaks on its local stream socket: one command per connection,
// verbs start/stop/restart/status/list, OK/FAILED answers for the
// mutating verbs and free-form text for the rest.
package control

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/LinkNavi/galactica/internal/logging"
	"go.uber.org/zap"
)

// Responses for the mutating verbs.
const (
	RespOK      = "OK\n"
	RespFailed  = "FAILED\n"
	RespUnknown = "Unknown command\n"
)

// Backend is the supervisor surface the protocol drives.
type Backend interface {
	Start(name string) error
	Stop(name string) error
	Restart(name string) error
	Status(name string) string
	List() string
}

// Server owns the listening socket. Accepts are non-blocking so the
// supervisor's main loop can poll it once per turn.
type Server struct {
	path string
	ln   *net.UnixListener
	log  *logging.Logger
}

// Listen binds the control socket, replacing any stale socket file left
// by a previous run.
func Listen(path string, log *logging.Logger) (*Server, error) {
	os.Remove(path)
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	log.Info("control socket ready", zap.String("path", path))
	return &Server{path: path, ln: ln, log: log}, nil
}

// AcceptOne handles at most one pending connection: read one command,
// write exactly one response, close. No pending connection is not an
// error.
func (s *Server) AcceptOne(b Backend) {
	s.ln.SetDeadline(time.Now().Add(time.Millisecond))
	conn, err := s.ln.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			s.log.Debug("control accept", zap.Error(err))
		}
		return
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return
	}

	resp := Dispatch(b, string(buf[:n]))
	conn.Write([]byte(resp))
}

// Dispatch parses "verb [service]" and runs it against the backend,
// returning the response to write.
func Dispatch(b Backend, request string) string {
	fields := strings.Fields(request)
	if len(fields) == 0 {
		return RespUnknown
	}
	verb := fields[0]
	name := ""
	if len(fields) > 1 {
		name = fields[1]
	}

	switch verb {
	case "start":
		return okOrFailed(b.Start(name))
	case "stop":
		return okOrFailed(b.Stop(name))
	case "restart":
		return okOrFailed(b.Restart(name))
	case "status":
		return b.Status(name)
	case "list":
		return b.List()
	default:
		return RespUnknown
	}
}

func okOrFailed(err error) string {
	if err != nil {
		return RespFailed
	}
	return RespOK
}

// Close shuts the listener and unlinks the socket file.
func (s *Server) Close() {
	s.ln.Close()
	os.Remove(s.path)
}

// Send dials the control socket, sends one command, and returns the full
// response. The client side of the protocol: one exchange per connection.
func Send(socketPath, command string) (string, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return "", fmt.Errorf("control: is airride running? %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(30 * time.Second))
	if _, err := conn.Write([]byte(command)); err != nil {
		return "", fmt.Errorf("control: %w", err)
	}

	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			b.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return b.String(), nil
}
