// Package operator implements the mission executor's operator-override
// Unix domain socket: a small, newline-delimited JSON protocol an
// external operator tool uses to read lifecycle status and request a
// pipeline switch without restarting the process.
//
// Protocol: newline-delimited JSON over a Unix domain socket.
// Socket path: /run/missioncore/operator.sock (configurable).
// Permissions: 0600, owned by the running user. Only local processes
// with filesystem access to the socket can connect.
//
// Commands (JSON request → JSON response):
//
//	{"cmd":"status"}
//	  → Returns the current lifecycle state, active pipeline, and the
//	    health of every assembled component.
//	  → Response: {"ok":true,"state":"RUNNING","pipeline":"drive","time_in_state_secs":12.5,"component_health":{"lidar":true}}
//
//	{"cmd":"switch_pipeline","pipeline":"recovery"}
//	  → Queues a pipeline switch, honored during the next tick after its
//	    perception phase.
//	  → Response: {"ok":true,"pipeline":"recovery"}
//
//	{"cmd":"event","text":"operator note"}
//	  → Records a free-form event in the mission log.
//	  → Response: {"ok":true}
//
// Security:
//   - Socket is created with 0600 permissions.
//   - Each connection is handled in a separate goroutine.
//   - Max concurrent connections: 4 (operator use only, not high-throughput).
//   - Max request size: 4096 bytes (prevents memory exhaustion).
//   - Connection timeout: 10s read, 10s write.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// StatusProvider is the interface the operator server uses to read and
// mutate mission executor state. Implemented in cmd/missioncore by an
// adapter over *executor.ExecutorBase.
type StatusProvider interface {
	Snapshot() Snapshot
	RequestSwitch(pipeline string) error
	Event(desc string)
}

// Snapshot mirrors executor.StatusSnapshot without importing the
// executor package, avoiding an import cycle (executor never needs to
// know about the operator protocol).
type Snapshot struct {
	State           string
	Pipeline        string
	TimeInStateSecs float64
	ExitReason      string
	ComponentHealth map[string]bool
}

// Request is the JSON structure for operator commands.
type Request struct {
	Cmd      string `json:"cmd"`                // status | switch_pipeline | event
	Pipeline string `json:"pipeline,omitempty"`  // target pipeline for switch_pipeline
	Text     string `json:"text,omitempty"`      // event description for event
}

// Response is the JSON structure for operator command responses.
type Response struct {
	OK              bool            `json:"ok"`
	Error           string          `json:"error,omitempty"`
	State           string          `json:"state,omitempty"`
	Pipeline        string          `json:"pipeline,omitempty"`
	TimeInStateSecs float64         `json:"time_in_state_secs,omitempty"`
	ExitReason      string          `json:"exit_reason,omitempty"`
	ComponentHealth map[string]bool `json:"component_health,omitempty"`
}

// Server is the operator Unix domain socket server.
type Server struct {
	socketPath string
	provider   StatusProvider
	log        *zap.Logger
	sem        chan struct{} // Semaphore: max concurrent connections.
}

// NewServer creates an operator Server.
func NewServer(socketPath string, provider StatusProvider, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		provider:   provider,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the operator socket server. Removes any stale
// socket file before binding. Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("operator: remove stale socket %q: %w", s.socketPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("operator: mkdir %q: %w", filepath.Dir(s.socketPath), err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("operator: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("operator: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("operator socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("operator: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("operator: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

// handleConn reads one JSON request, executes the command, writes one
// JSON response.
func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("operator: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	resp := s.dispatch(req)
	s.writeResponse(conn, resp)
}

func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "status":
		return s.cmdStatus()
	case "switch_pipeline":
		return s.cmdSwitchPipeline(req)
	case "event":
		return s.cmdEvent(req)
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdStatus() Response {
	snap := s.provider.Snapshot()
	return Response{
		OK:              true,
		State:           snap.State,
		Pipeline:        snap.Pipeline,
		TimeInStateSecs: snap.TimeInStateSecs,
		ExitReason:      snap.ExitReason,
		ComponentHealth: snap.ComponentHealth,
	}
}

func (s *Server) cmdSwitchPipeline(req Request) Response {
	if req.Pipeline == "" {
		return Response{OK: false, Error: "pipeline required for switch_pipeline"}
	}
	if err := s.provider.RequestSwitch(req.Pipeline); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.log.Info("operator: pipeline switch requested", zap.String("pipeline", req.Pipeline))
	return Response{OK: true, Pipeline: req.Pipeline}
}

func (s *Server) cmdEvent(req Request) Response {
	if req.Text == "" {
		return Response{OK: false, Error: "text required for event"}
	}
	s.provider.Event("operator: " + req.Text)
	return Response{OK: true}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
