// Package operator — server.go
//
// Unix domain socket server for broker operator commands.
//
// Protocol: newline-delimited JSON over a Unix domain socket.
// Socket path: /run/edge-broker/operator.sock (configurable).
// Permissions: 0600.
//
// Commands (JSON request → JSON response):
//
//   {"cmd":"list"}
//     → Returns every registered client with its current reputation.
//     → Response: {"ok":true,"clients":[{"name":"cam-1","reputation":0.62,...},...]}
//
//   {"cmd":"status","name":"cam-1"}
//     → Returns one client's reputation and whether it has a stored
//       observation (stored at any age; no freshness check).
//     → Response: {"ok":true,"name":"cam-1","reputation":0.62,"has_observation":true}
//
//   {"cmd":"reset","name":"cam-1"}
//     → Resets cam-1's reputation to the starting value 0.5.
//     → Response: {"ok":true,"name":"cam-1","prev_reputation":0.31}
//
//   {"cmd":"republish_config"}
//     → Republishes the scene configuration document verbatim on the
//       config topic (for a client that missed the original broadcast).
//     → Response: {"ok":true}
//
// Security:
//   - Socket created with 0600 permissions.
//   - Each connection handled in a separate goroutine.
//   - Max concurrent connections: 4 (operator use only, not high-throughput).
//   - Max request size: 4096 bytes.
//   - Connection timeout: 10s read/write.

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

// ClientInfo is a snapshot of one client's operator-visible state.
type ClientInfo struct {
	Name           string  `json:"name"`
	Reputation     float64 `json:"reputation"`
	HasObservation bool    `json:"has_observation"`
}

// Control is the interface the operator server uses to inspect and mutate
// broker state. Implemented by the broker orchestrator.
type Control interface {
	// ListClients returns every registered client's operator-visible state.
	ListClients() []ClientInfo

	// ClientStatus returns one client's state, or false if unknown.
	ClientStatus(name string) (ClientInfo, bool)

	// ResetReputation resets name's reputation to the starting value 0.5
	// and returns the reputation it had before the reset.
	ResetReputation(name string) (prev float64, err error)

	// RepublishConfig republishes the scene configuration document
	// verbatim on the config topic.
	RepublishConfig() error
}

// Request is the JSON structure for operator commands.
type Request struct {
	Cmd  string `json:"cmd"`            // list | status | reset | republish_config
	Name string `json:"name,omitempty"` // target client
}

// Response is the JSON structure for operator command responses.
type Response struct {
	OK             bool         `json:"ok"`
	Error          string       `json:"error,omitempty"`
	Name           string       `json:"name,omitempty"`
	Reputation     float64      `json:"reputation,omitempty"`
	PrevReputation float64      `json:"prev_reputation,omitempty"`
	HasObservation bool         `json:"has_observation,omitempty"`
	Clients        []ClientInfo `json:"clients,omitempty"`
}

// Server is the operator Unix domain socket server.
type Server struct {
	socketPath string
	control    Control
	log        *zap.Logger
	sem        chan struct{} // Semaphore: max concurrent connections.
}

// NewServer creates an operator Server.
func NewServer(socketPath string, control Control, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		control:    control,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the operator socket server.
// Removes any stale socket file before binding. Blocks until ctx is
// cancelled.
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

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "list":
		return s.cmdList()
	case "status":
		return s.cmdStatus(req)
	case "reset":
		return s.cmdReset(req)
	case "republish_config":
		return s.cmdRepublishConfig()
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdList() Response {
	return Response{OK: true, Clients: s.control.ListClients()}
}

func (s *Server) cmdStatus(req Request) Response {
	if req.Name == "" {
		return Response{OK: false, Error: "name required for status"}
	}
	info, ok := s.control.ClientStatus(req.Name)
	if !ok {
		return Response{OK: false, Error: fmt.Sprintf("client %q not registered", req.Name)}
	}
	return Response{
		OK:             true,
		Name:           info.Name,
		Reputation:     info.Reputation,
		HasObservation: info.HasObservation,
	}
}

func (s *Server) cmdReset(req Request) Response {
	if req.Name == "" {
		return Response{OK: false, Error: "name required for reset"}
	}
	prev, err := s.control.ResetReputation(req.Name)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.log.Info("operator: reputation reset",
		zap.String("name", req.Name),
		zap.Float64("prev_reputation", prev))
	return Response{OK: true, Name: req.Name, PrevReputation: prev}
}

func (s *Server) cmdRepublishConfig() Response {
	if err := s.control.RepublishConfig(); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.log.Info("operator: scene configuration republished")
	return Response{OK: true}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
