// Package ipc is the local control socket: one JSON request and one JSON
// reply per connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	log "log/slog"
)

const DefaultSocketPath = "/tmp/aegis.sock"

const (
	CmdSpeak   = "speak"   // queue Text at normal priority
	CmdSayNow  = "say-now" // queue Text ahead of everything else
	CmdTrigger = "trigger" // push-to-talk
	CmdRetry   = "retry"   // re-open voice input
	CmdStatus  = "status"
	CmdStop    = "stop"
)

type ControlMessage struct {
	Cmd  string `json:"cmd"`
	Text string `json:"text,omitempty"`
}

type Status struct {
	Phase    string `json:"phase"`
	State    string `json:"state"`
	TextOnly bool   `json:"text_only"`
	Speaking bool   `json:"speaking"`
	Pending  int    `json:"pending"`
}

type Reply struct {
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
	ID     string  `json:"id,omitempty"`
	Status *Status `json:"status,omitempty"`
}

// Fail builds an error reply.
func Fail(err error) Reply { return Reply{Error: err.Error()} }

type Handler func(ctx context.Context, msg ControlMessage) Reply

type Server struct {
	path    string
	ln      net.Listener
	handler Handler
	conns   sync.WaitGroup
}

// Listen binds the socket, replacing a stale one left by a crashed daemon.
func Listen(path string, handler Handler) (*Server, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	if conn, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		conn.Close()
		return nil, fmt.Errorf("another daemon is listening on %s", path)
	}
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &Server{path: path, ln: ln, handler: handler}, nil
}

// Serve accepts connections until ctx is done, then waits for in-flight
// requests and removes the socket.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	defer func() {
		s.conns.Wait()
		os.Remove(s.path)
	}()

	log.Info("Control socket listening", "path", s.path)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("Accept failed", "err", err)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Debug("Bad control message", "err", err)
		json.NewEncoder(conn).Encode(Fail(fmt.Errorf("decode: %w", err)))
		return
	}
	log.Debug("Control message", "cmd", msg.Cmd)

	reply := s.handler(ctx, msg)
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Debug("Failed to write reply", "err", err)
	}
}

// Send delivers msg to the daemon at path and returns its reply.
func Send(path string, msg ControlMessage) (Reply, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(15 * time.Second))

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Reply{}, err
	}
	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	if !reply.OK && reply.Error != "" {
		return reply, errors.New(reply.Error)
	}
	return reply, nil
}
