// Package phxtest runs an in-process Phoenix socket endpoint. It answers
// joins and heartbeats the way a Phoenix server does and records every frame
// a client writes, so tests can assert on the wire traffic.
package phxtest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/go-phx-channels/phxclient"
)

// SocketPath is where the endpoint is mounted. Clients connect to the base
// URL without the /websocket suffix.
const SocketPath = "/socket/websocket"

// JoinFunc decides the reply status and response for a join
type JoinFunc func(topic string, params json.RawMessage) (status string, response any)

// Frame is one frame received from a client
type Frame struct {
	Raw     []byte
	Message phxclient.Message
	Err     error
}

type serverConn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func (c *serverConn) write(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Server is a fake Phoenix endpoint
type Server struct {
	// Token, when set, must match the token query parameter or the upgrade
	// is refused with 403.
	Token string

	// OnJoin overrides the default "ok" join reply
	OnJoin JoinFunc

	// ReplyHeartbeats controls whether heartbeats get a phx_reply (default true)
	ReplyHeartbeats bool

	logger   zerolog.Logger
	upgrader websocket.Upgrader
	router   chi.Router
	ts       *httptest.Server

	mu      sync.Mutex
	frames  []Frame
	queries []string
	conns   []*serverConn
	changed chan struct{}
}

// New creates a server. Call Start for an httptest listener or mount
// Handler yourself.
func New(logger zerolog.Logger) *Server {
	s := &Server{
		ReplyHeartbeats: true,
		logger:          logger.With().Str("type", "phxtest").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		changed: make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Get(SocketPath, s.handleSocket)
	s.router = r
	return s
}

// Handler returns the router serving the socket endpoint
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on a loopback httptest listener and returns the base URL
// clients should pass to phxclient.Connect.
func (s *Server) Start() string {
	s.ts = httptest.NewServer(s.router)
	return s.URL()
}

// URL returns the ws:// base URL of a started server
func (s *Server) URL() string {
	if s.ts == nil {
		return ""
	}
	return "ws" + strings.TrimPrefix(s.ts.URL, "http") + strings.TrimSuffix(SocketPath, "/websocket")
}

// Close drops every connection and stops the listener
func (s *Server) Close() {
	s.DropConnections()
	if s.ts != nil {
		s.ts.Close()
	}
}

// ListenAndServe serves the endpoint on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.DropConnections()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if s.Token != "" && r.URL.Query().Get("token") != s.Token {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("upgrade failed")
		return
	}

	conn := &serverConn{ws: ws}
	s.mu.Lock()
	s.queries = append(s.queries, r.URL.RawQuery)
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	s.logger.Debug().Str("query", r.URL.RawQuery).Msg("client connected")
	defer func() {
		s.removeConn(conn)
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			s.logger.Debug().Err(err).Msg("client gone")
			return
		}

		msg, err := phxclient.Decode(data)
		s.record(Frame{Raw: data, Message: msg, Err: err})
		if err != nil {
			s.logger.Warn().Err(err).Msg("undecodable frame")
			continue
		}

		if err := s.reply(conn, msg); err != nil {
			s.logger.Debug().Err(err).Msg("reply failed")
			return
		}
	}
}

func (s *Server) removeConn(conn *serverConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conns {
		if c == conn {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

// Conns returns the number of connected clients
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) reply(conn *serverConn, msg phxclient.Message) error {
	switch msg.Event {
	case phxclient.EventJoin:
		status, response := phxclient.StatusOK, any(map[string]any{})
		if s.OnJoin != nil {
			status, response = s.OnJoin(msg.Topic, msg.Payload)
		}
		return s.writeReply(conn, msg, status, response)

	case phxclient.EventLeave:
		return s.writeReply(conn, msg, phxclient.StatusOK, map[string]any{})

	case phxclient.EventHeartbeat:
		if s.ReplyHeartbeats {
			return s.writeReply(conn, msg, phxclient.StatusOK, map[string]any{})
		}
	}
	return nil
}

func (s *Server) writeReply(conn *serverConn, msg phxclient.Message, status string, response any) error {
	data, err := phxclient.Encode(msg.Topic, phxclient.EventReply, map[string]any{
		"status":   status,
		"response": response,
	}, msg.Ref)
	if err != nil {
		return err
	}
	return conn.write(data)
}

func (s *Server) record(f Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// Push broadcasts an envelope with no ref to every connected client
func (s *Server) Push(topic string, event phxclient.Event, payload any) error {
	data, err := phxclient.Encode(topic, event, payload, "")
	if err != nil {
		return err
	}
	return s.PushRaw(data)
}

// PushRaw writes data as a text frame to every connected client
func (s *Server) PushRaw(data []byte) error {
	s.mu.Lock()
	conns := make([]*serverConn, len(s.conns))
	copy(conns, s.conns)
	s.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.write(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DropConnections closes every client connection without a close frame
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
}

// Frames returns a snapshot of every frame received so far
func (s *Server) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Queries returns the raw query string of every accepted upgrade
func (s *Server) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queries))
	copy(out, s.queries)
	return out
}

// WaitForFrame blocks until a decoded frame satisfies match
func (s *Server) WaitForFrame(ctx context.Context, match func(phxclient.Message) bool) (phxclient.Message, error) {
	seen := 0
	for {
		s.mu.Lock()
		frames := s.frames[seen:]
		changed := s.changed
		s.mu.Unlock()

		for _, f := range frames {
			if f.Err == nil && match(f.Message) {
				return f.Message, nil
			}
		}
		seen += len(frames)

		select {
		case <-changed:
		case <-ctx.Done():
			return phxclient.Message{}, ctx.Err()
		}
	}
}
