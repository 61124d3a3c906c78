package uds

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
)

const maxLine = 4 * 1024 * 1024

// HandlerFunc processes a request and returns a response data payload or error.
// The peer that sent the request is available through PeerFromContext.
type HandlerFunc func(ctx context.Context, req Message) (any, error)

type peerKey struct{}

// PeerFromContext returns the id of the connection that sent the request.
func PeerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(peerKey{}).(string)
	return id, ok
}

// peer is one client connection. Writes are serialized so that responses
// and pushed events never interleave on the wire.
type peer struct {
	id   string
	conn net.Conn
	wmu  sync.Mutex
}

func (p *peer) write(line []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_, err := p.conn.Write(line)
	return err
}

// Server listens on a Unix domain socket and dispatches NDJSON messages.
type Server struct {
	socketPath   string
	listener     net.Listener
	handlers     map[string]HandlerFunc
	peers        map[string]*peer
	onDisconnect func(peerID string)
	ready        chan struct{}
	mu           sync.RWMutex
	logger       *slog.Logger
}

// NewServer creates a new UDS server.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		peers:      make(map[string]*peer),
		ready:      make(chan struct{}),
		logger:     logger,
	}
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// Ready is closed once the socket accepts connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Handle registers a handler for a method. Register before Start.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.handlers[method] = h
}

// OnDisconnect registers a callback run after a peer's connection closes.
func (s *Server) OnDisconnect(fn func(peerID string)) {
	s.onDisconnect = fn
}

// Start begins listening. It removes any stale socket file first.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("server listening", "socket", s.socketPath)
	close(s.ready)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept error", "err", err)
			continue
		}
		p := &peer{id: uuid.NewString(), conn: conn}
		s.mu.Lock()
		s.peers[p.id] = p
		s.mu.Unlock()
		go s.handleConn(ctx, p)
	}
}

// Broadcast sends an event to all connected clients.
func (s *Server) Broadcast(msg Message) {
	line, err := encode(msg)
	if err != nil {
		s.logger.Error("broadcast marshal error", "err", err)
		return
	}

	s.mu.RLock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	for _, p := range peers {
		if err := p.write(line); err != nil {
			s.logger.Debug("broadcast write error", "peer", p.id, "err", err)
		}
	}
}

// Send pushes a message to a single peer. It reports false if the peer is
// gone or the write failed.
func (s *Server) Send(peerID string, msg Message) bool {
	s.mu.RLock()
	p, ok := s.peers[peerID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	line, err := encode(msg)
	if err != nil {
		s.logger.Error("send marshal error", "err", err)
		return false
	}
	if err := p.write(line); err != nil {
		s.logger.Debug("send write error", "peer", peerID, "err", err)
		return false
	}
	return true
}

// Shutdown cleanly stops the server.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for _, p := range s.peers {
		p.conn.Close()
	}
	s.mu.Unlock()
	os.Remove(s.socketPath)
}

func (s *Server) handleConn(ctx context.Context, p *peer) {
	defer func() {
		p.conn.Close()
		s.mu.Lock()
		delete(s.peers, p.id)
		s.mu.Unlock()
		if s.onDisconnect != nil {
			s.onDisconnect(p.id)
		}
	}()

	ctx = context.WithValue(ctx, peerKey{}, p.id)
	scanner := bufio.NewScanner(p.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.logger.Error("invalid message", "peer", p.id, "err", err)
			continue
		}

		if msg.Type != MsgTypeReq {
			continue
		}

		var resp Message
		handler, ok := s.handlers[msg.Method]
		if !ok {
			resp = NewErrorResponse(msg.ID, msg.Method, fmt.Sprintf("unknown method: %s", msg.Method))
		} else if result, err := handler(ctx, msg); err != nil {
			resp = NewErrorResponse(msg.ID, msg.Method, err.Error())
		} else if resp, err = NewResponse(msg.ID, msg.Method, result); err != nil {
			resp = NewErrorResponse(msg.ID, msg.Method, err.Error())
		}

		line, err := encode(resp)
		if err != nil {
			s.logger.Error("marshal response error", "err", err)
			continue
		}
		if err := p.write(line); err != nil {
			s.logger.Debug("write response error", "peer", p.id, "err", err)
			return
		}
	}
}

func encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
