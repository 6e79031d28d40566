// Package server is a reference DSU relay for local development and
// integration tests. It speaks the same JSON protocol the client uses.
package server

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"dsumsg/db"
	"dsumsg/protocol"
	"dsumsg/transport"
)

type Server struct {
	db       *db.DB
	config   *ServerConfig
	log      *slog.Logger
	sessions map[protocol.Token]*Session
	conns    map[net.Conn]struct{}
	listener net.Listener
	closed   bool
	mu       sync.RWMutex
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Session is the state of one client connection. A join binds it to a
// username and a token; the token dies with the connection.
type Session struct {
	Username string
	Token    protocol.Token
	Conn     net.Conn
	LastSeen time.Time
	mu       sync.Mutex
}

func New(database *db.DB, config *ServerConfig, logger *slog.Logger) *Server {
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 120 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		db:       database,
		config:   config,
		log:      logger,
		sessions: make(map[protocol.Token]*Session),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start listens on the configured port and serves until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Shutdown closes it.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return net.ErrClosed
	}
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("relay started", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("accept failed", "error", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	s.trackConn(conn, true)
	defer s.trackConn(conn, false)
	defer conn.Close()

	s.log.Debug("client connected", "remote", remoteAddr)

	session := &Session{
		Conn:     conn,
		LastSeen: time.Now(),
	}
	reader := bufio.NewReader(conn)

	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		line, err := transport.ReadFrame(reader)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case errors.As(err, &netErr) && netErr.Timeout():
				s.log.Info("client idle, closing", "remote", remoteAddr, "username", session.Username)
			default:
				s.log.Warn("read failed", "remote", remoteAddr, "error", err)
			}
			break
		}

		if strings.TrimSpace(string(line)) == "" {
			continue
		}

		req, err := protocol.DecodeRequest(line)
		if err != nil {
			s.log.Debug("bad request", "remote", remoteAddr, "error", err)
			s.send(conn, protocol.NewError("Invalid request: "+err.Error()))
			continue
		}

		s.send(conn, s.handleRequest(session, req))
	}

	if session.Token != "" {
		s.removeSession(session.Token)
		s.log.Info("client disconnected", "remote", remoteAddr, "username", session.Username)
	}
}

func (s *Server) send(conn net.Conn, resp protocol.Response) {
	doc, err := protocol.EncodeResponse(resp)
	if err != nil {
		s.log.Error("encode response", "error", err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if _, err := conn.Write(transport.Frame(doc)); err != nil {
		s.log.Warn("write failed", "error", err)
	}
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) addSession(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Token] = session
}

func (s *Server) removeSession(token protocol.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

func (s *Server) getSession(token protocol.Token) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[token]
	return session, ok
}

// Shutdown stops accepting and drops every connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	listener := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.sessions = make(map[protocol.Token]*Session)
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range conns {
		c.Close()
	}
}

// GetStats returns server statistics as a formatted string.
func (s *Server) GetStats() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	for _, sess := range s.sessions {
		users = append(users, sess.Username)
	}

	return "connections=" + strconv.Itoa(len(s.conns)) + ",sessions=" + strconv.Itoa(len(s.sessions)) + ",users=" + strings.Join(users, ";")
}
