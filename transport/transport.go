// Package transport owns one TCP connection to a DSU server: framing, the
// join handshake and strictly sequential request/response exchanges.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"dsumsg/protocol"
)

// DefaultPort is the well-known DSU messaging port.
const DefaultPort = "3001"

const (
	defaultDialTimeout     = 10 * time.Second
	defaultExchangeTimeout = 10 * time.Second
	maxFrameSize           = 1 << 20
)

var (
	// ErrUnavailable covers unreachable or refused servers, dropped
	// connections and exchange timeouts.
	ErrUnavailable = errors.New("connection unavailable")
	// ErrNoConnection is returned by operations on a nil Session.
	ErrNoConnection = errors.New("no connection")
	ErrFrameTooLarge = errors.New("frame too large")
)

type Option func(*Session)

func WithDialTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

// WithExchangeTimeout bounds one write-then-read round trip.
func WithExchangeTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.exchangeTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// Session is one connection to a DSU server. A single exchange is in flight
// at a time; RoundTrip holds a mutex from write through read. After a failed
// write or read the connection is closed and the session stays broken.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
	broken bool

	dialTimeout     time.Duration
	exchangeTimeout time.Duration
	log             *slog.Logger
}

func newSession(opts []Option) *Session {
	s := &Session{
		dialTimeout:     defaultDialTimeout,
		exchangeTimeout: defaultExchangeTimeout,
		log:             slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Address returns addr with DefaultPort appended when it carries no port.
func Address(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, DefaultPort)
}

// Connect dials the server. Any failure to reach it is ErrUnavailable.
func Connect(ctx context.Context, addr string, opts ...Option) (*Session, error) {
	s := newSession(opts)
	target := Address(addr)

	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, target, err)
	}
	s.log.Debug("connected", "addr", target)
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	return s, nil
}

// NewSession wraps an established connection.
func NewSession(conn net.Conn, opts ...Option) *Session {
	s := newSession(opts)
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	return s
}

// Join performs the handshake and returns the session token. An error
// response is returned as *protocol.ServerError.
func (s *Session) Join(ctx context.Context, username, password string) (protocol.Token, error) {
	if s == nil || s.conn == nil {
		return "", ErrNoConnection
	}
	resp, err := s.RoundTrip(ctx, protocol.Join{Username: username, Password: password})
	if err != nil {
		return "", err
	}
	if err := resp.Err(); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &protocol.ServerError{Message: "join returned no token"}
	}
	s.log.Debug("joined", "username", username)
	return resp.Token, nil
}

// RoundTrip encodes req, sends it, and decodes exactly one response.
func (s *Session) RoundTrip(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	if s == nil || s.conn == nil {
		return protocol.Response{}, ErrNoConnection
	}
	doc, err := protocol.Encode(req)
	if err != nil {
		return protocol.Response{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken {
		return protocol.Response{}, fmt.Errorf("%w: %s: connection closed after an earlier failure", ErrUnavailable, req.Kind())
	}
	if err := ctx.Err(); err != nil {
		return protocol.Response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	deadline := time.Now().Add(s.exchangeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		s.fail()
		return protocol.Response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer s.conn.SetDeadline(time.Time{})

	// Unblock the exchange when ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := s.conn.Write(Frame(doc)); err != nil {
		s.fail()
		return protocol.Response{}, fmt.Errorf("%w: write %s: %v", ErrUnavailable, req.Kind(), err)
	}

	line, err := ReadFrame(s.reader)
	if err != nil {
		s.fail()
		return protocol.Response{}, fmt.Errorf("%w: read %s: %v", ErrUnavailable, req.Kind(), err)
	}
	return protocol.Decode(line)
}

// fail closes the connection so a late reply can never be read as the answer
// to a later request. Callers hold s.mu.
func (s *Session) fail() {
	s.broken = true
	s.conn.Close()
}

// Close releases the connection. It is safe to call on a nil Session and
// after a failed exchange.
func (s *Session) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Frame appends the wire terminator to an encoded document.
func Frame(doc []byte) []byte {
	framed := make([]byte, 0, len(doc)+len(protocol.Terminator))
	framed = append(framed, doc...)
	return append(framed, protocol.Terminator...)
}

// ReadFrame reads one document up to and excluding its CR LF (or bare LF).
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxFrameSize {
			return nil, ErrFrameTooLarge
		}
		if !isPrefix {
			break
		}
	}
	return bytes.TrimRight(line, "\r"), nil
}
