// Package messenger is the authenticated DSU client: send a direct message,
// fetch new messages, fetch the full history.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dsumsg/models"
	"dsumsg/protocol"
	"dsumsg/transport"
)

// ErrNotConnected is returned without any I/O when the client holds no
// session token.
var ErrNotConnected = errors.New("not connected")

// authSession pairs a live session with the token its join returned.
type authSession struct {
	session *transport.Session
	token   protocol.Token
}

// Client is safe for concurrent use; exchanges are serialized by the
// underlying session.
type Client struct {
	cred    models.Credential
	auth    *authSession
	joinErr error

	log       *slog.Logger
	now       func() time.Time
	transport []transport.Option
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock sets the source of outgoing request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Client) {
		c.transport = append(c.transport, opts...)
	}
}

// New connects to cred.Server and joins as cred.Username. It never fails:
// when no token is obtained the client stays unauthenticated for its
// lifetime and Err reports why.
func New(ctx context.Context, cred models.Credential, opts ...Option) *Client {
	c := &Client{
		cred: cred,
		log:  slog.Default(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("username", cred.Username)

	topts := append([]transport.Option{transport.WithLogger(c.log)}, c.transport...)
	session, err := transport.Connect(ctx, cred.Server, topts...)
	if err != nil {
		c.log.Warn("connect failed", "server", cred.Server, "error", err)
		c.joinErr = err
		return c
	}

	token, err := session.Join(ctx, cred.Username, cred.Password)
	if err != nil {
		c.log.Warn("join failed", "server", cred.Server, "error", err)
		session.Close()
		c.joinErr = err
		return c
	}

	c.auth = &authSession{session: session, token: token}
	return c
}

// Connected reports whether the join produced a token.
func (c *Client) Connected() bool {
	return c.auth != nil
}

// Err returns the reason the client is not connected, or nil.
func (c *Client) Err() error {
	if c.auth != nil {
		return nil
	}
	return c.notConnected()
}

func (c *Client) Username() string {
	return c.cred.Username
}

// Close releases the connection.
func (c *Client) Close() error {
	if c.auth == nil {
		return nil
	}
	return c.auth.session.Close()
}

func (c *Client) notConnected() error {
	if c.joinErr != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, c.joinErr)
	}
	return ErrNotConnected
}

func (c *Client) authenticated() (*authSession, error) {
	if c.auth == nil {
		return nil, c.notConnected()
	}
	return c.auth, nil
}

// exchange performs one round trip and turns an error status into a
// *protocol.ServerError.
func (c *Client) exchange(ctx context.Context, auth *authSession, req protocol.Request) (protocol.Response, error) {
	resp, err := auth.session.RoundTrip(ctx, req)
	if err != nil {
		return protocol.Response{}, err
	}
	if err := resp.Err(); err != nil {
		return protocol.Response{}, err
	}
	return resp, nil
}

// Send delivers text to recipient. It returns nil iff the server answered ok,
// along with the sent message stamped with the time that went on the wire.
func (c *Client) Send(ctx context.Context, text, recipient string) (models.DirectMessage, error) {
	auth, err := c.authenticated()
	if err != nil {
		return models.DirectMessage{}, err
	}
	ts := protocol.UnixSeconds(c.now())
	_, err = c.exchange(ctx, auth, protocol.DirectMessageSend{
		Token:     auth.token,
		Entry:     text,
		Recipient: recipient,
		Timestamp: ts,
	})
	if err != nil {
		return models.DirectMessage{}, fmt.Errorf("send to %s: %w", recipient, err)
	}
	return models.NewSent(recipient, text, protocol.FormatSeconds(ts)), nil
}

// RetrieveNew returns messages delivered since the last call. The server
// drops them from its "new" queue once returned. Every message is received.
func (c *Client) RetrieveNew(ctx context.Context) ([]models.DirectMessage, error) {
	records, err := c.list(ctx, protocol.ListNew)
	if err != nil {
		return nil, err
	}
	msgs := make([]models.DirectMessage, 0, len(records))
	for i, r := range records {
		if r.From == "" || r.Recipient != "" {
			return nil, fmt.Errorf("%w: new message %d is not a received message", protocol.ErrDecode, i)
		}
		msgs = append(msgs, models.NewReceived(r.From, r.Message, r.Timestamp))
	}
	return msgs, nil
}

// RetrieveAll returns the full history, sent and received, in server order.
func (c *Client) RetrieveAll(ctx context.Context) ([]models.DirectMessage, error) {
	records, err := c.list(ctx, protocol.ListAll)
	if err != nil {
		return nil, err
	}
	msgs := make([]models.DirectMessage, 0, len(records))
	for i, r := range records {
		m, err := models.FromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (c *Client) list(ctx context.Context, mode protocol.ListMode) ([]protocol.MessageRecord, error) {
	auth, err := c.authenticated()
	if err != nil {
		return nil, err
	}
	resp, err := c.exchange(ctx, auth, protocol.DirectMessageList{Token: auth.token, Mode: mode})
	if err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", mode, err)
	}
	records, ok := resp.List()
	if !ok {
		return nil, fmt.Errorf("%w: retrieve %s: response has no message list", protocol.ErrDecode, mode)
	}
	return records, nil
}

// Post publishes a journal entry.
func (c *Client) Post(ctx context.Context, entry string) error {
	auth, err := c.authenticated()
	if err != nil {
		return err
	}
	_, err = c.exchange(ctx, auth, protocol.Post{
		Token:     auth.token,
		Entry:     entry,
		Timestamp: protocol.UnixSeconds(c.now()),
	})
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	return nil
}

// Bio replaces the account bio.
func (c *Client) Bio(ctx context.Context, entry string) error {
	auth, err := c.authenticated()
	if err != nil {
		return err
	}
	_, err = c.exchange(ctx, auth, protocol.Bio{
		Token:     auth.token,
		Entry:     entry,
		Timestamp: protocol.UnixSeconds(c.now()),
	})
	if err != nil {
		return fmt.Errorf("bio: %w", err)
	}
	return nil
}
