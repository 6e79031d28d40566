package messenger

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsumsg/models"
	"dsumsg/protocol"
	"dsumsg/server/servertest"
	"dsumsg/transport"
)

var fixedNow = time.Unix(1603167689, 500_000_000)

func newTestClient(t *testing.T, addr, username, password string) *Client {
	t.Helper()

	c := New(context.Background(), models.Credential{
		Server:   addr,
		Username: username,
		Password: password,
	},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixedNow }),
		WithTransportOptions(transport.WithExchangeTimeout(5*time.Second)),
	)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSendThenRetrieveNew(t *testing.T) {
	relay := servertest.Start(t)
	ctx := context.Background()

	alice := newTestClient(t, relay.Addr, "alice", "alice-pw")
	bob := newTestClient(t, relay.Addr, "bob", "bob-pw")
	require.True(t, alice.Connected(), "alice: %v", alice.Err())
	require.True(t, bob.Connected(), "bob: %v", bob.Err())

	sent, err := alice.Send(ctx, "hi", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.NewSent("bob", "hi", "1603167689.5"), sent)

	msgs, err := bob.RetrieveNew(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	sender, ok := msgs[0].Sender()
	assert.True(t, ok)
	assert.Equal(t, "alice", sender)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, protocol.Timestamp("1603167689.5"), msgs[0].Timestamp)

	again, err := bob.RetrieveNew(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestRetrieveAllFromBothSides(t *testing.T) {
	relay := servertest.Start(t)
	ctx := context.Background()

	alice := newTestClient(t, relay.Addr, "alice", "alice-pw")
	bob := newTestClient(t, relay.Addr, "bob", "bob-pw")
	require.True(t, alice.Connected())
	require.True(t, bob.Connected())

	_, err := alice.Send(ctx, "hi", "bob")
	require.NoError(t, err)

	aliceAll, err := alice.RetrieveAll(ctx)
	require.NoError(t, err)
	require.Len(t, aliceAll, 1)
	to, ok := aliceAll[0].Recipient()
	assert.True(t, ok)
	assert.Equal(t, "bob", to)
	_, ok = aliceAll[0].Sender()
	assert.False(t, ok)

	bobAll, err := bob.RetrieveAll(ctx)
	require.NoError(t, err)
	require.Len(t, bobAll, 1)
	from, ok := bobAll[0].Sender()
	assert.True(t, ok)
	assert.Equal(t, "alice", from)
}

func TestRetrieveAllKeepsHistoryAfterRetrieveNew(t *testing.T) {
	relay := servertest.Start(t)
	ctx := context.Background()

	alice := newTestClient(t, relay.Addr, "alice", "alice-pw")
	bob := newTestClient(t, relay.Addr, "bob", "bob-pw")

	_, err := alice.Send(ctx, "one", "bob")
	require.NoError(t, err)
	_, err = bob.Send(ctx, "two", "alice")
	require.NoError(t, err)
	_, err = alice.Send(ctx, "three", "bob")
	require.NoError(t, err)

	_, err = bob.RetrieveNew(ctx)
	require.NoError(t, err)

	all, err := bob.RetrieveAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	assert.Equal(t, []models.DirectMessage{
		models.NewReceived("alice", "one", "1603167689.5"),
		models.NewSent("alice", "two", "1603167689.5"),
		models.NewReceived("alice", "three", "1603167689.5"),
	}, all)
}

func TestRetrieveNewEmpty(t *testing.T) {
	relay := servertest.Start(t)

	c := newTestClient(t, relay.Addr, "alice", "alice-pw")
	msgs, err := c.RetrieveNew(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestSendToUnknownRecipient(t *testing.T) {
	relay := servertest.Start(t)

	c := newTestClient(t, relay.Addr, "alice", "alice-pw")
	_, err := c.Send(context.Background(), "hello?", "nobody")

	var serverErr *protocol.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "Unable to send direct message", serverErr.Message)
}

func TestBadPasswordNeverAuthenticates(t *testing.T) {
	relay := servertest.Start(t)
	require.NoError(t, relay.DB.CreateAccount("alice", "alice-pw"))

	c := newTestClient(t, relay.Addr, "alice", "wrong")
	assert.False(t, c.Connected())
	assert.Nil(t, c.auth)

	var serverErr *protocol.ServerError
	require.ErrorAs(t, c.Err(), &serverErr)
	assert.ErrorIs(t, c.Err(), ErrNotConnected)

	// Nothing below may reach the relay.
	relay.Server.Shutdown()

	ctx := context.Background()
	_, err := c.Send(ctx, "hi", "bob")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NotErrorIs(t, err, transport.ErrUnavailable)

	_, err = c.RetrieveNew(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.RetrieveAll(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.Post(ctx, "entry"), ErrNotConnected)
	assert.ErrorIs(t, c.Bio(ctx, "bio"), ErrNotConnected)
	assert.NoError(t, c.Close())
}

func TestUnreachableServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := newTestClient(t, addr, "alice", "alice-pw")
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Err(), transport.ErrUnavailable)
	_, err = c.Send(context.Background(), "hi", "bob")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPostAndBio(t *testing.T) {
	relay := servertest.Start(t)
	ctx := context.Background()

	c := newTestClient(t, relay.Addr, "alice", "alice-pw")
	require.True(t, c.Connected())

	require.NoError(t, c.Post(ctx, "Hello World!"))
	require.NoError(t, c.Bio(ctx, "I like turtles"))

	posts, err := relay.DB.GetPosts("alice")
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "Hello World!", posts[0].Entry)
	assert.Equal(t, 1603167689.5, posts[0].Timestamp)

	account, err := relay.DB.GetAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, "I like turtles", account.Bio)
}

func TestConnectionLostAfterJoin(t *testing.T) {
	relay := servertest.Start(t)

	c := newTestClient(t, relay.Addr, "alice", "alice-pw")
	require.True(t, c.Connected())

	relay.Server.Shutdown()

	_, err := c.RetrieveNew(context.Background())
	assert.ErrorIs(t, err, transport.ErrUnavailable)
}

func TestUsername(t *testing.T) {
	c := &Client{cred: models.Credential{Username: "alice"}}
	assert.Equal(t, "alice", c.Username())
	assert.ErrorIs(t, c.Err(), ErrNotConnected)
}
