// Package servertest starts an in-process relay backed by a temporary
// sqlite database, for tests of code that talks to a DSU server.
package servertest

import (
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"dsumsg/db"
	"dsumsg/server"
)

type Relay struct {
	Addr   string
	Server *server.Server
	DB     *db.DB
}

// Start runs a relay on a loopback port until the test ends.
func Start(t testing.TB) *Relay {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open relay database: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		database.Close()
		t.Fatalf("listen: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := server.New(database, &server.ServerConfig{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
	}, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(listener)
	}()

	t.Cleanup(func() {
		srv.Shutdown()
		<-done
		database.Close()
	})

	return &Relay{Addr: listener.Addr().String(), Server: srv, DB: database}
}
