package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dsumsg/config"
	"dsumsg/messenger"
	"dsumsg/models"
	"dsumsg/profile"
	"dsumsg/protocol"
	"dsumsg/transport"
)

var errMissingCredential = errors.New("username and password are required (--user/--password or DSU_USERNAME/DSU_PASSWORD)")

type app struct {
	cfg *config.Config
	log *slog.Logger
	now func() time.Time
}

func newApp(cfg *config.Config) *app {
	return &app{cfg: cfg, now: time.Now}
}

func (a *app) credential() (models.Credential, error) {
	if a.cfg.Username == "" || a.cfg.Password == "" {
		return models.Credential{}, errMissingCredential
	}
	return models.Credential{
		Server:   a.cfg.Server,
		Username: a.cfg.Username,
		Password: a.cfg.Password,
	}, nil
}

func (a *app) profiles() *profile.Dir {
	return profile.NewDir(a.cfg.ProfileDir)
}

// openProfile loads or creates the local profile for the configured
// identity and refuses one that belongs to someone else.
func (a *app) openProfile() (*profile.Profile, models.Credential, error) {
	cred, err := a.credential()
	if err != nil {
		return nil, cred, err
	}
	p, err := a.profiles().Open(cred)
	if err != nil {
		return nil, cred, explain(err)
	}
	return p, cred, nil
}

func (a *app) save(p *profile.Profile) error {
	if err := a.profiles().Save(p); err != nil {
		return explain(err)
	}
	return nil
}

// connect returns an authenticated client or the reason there is none.
func (a *app) connect(ctx context.Context, cred models.Credential) (*messenger.Client, error) {
	client := messenger.New(ctx, cred,
		messenger.WithLogger(a.log),
		messenger.WithClock(a.now),
		messenger.WithTransportOptions(
			transport.WithDialTimeout(a.cfg.DialTimeout),
			transport.WithExchangeTimeout(a.cfg.ExchangeTimeout),
		),
	)
	if !client.Connected() {
		return nil, explain(client.Err())
	}
	return client, nil
}

// explain prefixes err with remediation text for its kind.
func explain(err error) error {
	if err == nil {
		return nil
	}

	var serverErr *protocol.ServerError
	switch {
	case errors.Is(err, transport.ErrUnavailable):
		return fmt.Errorf("can't reach server, check the address and try again: %w", err)
	case errors.As(err, &serverErr):
		return fmt.Errorf("server rejected the request (%s): %w", serverErr.Message, err)
	case errors.Is(err, profile.ErrCredentialMismatch):
		return fmt.Errorf("local profile belongs to a different identity, check username and password: %w", err)
	case errors.Is(err, profile.ErrCorrupt):
		return fmt.Errorf("local profile is corrupted, move it aside to start fresh: %w", err)
	case errors.Is(err, profile.ErrPersistence):
		return fmt.Errorf("local profile storage is unusable, check --profile-dir: %w", err)
	case errors.Is(err, protocol.ErrDecode):
		return fmt.Errorf("server sent a response that could not be understood: %w", err)
	}
	return err
}
