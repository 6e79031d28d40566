package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"dsumsg/messenger"
	"dsumsg/models"
	"dsumsg/profile"
)

func newPollCmd(a *app) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Fetch new messages on an interval and save them to the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, cred, err := a.openProfile()
			if err != nil {
				return err
			}

			client, err := a.connect(cmd.Context(), cred)
			if err != nil {
				return err
			}
			defer client.Close()

			pl := &poller{app: a, client: client, profile: p, out: cmd.OutOrStdout()}
			if once {
				_, err := pl.fetch(cmd.Context())
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return pl.run(ctx, a.cfg.PollInterval)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "fetch once and exit")
	cmd.Flags().DurationVar(&a.cfg.PollInterval, "interval", a.cfg.PollInterval, "poll interval (whole seconds)")
	return cmd
}

// poller funnels every fetch through one goroutine into the profile.
type poller struct {
	app     *app
	client  *messenger.Client
	profile *profile.Profile
	out     io.Writer
}

// fetch pulls new messages, prints them, and persists the profile when
// anything arrived.
func (p *poller) fetch(ctx context.Context) (int, error) {
	msgs, err := p.client.RetrieveNew(ctx)
	if err != nil {
		return 0, explain(err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	p.profile.Ingest(models.Records(msgs)...)
	if err := p.app.save(p.profile); err != nil {
		return 0, err
	}
	for _, m := range msgs {
		printRecord(p.out, m.Record())
	}
	return len(msgs), nil
}

// run schedules fetch every interval until ctx is done. Overlapping ticks
// are skipped.
func (p *poller) run(ctx context.Context, interval time.Duration) error {
	if interval < time.Second {
		interval = time.Second
	}
	logger := cronLogger{log: p.app.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := c.AddFunc("@every "+interval.String(), func() {
		n, err := p.fetch(ctx)
		if err != nil {
			p.app.log.Error("poll failed", "error", err)
			return
		}
		if n > 0 {
			p.app.log.Debug("new messages", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
