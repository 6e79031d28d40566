package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"dsumsg/config"
)

func newRootCmd() *cobra.Command {
	cfg, err := config.Load(".env")
	if err != nil {
		return &cobra.Command{
			Use:          "dsumsg",
			SilenceUsage: true,
			RunE: func(_ *cobra.Command, _ []string) error {
				return err
			},
		}
	}
	return newRootCmdWithApp(newApp(cfg))
}

func newRootCmdWithApp(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "dsumsg",
		Short:         "Direct messages over a DSU server with a local profile",
		Long:          "dsumsg joins a DSU server as one identity, sends and fetches direct messages, and keeps contacts and history in a local <username>.dsu profile so past conversations stay readable offline.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if a.log == nil {
				a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
					Level: config.ParseLevel(a.cfg.LogLevel),
				}))
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.cfg.Server, "server", "s", a.cfg.Server, "DSU server address (host or host:port, default port 3001)")
	flags.StringVarP(&a.cfg.Username, "user", "u", a.cfg.Username, "username")
	flags.StringVarP(&a.cfg.Password, "password", "p", a.cfg.Password, "password")
	flags.StringVar(&a.cfg.ProfileDir, "profile-dir", a.cfg.ProfileDir, "directory holding <username>.dsu profiles")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newLoginCmd(a),
		newSendCmd(a),
		newPollCmd(a),
		newContactsCmd(a),
		newAddContactCmd(a),
		newHistoryCmd(a),
		newPostCmd(a),
		newBioCmd(a),
	)

	return rootCmd
}
