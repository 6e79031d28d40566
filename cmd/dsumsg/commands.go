package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"dsumsg/models"
	"dsumsg/protocol"
)

func newLoginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Join the server and replace the local history with the server's",
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

			all, err := client.RetrieveAll(cmd.Context())
			if err != nil {
				return explain(err)
			}
			p.ReplaceHistory(models.Records(all))
			p.Server = cred.Server
			if err := a.save(p); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s: %d messages, %d contacts\n",
				cred.Username, len(p.Messages()), len(p.Contacts()))
			return nil
		},
	}
}

func newSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <recipient> <message>...",
		Short: "Send a direct message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipient := args[0]
			text := strings.Join(args[1:], " ")

			p, cred, err := a.openProfile()
			if err != nil {
				return err
			}

			client, err := a.connect(cmd.Context(), cred)
			if err != nil {
				return err
			}
			defer client.Close()

			sent, err := client.Send(cmd.Context(), text, recipient)
			if err != nil {
				return explain(err)
			}

			p.Ingest(sent.Record())
			if err := a.save(p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent to %s\n", recipient)
			return nil
		},
	}
}

func newContactsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "List contacts from the local profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, _, err := a.openProfile()
			if err != nil {
				return err
			}
			for _, c := range p.Contacts() {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
}

func newAddContactCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add-contact <username>",
		Short: "Add a contact to the local profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cred, err := a.openProfile()
			if err != nil {
				return err
			}
			if args[0] == cred.Username {
				return errors.New("can't add yourself as a contact")
			}
			if !p.AddContact(args[0]) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already a contact\n", args[0])
				return nil
			}
			if err := a.save(p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", args[0])
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history [contact]",
		Short: "Show saved messages, optionally for one contact",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := a.openProfile()
			if err != nil {
				return err
			}
			records := p.Messages()
			if len(args) == 1 {
				records = p.Conversation(args[0])
			}
			for _, r := range records {
				printRecord(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}
}

func printRecord(w io.Writer, r protocol.MessageRecord) {
	if r.Received() {
		fmt.Fprintf(w, "< %s: %s\n", r.From, r.Message)
		return
	}
	fmt.Fprintf(w, "> %s: %s\n", r.Recipient, r.Message)
}

func newPostCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "post <entry>...",
		Short: "Publish a post",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := a.credential()
			if err != nil {
				return err
			}
			client, err := a.connect(cmd.Context(), cred)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Post(cmd.Context(), strings.Join(args, " ")); err != nil {
				return explain(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "posted")
			return nil
		},
	}
}

func newBioCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bio <text>...",
		Short: "Update the account bio",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := a.credential()
			if err != nil {
				return err
			}
			client, err := a.connect(cmd.Context(), cred)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Bio(cmd.Context(), strings.Join(args, " ")); err != nil {
				return explain(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "bio updated")
			return nil
		},
	}
}
