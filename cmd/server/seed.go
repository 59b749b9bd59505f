package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-realtime/internal/app"
	"github.com/vovakirdan/wirechat-realtime/internal/auth"
	"github.com/vovakirdan/wirechat-realtime/internal/config"
	"github.com/vovakirdan/wirechat-realtime/internal/store/sqlite"
)

// withStore opens the configured store for a one-shot command.
func withStore(opts *rootOptions, fn func(cfg *config.Config, st *sqlite.SQLiteStore) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(&cfg, st)
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid user id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withStore(opts, func(cfg *config.Config, st *sqlite.SQLiteStore) error {
				user, err := st.GetUserByID(cmd.Context(), ids[0])
				if err != nil {
					return fmt.Errorf("lookup user %d: %w", ids[0], err)
				}
				token, err := auth.NewService(app.JWTConfig(cfg)).IssueToken(user.ID, user.Username)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
}

func newUserCommand(opts *rootOptions) *cobra.Command {
	var displayName string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(_ *config.Config, st *sqlite.SQLiteStore) error {
				user, err := st.CreateUser(cmd.Context(), args[0], displayName)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %d %s\n", user.ID, user.Username)
				return nil
			})
		},
	}
	add.Flags().StringVar(&displayName, "display-name", "", "name shown to contacts")

	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(add)
	return user
}

func newContactCommand(opts *rootOptions) *cobra.Command {
	add := &cobra.Command{
		Use:   "add <user-id> <contact-id>",
		Short: "Make two users contacts of each other",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withStore(opts, func(_ *config.Config, st *sqlite.SQLiteStore) error {
				if err := st.AddContact(cmd.Context(), ids[0], ids[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "contacts %d <-> %d\n", ids[0], ids[1])
				return nil
			})
		},
	}

	contact := &cobra.Command{Use: "contact", Short: "Manage contact links"}
	contact.AddCommand(add)
	return contact
}

func newConversationCommand(opts *rootOptions) *cobra.Command {
	var name string
	add := &cobra.Command{
		Use:   "add <user-id>...",
		Short: "Create a group conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withStore(opts, func(_ *config.Config, st *sqlite.SQLiteStore) error {
				conv, err := st.CreateConversation(cmd.Context(), name, ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "conversation %s\n", conv.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "conversation name")

	conv := &cobra.Command{Use: "conversation", Short: "Manage group conversations"}
	conv.AddCommand(add)
	return conv
}
