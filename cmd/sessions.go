package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatrelay/internal/config"
	"github.com/nextlevelbuilder/chatrelay/internal/store"
	"github.com/nextlevelbuilder/chatrelay/internal/store/file"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored conversation checkpoints",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsMigrateCmd())
	return cmd
}

// withStore loads the config and opens its checkpoint store for fn.
func withStore(fn func(ctx context.Context, cfg *config.Config, st store.Store) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, cfg, st)
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, _ *config.Config, st store.Store) error {
				keys, err := st.List(ctx)
				if err != nil {
					return err
				}
				return printSessions(ctx, cmd.OutOrStdout(), st, keys)
			})
		},
	}
}

func printSessions(ctx context.Context, out io.Writer, st store.Store, keys []store.Key) error {
	if len(keys) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAT\tUSER\tPERSONA\tBACKEND\tMESSAGES")
	for _, k := range keys {
		cp, err := st.Load(ctx, k.ChatID, k.UserID)
		if err != nil {
			fmt.Fprintf(w, "%d\t%d\t-\t-\t(unreadable: %v)\n", k.ChatID, k.UserID, err)
			continue
		}
		persona := "-"
		switch {
		case cp.Profile != nil:
			persona = *cp.Profile
		case cp.CustomProfile != nil:
			persona = "custom:" + cp.CustomProfile.Name
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\n", k.ChatID, k.UserID, persona,
			cp.Checkpoint.Backend.String(), len(cp.Checkpoint.ConversationHistory))
	}
	return w.Flush()
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <chat_id> <user_id>",
		Short: "Print one checkpoint as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chat id %q", args[0])
			}
			userID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[1])
			}
			return withStore(func(ctx context.Context, _ *config.Config, st store.Store) error {
				cp, err := st.Load(ctx, chatID, userID)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "    ")
				return enc.Encode(cp)
			})
		},
	}
}

func sessionsMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [legacy-file]",
		Short: "Import a legacy single-file session store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, cfg *config.Config, st store.Store) error {
				path := cfg.Sessions.LegacyFile
				if len(args) == 1 {
					path = args[0]
				}
				if path == "" {
					return fmt.Errorf("no legacy file given and sessions.legacy_file is empty")
				}
				n := file.MigrateLegacy(ctx, config.ExpandHome(path), st)
				fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d session(s) from %s\n", n, path)
				return nil
			})
		},
	}
}
