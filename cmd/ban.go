package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatrelay/internal/banlist"
	"github.com/nextlevelbuilder/chatrelay/internal/config"
)

func banCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ban",
		Short: "Manage the ban list",
	}
	cmd.AddCommand(banEditCmd("add", "Ban a user id or username", (*banlist.List).Add))
	cmd.AddCommand(banEditCmd("remove", "Lift a ban", (*banlist.List).Remove))
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print banned ids and usernames",
		RunE: func(cmd *cobra.Command, args []string) error {
			bans, err := loadBans()
			if err != nil {
				return err
			}
			entries := bans.Entries()
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Ban list is empty.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintln(cmd.OutOrStdout(), e)
			}
			return nil
		},
	})
	return cmd
}

func banEditCmd(use, short string, edit func(*banlist.List, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bans, err := loadBans()
			if err != nil {
				return err
			}
			if err := edit(bans, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "done.")
			return nil
		},
	}
}

func loadBans() (*banlist.List, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return banlist.Load(config.ExpandHome(cfg.Banlist.Path)), nil
}
