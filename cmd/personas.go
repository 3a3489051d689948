package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatrelay/internal/channels"
	"github.com/nextlevelbuilder/chatrelay/internal/config"
	"github.com/nextlevelbuilder/chatrelay/internal/personas"
)

func personasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "Inspect the persona catalogue",
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List catalogue personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			reg := personas.NewRegistry(config.ExpandHome(cfg.Personas.Path))
			if err := reg.Reload(); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPRIVATE\tSUMMARY")
			for _, e := range reg.List(all) {
				fmt.Fprintf(w, "%s\t%v\t%s\n", e.Name, e.IsPrivate, channels.Truncate(e.Summary, 60))
			}
			return w.Flush()
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include private personas")

	cmd.AddCommand(list)
	return cmd
}
