package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newLedgerCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the persisted sync ledger",
	}
	cmd.AddCommand(newLedgerShowCmd(c), newLedgerOrphansCmd(c))
	return cmd
}

func newLedgerShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print a summary of the ledger as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			if err := cfg.ValidateStorage(); err != nil {
				return err
			}
			store, _, err := newLedgerStore(cmd.Context(), cfg, newExecutor(cfg))
			if err != nil {
				return err
			}
			l, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), l.Summary())
		},
	}
}

func newLedgerOrphansCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "orphans",
		Short: "List objects under the prefix that no ledger record references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			if err := cfg.ValidateStorage(); err != nil {
				return err
			}
			store, _, err := newLedgerStore(cmd.Context(), cfg, newExecutor(cfg))
			if err != nil {
				return err
			}
			l, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			orphans, err := store.Orphans(cmd.Context(), l, cfg.Storage.Prefix)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSIZE\tLAST MODIFIED")
			for _, obj := range orphans {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", obj.Key, humanize.IBytes(uint64(obj.Size)), obj.LastModified)
			}
			return tw.Flush()
		},
	}
}
