package main

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/openmined/kbsync/internal/wiki"
	"github.com/openmined/kbsync/internal/wikisync"
	"github.com/openmined/kbsync/internal/workspace"
	"github.com/spf13/cobra"
)

func newSyncCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one incremental walk of the configured wiki spaces",
		Long: `Walks every configured wiki space, uploads new and changed documents as
markdown, removes objects for deleted documents and prints the run report as
JSON. Exits with status 1 when the report code is not 0.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			if err := cfg.ValidateSync(); err != nil {
				return err
			}
			slog.Debug("config", "config", cfg)

			ws, err := workspace.NewWorkspace(cfg.DataDir)
			if err != nil {
				return err
			}
			if err := ws.Lock(); err != nil {
				return err
			}
			defer func() {
				if err := ws.Unlock(); err != nil {
					slog.Warn("workspace unlock", "error", err)
				}
			}()

			syncer, err := newSyncer(cmd.Context(), cfg, newExecutor(cfg))
			if err != nil {
				return err
			}

			report := syncer.Run(cmd.Context())
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.OK() {
				return &exitError{code: 1, msg: fmt.Sprintf("sync finished with code %d: %s", report.Code, report.Message)}
			}
			return nil
		},
	}
	return cmd
}

func newCheckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify wiki credentials and list the visible spaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			// check is how operators discover the names to configure
			if err := cfg.Wiki.Validate(); err != nil && !errors.Is(err, wiki.ErrNoTargets) {
				return fmt.Errorf("wiki: %w", err)
			}

			// no object store is needed to verify credentials
			syncer := wikisync.New(wiki.NewClient(&cfg.Wiki), nil, nil, newExecutor(cfg), cfg.SyncOptions())
			spaces, err := syncer.Check(cmd.Context())
			if err != nil {
				return fmt.Errorf("auth check failed: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SPACE ID\tNAME")
			for _, sp := range spaces {
				fmt.Fprintf(tw, "%s\t%s\n", sp.ID, sp.Name)
			}
			return tw.Flush()
		},
	}
}
