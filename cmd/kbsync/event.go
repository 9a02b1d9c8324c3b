package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newEventCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "event [file|-]",
		Short: "Dispatch a storage change notification to the knowledge base",
		Long: `Reads an object storage notification (raw JSON or base64) from a file or
stdin, applies each record to the knowledge base index and prints the
results as JSON. Exits with status 1 when any record failed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			if err := cfg.ValidateEvents(); err != nil {
				return err
			}

			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			dispatcher, err := newDispatcher(cmd.Context(), cfg, newExecutor(cfg))
			if err != nil {
				return err
			}
			results, err := dispatcher.HandleNotification(cmd.Context(), data)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}

			failed := 0
			for _, res := range results {
				if !res.Success {
					failed++
				}
			}
			if failed > 0 {
				return &exitError{code: 1, msg: fmt.Sprintf("%d of %d events failed", failed, len(results))}
			}
			return nil
		},
	}
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func newJobCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show the status of a knowledge base upload job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			if err := cfg.ValidateEvents(); err != nil {
				return err
			}
			dispatcher, err := newDispatcher(cmd.Context(), cfg, newExecutor(cfg))
			if err != nil {
				return err
			}
			status, err := dispatcher.JobStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), status)
		},
	}
}
