package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/openmined/kbsync/internal/config"
	"github.com/openmined/kbsync/internal/version"
	"github.com/spf13/cobra"
)

// exitError carries a process exit code through cobra
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}

// cli is the state shared by all commands of one invocation
type cli struct {
	cfg       *config.Config
	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "kbsync",
		Short:         "Mirror wiki spaces into object storage and keep a knowledge base index in step",
		Version:       version.Detailed(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[annotationNoConfig] == "true" {
				return nil
			}
			return c.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.logCloser != nil {
				return c.logCloser.Close()
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("config", "c", "", "config file (default kbsync.{yaml,json,toml} in . or ~/.kbsync)")
	flags.String("env-file", config.DefaultEnvFile, "dotenv file loaded before the environment")
	flags.StringP("data-dir", "d", config.DefaultDataDir, "local data directory for logs and locks")
	flags.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.String("log-file", "", "also write JSON logs to this file, rotated")

	rootCmd.AddCommand(
		newSyncCmd(c),
		newCheckCmd(c),
		newEventCmd(c),
		newJobCmd(c),
		newServeCmd(c),
		newLedgerCmd(c),
		newVersionCmd(),
	)
	return rootCmd
}

// setup loads the configuration and installs the logger
func (c *cli) setup(cmd *cobra.Command) error {
	v := config.NewViper()
	flags := cmd.Flags()
	_ = v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.file", flags.Lookup("log-file"))

	configFile, _ := flags.GetString("config")
	envFile, _ := flags.GetString("env-file")

	cfg, err := config.Load(v, config.LoadOptions{
		ConfigFile: configFile,
		EnvFile:    envFile,
	})
	if err != nil {
		return err
	}
	c.cfg = cfg

	closer, err := setupLogging(cmd.ErrOrStderr(), cfg, cmd.Annotations[annotationFileLog] == "true")
	if err != nil {
		return err
	}
	c.logCloser = closer
	return nil
}

func main() {
	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.msg != "" {
			fmt.Fprintln(stderr, "Error:", exitErr.msg)
		}
		return exitErr.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return 1
}
