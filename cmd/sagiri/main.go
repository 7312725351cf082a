// Command sagiri is a Telegram bot for browsing and updating a Kitsu
// anime library.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PoiScript/sagiri/internal/config"
	"github.com/PoiScript/sagiri/internal/db"
	"github.com/PoiScript/sagiri/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// app holds the state shared by subcommands.
type app struct {
	envFile string
	out     io.Writer
	logger  *zap.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:   "sagiri",
		Short: "Telegram bot for a Kitsu anime library",
		Long: `sagiri answers /list in Telegram with your current and planned anime
from Kitsu and lets you page through them, open details, bump progress and
mark shows completed with inline buttons.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnvFile(a.envFile)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "load environment variables from a .env file first")

	root.AddCommand(a.runCmd(), a.usersCmd(), a.eventsCmd())
	return root
}

// setup loads configuration and builds the logger. online selects the
// checks needed to talk to Telegram.
func (a *app) setup(online bool) (config.Config, error) {
	load := config.LoadOffline
	if online {
		load = config.Load
	}
	cfg, err := load()
	if err != nil {
		return config.Config{}, err
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return config.Config{}, err
	}
	a.logger = logger
	return cfg, nil
}

// openStore opens the database and creates missing tables.
func openStore(path string) (*sql.DB, error) {
	database, err := db.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return database, nil
}
