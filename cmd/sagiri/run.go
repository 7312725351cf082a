package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/PoiScript/sagiri/internal/commander"
	"github.com/PoiScript/sagiri/internal/config"
	"github.com/PoiScript/sagiri/internal/db"
	"github.com/PoiScript/sagiri/internal/dummy"
	"github.com/PoiScript/sagiri/internal/handler"
	"github.com/PoiScript/sagiri/internal/kitsu"
	"github.com/PoiScript/sagiri/internal/registry"
	"github.com/PoiScript/sagiri/internal/telegram"
	"github.com/PoiScript/sagiri/internal/worker"
)

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll Telegram and answer commands until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.setup(true)
			if err != nil {
				return err
			}
			database, err := openStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer database.Close()

			chat, err := newCommander(cmd.Context(), cfg, a.logger)
			if err != nil {
				return fmt.Errorf("failed to init commander: %w", err)
			}
			return runBot(cmd.Context(), cfg, database, chat, a.logger)
		},
	}
}

// newCommander builds the chat backend selected by SAGIRI_SOURCE.
func newCommander(ctx context.Context, cfg config.Config, logger *zap.Logger) (commander.Commander, error) {
	if cfg.Source == "dummy" {
		return dummy.NewCommander(cfg.DummyPollScript, cfg.DummySendScript,
			dummy.WithSender(cfg.DummyChatID, cfg.DummySenderID),
			dummy.WithLogger(logger.Named("dummy")),
		)
	}

	client := telegram.NewClient(
		telegram.BotURL(cfg.TelegramAPIBase, cfg.TelegramToken),
		cfg.RequestTimeout(),
		telegram.WithLimiter(rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst)),
		telegram.WithLogger(logger.Named("telegram")),
	)
	me, err := client.GetMe(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to telegram", zap.Int64("bot_id", me.ID), zap.String("username", me.Username))
	return client, nil
}

// runBot wires the bot together and blocks until ctx is cancelled.
func runBot(ctx context.Context, cfg config.Config, database *sql.DB, chat commander.Commander, logger *zap.Logger) error {
	events := worker.NewEventLog(database, logger.Named("events"))
	processID := events.Log(nil, db.EventProcessStarted, map[string]any{
		"pid":          os.Getpid(),
		"source":       cfg.Source,
		"poll_timeout": cfg.PollTimeoutSeconds,
	})

	users := registry.New(database,
		registry.WithRemote(cfg.RegistryURL, cfg.RegistryToken),
		registry.WithLogger(logger.Named("registry")),
	)
	library := kitsu.NewClient(cfg.KitsuAPIBase,
		kitsu.WithPageLimit(cfg.KitsuPageLimit),
		kitsu.WithLogger(logger.Named("kitsu")),
	)
	router := handler.NewRouter(chat, library, users, logger.Named("handler"))
	supervisor := worker.NewSupervisor(chat, router, cfg.Policy(),
		worker.WithPollTimeout(cfg.PollTimeoutSeconds),
		worker.WithEvents(events, processID),
		worker.WithSupervisorLogger(logger.Named("supervisor")),
	)

	logger.Info("sagiri running",
		zap.String("source", cfg.Source),
		zap.String("kitsu", cfg.KitsuAPIBase),
		zap.Bool("registry_remote", users.HasRemote()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(gctx) })
	if every := cfg.RegistryRefreshEvery(); every > 0 {
		g.Go(func() error {
			return worker.RunRefresher(gctx, users, every, events, processID, logger.Named("refresher"))
		})
	}
	err := g.Wait()
	logger.Info("sagiri stopped")
	return err
}
