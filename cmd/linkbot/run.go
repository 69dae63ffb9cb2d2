package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linkbot/internal/bus"
	"linkbot/internal/channel"
	"linkbot/internal/config"
	"linkbot/internal/dispatch"
	"linkbot/internal/domain"
	"linkbot/internal/metrics"
	"linkbot/internal/relay"

	"github.com/spf13/cobra"
)

const (
	busBufferSize   = 100
	shutdownTimeout = 10 * time.Second

	consoleToken           = "console-token"
	consoleFeedbackChannel = "-100"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the Telegram bot",
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, config.ErrMissingConfig) {
			logger.Error("cannot start without required configuration", "err", err)
		}
		return fmt.Errorf("load config: %w", err)
	}

	log, closer, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(busBufferSize, logger)
	loop := newRelay(cfg, messageBus)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Collector.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics endpoint error", "err", err)
			}
		}()
	}

	telegramCh := channel.NewTelegram(channel.TelegramConfig{
		Token:          cfg.Telegram.Token,
		PollTimeout:    cfg.Telegram.PollTimeout,
		SendsPerSecond: cfg.Telegram.SendsPerSecond,
		Debug:          cfg.Telegram.Debug,
		Logger:         logger,
	})
	chErr := make(chan error, 1)
	go func() {
		chErr <- telegramCh.Start(ctx, messageBus)
	}()

	logger.Info("linkbot started. Press Ctrl+C to stop.", "version", version)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-chErr:
		if err != nil {
			runErr = fmt.Errorf("telegram channel: %w", err)
			logger.Error("telegram channel error", "err", err)
		}
		stop()
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		telegramCh.Stop()
		messageBus.Close()
		<-loopDone
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		runErr = errors.Join(runErr, errors.New("shutdown timed out"))
	}
	return runErr
}

func newRelay(cfg *config.Config, messageBus domain.MessageBus) *relay.Loop {
	d := dispatch.New(dispatch.Settings{
		BotToken: cfg.Telegram.Token,
		FileHost: cfg.Telegram.FileHost,
	}, logger)

	return relay.NewLoop(relay.LoopConfig{
		Dispatcher:      d,
		Bus:             messageBus,
		FeedbackChannel: cfg.Telegram.FeedbackChannelID,
		Logger:          logger,
	})
}

func consoleCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Talk to the bot from the terminal instead of Telegram",
		Long: `Runs the same handlers against stdin/stdout. The token and feedback
channel are optional here; placeholders are used when they are not set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(configPath)
			if err != nil {
				return err
			}
			if cfg.Telegram.Token == "" {
				cfg.Telegram.Token = consoleToken
			}
			if cfg.Telegram.FeedbackChannelID == "" {
				cfg.Telegram.FeedbackChannelID = consoleFeedbackChannel
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			// Keep log lines out of the conversation unless asked for.
			level := slog.LevelWarn
			if err := level.UnmarshalText([]byte(os.Getenv(config.EnvLogLevel))); err != nil {
				level = slog.LevelWarn
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			messageBus := bus.New(busBufferSize, logger)
			loop := newRelay(cfg, messageBus)
			console := channel.NewConsole(channel.ConsoleConfig{
				Logger:   logger,
				In:       cmd.InOrStdin(),
				Out:      cmd.OutOrStdout(),
				Username: username,
			})

			loopDone := make(chan struct{})
			go func() {
				defer close(loopDone)
				loop.Run(ctx)
			}()

			err = console.Start(ctx, messageBus)
			messageBus.Close()
			<-loopDone
			return err
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username reported for console messages")
	return cmd
}
