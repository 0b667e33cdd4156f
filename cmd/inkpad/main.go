package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/inkpad/inkpad"
	"github.com/inkpad/inkpad/internal/config"
	"github.com/inkpad/inkpad/internal/lookup"
	"github.com/inkpad/inkpad/internal/server"
)

func main() {
	cmd := &cli.Command{
		Name:  "inkpad",
		Usage: "Development server for inkpad documents: lookup index, backend proxy, and agent tunnel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "inkpad.yaml",
				Value:       "inkpad.yaml",
				Sources:     cli.EnvVars("INKPAD_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the development server",
				Action: runServe,
			},
			{
				Name:      "index",
				Usage:     "Index markdown documents into the lookup store",
				ArgsUsage: "[dir]",
				Action:    runIndex,
			},
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Println(inkpad.Version)
					return nil
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "inkpad: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	var logger *zap.Logger
	if cfg.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Start(ctx)
}

func runIndex(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	dir := cmd.Args().First()
	if dir == "" {
		dir = cfg.Docs.Dir
	}

	store, err := lookup.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	indexed, err := lookup.IndexDir(ctx, store, dir)
	if err != nil {
		return err
	}
	logger.Info("index complete", zap.String("dir", dir), zap.Int("documents", indexed))
	return nil
}
