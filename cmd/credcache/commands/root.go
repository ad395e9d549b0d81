package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/credcache/internal/app"
	"github.com/florianilch/credcache/internal/observability"
)

const configFlagName = "config"

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand(os.Environ).Run(ctx, args)
}

func newRootCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:  "credcache",
		Usage: "Inspect and edit the persistent token cache",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlagName,
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json|otel)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "store--backend",
				Usage: "storage backend (file|keychain|credman|env), defaults to the platform's native store",
			},
			&cli.StringFlag{
				Name:  "store--file",
				Usage: "token file for the file backend",
			},
			&cli.StringFlag{
				Name:  "store--helper",
				Usage: "credential manager helper command line",
			},
		},
		Commands: []*cli.Command{
			listCommand(environFunc),
			findCommand(environFunc),
			addCommand(environFunc),
			removeCommand(environFunc),
			clearCommand(environFunc),
		},
	}
}

// setup loads configuration, installs logging and builds the App. The
// returned func flushes logging and must be called before returning.
func setup(ctx context.Context, cmd *cli.Command, environFunc func() []string) (*app.App, observability.ShutdownFunc, error) {
	cfg, err := loadConfig(cmd.String(configFlagName), cmd, environFunc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	shutdown, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat), observability.Telemetry{
		Exporter: string(cfg.Telemetry.Exporter),
		Protocol: string(cfg.Telemetry.Protocol),
		Endpoint: cfg.Telemetry.Endpoint,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		_ = shutdown(ctx)
		return nil, nil, fmt.Errorf("failed to create app: %w", err)
	}

	slog.DebugContext(ctx, "token cache ready", "backend", cfg.Store.Backend)
	return application, shutdown, nil
}
