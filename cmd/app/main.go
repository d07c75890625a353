package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/raido/internal"
	pkgconfig "github.com/starford/raido/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if path := cmd.String("config"); path != "" {
		if err := pkgconfig.Load(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if v := cmd.String("remote"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func commonOpts(cmd *cli.Command, cfg *internal.Config) []internal.Option {
	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithAllowMissingIDFiles(cmd.Bool("allow-missing-id-files")),
	}
}

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file",
		Sources: cli.EnvVars("RAIDO_CONFIG_FILE"),
	}
	remoteFlag := &cli.StringFlag{
		Name:    "remote",
		Usage:   "Base URL of the modeling service (overrides config)",
		Sources: cli.EnvVars("RAIDO_REMOTE_URL"),
	}
	allowMissingFlag := &cli.BoolFlag{
		Name:  "allow-missing-id-files",
		Usage: "Skip missing idFiles with a warning instead of failing",
	}

	cmd := &cli.Command{
		Name:  "raido",
		Usage: "Apply declarative change manifests to a remote modeling service",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Statically validate a manifest without applying it",
				ArgsUsage: "<manifest>",
				Flags:     []cli.Flag{configFlag, allowMissingFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					path := cmd.Args().First()
					if path == "" {
						return fmt.Errorf("manifest path is required")
					}
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return internal.RunValidate(ctx, path, commonOpts(cmd, cfg)...)
				},
			},
			{
				Name:      "apply",
				Usage:     "Validate and apply a manifest",
				ArgsUsage: "<manifest>",
				Flags: []cli.Flag{configFlag, remoteFlag, allowMissingFlag,
					&cli.StringFlag{
						Name:  "idempotency-key",
						Usage: "Invocation-level idempotency key (manifest's own key wins)",
					},
					&cli.StringFlag{
						Name:  "id-file",
						Usage: "Where to write the symbol side-car (default <manifest>.ids.json)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					path := cmd.Args().First()
					if path == "" {
						return fmt.Errorf("manifest path is required")
					}
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					opts := append(commonOpts(cmd, cfg),
						internal.WithIdempotencyKey(cmd.String("idempotency-key")),
						internal.WithSidecarPath(cmd.String("id-file")),
					)
					return internal.RunApply(ctx, path, opts...)
				},
			},
			{
				Name:      "watch",
				Usage:     "Re-validate a manifest whenever it changes on disk",
				ArgsUsage: "<manifest>",
				Flags:     []cli.Flag{configFlag, allowMissingFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					path := cmd.Args().First()
					if path == "" {
						return fmt.Errorf("manifest path is required")
					}
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return internal.RunWatch(ctx, path, commonOpts(cmd, cfg)...)
				},
			},
			{
				Name:  "history",
				Usage: "List recent applies from the local journal",
				Flags: []cli.Flag{configFlag,
					&cli.IntFlag{Name: "limit", Usage: "Maximum applies to list", Value: 20},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return internal.RunHistory(ctx,
						internal.WithConfig(cfg),
						internal.WithHistoryLimit(int(cmd.Int("limit"))))
				},
			},
			{
				Name:  "mcp",
				Usage: "Serve manifest tools over the Model Context Protocol (stdio)",
				Flags: []cli.Flag{configFlag, remoteFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return internal.RunMCP(ctx, internal.WithConfig(cfg))
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
