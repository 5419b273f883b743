package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ayo6706/branch-transactions/internal/app"
	"github.com/ayo6706/branch-transactions/internal/config"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "branch-transactions",
		Usage: "branch teller transaction workflow API",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and background workers",
				Action: withConfig(app.Run),
			},
			{
				Name:   "migrate",
				Usage:  "apply the Postgres schema and exit",
				Action: withConfig(app.Migrate),
			},
		},
		DefaultCommand: "serve",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "application error: %v\n", err)
		os.Exit(1)
	}
}

func withConfig(run func(context.Context, *config.Config) error) cli.ActionFunc {
	return func(ctx context.Context, _ *cli.Command) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return run(ctx, cfg)
	}
}
