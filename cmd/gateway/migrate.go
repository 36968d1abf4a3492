package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"modelcache-gateway/internal/analytics"
	"modelcache-gateway/internal/config"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the model inference cache table in the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), cfg.Analytics, cmd.OutOrStdout())
		},
	}
}

func migrate(ctx context.Context, cfg analytics.Config, out io.Writer) error {
	if cfg.Backend == analytics.BackendRedis {
		_, err := fmt.Fprintln(out, "redis backend needs no migration")
		return err
	}

	store, err := analytics.NewStore(cfg, nil)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	// sqlite creates its schema on open
	if m, ok := store.(migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(out, "%s: %s ready\n", cfg.Backend, analytics.ModelInferenceCacheTable)
	return err
}
