package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/onlinewallet/onlinewallet/internal/infra"
)

func newMigrateCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:       "migrate [up|down|status|version|redo]",
		Short:     "Apply the Postgres schema migrations",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "status", "version", "redo"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if to != "" && len(args) > 0 {
				return fmt.Errorf("--to cannot be combined with %q", args[0])
			}
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			return runMigrate(cmd.Context(), command, to)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "migrate up or down to this version instead")
	return cmd
}

func runMigrate(ctx context.Context, command, to string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	url := os.Getenv("DATABASE_URL")
	backend, err := infra.BackendFor(url)
	if err != nil {
		return err
	}
	if backend != infra.BackendPostgres {
		return fmt.Errorf("migrate requires a postgres DATABASE_URL, got %s backend", backend)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	pool, err := infra.NewPostgresPool(ctx, url)
	if err != nil {
		return err
	}
	defer pool.Close()

	if to != "" {
		return infra.MigrateTo(ctx, pool, to)
	}
	return infra.Migrate(ctx, pool, command)
}
