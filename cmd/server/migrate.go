package main

import (
	"fmt"
	"io/fs"
	"os"

	gormrepo "animstream/internal/adapter/repo/gorm"
	"animstream/internal/config"
	"animstream/migrations"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations to the configured database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			ctx := cmd.Context()

			switch cfg.DBDriver {
			case config.DriverPostgres:
				db, err := gormrepo.OpenPostgres(cfg.DBDSN)
				if err != nil {
					return err
				}
				defer func() { _ = gormrepo.Close(db) }()
				applied, err := gormrepo.ApplyMigrations(ctx, db, migrationSource(dir))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", len(applied))
				return nil
			case config.DriverSQLite:
				db, err := gormrepo.OpenSQLite(cfg.DBDSN)
				if err != nil {
					return err
				}
				defer func() { _ = gormrepo.Close(db) }()
				if err := gormrepo.AutoMigrate(ctx, db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "sqlite schema up to date")
				return nil
			default:
				return fmt.Errorf("driver %q has no schema to migrate", cfg.DBDriver)
			}
		},
	}
	cmd.Flags().StringVar(&dir, "migrations", "", "directory of *.sql migrations (defaults to the embedded set)")
	return cmd
}

func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}
