package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/KingstonPolyAC/PolyField/internal/log"
	"github.com/KingstonPolyAC/PolyField/internal/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "performs database migration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *store.DB) error {
				if err := db.MigrateUp(); err != nil {
					return err
				}
				return printVersion(cmd, db)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "revert the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *store.DB) error {
				if err := db.MigrateDown(); err != nil {
					return err
				}
				return printVersion(cmd, db)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "set the schema version without migrating, to clear a dirty state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return withDB(func(db *store.DB) error {
				if err := db.MigrateForce(v); err != nil {
					return err
				}
				return printVersion(cmd, db)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *store.DB) error { return printVersion(cmd, db) })
		},
	})
	return cmd
}

func withDB(fn func(*store.DB) error) error {
	if cfg.DBPath == "" {
		return errors.New("no database configured: set --db")
	}
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Logger.Info("using database", log.String("path", cfg.DBPath))
	return fn(db)
}

func printVersion(cmd *cobra.Command, db *store.DB) error {
	v, dirty, err := db.MigrateVersion()
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty)\n", v)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", v)
	return nil
}
