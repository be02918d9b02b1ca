package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/telemost/switchboard/internal/config"
	"github.com/telemost/switchboard/internal/db"
)

func newMigrateCmd() *cobra.Command {
	var (
		configPath string
		createDB   bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long:  "Connects to MySQL and runs auto-migration for all Switchboard tables. Safe to run multiple times.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.OutOrStdout(), configPath, createDB)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "swb.yaml", "path to config file")
	cmd.Flags().BoolVar(&createDB, "create-db", false, "create the database first if it does not exist")
	return cmd
}

func runMigrate(out io.Writer, configPath string, createDB bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if createDB {
		adminDB, err := db.ConnectAdmin(cfg.DB)
		if err != nil {
			return err
		}
		if err := db.CreateDatabase(adminDB, cfg.DB.Database); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready.\n", cfg.DB.Database)
	}

	gdb, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return err
	}
	fmt.Fprintln(out, "Migration complete.")
	return nil
}
