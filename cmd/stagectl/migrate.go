package main

import (
	"github.com/joshu-sajeev/sourcestage/internal/storage/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openSQL(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		if err := postgres.RunMigrations(cmd.Context(), db); err != nil {
			return err
		}
		cmd.Println("migrations applied")
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations are applied",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openSQL(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		return postgres.MigrationStatus(cmd.Context(), db)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
