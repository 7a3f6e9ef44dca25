package commands

import (
	"fmt"

	"github.com/davidmoltin/leadflow/pkg/config"
	"github.com/davidmoltin/leadflow/pkg/database"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	migrateDriver string
	downSteps     int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long: `Apply or roll back the embedded PostgreSQL migrations.

The database is read from the server configuration: the --config file
and LEADFLOW_DATABASE_* environment variables.

Examples:
  leadflow migrate up --config config.yaml
  leadflow migrate down --steps 1
  leadflow migrate version`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withMigrator(func(m *database.Migrator) error {
			return m.Up()
		})
		fmt.Println("✅ Database schema is up to date")
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if downSteps <= 0 {
			fail("--steps must be positive; refusing to roll back the whole schema")
		}
		withMigrator(func(m *database.Migrator) error {
			return m.Down(downSteps)
		})
		fmt.Printf("✅ Rolled back %d migration(s)\n", downSteps)
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the applied schema version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withMigrator(func(m *database.Migrator) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(map[string]interface{}{"version": version, "dirty": dirty})
				return nil
			}
			fmt.Printf("Schema version: %d", version)
			if dirty {
				fmt.Print(" (dirty)")
			}
			fmt.Println()
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	migrateCmd.PersistentFlags().StringVar(&migrateDriver, "driver", "postgres", "database/sql driver (postgres or pgx)")
	migrateDownCmd.Flags().IntVar(&downSteps, "steps", 1, "Number of migrations to roll back")
}

func withMigrator(fn func(*database.Migrator) error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fail("Failed to load config: %v", err)
	}

	log, err := logger.New(cfg.Logger.Level, "console")
	if err != nil {
		fail("Failed to create logger: %v", err)
	}
	defer log.Sync()

	migrator, err := database.NewMigrator(migrateDriver, cfg.DatabaseDSN(), log)
	if err != nil {
		fail("%v", err)
	}
	defer migrator.Close()

	if err := fn(migrator); err != nil {
		fail("%v", err)
	}
}
