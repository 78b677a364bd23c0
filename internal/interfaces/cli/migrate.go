package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/database/postgres"
)

// NewMigrateCmd creates the migrate command group for the audit schema.
func NewMigrateCmd() *cobra.Command {
	var migrationsPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the audit database schema",
		Long: "Applies, rolls back, or inspects the schema that stores research\n" +
			"runs and their attempt history.",
	}
	cmd.PersistentFlags().StringVar(&migrationsPath, "path", "file://migrations", "migration source path")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			dsn := postgres.BuildDSN(cliCtx.Config.Database)
			if err := postgres.RunMigrations(dsn, migrationsPath); err != nil {
				return err
			}
			PrintSuccess(cmd, "migrations applied")
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll the schema back by N steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			dsn := postgres.BuildDSN(cliCtx.Config.Database)
			if err := postgres.RollbackMigration(dsn, migrationsPath, steps); err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("rolled back %d step(s)", steps))
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			dsn := postgres.BuildDSN(cliCtx.Config.Database)
			version, dirty, err := postgres.MigrationStatus(dsn, migrationsPath)
			if err != nil {
				return err
			}
			if version == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version: %d\ndirty:   %t\n", version, dirty)
			return nil
		},
	}

	var forceVersion int
	force := &cobra.Command{
		Use:   "force",
		Short: "Stamp the schema version without running migrations",
		Long: "Recovery tool for a dirty schema: stamps the version and clears\n" +
			"the dirty flag without executing any migration. Pointing it at the\n" +
			"wrong version leaves the schema inconsistent.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			dsn := postgres.BuildDSN(cliCtx.Config.Database)
			if err := postgres.ForceMigrationVersion(dsn, migrationsPath, forceVersion); err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("schema stamped at version %d", forceVersion))
			return nil
		},
	}
	force.Flags().IntVar(&forceVersion, "version", 0, "version to stamp")
	_ = force.MarkFlagRequired("version")

	cmd.AddCommand(up, down, status, force)
	return cmd
}
