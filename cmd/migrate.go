package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"github.com/wirehub/wirehub/pkg/config"
	"github.com/wirehub/wirehub/pkg/db"
)

// MigrateCommand creates the migrate command
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "status",
				Usage: "Show migration status without applying migrations",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return RunMigrations(c.String("config"), c.Bool("status"))
		},
	}
}

// RunMigrations handles the migration process (exported for testing)
func RunMigrations(configPath string, statusOnly bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	handle, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := handle.Close(); err != nil {
			fmt.Printf("Warning: failed to close database: %v\n", err)
		}
	}()

	manager := db.NewMigrationManager(handle, cfg.TablePrefix)

	if statusOnly {
		status, err := manager.Status()
		if err != nil {
			return fmt.Errorf("getting migration status: %w", err)
		}
		fmt.Printf("Applied migrations: %d\n", len(status.Applied))
		for _, m := range status.Applied {
			fmt.Printf("  %03d %s (applied %s)\n", m.Version, m.Name, m.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("Pending migrations: %d\n", len(status.Pending))
		for _, m := range status.Pending {
			fmt.Printf("  %03d %s\n", m.Version, m.Name)
		}
		return nil
	}

	if err := manager.ApplyPendingMigrations(); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	fmt.Println("All migrations completed successfully")
	return nil
}
