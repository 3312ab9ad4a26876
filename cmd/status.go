package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"
	"github.com/wirehub/wirehub/pkg/config"
	"github.com/wirehub/wirehub/pkg/db"
	"github.com/wirehub/wirehub/pkg/rowdb"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	statusTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("86")).
				Background(lipgloss.Color("235")).
				Padding(0, 1).
				Margin(0, 0, 1, 0)

	statusHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("214")).
				Margin(1, 0, 0, 0)

	statusMetaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

// StatusCommand creates the status command
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show hub status",
		Action: func(ctx context.Context, c *cli.Command) error {
			return showStatus(c.String("config"))
		},
	}
}

// showStatus prints the configuration, migration state, and table counts.
func showStatus(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Println(statusTitleStyle.Render("wirehub status"))

	titleCaser := cases.Title(language.English)
	fmt.Println(statusHeaderStyle.Render(titleCaser.String("configuration")))
	fmt.Printf("  listen address:  %s\n", cfg.ListenAddr)
	fmt.Printf("  database:        %s\n", cfg.DatabasePath)
	fmt.Printf("  table prefix:    %q\n", cfg.TablePrefix)
	fmt.Printf("  session ttl:     %s\n", cfg.SessionTTL)
	fmt.Printf("  handler timeout: %s\n", cfg.HandlerTimeout)
	fmt.Printf("  poll max wait:   %s\n", cfg.PollMaxWait)
	fmt.Printf("  track instances: %v\n", cfg.TrackInstances)

	handle, err := openDatabase(cfg)
	if err != nil {
		fmt.Println(statusMetaStyle.Render("  database not reachable: " + err.Error()))
		return nil
	}
	defer func() {
		if err := handle.Close(); err != nil {
			fmt.Printf("Warning: failed to close database: %v\n", err)
		}
	}()

	fmt.Println(statusHeaderStyle.Render(titleCaser.String("migrations")))
	manager := db.NewMigrationManager(handle, cfg.TablePrefix)
	status, err := manager.Status()
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}
	fmt.Printf("  applied: %d\n", len(status.Applied))
	fmt.Printf("  pending: %d\n", len(status.Pending))

	fmt.Println(statusHeaderStyle.Render(titleCaser.String("tables")))
	rdb := rowdb.New(handle, rowdb.Options{SortColumn: "n", JSONColumn: "json"})
	for _, table := range []string{"users", "instances", "queue"} {
		rows, err := rdb.ReadRows(rowdb.Query{Table: cfg.TablePrefix + table})
		if err != nil {
			fmt.Printf("  %-10s %s\n", table, statusMetaStyle.Render(err.Error()))
			continue
		}
		fmt.Printf("  %-10s %d rows\n", table, len(rows))
	}

	return nil
}
