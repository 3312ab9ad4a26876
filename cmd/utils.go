package cmd

import (
	"database/sql"
	"fmt"

	"github.com/wirehub/wirehub/pkg/config"
	"github.com/wirehub/wirehub/pkg/db"
)

// openDatabase opens the configured database file.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	handle, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.DatabasePath, err)
	}
	return handle, nil
}
