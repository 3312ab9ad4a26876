// Package rowdb maps between JSON documents and relational rows. Each table
// may carry an ordering column giving its rows array-like positional
// semantics (dense 0..n-1 within any WHERE scope) and a freeform JSON column
// holding fields that have no SQL column of their own.
package rowdb

import (
	"database/sql"
	"sync"

	"github.com/wirehub/wirehub/pkg/log"
)

var logger = log.For("rowdb")

// Options configures which column names play the ordering and freeform JSON
// roles. Tables without those columns get plain row semantics.
type Options struct {
	SortColumn string
	JSONColumn string
}

// DB is a JSON row mapper bound to a SQL database. Safe for concurrent use;
// positional renumbering runs inside a transaction per operation.
type DB struct {
	db         *sql.DB
	sortColumn string
	jsonColumn string

	mu    sync.Mutex
	cache map[string]*TableDesc
}

// New wraps an open database handle.
func New(database *sql.DB, opts Options) *DB {
	return &DB{
		db:         database,
		sortColumn: opts.SortColumn,
		jsonColumn: opts.JSONColumn,
		cache:      map[string]*TableDesc{},
	}
}

// Handle returns the underlying database connection.
func (d *DB) Handle() *sql.DB {
	return d.db
}
