package rowdb

import (
	"fmt"
	"strings"
)

// ColKind classifies a column by its declared SQL type. Coercion of values
// read back from the store is driven by this kind, never by sniffing the
// value itself.
type ColKind int

const (
	KindString ColKind = iota
	KindBool
	KindInt
	KindFloat
)

// TableDesc is the cached description of one table: the typed columns, plus
// the ordering column, freeform JSON column and auto-increment column if the
// table has them. The ordering and JSON columns are not listed in Cols since
// they never appear in documents as regular fields.
type TableDesc struct {
	Cols          map[string]ColKind
	SortColumn    string
	JSONColumn    string
	AutoIncrement string
}

// Describe introspects a table's schema, memoized per table name. A failed
// introspection leaves no cache entry, so the next call retries.
func (d *DB) Describe(table string) (*TableDesc, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc, ok := d.cache[table]; ok {
		return desc, nil
	}

	rows, err := d.db.Query("PRAGMA table_info(" + quoteIdent(table) + ")")
	if err != nil {
		return nil, fmt.Errorf("describing table %s: %w", table, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warnf("failed to close rows: %v", err)
		}
	}()

	desc := &TableDesc{Cols: map[string]ColKind{}}
	found := false
	for rows.Next() {
		var cid, notnull, pk int
		var name, declType string
		var dflt any
		if err := rows.Scan(&cid, &name, &declType, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scanning table_info row for %s: %w", table, err)
		}
		found = true

		typ := strings.ToUpper(declType)
		switch {
		case name == d.sortColumn:
			desc.SortColumn = name
		case name == d.jsonColumn:
			desc.JSONColumn = name
		case strings.Contains(typ, "BOOL") || strings.Contains(typ, "TINYINT(1)"):
			desc.Cols[name] = KindBool
		case strings.Contains(typ, "INT"):
			desc.Cols[name] = KindInt
		case strings.Contains(typ, "REAL") || strings.Contains(typ, "FLOA") || strings.Contains(typ, "DOUB"):
			desc.Cols[name] = KindFloat
		default:
			desc.Cols[name] = KindString
		}

		// INTEGER PRIMARY KEY is the rowid alias, so it auto-increments
		if pk == 1 && typ == "INTEGER" {
			desc.AutoIncrement = name
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading table_info for %s: %w", table, err)
	}
	if !found {
		return nil, fmt.Errorf("describing table %s: no such table", table)
	}

	d.cache[table] = desc
	return desc, nil
}

// mergedDesc combines descriptions across joined tables so read coercion can
// resolve any column regardless of which table it came from.
func (d *DB) mergedDesc(tables []string) (*TableDesc, error) {
	merged := &TableDesc{Cols: map[string]ColKind{}}
	for i, table := range tables {
		desc, err := d.Describe(table)
		if err != nil {
			return nil, err
		}
		for col, kind := range desc.Cols {
			merged.Cols[col] = kind
		}
		if i == 0 {
			merged.SortColumn = desc.SortColumn
			merged.JSONColumn = desc.JSONColumn
			merged.AutoIncrement = desc.AutoIncrement
		}
	}
	return merged, nil
}
