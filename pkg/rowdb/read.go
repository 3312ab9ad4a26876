package rowdb

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timeLayout is the storage layout for DATETIME text columns.
const timeLayout = "2006-01-02 15:04:05"

// ReadRows selects rows and reconstructs one JSON document per row. Typed
// columns are coerced per the table description, the freeform JSON column is
// parsed and merged on top, and the ordering column is omitted from the
// result. Joined reads list the primary table first in Tables and describe
// the join in On.
func (d *DB) ReadRows(q Query) ([]map[string]any, error) {
	tables := q.tables()
	primary := tables[0]

	// an On specification implies its tables are part of the read
	if len(tables) == 1 {
		joined := make([]string, 0, len(q.On))
		for table := range q.On {
			joined = append(joined, table)
		}
		if len(joined) > 0 {
			tables = append(tables, joined...)
		}
	}

	desc, err := d.mergedDesc(tables)
	if err != nil {
		return nil, err
	}

	colsStr := columnList(q.Columns, tables)

	onStr, err := onClause(q.On)
	if err != nil {
		return nil, err
	}

	where := q.Where
	if whereMap, ok := where.(map[string]any); ok && len(tables) > 1 {
		where = applyTables(whereMap, primary)
	}
	whereStr, whereArgs, err := whereClause(where)
	if err != nil {
		return nil, err
	}

	orderStr := ""
	if desc.SortColumn != "" {
		orderStr = " ORDER BY " + quoteIdent(desc.SortColumn) + " ASC"
	}
	if q.OrderBy != "" {
		orderStr = " ORDER BY " + q.OrderBy
	}

	query := "SELECT " + colsStr + " FROM " + quoteIdent(primary) + onStr + whereStr + orderStr
	rows, err := d.db.Query(query, whereArgs...)
	if err != nil {
		return nil, fmt.Errorf("reading rows from %s: %w", primary, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warnf("failed to close rows: %v", err)
		}
	}()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	var docs []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		fields := make([]any, len(columns))
		for i := range values {
			fields[i] = &values[i]
		}
		if err := rows.Scan(fields...); err != nil {
			return nil, fmt.Errorf("scanning row from %s: %w", primary, err)
		}

		raw := map[string]any{}
		for i, col := range columns {
			switch v := values[i].(type) {
			case []byte:
				raw[col] = string(v)
			case time.Time:
				// the driver parses DATETIME text into time.Time; hand back
				// the stored layout so round-trips stay string-typed
				raw[col] = v.Format(timeLayout)
			default:
				raw[col] = values[i]
			}
		}
		docs = append(docs, d.decodeRow(desc, raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows from %s: %w", primary, err)
	}

	return docs, nil
}

// ReadOneRow returns the first matching document, or nil when none match.
func (d *DB) ReadOneRow(q Query) (map[string]any, error) {
	docs, err := d.ReadRows(q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

func columnList(columns []string, tables []string) string {
	if len(columns) == 0 {
		if len(tables) == 1 {
			return "*"
		}
		parts := make([]string, len(tables))
		for i, t := range tables {
			parts[i] = quoteIdent(t) + ".*"
		}
		return strings.Join(parts, ", ")
	}

	var parts []string
	if len(tables) == 1 {
		for _, col := range columns {
			parts = append(parts, quoteColumn(col))
		}
	} else {
		// explicit picks apply to the primary table; joined tables contribute
		// all their columns
		for _, col := range columns {
			parts = append(parts, quoteIdent(tables[0])+"."+quoteIdent(col))
		}
		for _, t := range tables[1:] {
			parts = append(parts, quoteIdent(t)+".*")
		}
	}
	return strings.Join(parts, ", ")
}

// decodeRow coerces raw scan results into a JSON document per the cached
// column kinds, then merges the freeform JSON column on top.
func (d *DB) decodeRow(desc *TableDesc, raw map[string]any) map[string]any {
	doc := map[string]any{}
	for col, value := range raw {
		if col == desc.JSONColumn || col == desc.SortColumn {
			continue
		}
		if value == nil {
			doc[col] = nil
			continue
		}
		doc[col] = coerceValue(desc.Cols[col], value)
	}

	if desc.JSONColumn != "" {
		if jsonStr, ok := raw[desc.JSONColumn].(string); ok && jsonStr != "" {
			var freeform map[string]any
			if err := json.Unmarshal([]byte(jsonStr), &freeform); err == nil {
				for key, value := range freeform {
					doc[key] = value
				}
			} else {
				logger.Warnf("unparseable %s column value: %v", desc.JSONColumn, err)
			}
		}
	}

	return doc
}

func coerceValue(kind ColKind, value any) any {
	switch kind {
	case KindBool:
		switch v := value.(type) {
		case bool:
			return v
		case int64:
			return v != 0
		case string:
			return v == "1" || v == "true"
		}
		return value
	case KindInt:
		switch v := value.(type) {
		case int64:
			return int(v)
		case int:
			return v
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return value
	case KindFloat:
		switch v := value.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
		return value
	default:
		// a string column may hold an embedded JSON document
		if s, ok := value.(string); ok {
			trimmed := strings.TrimSpace(s)
			if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
				var parsed any
				if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
					return parsed
				}
			}
		}
		return value
	}
}
