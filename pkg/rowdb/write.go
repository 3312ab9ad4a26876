package rowdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// splitValues divides a document into values destined for typed SQL columns
// and the remainder, which goes into the freeform JSON column.
func splitValues(desc *TableDesc, values map[string]any) (sqlVals, jsonMap map[string]any) {
	sqlVals = map[string]any{}
	jsonMap = map[string]any{}
	for key, value := range values {
		jsonMap[key] = value
	}
	for col, kind := range desc.Cols {
		value, ok := jsonMap[col]
		if !ok {
			continue
		}
		if kindAccepts(kind, value) {
			sqlVals[col] = value
			delete(jsonMap, col)
		}
	}
	return sqlVals, jsonMap
}

func kindAccepts(kind ColKind, value any) bool {
	if value == nil {
		return true
	}
	switch kind {
	case KindString:
		return true
	case KindBool:
		_, ok := value.(bool)
		return ok
	case KindInt:
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case KindFloat:
		switch value.(type) {
		case float32, float64, int, int64:
			return true
		}
		return false
	}
	return false
}

// encodeValue prepares a document value for use as a bound SQL parameter.
func encodeValue(value any) any {
	switch v := value.(type) {
	case nil, bool, int, int64, float32, float64, string, []byte:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

func encodeJSONMap(jsonMap map[string]any) string {
	encoded, err := json.Marshal(jsonMap)
	if err != nil || string(encoded) == "" || string(encoded) == "[]" || string(encoded) == "null" {
		return "{}"
	}
	return string(encoded)
}

// appendCond extends a WHERE fragment with one more condition.
func appendCond(base, cond string) string {
	if base == "" {
		return " WHERE " + cond
	}
	return base + " AND " + cond
}

// scopeLen returns the number of positions in the ordering scope, one past
// the current maximum ordering value.
func scopeLen(tx *sql.Tx, table, sortCol, whereStr string, whereArgs []any) (int, error) {
	query := "SELECT COALESCE(MAX(" + quoteIdent(sortCol) + "), -1) + 1 FROM " + quoteIdent(table) + whereStr
	var nLen int
	if err := tx.QueryRow(query, whereArgs...).Scan(&nLen); err != nil {
		return 0, fmt.Errorf("reading ordering scope of %s: %w", table, err)
	}
	return nLen, nil
}

func (d *DB) begin() (*sql.Tx, func(*bool), error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	finish := func(committed *bool) {
		if !*committed {
			if err := tx.Rollback(); err != nil {
				logger.Warnf("failed to rollback transaction: %v", err)
			}
		}
	}
	return tx, finish, nil
}

// InsertRow inserts one document. On ordered tables the new row lands at
// position N within the WHERE scope, shifting rows at or after N up by one;
// N of -1 (or unset) appends. Returns the document merged with any assigned
// auto-increment id.
func (d *DB) InsertRow(q Query) (map[string]any, error) {
	desc, err := d.Describe(q.Table)
	if err != nil {
		return nil, err
	}

	whereStr, whereArgs, err := whereClause(q.Where)
	if err != nil {
		return nil, err
	}

	values := map[string]any{}
	for key, value := range q.Values {
		values[key] = value
	}
	sqlVals, jsonMap := splitValues(desc, values)

	tx, finish, err := d.begin()
	if err != nil {
		return nil, err
	}
	committed := false
	defer finish(&committed)

	if desc.SortColumn != "" {
		nLen, err := scopeLen(tx, q.Table, desc.SortColumn, whereStr, whereArgs)
		if err != nil {
			return nil, err
		}
		n := intArg(q.N, -1)
		if n == -1 {
			n = nLen
		}
		if n < 0 || n > nLen {
			return nil, errors.New("`n` value out of range")
		}
		if n < nLen {
			shift := "UPDATE " + quoteIdent(q.Table) + " SET " + quoteIdent(desc.SortColumn) + "=" +
				quoteIdent(desc.SortColumn) + "+1" +
				appendCond(whereStr, quoteIdent(desc.SortColumn)+">=?")
			if _, err := tx.Exec(shift, append(append([]any{}, whereArgs...), n)...); err != nil {
				return nil, fmt.Errorf("shifting rows in %s: %w", q.Table, err)
			}
		}
		sqlVals[desc.SortColumn] = n
	}

	if desc.JSONColumn != "" {
		sqlVals[desc.JSONColumn] = encodeJSONMap(jsonMap)
	}

	cols := make([]string, 0, len(sqlVals))
	for col := range sqlVals {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdent(col)
		marks[i] = "?"
		args[i] = encodeValue(sqlVals[col])
	}

	query := "INSERT INTO " + quoteIdent(q.Table) +
		" (" + strings.Join(quoted, ",") + ") VALUES (" + strings.Join(marks, ",") + ")"
	result, err := tx.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("inserting row into %s: %w", q.Table, err)
	}

	if desc.AutoIncrement != "" {
		if _, supplied := values[desc.AutoIncrement]; !supplied {
			id, err := result.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("reading inserted id: %w", err)
			}
			values[desc.AutoIncrement] = int(id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing insert into %s: %w", q.Table, err)
	}
	committed = true

	return values, nil
}

type matchedRow struct {
	rowid    int64
	jsonBlob string
}

// matchRows finds candidate rows for update/delete: the WHERE scope narrowed
// by an explicit position or the Pick selector.
func matchRows(tx *sql.Tx, table string, desc *TableDesc, whereStr string, whereArgs []any, n *int, pick map[string]any) ([]matchedRow, error) {
	cond := whereStr
	args := append([]any{}, whereArgs...)
	if desc.SortColumn != "" && n != nil && *n >= 0 {
		cond = appendCond(cond, quoteIdent(desc.SortColumn)+"=?")
		args = append(args, *n)
	}
	if len(pick) > 0 {
		pickCond, pickArgs, err := condition(pick)
		if err != nil {
			return nil, err
		}
		if pickCond != "" {
			cond = appendCond(cond, pickCond)
			args = append(args, pickArgs...)
		}
	}

	jsonSel := "''"
	if desc.JSONColumn != "" {
		jsonSel = quoteIdent(desc.JSONColumn)
	}
	orderStr := ""
	if desc.SortColumn != "" {
		orderStr = " ORDER BY " + quoteIdent(desc.SortColumn) + " ASC"
	}

	query := "SELECT rowid, " + jsonSel + " FROM " + quoteIdent(table) + cond + orderStr
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("matching rows in %s: %w", table, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warnf("failed to close rows: %v", err)
		}
	}()

	var matched []matchedRow
	for rows.Next() {
		var row matchedRow
		var blob sql.NullString
		if err := rows.Scan(&row.rowid, &blob); err != nil {
			return nil, fmt.Errorf("scanning matched row in %s: %w", table, err)
		}
		row.jsonBlob = blob.String
		matched = append(matched, row)
	}
	return matched, rows.Err()
}

// noMatchError distinguishes an out-of-range position from an empty scope.
func noMatchError(tx *sql.Tx, table, whereStr string, whereArgs []any, positional bool) error {
	if !positional {
		return errors.New("0 rows affected")
	}
	var count int
	query := "SELECT COUNT(*) FROM " + quoteIdent(table) + whereStr
	if err := tx.QueryRow(query, whereArgs...).Scan(&count); err != nil {
		return fmt.Errorf("counting rows in %s: %w", table, err)
	}
	if count > 0 {
		return errors.New("`n` value out of range")
	}
	return errors.New("0 rows affected")
}

// UpdateRow overwrites recognized columns on the matched rows and merges the
// remaining fields into each row's freeform JSON object, preserving fields
// the update does not name. The target is an explicit position N, the Pick
// selector, or the WHERE scope alone, capped by Limit (default 1).
func (d *DB) UpdateRow(q Query) (map[string]any, error) {
	desc, err := d.Describe(q.Table)
	if err != nil {
		return nil, err
	}

	whereStr, whereArgs, err := whereClause(q.Where)
	if err != nil {
		return nil, err
	}

	values := map[string]any{}
	for key, value := range q.Values {
		values[key] = value
	}
	sqlVals, jsonMap := splitValues(desc, values)
	updateJSON := desc.JSONColumn != "" && len(jsonMap) > 0

	tx, finish, err := d.begin()
	if err != nil {
		return nil, err
	}
	committed := false
	defer finish(&committed)

	positional := desc.SortColumn != "" && q.N != nil && *q.N >= 0
	matched, err := matchRows(tx, q.Table, desc, whereStr, whereArgs, q.N, q.Pick)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, noMatchError(tx, q.Table, whereStr, whereArgs, positional)
	}

	limit := q.Limit
	if limit == 0 {
		limit = 1
	}
	if limit != -1 && len(matched) > limit {
		return nil, fmt.Errorf("%d rows affected but limited to %d rows", len(matched), limit)
	}

	cols := make([]string, 0, len(sqlVals))
	for col := range sqlVals {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	for _, row := range matched {
		var sets []string
		var args []any
		for _, col := range cols {
			sets = append(sets, quoteIdent(col)+"=?")
			args = append(args, encodeValue(sqlVals[col]))
		}
		if updateJSON {
			oldMap := map[string]any{}
			if row.jsonBlob != "" {
				if err := json.Unmarshal([]byte(row.jsonBlob), &oldMap); err != nil {
					return nil, fmt.Errorf("unparseable %s column value in %s: %w", desc.JSONColumn, q.Table, err)
				}
			}
			for key, value := range jsonMap {
				oldMap[key] = value
			}
			sets = append(sets, quoteIdent(desc.JSONColumn)+"=?")
			args = append(args, encodeJSONMap(oldMap))
		}
		if len(sets) == 0 {
			continue
		}

		query := "UPDATE " + quoteIdent(q.Table) + " SET " + strings.Join(sets, ", ") + " WHERE rowid=?"
		args = append(args, row.rowid)
		if _, err := tx.Exec(query, args...); err != nil {
			return nil, fmt.Errorf("updating row in %s: %w", q.Table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing update of %s: %w", q.Table, err)
	}
	committed = true

	return values, nil
}

// DeleteRow removes one matched row and, on ordered tables, shifts every
// subsequent row's position down by one to keep the scope dense.
func (d *DB) DeleteRow(q Query) error {
	desc, err := d.Describe(q.Table)
	if err != nil {
		return err
	}

	whereStr, whereArgs, err := whereClause(q.Where)
	if err != nil {
		return err
	}

	tx, finish, err := d.begin()
	if err != nil {
		return err
	}
	committed := false
	defer finish(&committed)

	n := -1
	if desc.SortColumn != "" {
		nLen, err := scopeLen(tx, q.Table, desc.SortColumn, whereStr, whereArgs)
		if err != nil {
			return err
		}
		if q.N != nil {
			n = *q.N
			if n < 0 || n >= nLen {
				return errors.New("`n` value out of range")
			}
		}
	}

	matched, err := matchRows(tx, q.Table, desc, whereStr, whereArgs, q.N, q.Pick)
	if err != nil {
		return err
	}
	positional := desc.SortColumn != "" && q.N != nil && *q.N >= 0
	if len(matched) == 0 {
		return noMatchError(tx, q.Table, whereStr, whereArgs, positional)
	}
	if len(matched) > 1 && desc.SortColumn == "" && len(q.Pick) > 0 {
		return fmt.Errorf("%d rows affected but limited to 1 rows", len(matched))
	}
	target := matched[0]

	if desc.SortColumn != "" && !positional {
		// recover the position of the picked row for the shift below
		query := "SELECT " + quoteIdent(desc.SortColumn) + " FROM " + quoteIdent(q.Table) + " WHERE rowid=?"
		if err := tx.QueryRow(query, target.rowid).Scan(&n); err != nil {
			return fmt.Errorf("reading position of target row in %s: %w", q.Table, err)
		}
	}

	if _, err := tx.Exec("DELETE FROM "+quoteIdent(q.Table)+" WHERE rowid=?", target.rowid); err != nil {
		return fmt.Errorf("deleting row from %s: %w", q.Table, err)
	}

	if desc.SortColumn != "" {
		shift := "UPDATE " + quoteIdent(q.Table) + " SET " + quoteIdent(desc.SortColumn) + "=" +
			quoteIdent(desc.SortColumn) + "-1" +
			appendCond(whereStr, quoteIdent(desc.SortColumn)+">=?")
		if _, err := tx.Exec(shift, append(append([]any{}, whereArgs...), n)...); err != nil {
			return fmt.Errorf("closing position gap in %s: %w", q.Table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete from %s: %w", q.Table, err)
	}
	committed = true

	return nil
}

// MoveRow splices the row at position M to position N within the WHERE
// scope, shifting every row strictly between the endpoints by one slot. Only
// valid on ordered tables.
func (d *DB) MoveRow(q Query) error {
	desc, err := d.Describe(q.Table)
	if err != nil {
		return err
	}
	if desc.SortColumn == "" {
		return fmt.Errorf("%s has no ordering column", q.Table)
	}

	m := intArg(q.M, 0)
	n := intArg(q.N, 0)
	if m == n {
		return errors.New("`m` and `n` are the same so nothing to do")
	}

	whereStr, whereArgs, err := whereClause(q.Where)
	if err != nil {
		return err
	}

	tx, finish, err := d.begin()
	if err != nil {
		return err
	}
	committed := false
	defer finish(&committed)

	nLen, err := scopeLen(tx, q.Table, desc.SortColumn, whereStr, whereArgs)
	if err != nil {
		return err
	}
	if m < 0 || m >= nLen {
		return errors.New("`m` value out of range")
	}
	if n < 0 || n >= nLen {
		return errors.New("`n` value out of range")
	}

	sortQ := quoteIdent(desc.SortColumn)
	// args must follow placeholder order in the text: SET first, then the
	// scope WHERE, then the position condition
	exec := func(set, cond string, setArgs, condArgs []any) error {
		query := "UPDATE " + quoteIdent(q.Table) + " SET " + set + appendCond(whereStr, cond)
		all := append(append(append([]any{}, setArgs...), whereArgs...), condArgs...)
		if _, err := tx.Exec(query, all...); err != nil {
			return fmt.Errorf("moving row in %s: %w", q.Table, err)
		}
		return nil
	}

	// park the source row past the end of the scope
	if err := exec(sortQ+"=?", sortQ+"=?", []any{nLen}, []any{m}); err != nil {
		return err
	}

	// shift the block between the endpoints toward the vacated slot
	if m < n {
		if err := exec(sortQ+"="+sortQ+"-1", sortQ+">? AND "+sortQ+"<=?", nil, []any{m, n}); err != nil {
			return err
		}
	} else {
		if err := exec(sortQ+"="+sortQ+"+1", sortQ+">=? AND "+sortQ+"<?", nil, []any{n, m}); err != nil {
			return err
		}
	}

	// land the parked row in the vacated slot
	if err := exec(sortQ+"=?", sortQ+"=?", []any{n}, []any{nLen}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing move in %s: %w", q.Table, err)
	}
	committed = true

	return nil
}
