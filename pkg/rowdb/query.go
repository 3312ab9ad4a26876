package rowdb

import (
	"fmt"
	"sort"
	"strings"
)

// Query is the single declarative argument every mapper operation takes.
//
// Where accepts either a raw SQL string or a nested map: plain keys are
// column=value comparisons joined with AND, an "OR" key switches the joiner,
// a map value is a parenthesized sub-clause, and a slice value is either a
// LIKE specification ("LIKE", column, pre, values, post) or a list of values
// OR-matched against the key's column.
type Query struct {
	Table   string
	Tables  []string // joined read; first entry is the primary table
	Columns []string
	On      map[string]any // join table -> condition map
	Where   any
	OrderBy string // raw override of the natural ordering-column sort

	Values map[string]any // insert/update document

	N     *int           // target position; -1 appends on insert
	M     *int           // source position for MoveRow
	Pick  map[string]any // alternate row selector for update/delete
	Limit int            // update row cap; 0 means 1, -1 unlimited
}

func intArg(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func (q Query) tables() []string {
	if len(q.Tables) > 0 {
		return q.Tables
	}
	return []string{q.Table}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteColumn quotes a possibly table-qualified column reference.
func quoteColumn(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// whereClause turns the Where specification into a " WHERE ..." fragment with
// bound parameters. An empty specification yields an empty fragment.
func whereClause(where any) (string, []any, error) {
	switch w := where.(type) {
	case nil:
		return "", nil, nil
	case string:
		if w == "" {
			return "", nil, nil
		}
		return " WHERE " + w, nil, nil
	case map[string]any:
		cond, args, err := condition(w)
		if err != nil {
			return "", nil, err
		}
		if cond == "" {
			return "", nil, nil
		}
		return " WHERE " + cond, args, nil
	default:
		return "", nil, fmt.Errorf("unsupported where specification %T", where)
	}
}

// condition renders a nested condition map. Keys are visited in sorted order
// so generated SQL is deterministic.
func condition(condMap map[string]any) (string, []any, error) {
	keys := make([]string, 0, len(condMap))
	for key := range condMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	op := " AND "
	var conds []string
	var args []any
	for _, key := range keys {
		value := condMap[key]
		switch strings.ToUpper(key) {
		case "OR":
			op = " OR "
			continue
		case "AND":
			continue
		}

		switch v := value.(type) {
		case map[string]any:
			sub, subArgs, err := condition(v)
			if err != nil {
				return "", nil, err
			}
			if sub != "" {
				conds = append(conds, "("+sub+")")
				args = append(args, subArgs...)
			}
		case []any:
			sub, subArgs, err := syntaxList(key, v)
			if err != nil {
				return "", nil, err
			}
			if sub != "" {
				conds = append(conds, "("+sub+")")
				args = append(args, subArgs...)
			}
		default:
			conds = append(conds, quoteColumn(key)+"=?")
			args = append(args, v)
		}
	}
	return strings.Join(conds, op), args, nil
}

// syntaxList renders a slice-valued condition: a LIKE specification
// ("LIKE", column, pre, values, post) or a plain list of values OR-matched
// against the key's column.
func syntaxList(key string, syntax []any) (string, []any, error) {
	if len(syntax) >= 3 {
		if cmd, ok := syntax[0].(string); ok && strings.ToUpper(cmd) == "LIKE" {
			col, ok := syntax[1].(string)
			if !ok {
				return "", nil, fmt.Errorf("LIKE specification needs a column name, got %T", syntax[1])
			}
			likeStr := quoteColumn(col) + " LIKE ?"
			var clauses []string
			var args []any
			if len(syntax) == 3 {
				clauses = append(clauses, likeStr)
				args = append(args, fmt.Sprintf("%v", syntax[2]))
			} else {
				pre, _ := syntax[2].(string)
				post := ""
				if len(syntax) >= 5 {
					post, _ = syntax[4].(string)
				}
				switch values := syntax[3].(type) {
				case []string:
					for _, v := range values {
						clauses = append(clauses, likeStr)
						args = append(args, pre+v+post)
					}
				case []any:
					for _, v := range values {
						clauses = append(clauses, likeStr)
						args = append(args, pre+fmt.Sprintf("%v", v)+post)
					}
				default:
					clauses = append(clauses, likeStr)
					args = append(args, pre+fmt.Sprintf("%v", values)+post)
				}
			}
			return strings.Join(clauses, " OR "), args, nil
		}
	}

	var clauses []string
	var args []any
	for _, v := range syntax {
		clauses = append(clauses, quoteColumn(key)+"=?")
		args = append(args, v)
	}
	return strings.Join(clauses, " OR "), args, nil
}

// applyTables qualifies bare column keys with the primary table name so
// joined reads stay unambiguous. AND/OR keywords and already-qualified keys
// pass through.
func applyTables(condMap map[string]any, table string) map[string]any {
	qualified := map[string]any{}
	for key, value := range condMap {
		upper := strings.ToUpper(key)
		if upper == "AND" || upper == "OR" || strings.Contains(key, ".") {
			qualified[key] = value
			continue
		}
		qualified[table+"."+key] = value
	}
	return qualified
}

// onClause renders a join specification: table name -> condition map whose
// values are column references on the joined tables. A join-type key (INNER
// JOIN, LEFT JOIN, RIGHT JOIN, OUTER JOIN) selects the join; INNER JOIN is
// the default.
func onClause(on map[string]any) (string, error) {
	if len(on) == 0 {
		return "", nil
	}
	joins := []string{"INNER JOIN", "LEFT JOIN", "RIGHT JOIN", "OUTER JOIN"}

	tables := make([]string, 0, len(on))
	for table := range on {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	var out strings.Builder
	for _, table := range tables {
		condMap, ok := on[table].(map[string]any)
		if !ok {
			return "", fmt.Errorf("on specification for %s must be a map, got %T", table, on[table])
		}

		join := joins[0]
		conds := map[string]any{}
		for k, v := range condMap {
			matched := false
			for _, j := range joins {
				if strings.ToUpper(k) == j {
					matched = true
					break
				}
			}
			if matched {
				join = strings.ToUpper(k)
			} else {
				conds[k] = v
			}
		}

		keys := make([]string, 0, len(conds))
		for k := range conds {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var pairs []string
		for _, k := range keys {
			ref, ok := conds[k].(string)
			if !ok {
				return "", fmt.Errorf("on condition %s must reference a column, got %T", k, conds[k])
			}
			pairs = append(pairs, quoteColumn(k)+"="+quoteColumn(ref))
		}

		out.WriteString(" " + join + " " + quoteIdent(table) + " ON " + strings.Join(pairs, " AND "))
	}
	return out.String(), nil
}
