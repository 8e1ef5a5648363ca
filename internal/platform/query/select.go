// Package query builds parameterised SELECT statements over tables and
// columns resolved at runtime from the model map.
//
// Identifiers are quoted with pgx.Identifier; values are always bound
// arguments. Callers must still restrict identifiers to mapped tables and
// columns before handing them to a SelectQuery.
package query

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// SelectQuery accumulates WHERE fragments and renders count and data queries.
type SelectQuery struct {
	table    string
	cols     []string
	distinct bool
	where    string
	args     []interface{}
	idx      int
	orderBy  []string
}

// NewSelect creates a query over table returning cols.
func NewSelect(table string, cols ...string) *SelectQuery {
	return &SelectQuery{
		table: table,
		cols:  cols,
		idx:   1,
	}
}

// Distinct makes the data query return distinct rows.
func (q *SelectQuery) Distinct() *SelectQuery {
	q.distinct = true
	return q
}

// Idx returns the next available parameter index.
func (q *SelectQuery) Idx() int { return q.idx }

// Args returns the filter arguments bound so far.
func (q *SelectQuery) Args() []interface{} { return q.args }

// WhereText restricts column to the given values compared as text: one
// value is an equality, several become "= ANY($n)". No values adds nothing.
// The cast lets numeric, boolean and date columns be filtered with strings.
func (q *SelectQuery) WhereText(column string, values ...string) *SelectQuery {
	switch len(values) {
	case 0:
		return q
	case 1:
		q.add(fmt.Sprintf("%s::text = $%d", ident(column), q.idx), values[0])
	default:
		q.add(fmt.Sprintf("%s::text = ANY($%d)", ident(column), q.idx), values)
	}
	return q
}

// WhereILike adds a case-insensitive prefix match on column.
func (q *SelectQuery) WhereILike(column, prefix string) *SelectQuery {
	q.add(fmt.Sprintf("%s::text ILIKE $%d", ident(column), q.idx), escapeLike(prefix)+"%")
	return q
}

// WhereNotNull excludes NULLs in column.
func (q *SelectQuery) WhereNotNull(column string) *SelectQuery {
	q.where += fmt.Sprintf(" AND %s IS NOT NULL", ident(column))
	return q
}

func (q *SelectQuery) add(clause string, arg interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, arg)
	q.idx++
}

// OrderBy appends a sort key.
func (q *SelectQuery) OrderBy(column string, desc bool) *SelectQuery {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	q.orderBy = append(q.orderBy, ident(column)+" "+dir)
	return q
}

func (q *SelectQuery) selectList() string {
	quoted := make([]string, len(q.cols))
	for i, c := range q.cols {
		quoted[i] = ident(c)
	}
	list := strings.Join(quoted, ", ")
	if q.distinct {
		return "DISTINCT " + list
	}
	return list
}

func (q *SelectQuery) base() string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.selectList(), ident(q.table), q.where)
}

// CountSQL counts the rows the data query would return without paging. For
// distinct queries the distinct rows are counted.
func (q *SelectQuery) CountSQL() string {
	if q.distinct {
		return fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS d", q.base())
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", ident(q.table), q.where)
}

// CountArgs returns the arguments for CountSQL.
func (q *SelectQuery) CountArgs() []interface{} {
	return q.args
}

// DataSQL returns the data query with ORDER BY and LIMIT/OFFSET placeholders.
func (q *SelectQuery) DataSQL() string {
	sql := q.base()
	if len(q.orderBy) > 0 {
		sql += " ORDER BY " + strings.Join(q.orderBy, ", ")
	}
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
	return sql
}

// DataArgs returns the filter arguments followed by limit and offset.
func (q *SelectQuery) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// Ident quotes a single identifier.
func Ident(name string) string { return ident(name) }

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
