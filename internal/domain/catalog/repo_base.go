package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/pharmadb/pharmadb/internal/platform/db"
	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
	"github.com/pharmadb/pharmadb/internal/platform/query"
)

// Database is what the repositories need from a pool.
type Database interface {
	db.Querier
	db.TxBeginner
}

// BaseRepository holds what every catalog repository shares: the pool, the
// model map and a component logger.
type BaseRepository struct {
	db     Database
	mm     *modelmap.ModelMap
	log    zerolog.Logger
	newKey func() string
}

func NewBaseRepository(database Database, mm *modelmap.ModelMap, logger zerolog.Logger) *BaseRepository {
	return &BaseRepository{
		db:     database,
		mm:     mm,
		log:    logger.With().Str("component", "catalog-repo").Logger(),
		newKey: func() string { return uuid.New().String() },
	}
}

func (b *BaseRepository) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, b.db)
}

// NewKey returns a fresh primary key value.
func (b *BaseRepository) NewKey() string {
	return b.newKey()
}

func (b *BaseRepository) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, b.db, fn)
}

// buildProperties shapes a row into UI properties ordered by ordinal.
func (b *BaseRepository) buildProperties(props []modelmap.PropertyMapping, row map[string]interface{}) []UIProperty {
	out := make([]UIProperty, 0, len(props))
	for _, p := range props {
		out = append(out, UIProperty{
			Name:     p.Property,
			Label:    p.Label,
			Value:    normalize(p.Type, row[p.Column]),
			Type:     p.Type,
			Visible:  p.Visible,
			Editable: p.Editable,
			Ordinal:  p.Ordinal,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// columnValues resolves property names to columns and coerces the values.
// Unknown and non-editable properties are rejected. Columns come back in a
// stable order.
func (b *BaseRepository) columnValues(owner string, props []modelmap.PropertyMapping, values Values) ([]string, []interface{}, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make([]string, 0, len(names))
	args := make([]interface{}, 0, len(names))
	for _, name := range names {
		p, ok := findProperty(props, name)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s.%s", modelmap.ErrUnknownProperty, owner, name)
		}
		if !p.Editable {
			return nil, nil, fmt.Errorf("%w: %s.%s", ErrNotEditable, owner, name)
		}
		v, err := coerce(p, values[name])
		if err != nil {
			return nil, nil, err
		}
		cols = append(cols, p.Column)
		args = append(args, v)
	}
	return cols, args, nil
}

// rowKey identifies a row by column equalities joined with AND.
type rowKey struct {
	cols []string
	vals []interface{}
}

func keyOf(col string, val interface{}) rowKey {
	return rowKey{cols: []string{col}, vals: []interface{}{val}}
}

func (k rowKey) and(col string, val interface{}) rowKey {
	return rowKey{
		cols: append(append([]string{}, k.cols...), col),
		vals: append(append([]interface{}{}, k.vals...), val),
	}
}

// where renders the predicate with placeholders numbered from $1.
func (k rowKey) where() string {
	conds := make([]string, len(k.cols))
	for i, c := range k.cols {
		conds[i] = fmt.Sprintf("%s = $%d", query.Ident(c), i+1)
	}
	return strings.Join(conds, " AND ")
}

func (k rowKey) String() string {
	parts := make([]string, len(k.vals))
	for i, v := range k.vals {
		parts[i] = stringValue(v)
	}
	return strings.Join(parts, "/")
}

func (b *BaseRepository) selectOne(ctx context.Context, table string, cols []string, key rowKey) (map[string]interface{}, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s", quoteAll(cols), query.Ident(table), key.where())
	rows, err := b.conn(ctx).Query(ctx, sql, key.vals...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", table, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return row, nil
}

func (b *BaseRepository) selectMany(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := b.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}

func (b *BaseRepository) insert(ctx context.Context, table string, cols []string, args []interface{}, returning []string) (map[string]interface{}, error) {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		query.Ident(table), quoteAll(cols), strings.Join(placeholders, ", "), quoteAll(returning))
	rows, err := b.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return row, nil
}

// update sets cols on the row matching key. touch adds updated_at = NOW().
// A row that does not match every key column is left alone and reported as
// ErrNotFound.
func (b *BaseRepository) update(ctx context.Context, table string, key rowKey, cols []string, args []interface{}, touch bool, returning []string) (map[string]interface{}, error) {
	sets := make([]string, 0, len(cols)+1)
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", query.Ident(c), len(key.cols)+i+1))
	}
	if touch {
		sets = append(sets, "updated_at = NOW()")
	}
	if len(sets) == 0 {
		return b.selectOne(ctx, table, returning, key)
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING %s",
		query.Ident(table), strings.Join(sets, ", "), key.where(), quoteAll(returning))
	rows, err := b.conn(ctx).Query(ctx, sql, append(append([]interface{}{}, key.vals...), args...)...)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", table, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	return row, nil
}

func (b *BaseRepository) deleteWhere(ctx context.Context, table, column string, value interface{}) (int64, error) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", query.Ident(table), query.Ident(column))
	tag, err := b.conn(ctx).Exec(ctx, sql, value)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

func hasUpdatedAt(props []modelmap.PropertyMapping) bool {
	for _, p := range props {
		if p.Column == "updated_at" {
			return true
		}
	}
	return false
}

func findProperty(props []modelmap.PropertyMapping, name string) (modelmap.PropertyMapping, bool) {
	for _, p := range props {
		if p.Property == name {
			return p, true
		}
	}
	return modelmap.PropertyMapping{}, false
}

func quoteAll(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = query.Ident(c)
	}
	return strings.Join(quoted, ", ")
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// coerce converts a JSON-decoded value into the Go type pgx expects for the
// property's column type. nil stays nil.
func coerce(p modelmap.PropertyMapping, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	invalid := func() error {
		return fmt.Errorf("%w: %s expects %s, got %v", ErrValidation, p.Property, p.Type, v)
	}
	switch p.Type {
	case modelmap.TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			if strings.TrimSpace(n) == "" {
				return nil, nil
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, invalid()
			}
			return f, nil
		}
		return nil, invalid()
	case modelmap.TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			if x == "" {
				return nil, nil
			}
			bv, err := strconv.ParseBool(x)
			if err != nil {
				return nil, invalid()
			}
			return bv, nil
		}
		return nil, invalid()
	case modelmap.TypeDate:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			if x == "" {
				return nil, nil
			}
			if t, err := time.Parse(db.DateLayout, x); err == nil {
				return t, nil
			}
			if t, err := time.Parse(time.RFC3339, x); err == nil {
				return t, nil
			}
		}
		return nil, invalid()
	default:
		return stringValue(v), nil
	}
}

func normalize(typ modelmap.PropertyType, v interface{}) interface{} {
	return db.NormalizeValue(v, typ == modelmap.TypeDate)
}
