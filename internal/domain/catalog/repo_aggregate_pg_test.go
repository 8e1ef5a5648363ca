package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
)

// aliasStore holds generic_aliases rows keyed by uid and applies UPDATEs
// that match on uid and generic_uid.
type aliasStore struct {
	rows    map[string]map[string]interface{}
	queries []string
}

func (s *aliasStore) Query(_ context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	s.queries = append(s.queries, sql)
	if !strings.HasPrefix(sql, "UPDATE") {
		return nil, errors.New("unexpected query: " + sql)
	}
	uid, _ := args[0].(string)
	row, ok := s.rows[uid]
	if !ok {
		return &mapRows{}, nil
	}
	if strings.Contains(sql, `"generic_uid" = $2`) && row["generic_uid"] != args[1] {
		return &mapRows{}, nil
	}
	row["alias"] = args[len(args)-1]
	return &mapRows{cols: aliasCols, rows: []map[string]interface{}{row}}, nil
}

func (s *aliasStore) QueryRow(context.Context, string, ...interface{}) pgx.Row { return nil }

func (s *aliasStore) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("unexpected exec")
}

func (s *aliasStore) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("unexpected transaction")
}

var aliasCols = []string{"uid", "generic_uid", "alias"}

// mapRows serves rows as maps over cols.
type mapRows struct {
	pgx.Rows
	cols []string
	rows []map[string]interface{}
	cur  map[string]interface{}
}

func (r *mapRows) Next() bool {
	if len(r.rows) == 0 {
		return false
	}
	r.cur, r.rows = r.rows[0], r.rows[1:]
	return true
}

func (r *mapRows) Scan(dest ...interface{}) error {
	if len(dest) == 1 {
		if rs, ok := dest[0].(pgx.RowScanner); ok {
			return rs.ScanRow(r)
		}
	}
	return errors.New("mapRows: only row scanners are supported")
}

func (r *mapRows) Err() error { return nil }
func (r *mapRows) Close()     {}

func (r *mapRows) FieldDescriptions() []pgconn.FieldDescription {
	fds := make([]pgconn.FieldDescription, len(r.cols))
	for i, c := range r.cols {
		fds[i] = pgconn.FieldDescription{Name: c}
	}
	return fds
}

func (r *mapRows) Values() ([]interface{}, error) {
	vals := make([]interface{}, len(r.cols))
	for i, c := range r.cols {
		vals[i] = r.cur[c]
	}
	return vals, nil
}

func newAliasRepo() (*aliasStore, AggregateRepository) {
	store := &aliasStore{rows: map[string]map[string]interface{}{
		"alias-1": {"uid": "alias-1", "generic_uid": "gen-1", "alias": "D2E7"},
	}}
	base := NewBaseRepository(store, modelmap.Default(), zerolog.Nop())
	return store, NewAggregateRepoPG(base)
}

func TestAggregateUpdate_OtherParentLeavesRowAlone(t *testing.T) {
	store, repo := newAliasRepo()

	_, err := repo.Update(context.Background(), modelmap.GenericAlias, "gen-2", "alias-1", Values{"alias": "renamed"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := store.rows["alias-1"]["alias"]; got != "D2E7" {
		t.Errorf("row under another parent was modified: alias=%v", got)
	}
	if len(store.queries) != 1 || !strings.Contains(store.queries[0], `WHERE "uid" = $1 AND "generic_uid" = $2`) {
		t.Errorf("update must match on the parent key, got %v", store.queries)
	}
}

func TestAggregateUpdate_OwnParent(t *testing.T) {
	store, repo := newAliasRepo()

	row, err := repo.Update(context.Background(), modelmap.GenericAlias, "gen-1", "alias-1", Values{"alias": "renamed"})
	if err != nil {
		t.Fatal(err)
	}
	if row.Value("alias") != "renamed" || row.UID != "alias-1" {
		t.Errorf("unexpected row %+v", row)
	}
	if store.rows["alias-1"]["alias"] != "renamed" {
		t.Error("update not applied")
	}
}

func TestAggregateUpdate_MissingRow(t *testing.T) {
	_, repo := newAliasRepo()
	_, err := repo.Update(context.Background(), modelmap.GenericAlias, "gen-1", "alias-9", Values{"alias": "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
