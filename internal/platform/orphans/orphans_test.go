package orphans

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
)

type fakeRow struct {
	n   int64
	err error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.n
	return nil
}

// fakeDB answers counts per table and records executed statements.
type fakeDB struct {
	counts   map[string]int64
	execs    []string
	execErr  error
	tx       *fakeTx
	queryErr error
}

func (f *fakeDB) rowsFor(sql string) int64 {
	for table, n := range f.counts {
		if strings.Contains(sql, `FROM "`+table+`" o`) {
			return n
		}
	}
	return 0
}

func (f *fakeDB) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, _ ...interface{}) pgx.Row {
	return fakeRow{n: f.rowsFor(sql), err: f.queryErr}
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...interface{}) (pgconn.CommandTag, error) {
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("DELETE " + strconv.FormatInt(f.rowsFor(sql), 10)), nil
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{db: f}
	return f.tx, nil
}

type fakeTx struct {
	pgx.Tx
	db         *fakeDB
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

func TestBuildChecks_Order(t *testing.T) {
	checks := BuildChecks(modelmap.Default())
	var names []string
	for _, c := range checks {
		names = append(names, c.Name)
	}
	want := []string{"ManuDrug", "GenericAlias", "GenericRoute", "GenericApproval", "RelationshipAncestor", "RelationshipChild"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestCheck_SQL(t *testing.T) {
	c := Check{
		Name: "GenericAlias", Table: "generic_aliases", Column: "generic_uid",
		Parents: []Parent{{Table: "generic_drugs", Key: "uid"}},
	}
	want := `SELECT COUNT(*) FROM "generic_aliases" o WHERE NOT EXISTS (SELECT 1 FROM "generic_drugs" p0 WHERE p0."uid" = o."generic_uid")`
	if got := c.CountSQL(); got != want {
		t.Errorf("CountSQL:\n got %s\nwant %s", got, want)
	}
	if got := c.DeleteSQL(); !strings.HasPrefix(got, `DELETE FROM "generic_aliases" o WHERE NOT EXISTS`) {
		t.Errorf("unexpected DeleteSQL %s", got)
	}
}

func TestCheck_RelationshipsCheckEveryEntityTable(t *testing.T) {
	checks := BuildChecks(modelmap.Default())
	rel := checks[len(checks)-1]
	sql := rel.CountSQL()
	for _, table := range []string{"generic_drugs", "manu_drugs"} {
		if !strings.Contains(sql, `FROM "`+table+`"`) {
			t.Errorf("relationship check must consult %s: %s", table, sql)
		}
	}
	if strings.Count(sql, "NOT EXISTS") != 2 {
		t.Errorf("expected one NOT EXISTS per entity table: %s", sql)
	}
}

func TestScanner_Scan(t *testing.T) {
	database := &fakeDB{counts: map[string]int64{"generic_routes": 2, "entity_relationships": 1}}
	s := NewScanner(database, modelmap.Default(), zerolog.Nop())
	reg := prometheus.NewRegistry()
	if err := s.RegisterMetrics(reg); err != nil {
		t.Fatal(err)
	}

	results, err := s.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, r := range results {
		total += r.Rows
	}
	if total != 4 {
		t.Errorf("expected 4 orphaned rows (2 routes + 1 per relationship end), got %d", total)
	}
	if got := testutil.ToFloat64(s.gauge.WithLabelValues("GenericRoute", "generic_routes")); got != 2 {
		t.Errorf("expected gauge 2, got %v", got)
	}
	if len(database.execs) != 0 {
		t.Error("scan must not delete")
	}
}

func TestScanner_ScanError(t *testing.T) {
	database := &fakeDB{queryErr: errors.New("relation does not exist")}
	s := NewScanner(database, modelmap.Default(), zerolog.Nop())
	if _, err := s.Scan(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestScanner_PurgeInTransaction(t *testing.T) {
	database := &fakeDB{counts: map[string]int64{"manu_drugs": 3}}
	s := NewScanner(database, modelmap.Default(), zerolog.Nop())

	results, err := s.Purge(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if database.tx == nil || !database.tx.committed {
		t.Fatal("purge must commit a transaction")
	}
	if len(database.execs) != len(s.Checks()) {
		t.Errorf("expected %d deletes, got %d", len(s.Checks()), len(database.execs))
	}
	if results[0].Check != "ManuDrug" || results[0].Rows != 3 {
		t.Errorf("unexpected first result %+v", results[0])
	}
}

func TestScanner_PurgeRollsBack(t *testing.T) {
	database := &fakeDB{execErr: errors.New("deadlock detected")}
	s := NewScanner(database, modelmap.Default(), zerolog.Nop())
	if _, err := s.Purge(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if database.tx.committed || !database.tx.rolledBack {
		t.Error("failed purge must roll back")
	}
}

func TestScanner_Schedule(t *testing.T) {
	database := &fakeDB{}
	s := NewScanner(database, modelmap.Default(), zerolog.Nop())
	sched := gocron.NewScheduler(time.UTC)
	if err := s.Schedule(sched, time.Hour); err != nil {
		t.Fatal(err)
	}
	if sched.Len() != 1 {
		t.Errorf("expected one job, got %d", sched.Len())
	}
	if err := s.Schedule(sched, 0); err == nil {
		t.Error("expected error for zero interval")
	}
}
