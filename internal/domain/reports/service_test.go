package reports

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
	"github.com/pharmadb/pharmadb/internal/platform/query"
	"github.com/pharmadb/pharmadb/pkg/reportdef"
)

// -- Mock repositories --

type mockReportRepo struct {
	reports map[string]*Report
	seq     int
}

func newMockReportRepo() *mockReportRepo {
	return &mockReportRepo{reports: make(map[string]*Report)}
}

func (m *mockReportRepo) Create(_ context.Context, r *Report) error {
	m.seq++
	r.UID = "report-" + string(rune('0'+m.seq))
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.reports[r.UID] = &cp
	return nil
}

func (m *mockReportRepo) Get(_ context.Context, uid string) (*Report, error) {
	r, ok := m.reports[uid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockReportRepo) List(_ context.Context, limit, offset int) ([]*Report, int, error) {
	var out []*Report
	for _, r := range m.reports {
		out = append(out, r)
	}
	return out, len(out), nil
}

func (m *mockReportRepo) Update(_ context.Context, r *Report) error {
	old, ok := m.reports[r.UID]
	if !ok {
		return ErrNotFound
	}
	r.CreatedBy = old.CreatedBy
	r.CreatedAt = old.CreatedAt
	r.UpdatedAt = time.Now()
	cp := *r
	m.reports[r.UID] = &cp
	return nil
}

func (m *mockReportRepo) Delete(_ context.Context, uid string) error {
	if _, ok := m.reports[uid]; !ok {
		return ErrNotFound
	}
	delete(m.reports, uid)
	return nil
}

type mockDistinctRepo struct {
	rows   []map[string]interface{}
	values []interface{}
	total  int
	err    error

	lastQuery  *query.SelectQuery
	lastLimit  int
	lastOffset int
}

func (m *mockDistinctRepo) Distinct(_ context.Context, q *query.SelectQuery, limit, offset int) ([]map[string]interface{}, int, error) {
	m.lastQuery, m.lastLimit, m.lastOffset = q, limit, offset
	if m.err != nil {
		return nil, 0, m.err
	}
	return m.rows, m.total, nil
}

func (m *mockDistinctRepo) Values(_ context.Context, q *query.SelectQuery, limit int) ([]interface{}, error) {
	m.lastQuery, m.lastLimit = q, limit
	if m.err != nil {
		return nil, m.err
	}
	return m.values, nil
}

func newTestService() (*Service, *mockReportRepo, *mockDistinctRepo) {
	reports := newMockReportRepo()
	distinct := &mockDistinctRepo{}
	return NewService(modelmap.Default(), reports, distinct, 1000), reports, distinct
}

// -- DistinctData --

func TestDistinctData_BuildsQuery(t *testing.T) {
	svc, _, repo := newTestService()
	repo.rows = []map[string]interface{}{{"route_type": "IV", "load_measure": "mg"}}
	repo.total = 3

	resp, err := svc.DistinctData(context.Background(), reportdef.DistinctDataRequest{
		TableName: "generic_routes",
		Columns:   []string{"route_type", "load_measure"},
		Filters:   map[string]interface{}{"route_type": "IV", "load_measure": []interface{}{"mg", "mg/kg"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `SELECT DISTINCT "route_type", "load_measure" FROM "generic_routes" WHERE 1=1` +
		` AND "load_measure"::text = ANY($1) AND "route_type"::text = $2` +
		` ORDER BY "route_type" ASC, "load_measure" ASC LIMIT $3 OFFSET $4`
	if got := repo.lastQuery.DataSQL(); got != want {
		t.Errorf("DataSQL:\n got %s\nwant %s", got, want)
	}
	if repo.lastLimit != 50 || repo.lastOffset != 0 {
		t.Errorf("expected default paging 50/0, got %d/%d", repo.lastLimit, repo.lastOffset)
	}
	if resp.TotalRows != 3 || !resp.HasMore {
		t.Errorf("expected total 3 with more rows, got %d/%v", resp.TotalRows, resp.HasMore)
	}
	if len(resp.Columns) != 2 || resp.Columns[0].Label != "Route" || resp.Columns[0].Type != "text" {
		t.Errorf("unexpected column metadata %+v", resp.Columns)
	}
}

func TestDistinctData_LastPage(t *testing.T) {
	svc, _, repo := newTestService()
	repo.rows = []map[string]interface{}{{"country": "US"}, {"country": "UK"}}
	repo.total = 12

	resp, err := svc.DistinctData(context.Background(), reportdef.DistinctDataRequest{
		TableName: "generic_approvals",
		Columns:   []string{"country"},
		Offset:    10,
		Limit:     5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.HasMore {
		t.Error("offset 10 + 2 rows of 12 must be the last page")
	}
	if resp.Offset != 10 || resp.Limit != 5 {
		t.Errorf("unexpected paging echo %d/%d", resp.Offset, resp.Limit)
	}
}

func TestDistinctData_LimitCapped(t *testing.T) {
	svc, _, repo := newTestService()
	_, err := svc.DistinctData(context.Background(), reportdef.DistinctDataRequest{
		TableName: "generic_drugs",
		Columns:   []string{"generic_name"},
		Limit:     50000,
		Offset:    -4,
	})
	if err != nil {
		t.Fatal(err)
	}
	if repo.lastLimit != 1000 || repo.lastOffset != 0 {
		t.Errorf("expected 1000/0, got %d/%d", repo.lastLimit, repo.lastOffset)
	}
}

func TestDistinctData_OrderDesc(t *testing.T) {
	svc, _, repo := newTestService()
	_, err := svc.DistinctData(context.Background(), reportdef.DistinctDataRequest{
		TableName: "manu_drugs",
		Columns:   []string{"drug_name", "manufacturer"},
		OrderBy:   "manufacturer",
		OrderDesc: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if sql := repo.lastQuery.DataSQL(); !strings.Contains(sql, `ORDER BY "manufacturer" DESC, "drug_name" ASC`) {
		t.Errorf("unexpected ordering in %s", sql)
	}
}

func TestDistinctData_NormalizesDates(t *testing.T) {
	svc, _, repo := newTestService()
	repo.rows = []map[string]interface{}{
		{"approval_date": time.Date(2019, 3, 4, 0, 0, 0, 0, time.UTC)},
	}
	repo.total = 1
	resp, err := svc.DistinctData(context.Background(), reportdef.DistinctDataRequest{
		TableName: "generic_approvals",
		Columns:   []string{"approval_date"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := resp.Data[0]["approval_date"]; got != "2019-03-04" {
		t.Errorf("expected date string, got %#v", got)
	}
}

func TestDistinctData_Rejects(t *testing.T) {
	tests := []struct {
		name string
		req  reportdef.DistinctDataRequest
	}{
		{"no table", reportdef.DistinctDataRequest{Columns: []string{"uid"}}},
		{"unmapped table", reportdef.DistinctDataRequest{TableName: "pg_authid", Columns: []string{"rolname"}}},
		{"no columns", reportdef.DistinctDataRequest{TableName: "generic_drugs"}},
		{"unmapped column", reportdef.DistinctDataRequest{TableName: "generic_drugs", Columns: []string{"password"}}},
		{"duplicate column", reportdef.DistinctDataRequest{TableName: "generic_drugs", Columns: []string{"target", "target"}}},
		{"unmapped filter", reportdef.DistinctDataRequest{
			TableName: "generic_drugs", Columns: []string{"target"},
			Filters: map[string]interface{}{"1=1; --": "x"},
		}},
		{"object filter", reportdef.DistinctDataRequest{
			TableName: "generic_drugs", Columns: []string{"target"},
			Filters: map[string]interface{}{"target": map[string]interface{}{"a": 1}},
		}},
		{"order by unselected", reportdef.DistinctDataRequest{
			TableName: "generic_drugs", Columns: []string{"target"}, OrderBy: "generic_name",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, repo := newTestService()
			_, err := svc.DistinctData(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
			if repo.lastQuery != nil {
				t.Error("invalid request must not reach the database")
			}
		})
	}
}

func TestDistinctData_RepoError(t *testing.T) {
	svc, _, repo := newTestService()
	repo.err = errors.New("connection reset")
	_, err := svc.DistinctData(context.Background(), reportdef.DistinctDataRequest{
		TableName: "generic_drugs", Columns: []string{"target"},
	})
	if err == nil || errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected repository error, got %v", err)
	}
}

func TestLabel_FallsBackToTitleCase(t *testing.T) {
	svc, _, _ := newTestService()
	got := svc.label(modelmap.PropertyMapping{Column: "box_warning_date"})
	if got != "Box Warning Date" {
		t.Errorf("unexpected label %q", got)
	}
}

// -- ColumnValues --

func TestColumnValues(t *testing.T) {
	svc, _, repo := newTestService()
	repo.values = []interface{}{"Amgen", "AbbVie"}

	resp, err := svc.ColumnValues(context.Background(), reportdef.ColumnValuesRequest{
		TableName: "manu_drugs",
		Column:    "manufacturer",
		Search:    "a",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `SELECT DISTINCT "manufacturer" FROM "manu_drugs" WHERE 1=1 AND "manufacturer" IS NOT NULL` +
		` AND "manufacturer"::text ILIKE $1 ORDER BY "manufacturer" ASC LIMIT $2 OFFSET $3`
	if got := repo.lastQuery.DataSQL(); got != want {
		t.Errorf("DataSQL:\n got %s\nwant %s", got, want)
	}
	if repo.lastLimit != defaultColumnValuesLimit {
		t.Errorf("expected default limit, got %d", repo.lastLimit)
	}
	if !reflect.DeepEqual(resp.Values, []interface{}{"Amgen", "AbbVie"}) {
		t.Errorf("unexpected values %v", resp.Values)
	}
}

func TestColumnValues_UnknownColumn(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.ColumnValues(context.Background(), reportdef.ColumnValuesRequest{TableName: "manu_drugs", Column: "secret"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

// -- Saved reports --

const routeDefinition = `{
	"table_name": "generic_routes",
	"columns": [
		{"name": "load_measure", "active": true, "ordinal": 2},
		{"name": "route_type", "active": true, "ordinal": 1},
		{"name": "half_life", "active": false, "ordinal": 3}
	],
	"filters": [{"column": "route_type", "values": ["IV"]}],
	"page_size": 20
}`

func TestCreateReport(t *testing.T) {
	svc, repo, _ := newTestService()
	r := &Report{Name: "  IV routes ", Definition: json.RawMessage(routeDefinition)}
	if err := svc.CreateReport(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if r.UID == "" || r.Name != "IV routes" {
		t.Errorf("unexpected report %+v", r)
	}
	if _, ok := repo.reports[r.UID]; !ok {
		t.Error("report not stored")
	}
}

func TestCreateReport_Invalid(t *testing.T) {
	tests := []struct {
		name string
		r    Report
	}{
		{"no name", Report{Definition: json.RawMessage(routeDefinition)}},
		{"no definition", Report{Name: "x"}},
		{"bad json", Report{Name: "x", Definition: json.RawMessage(`{`)}},
		{"no active columns", Report{Name: "x", Definition: json.RawMessage(`{"table_name":"generic_routes","columns":[{"name":"route_type"}]}`)}},
		{"unmapped table", Report{Name: "x", Definition: json.RawMessage(`{"table_name":"users","columns":[{"name":"email","active":true}]}`)}},
		{"unmapped column", Report{Name: "x", Definition: json.RawMessage(`{"table_name":"generic_routes","columns":[{"name":"email","active":true}]}`)}},
		{"unmapped filter", Report{Name: "x", Definition: json.RawMessage(`{"table_name":"generic_routes","columns":[{"name":"route_type","active":true}],"filters":[{"column":"email","values":["a"]}]}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService()
			r := tt.r
			if err := svc.CreateReport(context.Background(), &r); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestUpdateReport(t *testing.T) {
	svc, _, _ := newTestService()
	r := &Report{Name: "routes", Definition: json.RawMessage(routeDefinition)}
	if err := svc.CreateReport(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	upd := &Report{UID: r.UID, Name: "renamed", Definition: json.RawMessage(routeDefinition)}
	if err := svc.UpdateReport(context.Background(), upd); err != nil {
		t.Fatal(err)
	}
	got, _ := svc.GetReport(context.Background(), r.UID)
	if got.Name != "renamed" {
		t.Errorf("expected renamed, got %s", got.Name)
	}

	missing := &Report{UID: "nope", Name: "x", Definition: json.RawMessage(routeDefinition)}
	if err := svc.UpdateReport(context.Background(), missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteReport(t *testing.T) {
	svc, _, _ := newTestService()
	r := &Report{Name: "routes", Definition: json.RawMessage(routeDefinition)}
	svc.CreateReport(context.Background(), r)
	if err := svc.DeleteReport(context.Background(), r.UID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetReport(context.Background(), r.UID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestReportData_UsesDefinition(t *testing.T) {
	svc, _, distinct := newTestService()
	r := &Report{Name: "routes", Definition: json.RawMessage(routeDefinition)}
	if err := svc.CreateReport(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ReportData(context.Background(), r.UID, 40, 0); err != nil {
		t.Fatal(err)
	}
	want := `SELECT DISTINCT "route_type", "load_measure" FROM "generic_routes" WHERE 1=1` +
		` AND "route_type"::text = $1 ORDER BY "route_type" ASC, "load_measure" ASC LIMIT $2 OFFSET $3`
	if got := distinct.lastQuery.DataSQL(); got != want {
		t.Errorf("DataSQL:\n got %s\nwant %s", got, want)
	}
	if distinct.lastLimit != 20 || distinct.lastOffset != 40 {
		t.Errorf("expected page size 20 at offset 40, got %d/%d", distinct.lastLimit, distinct.lastOffset)
	}

	if _, err := svc.ReportData(context.Background(), r.UID, 0, 7); err != nil {
		t.Fatal(err)
	}
	if distinct.lastLimit != 7 {
		t.Errorf("explicit limit must override page size, got %d", distinct.lastLimit)
	}
}

func TestReportData_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.ReportData(context.Background(), "missing", 0, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
