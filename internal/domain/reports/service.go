package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/pharmadb/pharmadb/internal/platform/db"
	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
	"github.com/pharmadb/pharmadb/internal/platform/query"
	"github.com/pharmadb/pharmadb/pkg/pagination"
	"github.com/pharmadb/pharmadb/pkg/reportdef"
)

const defaultColumnValuesLimit = 100

type Service struct {
	mm       *modelmap.ModelMap
	reports  ReportRepository
	distinct DistinctRepository
	maxLimit int
	title    cases.Caser
}

func NewService(mm *modelmap.ModelMap, reports ReportRepository, distinct DistinctRepository, maxLimit int) *Service {
	if maxLimit <= 0 {
		maxLimit = pagination.MaxLimit
	}
	return &Service{
		mm:       mm,
		reports:  reports,
		distinct: distinct,
		maxLimit: maxLimit,
		title:    cases.Title(language.English),
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// tableColumns returns the mapped columns of table keyed by column name.
func (s *Service) tableColumns(table string) (map[string]modelmap.PropertyMapping, error) {
	if table == "" {
		return nil, invalid("table_name is required")
	}
	props, ok := s.mm.TableColumns(table)
	if !ok {
		return nil, invalid("unknown table %q", table)
	}
	cols := make(map[string]modelmap.PropertyMapping, len(props))
	for _, p := range props {
		cols[p.Column] = p
	}
	return cols, nil
}

func (s *Service) label(p modelmap.PropertyMapping) string {
	if p.Label != "" {
		return p.Label
	}
	return s.title.String(strings.ReplaceAll(p.Column, "_", " "))
}

// DistinctData runs a filtered, paginated SELECT DISTINCT over one mapped
// table. Every identifier must be a mapped table or column.
func (s *Service) DistinctData(ctx context.Context, req reportdef.DistinctDataRequest) (*reportdef.DistinctDataResponse, error) {
	cols, err := s.tableColumns(req.TableName)
	if err != nil {
		return nil, err
	}
	if len(req.Columns) == 0 {
		return nil, invalid("at least one column is required")
	}
	seen := map[string]bool{}
	meta := make([]reportdef.ColumnMeta, 0, len(req.Columns))
	for _, c := range req.Columns {
		p, ok := cols[c]
		if !ok {
			return nil, invalid("unknown column %q for table %s", c, req.TableName)
		}
		if seen[c] {
			return nil, invalid("duplicate column %q", c)
		}
		seen[c] = true
		meta = append(meta, reportdef.ColumnMeta{Name: c, Label: s.label(p), Type: string(p.Type)})
	}

	q := query.NewSelect(req.TableName, req.Columns...).Distinct()
	if err := applyFilters(q, cols, req.Filters); err != nil {
		return nil, err
	}

	orderBy := req.OrderBy
	if orderBy == "" {
		orderBy = req.Columns[0]
	}
	if !seen[orderBy] {
		return nil, invalid("order_by %q must be one of the selected columns", orderBy)
	}
	q.OrderBy(orderBy, req.OrderDesc)
	for _, c := range req.Columns {
		if c != orderBy {
			q.OrderBy(c, false)
		}
	}

	pg := pagination.Normalize(req.Limit, req.Offset, s.maxLimit)
	rows, total, err := s.distinct.Distinct(ctx, q, pg.Limit, pg.Offset)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		for c, v := range row {
			row[c] = db.NormalizeValue(v, cols[c].Type == modelmap.TypeDate)
		}
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	return &reportdef.DistinctDataResponse{
		Data:      rows,
		Columns:   meta,
		TotalRows: total,
		Offset:    pg.Offset,
		Limit:     pg.Limit,
		HasMore:   pg.Offset+len(rows) < total,
	}, nil
}

func applyFilters(q *query.SelectQuery, cols map[string]modelmap.PropertyMapping, filters map[string]interface{}) error {
	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := cols[name]; !ok {
			return invalid("unknown filter column %q", name)
		}
		values, err := reportdef.FilterValues(filters[name])
		if err != nil {
			return invalid("filter %s: %v", name, err)
		}
		q.WhereText(name, values...)
	}
	return nil
}

// ColumnValues returns distinct non-null values of one column, optionally
// restricted to a case-insensitive prefix.
func (s *Service) ColumnValues(ctx context.Context, req reportdef.ColumnValuesRequest) (*reportdef.ColumnValuesResponse, error) {
	cols, err := s.tableColumns(req.TableName)
	if err != nil {
		return nil, err
	}
	p, ok := cols[req.Column]
	if !ok {
		return nil, invalid("unknown column %q for table %s", req.Column, req.TableName)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultColumnValuesLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	q := query.NewSelect(req.TableName, req.Column).Distinct().WhereNotNull(req.Column)
	if req.Search != "" {
		q.WhereILike(req.Column, req.Search)
	}
	q.OrderBy(req.Column, false)

	values, err := s.distinct.Values(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		values[i] = db.NormalizeValue(v, p.Type == modelmap.TypeDate)
	}
	if values == nil {
		values = []interface{}{}
	}
	return &reportdef.ColumnValuesResponse{Column: req.Column, Values: values}, nil
}

// -- Saved reports --

// parseDefinition checks that raw is a definition over mapped identifiers.
func (s *Service) parseDefinition(raw json.RawMessage) (reportdef.Definition, error) {
	var def reportdef.Definition
	if len(raw) == 0 {
		return def, invalid("definition is required")
	}
	if err := json.Unmarshal(raw, &def); err != nil {
		return def, invalid("definition is not valid JSON: %v", err)
	}
	if err := def.Validate(); err != nil {
		return def, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	cols, err := s.tableColumns(def.TableName)
	if err != nil {
		return def, err
	}
	for _, c := range def.Columns {
		if _, ok := cols[c.Name]; !ok {
			return def, invalid("unknown column %q for table %s", c.Name, def.TableName)
		}
	}
	for _, f := range def.Filters {
		if _, ok := cols[f.Column]; !ok {
			return def, invalid("unknown filter column %q", f.Column)
		}
	}
	return def, nil
}

func (s *Service) validateReport(r *Report) error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return invalid("name is required")
	}
	_, err := s.parseDefinition(r.Definition)
	return err
}

func (s *Service) CreateReport(ctx context.Context, r *Report) error {
	if err := s.validateReport(r); err != nil {
		return err
	}
	return s.reports.Create(ctx, r)
}

func (s *Service) GetReport(ctx context.Context, uid string) (*Report, error) {
	return s.reports.Get(ctx, uid)
}

func (s *Service) ListReports(ctx context.Context, limit, offset int) ([]*Report, int, error) {
	return s.reports.List(ctx, limit, offset)
}

func (s *Service) UpdateReport(ctx context.Context, r *Report) error {
	if r.UID == "" {
		return invalid("uid is required")
	}
	if err := s.validateReport(r); err != nil {
		return err
	}
	return s.reports.Update(ctx, r)
}

func (s *Service) DeleteReport(ctx context.Context, uid string) error {
	return s.reports.Delete(ctx, uid)
}

// ReportData loads a saved report and runs its definition from offset. A
// positive limit overrides the saved page size.
func (s *Service) ReportData(ctx context.Context, uid string, offset, limit int) (*reportdef.DistinctDataResponse, error) {
	r, err := s.reports.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	def, err := s.parseDefinition(r.Definition)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return nil, fmt.Errorf("saved report %s: %w", uid, err)
		}
		return nil, err
	}
	req := reportdef.BuildDistinctDataRequest(def, offset)
	if limit > 0 {
		req.Limit = limit
	}
	return s.DistinctData(ctx, req)
}
