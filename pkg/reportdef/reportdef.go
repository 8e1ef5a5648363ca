// Package reportdef holds the saved report definition format and the
// request and response bodies of the distinct-data API. It is shared by the
// server and the Go client.
package reportdef

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const DefaultPageSize = 50

var ErrInvalidDefinition = errors.New("invalid report definition")

// Column is one selectable column of a report.
type Column struct {
	Name    string `json:"name"`
	Label   string `json:"label,omitempty"`
	Active  bool   `json:"active"`
	Ordinal int    `json:"ordinal"`
}

// Filter restricts Column to any of Values. An empty Values list means no
// restriction.
type Filter struct {
	Column string   `json:"column"`
	Values []string `json:"values"`
}

// Definition is the JSON document users save for a report.
type Definition struct {
	TableName string   `json:"table_name"`
	Columns   []Column `json:"columns"`
	Filters   []Filter `json:"filters,omitempty"`
	OrderBy   string   `json:"order_by,omitempty"`
	OrderDesc bool     `json:"order_desc,omitempty"`
	PageSize  int      `json:"page_size,omitempty"`
}

// ActiveColumns returns the active columns sorted by ordinal. Ties keep
// definition order.
func (d Definition) ActiveColumns() []Column {
	var cols []Column
	for _, c := range d.Columns {
		if c.Active {
			cols = append(cols, c)
		}
	}
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Ordinal < cols[j].Ordinal })
	return cols
}

// Limit is the page size, defaulting to DefaultPageSize.
func (d Definition) Limit() int {
	if d.PageSize <= 0 {
		return DefaultPageSize
	}
	return d.PageSize
}

func (d Definition) Validate() error {
	if strings.TrimSpace(d.TableName) == "" {
		return fmt.Errorf("%w: table_name is required", ErrInvalidDefinition)
	}
	if len(d.ActiveColumns()) == 0 {
		return fmt.Errorf("%w: at least one active column is required", ErrInvalidDefinition)
	}
	seen := map[string]bool{}
	for _, c := range d.Columns {
		if c.Name == "" {
			return fmt.Errorf("%w: column without a name", ErrInvalidDefinition)
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: duplicate column %s", ErrInvalidDefinition, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// DistinctDataRequest is the body of POST /reports/distinct-data. Filter
// values are either a single scalar or an array of values.
type DistinctDataRequest struct {
	TableName string                 `json:"table_name"`
	Columns   []string               `json:"columns"`
	Filters   map[string]interface{} `json:"filters,omitempty"`
	OrderBy   string                 `json:"order_by,omitempty"`
	OrderDesc bool                   `json:"order_desc,omitempty"`
	Offset    int                    `json:"offset"`
	Limit     int                    `json:"limit"`
}

type ColumnMeta struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

type DistinctDataResponse struct {
	Data      []map[string]interface{} `json:"data"`
	Columns   []ColumnMeta             `json:"columns"`
	TotalRows int                      `json:"total_rows"`
	Offset    int                      `json:"offset"`
	Limit     int                      `json:"limit"`
	HasMore   bool                     `json:"has_more"`
}

// ColumnValuesRequest is the body of POST /reports/column-values.
type ColumnValuesRequest struct {
	TableName string `json:"table_name"`
	Column    string `json:"column"`
	Search    string `json:"search,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type ColumnValuesResponse struct {
	Column string        `json:"column"`
	Values []interface{} `json:"values"`
}

// BuildDistinctDataRequest turns a saved definition into the request for the
// page starting at offset. Only active columns are sent, in ordinal order.
// A filter with one value is sent as a scalar, several as an array, and
// filters without values are dropped.
func BuildDistinctDataRequest(def Definition, offset int) DistinctDataRequest {
	req := DistinctDataRequest{
		TableName: def.TableName,
		OrderBy:   def.OrderBy,
		OrderDesc: def.OrderDesc,
		Offset:    offset,
		Limit:     def.Limit(),
	}
	for _, c := range def.ActiveColumns() {
		req.Columns = append(req.Columns, c.Name)
	}
	req.Filters = FormatFilters(def.Filters)
	return req
}

// FormatFilters converts filters to the {column: value | [values]} shape.
// It returns nil when no filter has values.
func FormatFilters(filters []Filter) map[string]interface{} {
	var out map[string]interface{}
	for _, f := range filters {
		if f.Column == "" {
			continue
		}
		var vals []string
		for _, v := range f.Values {
			if v != "" {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]interface{})
		}
		if len(vals) == 1 {
			out[f.Column] = vals[0]
		} else {
			out[f.Column] = vals
		}
	}
	return out
}

// FilterValues normalises a decoded filter value (scalar or array) into the
// list of string values to match.
func FilterValues(v interface{}) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		if x == "" {
			return nil, nil
		}
		return []string{x}, nil
	case []string:
		return x, nil
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, item := range x {
			switch item.(type) {
			case []interface{}, map[string]interface{}:
				return nil, fmt.Errorf("nested filter value %v", item)
			case nil:
				continue
			}
			out = append(out, scalarString(item))
		}
		return out, nil
	case map[string]interface{}:
		return nil, fmt.Errorf("filter value must be a scalar or an array")
	default:
		return []string{scalarString(x)}, nil
	}
}

func scalarString(v interface{}) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}
