package reports

import (
	"context"

	"github.com/pharmadb/pharmadb/internal/platform/query"
)

type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	Get(ctx context.Context, uid string) (*Report, error)
	List(ctx context.Context, limit, offset int) ([]*Report, int, error)
	Update(ctx context.Context, r *Report) error
	Delete(ctx context.Context, uid string) error
}

// DistinctRepository executes validated report queries.
type DistinctRepository interface {
	// Distinct returns one page of q and the total number of rows q matches.
	Distinct(ctx context.Context, q *query.SelectQuery, limit, offset int) ([]map[string]interface{}, int, error)
	// Values returns the first column of up to limit rows of q.
	Values(ctx context.Context, q *query.SelectQuery, limit int) ([]interface{}, error)
}
