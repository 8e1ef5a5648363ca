package reports

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pharmadb/pharmadb/internal/platform/db"
	"github.com/pharmadb/pharmadb/internal/platform/query"
)

type reportRepoPG struct{ pool db.Querier }

func NewReportRepoPG(pool db.Querier) ReportRepository {
	return &reportRepoPG{pool: pool}
}

func (r *reportRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const reportCols = `uid, name, description, definition, created_by, created_at, updated_at`

func (r *reportRepoPG) scanReport(row pgx.Row) (*Report, error) {
	var rep Report
	var def []byte
	err := row.Scan(&rep.UID, &rep.Name, &rep.Description, &def, &rep.CreatedBy, &rep.CreatedAt, &rep.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rep.Definition = def
	return &rep, nil
}

func (r *reportRepoPG) Create(ctx context.Context, rep *Report) error {
	rep.UID = uuid.New().String()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reports (uid, name, description, definition, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		rep.UID, rep.Name, rep.Description, []byte(rep.Definition), rep.CreatedBy,
	).Scan(&rep.CreatedAt, &rep.UpdatedAt)
}

func (r *reportRepoPG) Get(ctx context.Context, uid string) (*Report, error) {
	return r.scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM reports WHERE uid = $1`, uid))
}

func (r *reportRepoPG) List(ctx context.Context, limit, offset int) ([]*Report, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reports`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+reportCols+` FROM reports ORDER BY name, uid LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Report
	for rows.Next() {
		rep, err := r.scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rep)
	}
	return items, total, rows.Err()
}

func (r *reportRepoPG) Update(ctx context.Context, rep *Report) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE reports SET name = $2, description = $3, definition = $4, updated_at = NOW()
		WHERE uid = $1
		RETURNING created_by, created_at, updated_at`,
		rep.UID, rep.Name, rep.Description, []byte(rep.Definition),
	).Scan(&rep.CreatedBy, &rep.CreatedAt, &rep.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *reportRepoPG) Delete(ctx context.Context, uid string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM reports WHERE uid = $1`, uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type distinctRepoPG struct{ pool db.Querier }

func NewDistinctRepoPG(pool db.Querier) DistinctRepository {
	return &distinctRepoPG{pool: pool}
}

func (r *distinctRepoPG) Distinct(ctx context.Context, q *query.SelectQuery, limit, offset int) ([]map[string]interface{}, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count distinct rows: %w", err)
	}
	rows, err := conn.Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("select distinct rows: %w", err)
	}
	data, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, 0, fmt.Errorf("select distinct rows: %w", err)
	}
	return data, total, nil
}

func (r *distinctRepoPG) Values(ctx context.Context, q *query.SelectQuery, limit int) ([]interface{}, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, q.DataSQL(), q.DataArgs(limit, 0)...)
	if err != nil {
		return nil, fmt.Errorf("select column values: %w", err)
	}
	values, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (interface{}, error) {
		var v interface{}
		err := row.Scan(&v)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("select column values: %w", err)
	}
	return values, nil
}
