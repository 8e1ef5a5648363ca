package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
	"github.com/pharmadb/pharmadb/internal/platform/query"
)

type aggregateRepoPG struct{ *BaseRepository }

func NewAggregateRepoPG(base *BaseRepository) AggregateRepository {
	return &aggregateRepoPG{BaseRepository: base}
}

func (b *BaseRepository) aggregateRow(a modelmap.AggregateMapping, row map[string]interface{}) UIAggregateRow {
	return UIAggregateRow{
		UID:        stringValue(row[a.KeyField]),
		Properties: b.buildProperties(a.Properties, row),
	}
}

func (r *aggregateRepoPG) List(ctx context.Context, t modelmap.AggregateType, parentUID string) (*UIAggregate, error) {
	a, err := r.mm.Aggregate(t)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY %s",
		quoteAll(a.Columns()), query.Ident(a.TableName), query.Ident(a.ForeignKey), query.Ident(a.KeyField))
	rows, err := r.selectMany(ctx, sql, parentUID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", a.TableName, err)
	}
	agg := &UIAggregate{
		AggregateType: t,
		TableName:     a.TableName,
		ParentUID:     parentUID,
		Rows:          make([]UIAggregateRow, 0, len(rows)),
	}
	for _, row := range rows {
		agg.Rows = append(agg.Rows, r.aggregateRow(a, row))
	}
	return agg, nil
}

func (r *aggregateRepoPG) Add(ctx context.Context, t modelmap.AggregateType, parentUID string, values Values) (*UIAggregateRow, error) {
	a, err := r.mm.Aggregate(t)
	if err != nil {
		return nil, err
	}
	return r.add(ctx, a, parentUID, values)
}

func (r *aggregateRepoPG) add(ctx context.Context, a modelmap.AggregateMapping, parentUID string, values Values) (*UIAggregateRow, error) {
	cols, args, err := r.columnValues(string(a.Type), a.Properties, values)
	if err != nil {
		return nil, err
	}
	row, err := r.insert(ctx, a.TableName,
		append([]string{a.KeyField, a.ForeignKey}, cols...),
		append([]interface{}{r.NewKey(), parentUID}, args...),
		a.Columns())
	if err != nil {
		return nil, err
	}
	out := r.aggregateRow(a, row)
	return &out, nil
}

func (r *aggregateRepoPG) Update(ctx context.Context, t modelmap.AggregateType, parentUID, uid string, values Values) (*UIAggregateRow, error) {
	a, err := r.mm.Aggregate(t)
	if err != nil {
		return nil, err
	}
	cols, args, err := r.columnValues(string(t), a.Properties, values)
	if err != nil {
		return nil, err
	}
	row, err := r.update(ctx, a.TableName, keyOf(a.KeyField, uid).and(a.ForeignKey, parentUID), cols, args, false, a.Columns())
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%s %s under %s: %w", t, uid, parentUID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	out := r.aggregateRow(a, row)
	return &out, nil
}

func (r *aggregateRepoPG) Remove(ctx context.Context, t modelmap.AggregateType, parentUID, uid string) error {
	a, err := r.mm.Aggregate(t)
	if err != nil {
		return err
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND %s = $2",
		query.Ident(a.TableName), query.Ident(a.KeyField), query.Ident(a.ForeignKey))
	tag, err := r.conn(ctx).Exec(ctx, sql, uid, parentUID)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", a.TableName, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s under %s: %w", t, uid, parentUID, ErrNotFound)
	}
	return nil
}

func (r *aggregateRepoPG) Replace(ctx context.Context, t modelmap.AggregateType, parentUID string, rows []Values) (*UIAggregate, error) {
	a, err := r.mm.Aggregate(t)
	if err != nil {
		return nil, err
	}
	agg := &UIAggregate{
		AggregateType: t,
		TableName:     a.TableName,
		ParentUID:     parentUID,
		Rows:          make([]UIAggregateRow, 0, len(rows)),
	}
	err = r.withTx(ctx, func(ctx context.Context) error {
		if _, err := r.deleteWhere(ctx, a.TableName, a.ForeignKey, parentUID); err != nil {
			return err
		}
		for _, values := range rows {
			row, err := r.add(ctx, a, parentUID, values)
			if err != nil {
				return err
			}
			agg.Rows = append(agg.Rows, *row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}
