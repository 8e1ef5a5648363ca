package catalog

import (
	"context"
	"fmt"

	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
	"github.com/pharmadb/pharmadb/internal/platform/query"
)

type childRepoPG struct{ *BaseRepository }

func NewChildEntityRepoPG(base *BaseRepository) ChildEntityRepository {
	return &childRepoPG{BaseRepository: base}
}

func (r *childRepoPG) childMapping(t modelmap.EntityType) (modelmap.EntityMapping, error) {
	e, err := r.mm.Entity(t)
	if err != nil {
		return e, err
	}
	if e.ParentType == "" || e.ParentKey == "" {
		return e, fmt.Errorf("%w: %s is not a child entity type", ErrValidation, t)
	}
	return e, nil
}

func (r *childRepoPG) ListByParent(ctx context.Context, childType modelmap.EntityType, parentUID string) ([]*UIEntity, error) {
	e, err := r.childMapping(childType)
	if err != nil {
		return nil, err
	}
	// Unpaged: a generic drug has a handful of manufactured drugs.
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY %s",
		quoteAll(e.Columns()), query.Ident(e.TableName), query.Ident(e.ParentKey), orderColumns(e))
	rows, err := r.selectMany(ctx, sql, parentUID)
	if err != nil {
		return nil, fmt.Errorf("list %s by parent: %w", e.TableName, err)
	}
	items := make([]*UIEntity, 0, len(rows))
	for _, row := range rows {
		items = append(items, r.entityFromRow(e, row))
	}
	return items, nil
}

func (r *childRepoPG) CreateUnder(ctx context.Context, childType modelmap.EntityType, parentUID string, values Values) (*UIEntity, error) {
	e, err := r.childMapping(childType)
	if err != nil {
		return nil, err
	}
	parent, err := r.mm.Entity(e.ParentType)
	if err != nil {
		return nil, err
	}
	cols, args, err := r.columnValues(string(childType), e.Properties, values)
	if err != nil {
		return nil, err
	}

	var created *UIEntity
	err = r.withTx(ctx, func(ctx context.Context) error {
		if _, err := r.selectOne(ctx, parent.TableName, []string{parent.KeyField}, keyOf(parent.KeyField, parentUID)); err != nil {
			return err
		}
		uid := r.NewKey()
		row, err := r.insert(ctx, e.TableName,
			append([]string{e.KeyField, e.ParentKey}, cols...),
			append([]interface{}{uid, parentUID}, args...),
			e.Columns())
		if err != nil {
			return err
		}
		if _, err := r.insert(ctx, modelmap.RelationshipsTable,
			[]string{modelmap.RelationshipKey, modelmap.RelationshipAncestorCol, modelmap.RelationshipChildCol, modelmap.RelationshipTypeCol},
			[]interface{}{r.NewKey(), parentUID, uid, relationshipType(parent.Type, childType)},
			[]string{modelmap.RelationshipKey}); err != nil {
			return err
		}
		created = r.entityFromRow(e, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func orderColumns(e modelmap.EntityMapping) string {
	if p, ok := e.Property(e.DisplayProperty); ok && p.Column != e.KeyField {
		return query.Ident(p.Column) + ", " + query.Ident(e.KeyField)
	}
	return query.Ident(e.KeyField)
}
