package catalog

import (
	"context"

	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
)

type EntityRepository interface {
	Get(ctx context.Context, t modelmap.EntityType, uid string) (*UIEntity, error)
	List(ctx context.Context, t modelmap.EntityType, filters map[string]string, limit, offset int) ([]*UIEntity, int, error)
	Create(ctx context.Context, t modelmap.EntityType, values Values) (*UIEntity, error)
	Update(ctx context.Context, t modelmap.EntityType, uid string, values Values) (*UIEntity, error)
	// Delete removes the entity together with its child entities, aggregate
	// rows and relationship rows.
	Delete(ctx context.Context, t modelmap.EntityType, uid string) error
	Relationships(ctx context.Context, uid string) ([]Relationship, error)
}

type ChildEntityRepository interface {
	ListByParent(ctx context.Context, childType modelmap.EntityType, parentUID string) ([]*UIEntity, error)
	// CreateUnder inserts the child row and its relationship to the parent.
	CreateUnder(ctx context.Context, childType modelmap.EntityType, parentUID string, values Values) (*UIEntity, error)
}

type AggregateRepository interface {
	List(ctx context.Context, t modelmap.AggregateType, parentUID string) (*UIAggregate, error)
	Add(ctx context.Context, t modelmap.AggregateType, parentUID string, values Values) (*UIAggregateRow, error)
	Update(ctx context.Context, t modelmap.AggregateType, parentUID, uid string, values Values) (*UIAggregateRow, error)
	Remove(ctx context.Context, t modelmap.AggregateType, parentUID, uid string) error
	// Replace swaps every row under parentUID for rows.
	Replace(ctx context.Context, t modelmap.AggregateType, parentUID string, rows []Values) (*UIAggregate, error)
}
