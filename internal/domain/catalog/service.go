package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
)

type Service struct {
	mm         *modelmap.ModelMap
	entities   EntityRepository
	children   ChildEntityRepository
	aggregates AggregateRepository
}

func NewService(mm *modelmap.ModelMap, entities EntityRepository, children ChildEntityRepository, aggregates AggregateRepository) *Service {
	return &Service{
		mm:         mm,
		entities:   entities,
		children:   children,
		aggregates: aggregates,
	}
}

// ModelMap returns the mapping the service resolves names against.
func (s *Service) ModelMap() *modelmap.ModelMap {
	return s.mm
}

// SelectEntity loads an entity with its aggregates, ancestors and children.
func (s *Service) SelectEntity(ctx context.Context, typeName, uid string) (*UIEntity, error) {
	t, err := s.mm.ParseEntityType(typeName)
	if err != nil {
		return nil, err
	}
	if uid == "" {
		return nil, fmt.Errorf("%w: uid is required", ErrValidation)
	}
	ent, err := s.entities.Get(ctx, t, uid)
	if err != nil {
		return nil, err
	}

	aggs, err := s.mm.AggregatesOf(t)
	if err != nil {
		return nil, err
	}
	if len(aggs) > 0 {
		ent.Aggregates = make(map[modelmap.AggregateType]*UIAggregate, len(aggs))
	}
	for _, a := range aggs {
		agg, err := s.aggregates.List(ctx, a.Type, uid)
		if err != nil {
			return nil, err
		}
		ent.Aggregates[a.Type] = agg
	}

	rels, err := s.entities.Relationships(ctx, uid)
	if err != nil {
		return nil, err
	}
	for _, rel := range rels {
		switch uid {
		case rel.ChildUID:
			if ref, ok := s.resolveRef(ctx, rel.AncestorType, rel.AncestorUID); ok {
				ent.Ancestors = append(ent.Ancestors, ref)
			}
		case rel.AncestorUID:
			if ref, ok := s.resolveRef(ctx, rel.ChildType, rel.ChildUID); ok {
				ent.Children = append(ent.Children, ref)
			}
		}
	}
	return ent, nil
}

// resolveRef skips relationship rows that point at missing entities.
func (s *Service) resolveRef(ctx context.Context, t modelmap.EntityType, uid string) (EntityRef, bool) {
	if _, err := s.mm.Entity(t); err != nil {
		return EntityRef{}, false
	}
	ent, err := s.entities.Get(ctx, t, uid)
	if err != nil {
		return EntityRef{}, false
	}
	return ent.Ref(), true
}

func (s *Service) SelectAggregate(ctx context.Context, typeName, parentUID string) (*UIAggregate, error) {
	t, err := s.mm.ParseAggregateType(typeName)
	if err != nil {
		return nil, err
	}
	if parentUID == "" {
		return nil, fmt.Errorf("%w: parent_uid is required", ErrValidation)
	}
	return s.aggregates.List(ctx, t, parentUID)
}

func (s *Service) ListEntities(ctx context.Context, typeName string, filters map[string]string, limit, offset int) ([]*UIEntity, int, error) {
	t, err := s.mm.ParseEntityType(typeName)
	if err != nil {
		return nil, 0, err
	}
	return s.entities.List(ctx, t, filters, limit, offset)
}

func (s *Service) CreateEntity(ctx context.Context, typeName string, values Values) (*UIEntity, error) {
	t, err := s.mm.ParseEntityType(typeName)
	if err != nil {
		return nil, err
	}
	e, _ := s.mm.Entity(t)
	if e.ParentType != "" {
		return nil, fmt.Errorf("%w: %s must be created under a %s", ErrValidation, t, e.ParentType)
	}
	if err := requireDisplay(e, values, true); err != nil {
		return nil, err
	}
	return s.entities.Create(ctx, t, values)
}

func (s *Service) UpdateEntity(ctx context.Context, typeName, uid string, values Values) (*UIEntity, error) {
	t, err := s.mm.ParseEntityType(typeName)
	if err != nil {
		return nil, err
	}
	e, _ := s.mm.Entity(t)
	if err := requireDisplay(e, values, false); err != nil {
		return nil, err
	}
	return s.entities.Update(ctx, t, uid, values)
}

// DeleteEntity removes the entity and everything that references it.
func (s *Service) DeleteEntity(ctx context.Context, typeName, uid string) error {
	t, err := s.mm.ParseEntityType(typeName)
	if err != nil {
		return err
	}
	return s.entities.Delete(ctx, t, uid)
}

func (s *Service) ListChildren(ctx context.Context, parentTypeName, parentUID, childTypeName string) ([]*UIEntity, error) {
	_, child, err := s.parentChild(parentTypeName, childTypeName)
	if err != nil {
		return nil, err
	}
	return s.children.ListByParent(ctx, child.Type, parentUID)
}

func (s *Service) CreateChild(ctx context.Context, parentTypeName, parentUID, childTypeName string, values Values) (*UIEntity, error) {
	_, child, err := s.parentChild(parentTypeName, childTypeName)
	if err != nil {
		return nil, err
	}
	if err := requireDisplay(child, values, true); err != nil {
		return nil, err
	}
	return s.children.CreateUnder(ctx, child.Type, parentUID, values)
}

func (s *Service) parentChild(parentTypeName, childTypeName string) (modelmap.EntityMapping, modelmap.EntityMapping, error) {
	pt, err := s.mm.ParseEntityType(parentTypeName)
	if err != nil {
		return modelmap.EntityMapping{}, modelmap.EntityMapping{}, err
	}
	ct, err := s.mm.ParseEntityType(childTypeName)
	if err != nil {
		return modelmap.EntityMapping{}, modelmap.EntityMapping{}, err
	}
	parent, _ := s.mm.Entity(pt)
	child, _ := s.mm.Entity(ct)
	if child.ParentType != pt {
		return parent, child, fmt.Errorf("%w: %s is not a child of %s", ErrValidation, ct, pt)
	}
	return parent, child, nil
}

func (s *Service) ListAggregate(ctx context.Context, typeName, parentUID string) (*UIAggregate, error) {
	return s.SelectAggregate(ctx, typeName, parentUID)
}

func (s *Service) AddAggregateRow(ctx context.Context, typeName, parentUID string, values Values) (*UIAggregateRow, error) {
	a, err := s.aggregateWithParent(ctx, typeName, parentUID)
	if err != nil {
		return nil, err
	}
	return s.aggregates.Add(ctx, a.Type, parentUID, values)
}

func (s *Service) UpdateAggregateRow(ctx context.Context, typeName, parentUID, uid string, values Values) (*UIAggregateRow, error) {
	t, err := s.mm.ParseAggregateType(typeName)
	if err != nil {
		return nil, err
	}
	return s.aggregates.Update(ctx, t, parentUID, uid, values)
}

func (s *Service) RemoveAggregateRow(ctx context.Context, typeName, parentUID, uid string) error {
	t, err := s.mm.ParseAggregateType(typeName)
	if err != nil {
		return err
	}
	return s.aggregates.Remove(ctx, t, parentUID, uid)
}

func (s *Service) ReplaceAggregate(ctx context.Context, typeName, parentUID string, rows []Values) (*UIAggregate, error) {
	a, err := s.aggregateWithParent(ctx, typeName, parentUID)
	if err != nil {
		return nil, err
	}
	return s.aggregates.Replace(ctx, a.Type, parentUID, rows)
}

// aggregateWithParent refuses writes that would create orphaned rows.
func (s *Service) aggregateWithParent(ctx context.Context, typeName, parentUID string) (modelmap.AggregateMapping, error) {
	t, err := s.mm.ParseAggregateType(typeName)
	if err != nil {
		return modelmap.AggregateMapping{}, err
	}
	a, _ := s.mm.Aggregate(t)
	if parentUID == "" {
		return a, fmt.Errorf("%w: parent_uid is required", ErrValidation)
	}
	if _, err := s.entities.Get(ctx, a.ParentType, parentUID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return a, fmt.Errorf("parent %s %s: %w", a.ParentType, parentUID, ErrNotFound)
		}
		return a, err
	}
	return a, nil
}

// requireDisplay checks the display property. On create it must be present;
// on update it may be omitted but not blanked.
func requireDisplay(e modelmap.EntityMapping, values Values, create bool) error {
	v, ok := values[e.DisplayProperty]
	if !ok && !create {
		return nil
	}
	if strings.TrimSpace(stringValue(v)) == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, e.DisplayProperty)
	}
	return nil
}
