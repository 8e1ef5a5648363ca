package catalog

import (
	"errors"

	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrNotEditable = errors.New("property is not editable")
)

// Values carries property values keyed by UI property name.
type Values map[string]interface{}

// UIProperty is one display-oriented property of an entity or aggregate row.
type UIProperty struct {
	Name     string                `json:"name"`
	Label    string                `json:"label"`
	Value    interface{}           `json:"value"`
	Type     modelmap.PropertyType `json:"type"`
	Visible  bool                  `json:"visible"`
	Editable bool                  `json:"editable"`
	Ordinal  int                   `json:"ordinal"`
}

// EntityRef points at a related entity.
type EntityRef struct {
	EntityType  modelmap.EntityType `json:"entity_type"`
	UID         string              `json:"uid"`
	DisplayName string              `json:"display_name,omitempty"`
}

// UIEntity is built from one database row on every request.
type UIEntity struct {
	EntityType  modelmap.EntityType                     `json:"entity_type"`
	UID         string                                  `json:"uid"`
	TableName   string                                  `json:"table_name"`
	DisplayName string                                  `json:"display_name"`
	Properties  []UIProperty                            `json:"properties"`
	Ancestors   []EntityRef                             `json:"ancestors,omitempty"`
	Children    []EntityRef                             `json:"children,omitempty"`
	Aggregates  map[modelmap.AggregateType]*UIAggregate `json:"aggregates,omitempty"`
}

// Value returns the value of a property, or nil when it is absent.
func (e *UIEntity) Value(property string) interface{} {
	return propertyValue(e.Properties, property)
}

// Ref returns a reference to e.
func (e *UIEntity) Ref() EntityRef {
	return EntityRef{EntityType: e.EntityType, UID: e.UID, DisplayName: e.DisplayName}
}

// UIAggregateRow is one row of a one-to-many collection.
type UIAggregateRow struct {
	UID        string       `json:"uid"`
	Properties []UIProperty `json:"properties"`
}

func (r *UIAggregateRow) Value(property string) interface{} {
	return propertyValue(r.Properties, property)
}

// UIAggregate is the collection of rows of one aggregate type under a parent.
type UIAggregate struct {
	AggregateType modelmap.AggregateType `json:"aggregate_type"`
	TableName     string                 `json:"table_name"`
	ParentUID     string                 `json:"parent_uid"`
	Rows          []UIAggregateRow       `json:"rows"`
}

// Relationship is a row of entity_relationships.
type Relationship struct {
	UID          string              `json:"uid"`
	AncestorUID  string              `json:"ancestor_uid"`
	AncestorType modelmap.EntityType `json:"ancestor_type"`
	ChildUID     string              `json:"child_uid"`
	ChildType    modelmap.EntityType `json:"child_type"`
}

func propertyValue(props []UIProperty, name string) interface{} {
	for _, p := range props {
		if p.Name == name {
			return p.Value
		}
	}
	return nil
}
