// Package modelmap maps UI entity and aggregate types onto database tables,
// key fields and per-property columns.
//
// The map is static and read-only. Lookups for types or properties that are
// not mapped fail with ErrUnknownType or ErrUnknownProperty instead of
// returning empty defaults, so missing configuration surfaces at the caller.
package modelmap

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

var (
	ErrUnknownType     = errors.New("unknown model type")
	ErrUnknownProperty = errors.New("unknown property")
)

// EntityType names a top-level or child entity (one row, one UIEntity).
type EntityType string

// AggregateType names a one-to-many sub-collection of an entity.
type AggregateType string

const (
	GenericDrug EntityType = "GenericDrug"
	ManuDrug    EntityType = "ManuDrug"
)

const (
	GenericAlias    AggregateType = "GenericAlias"
	GenericRoute    AggregateType = "GenericRoute"
	GenericApproval AggregateType = "GenericApproval"
)

// Relationship table linking ancestors to children. It is shared by every
// entity type, so it is not part of any EntityMapping.
const (
	RelationshipsTable      = "entity_relationships"
	RelationshipKey         = "uid"
	RelationshipAncestorCol = "ancestor_uid"
	RelationshipChildCol    = "child_uid"
	RelationshipTypeCol     = "relationship_type"
)

// PropertyType tells the UI how to render and the repositories how to
// coerce a property value.
type PropertyType string

const (
	TypeText    PropertyType = "text"
	TypeNumber  PropertyType = "number"
	TypeBoolean PropertyType = "boolean"
	TypeDate    PropertyType = "date"
)

// PropertyMapping links a UI property name to a database column.
type PropertyMapping struct {
	Property string       `json:"property"`
	Column   string       `json:"column"`
	Label    string       `json:"label"`
	Type     PropertyType `json:"type"`
	Visible  bool         `json:"visible"`
	Editable bool         `json:"editable"`
	Ordinal  int          `json:"ordinal"`
}

// EntityMapping describes where an entity type lives.
type EntityMapping struct {
	Type            EntityType        `json:"type"`
	TableName       string            `json:"table_name"`
	KeyField        string            `json:"key_field"`
	DisplayProperty string            `json:"display_property"`
	ParentType      EntityType        `json:"parent_type,omitempty"`
	ParentKey       string            `json:"parent_key,omitempty"`
	Properties      []PropertyMapping `json:"properties"`
	Aggregates      []AggregateType   `json:"aggregates,omitempty"`
	Children        []EntityType      `json:"children,omitempty"`
}

// Property looks up a property by its UI name.
func (e EntityMapping) Property(name string) (PropertyMapping, bool) {
	return findProperty(e.Properties, name)
}

// Columns returns the mapped columns in ordinal order.
func (e EntityMapping) Columns() []string {
	return columnsOf(e.Properties)
}

// AggregateMapping describes a one-to-many collection owned by an entity.
type AggregateMapping struct {
	Type       AggregateType     `json:"type"`
	TableName  string            `json:"table_name"`
	KeyField   string            `json:"key_field"`
	ForeignKey string            `json:"foreign_key"`
	ParentType EntityType        `json:"parent_type"`
	Properties []PropertyMapping `json:"properties"`
}

func (a AggregateMapping) Property(name string) (PropertyMapping, bool) {
	return findProperty(a.Properties, name)
}

func (a AggregateMapping) Columns() []string {
	return columnsOf(a.Properties)
}

// ModelMap is the immutable resolution table. Use Default for the built-in
// pharmaceutical catalog.
type ModelMap struct {
	entities       map[EntityType]EntityMapping
	aggregates     map[AggregateType]AggregateMapping
	entityOrder    []EntityType
	aggregateOrder []AggregateType
	tables         map[string][]PropertyMapping
}

// New builds and validates a ModelMap.
func New(entities []EntityMapping, aggregates []AggregateMapping) (*ModelMap, error) {
	m := &ModelMap{
		entities:   make(map[EntityType]EntityMapping, len(entities)),
		aggregates: make(map[AggregateType]AggregateMapping, len(aggregates)),
		tables:     make(map[string][]PropertyMapping),
	}
	for _, e := range entities {
		if _, dup := m.entities[e.Type]; dup {
			return nil, fmt.Errorf("duplicate entity type %s", e.Type)
		}
		e.Properties = sortedProperties(e.Properties)
		m.entities[e.Type] = e
		m.entityOrder = append(m.entityOrder, e.Type)
		if err := m.addTable(e.TableName, e.Properties); err != nil {
			return nil, err
		}
	}
	for _, a := range aggregates {
		if _, dup := m.aggregates[a.Type]; dup {
			return nil, fmt.Errorf("duplicate aggregate type %s", a.Type)
		}
		a.Properties = sortedProperties(a.Properties)
		m.aggregates[a.Type] = a
		m.aggregateOrder = append(m.aggregateOrder, a.Type)
		if err := m.addTable(a.TableName, a.Properties); err != nil {
			return nil, err
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ModelMap) addTable(table string, props []PropertyMapping) error {
	if table == "" {
		return fmt.Errorf("empty table name")
	}
	if _, dup := m.tables[table]; dup {
		return fmt.Errorf("table %s mapped twice", table)
	}
	m.tables[table] = props
	return nil
}

// Validate checks the internal consistency of the map.
func (m *ModelMap) Validate() error {
	for _, t := range m.entityOrder {
		e := m.entities[t]
		if e.KeyField == "" {
			return fmt.Errorf("entity %s: missing key field", t)
		}
		if err := checkProperties(string(t), e.Properties, e.KeyField); err != nil {
			return err
		}
		if _, ok := e.Property(e.DisplayProperty); !ok {
			return fmt.Errorf("entity %s: display property %q not mapped", t, e.DisplayProperty)
		}
		if e.ParentType != "" {
			if _, ok := m.entities[e.ParentType]; !ok {
				return fmt.Errorf("entity %s: parent %s: %w", t, e.ParentType, ErrUnknownType)
			}
			if !hasColumn(e.Properties, e.ParentKey) {
				return fmt.Errorf("entity %s: parent key %q not mapped", t, e.ParentKey)
			}
		}
		for _, at := range e.Aggregates {
			a, ok := m.aggregates[at]
			if !ok {
				return fmt.Errorf("entity %s: aggregate %s: %w", t, at, ErrUnknownType)
			}
			if a.ParentType != t {
				return fmt.Errorf("entity %s: aggregate %s belongs to %s", t, at, a.ParentType)
			}
		}
		for _, ct := range e.Children {
			c, ok := m.entities[ct]
			if !ok {
				return fmt.Errorf("entity %s: child %s: %w", t, ct, ErrUnknownType)
			}
			if c.ParentType != t {
				return fmt.Errorf("entity %s: child %s has parent %s", t, ct, c.ParentType)
			}
		}
	}
	for _, t := range m.aggregateOrder {
		a := m.aggregates[t]
		if _, ok := m.entities[a.ParentType]; !ok {
			return fmt.Errorf("aggregate %s: parent %s: %w", t, a.ParentType, ErrUnknownType)
		}
		if err := checkProperties(string(t), a.Properties, a.KeyField); err != nil {
			return err
		}
		if !hasColumn(a.Properties, a.ForeignKey) {
			return fmt.Errorf("aggregate %s: foreign key %q not mapped", t, a.ForeignKey)
		}
	}
	return nil
}

func checkProperties(owner string, props []PropertyMapping, key string) error {
	names := make(map[string]bool, len(props))
	cols := make(map[string]bool, len(props))
	for _, p := range props {
		if p.Property == "" || p.Column == "" {
			return fmt.Errorf("%s: property with empty name or column", owner)
		}
		if names[p.Property] {
			return fmt.Errorf("%s: property %q mapped twice", owner, p.Property)
		}
		if cols[p.Column] {
			return fmt.Errorf("%s: column %q mapped twice", owner, p.Column)
		}
		names[p.Property] = true
		cols[p.Column] = true
	}
	if !cols[key] {
		return fmt.Errorf("%s: key field %q not mapped", owner, key)
	}
	return nil
}

// Entity returns the mapping of an entity type.
func (m *ModelMap) Entity(t EntityType) (EntityMapping, error) {
	e, ok := m.entities[t]
	if !ok {
		return EntityMapping{}, fmt.Errorf("entity %q: %w", t, ErrUnknownType)
	}
	return cloneEntity(e), nil
}

// Aggregate returns the mapping of an aggregate type.
func (m *ModelMap) Aggregate(t AggregateType) (AggregateMapping, error) {
	a, ok := m.aggregates[t]
	if !ok {
		return AggregateMapping{}, fmt.Errorf("aggregate %q: %w", t, ErrUnknownType)
	}
	a.Properties = slices.Clone(a.Properties)
	return a, nil
}

// ParseEntityType resolves a type name coming from a request.
func (m *ModelMap) ParseEntityType(name string) (EntityType, error) {
	t := EntityType(name)
	if _, ok := m.entities[t]; !ok {
		return "", fmt.Errorf("entity %q: %w", name, ErrUnknownType)
	}
	return t, nil
}

func (m *ModelMap) ParseAggregateType(name string) (AggregateType, error) {
	t := AggregateType(name)
	if _, ok := m.aggregates[t]; !ok {
		return "", fmt.Errorf("aggregate %q: %w", name, ErrUnknownType)
	}
	return t, nil
}

// Entities returns every entity mapping in declaration order.
func (m *ModelMap) Entities() []EntityMapping {
	out := make([]EntityMapping, 0, len(m.entityOrder))
	for _, t := range m.entityOrder {
		out = append(out, cloneEntity(m.entities[t]))
	}
	return out
}

func (m *ModelMap) Aggregates() []AggregateMapping {
	out := make([]AggregateMapping, 0, len(m.aggregateOrder))
	for _, t := range m.aggregateOrder {
		a := m.aggregates[t]
		a.Properties = slices.Clone(a.Properties)
		out = append(out, a)
	}
	return out
}

// AggregatesOf returns the aggregate mappings owned by an entity type.
func (m *ModelMap) AggregatesOf(t EntityType) ([]AggregateMapping, error) {
	e, err := m.Entity(t)
	if err != nil {
		return nil, err
	}
	out := make([]AggregateMapping, 0, len(e.Aggregates))
	for _, at := range e.Aggregates {
		a, err := m.Aggregate(at)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ChildrenOf returns the mappings of the child entity types of t.
func (m *ModelMap) ChildrenOf(t EntityType) ([]EntityMapping, error) {
	e, err := m.Entity(t)
	if err != nil {
		return nil, err
	}
	out := make([]EntityMapping, 0, len(e.Children))
	for _, ct := range e.Children {
		c, err := m.Entity(ct)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// EntityAllTableNames returns the entity's own table followed by the table of
// every aggregate it owns, without duplicates.
func (m *ModelMap) EntityAllTableNames(t EntityType) ([]string, error) {
	e, err := m.Entity(t)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{e.TableName: true}
	names := []string{e.TableName}
	for _, at := range e.Aggregates {
		a, err := m.Aggregate(at)
		if err != nil {
			return nil, err
		}
		if seen[a.TableName] {
			continue
		}
		seen[a.TableName] = true
		names = append(names, a.TableName)
	}
	return names, nil
}

// CascadeTables lists, in delete order, every table a cascading delete of t
// touches: aggregate tables of the entity and its descendants, the
// relationship table, then descendant entity tables and the entity's own table.
func (m *ModelMap) CascadeTables(t EntityType) ([]string, error) {
	var aggTables, entityTables []string
	var walk func(EntityType) error
	walk = func(t EntityType) error {
		e, err := m.Entity(t)
		if err != nil {
			return err
		}
		for _, ct := range e.Children {
			if err := walk(ct); err != nil {
				return err
			}
		}
		for _, at := range e.Aggregates {
			if table := m.aggregates[at].TableName; !slices.Contains(aggTables, table) {
				aggTables = append(aggTables, table)
			}
		}
		entityTables = append(entityTables, e.TableName)
		return nil
	}
	if err := walk(t); err != nil {
		return nil, err
	}
	out := append(aggTables, RelationshipsTable)
	return append(out, entityTables...), nil
}

// ResolveProperty resolves a property of an entity or aggregate type to its
// table and column.
func (m *ModelMap) ResolveProperty(typeName, property string) (table, column string, err error) {
	if e, ok := m.entities[EntityType(typeName)]; ok {
		p, ok := e.Property(property)
		if !ok {
			return "", "", fmt.Errorf("%s.%s: %w", typeName, property, ErrUnknownProperty)
		}
		return e.TableName, p.Column, nil
	}
	if a, ok := m.aggregates[AggregateType(typeName)]; ok {
		p, ok := a.Property(property)
		if !ok {
			return "", "", fmt.Errorf("%s.%s: %w", typeName, property, ErrUnknownProperty)
		}
		return a.TableName, p.Column, nil
	}
	return "", "", fmt.Errorf("type %q: %w", typeName, ErrUnknownType)
}

// TableColumns returns the property mappings of a mapped table.
func (m *ModelMap) TableColumns(table string) ([]PropertyMapping, bool) {
	props, ok := m.tables[table]
	if !ok {
		return nil, false
	}
	return slices.Clone(props), true
}

// Tables returns every mapped table name, sorted.
func (m *ModelMap) Tables() []string {
	out := make([]string, 0, len(m.tables))
	for t := range m.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func findProperty(props []PropertyMapping, name string) (PropertyMapping, bool) {
	for _, p := range props {
		if p.Property == name {
			return p, true
		}
	}
	return PropertyMapping{}, false
}

func hasColumn(props []PropertyMapping, column string) bool {
	for _, p := range props {
		if p.Column == column {
			return true
		}
	}
	return false
}

func columnsOf(props []PropertyMapping) []string {
	cols := make([]string, len(props))
	for i, p := range props {
		cols[i] = p.Column
	}
	return cols
}

func sortedProperties(props []PropertyMapping) []PropertyMapping {
	out := slices.Clone(props)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

func cloneEntity(e EntityMapping) EntityMapping {
	e.Properties = slices.Clone(e.Properties)
	e.Aggregates = slices.Clone(e.Aggregates)
	e.Children = slices.Clone(e.Children)
	return e
}
