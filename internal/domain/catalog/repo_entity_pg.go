package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
	"github.com/pharmadb/pharmadb/internal/platform/query"
)

type entityRepoPG struct{ *BaseRepository }

func NewEntityRepoPG(base *BaseRepository) EntityRepository {
	return &entityRepoPG{BaseRepository: base}
}

func (b *BaseRepository) entityFromRow(e modelmap.EntityMapping, row map[string]interface{}) *UIEntity {
	ent := &UIEntity{
		EntityType: e.Type,
		UID:        stringValue(row[e.KeyField]),
		TableName:  e.TableName,
		Properties: b.buildProperties(e.Properties, row),
	}
	if p, ok := e.Property(e.DisplayProperty); ok {
		ent.DisplayName = stringValue(row[p.Column])
	}
	return ent
}

func (r *entityRepoPG) Get(ctx context.Context, t modelmap.EntityType, uid string) (*UIEntity, error) {
	e, err := r.mm.Entity(t)
	if err != nil {
		return nil, err
	}
	row, err := r.selectOne(ctx, e.TableName, e.Columns(), keyOf(e.KeyField, uid))
	if err != nil {
		return nil, err
	}
	return r.entityFromRow(e, row), nil
}

func (r *entityRepoPG) List(ctx context.Context, t modelmap.EntityType, filters map[string]string, limit, offset int) ([]*UIEntity, int, error) {
	e, err := r.mm.Entity(t)
	if err != nil {
		return nil, 0, err
	}
	q := query.NewSelect(e.TableName, e.Columns()...)
	for name, value := range filters {
		p, ok := e.Property(name)
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s.%s", modelmap.ErrUnknownProperty, t, name)
		}
		q.WhereText(p.Column, value)
	}
	if p, ok := e.Property(e.DisplayProperty); ok {
		q.OrderBy(p.Column, false)
	}
	q.OrderBy(e.KeyField, false)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", e.TableName, err)
	}
	rows, err := r.selectMany(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", e.TableName, err)
	}
	items := make([]*UIEntity, 0, len(rows))
	for _, row := range rows {
		items = append(items, r.entityFromRow(e, row))
	}
	return items, total, nil
}

func (r *entityRepoPG) Create(ctx context.Context, t modelmap.EntityType, values Values) (*UIEntity, error) {
	e, err := r.mm.Entity(t)
	if err != nil {
		return nil, err
	}
	cols, args, err := r.columnValues(string(t), e.Properties, values)
	if err != nil {
		return nil, err
	}
	uid := r.NewKey()
	row, err := r.insert(ctx, e.TableName,
		append([]string{e.KeyField}, cols...),
		append([]interface{}{uid}, args...),
		e.Columns())
	if err != nil {
		return nil, err
	}
	r.log.Debug().Str("entity_type", string(t)).Str("uid", uid).Msg("entity created")
	return r.entityFromRow(e, row), nil
}

func (r *entityRepoPG) Update(ctx context.Context, t modelmap.EntityType, uid string, values Values) (*UIEntity, error) {
	e, err := r.mm.Entity(t)
	if err != nil {
		return nil, err
	}
	cols, args, err := r.columnValues(string(t), e.Properties, values)
	if err != nil {
		return nil, err
	}
	row, err := r.update(ctx, e.TableName, keyOf(e.KeyField, uid), cols, args, hasUpdatedAt(e.Properties), e.Columns())
	if err != nil {
		return nil, err
	}
	return r.entityFromRow(e, row), nil
}

func (r *entityRepoPG) Delete(ctx context.Context, t modelmap.EntityType, uid string) error {
	e, err := r.mm.Entity(t)
	if err != nil {
		return err
	}
	return r.withTx(ctx, func(ctx context.Context) error {
		n, err := r.deleteCascade(ctx, e, uid)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%s %s: %w", t, uid, ErrNotFound)
		}
		r.log.Info().Str("entity_type", string(t)).Str("uid", uid).Msg("entity deleted")
		return nil
	})
}

// cascadeKeys holds the uids a cascading delete removes, keyed by table.
type cascadeKeys struct {
	keyField map[string]string
	keys     map[string][]string
	all      []string
}

func (k *cascadeKeys) add(table, keyField string, uids []string) {
	k.keyField[table] = keyField
	k.keys[table] = append(k.keys[table], uids...)
	k.all = append(k.all, uids...)
}

// collectCascade records uids of e and, level by level, of every descendant
// entity. Aggregate tables are keyed by their foreign key on the parent uids.
func (r *entityRepoPG) collectCascade(ctx context.Context, e modelmap.EntityMapping, uids []string, k *cascadeKeys) error {
	k.add(e.TableName, e.KeyField, uids)
	aggs, err := r.mm.AggregatesOf(e.Type)
	if err != nil {
		return err
	}
	for _, a := range aggs {
		k.keyField[a.TableName] = a.ForeignKey
		k.keys[a.TableName] = append(k.keys[a.TableName], uids...)
	}

	children, err := r.mm.ChildrenOf(e.Type)
	if err != nil {
		return err
	}
	for _, child := range children {
		rows, err := r.selectMany(ctx,
			fmt.Sprintf("SELECT %s FROM %s WHERE %s = ANY($1)",
				query.Ident(child.KeyField), query.Ident(child.TableName), query.Ident(child.ParentKey)),
			uids)
		if err != nil {
			return fmt.Errorf("find %s children: %w", child.Type, err)
		}
		if len(rows) == 0 {
			continue
		}
		childUIDs := make([]string, 0, len(rows))
		for _, row := range rows {
			childUIDs = append(childUIDs, stringValue(row[child.KeyField]))
		}
		if err := r.collectCascade(ctx, child, childUIDs, k); err != nil {
			return err
		}
	}
	return nil
}

// deleteCascade deletes uid and everything hanging off it in the order given
// by ModelMap.CascadeTables. It returns the number of rows removed from the
// entity's own table.
func (r *entityRepoPG) deleteCascade(ctx context.Context, e modelmap.EntityMapping, uid string) (int64, error) {
	plan, err := r.mm.CascadeTables(e.Type)
	if err != nil {
		return 0, err
	}
	k := &cascadeKeys{keyField: map[string]string{}, keys: map[string][]string{}}
	if err := r.collectCascade(ctx, e, []string{uid}, k); err != nil {
		return 0, err
	}

	var removed int64
	for _, table := range plan {
		if table == modelmap.RelationshipsTable {
			if _, err := r.conn(ctx).Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ANY($1) OR %s = ANY($1)",
				query.Ident(modelmap.RelationshipsTable),
				query.Ident(modelmap.RelationshipAncestorCol),
				query.Ident(modelmap.RelationshipChildCol)), k.all); err != nil {
				return 0, fmt.Errorf("delete relationships of %s: %w", uid, err)
			}
			continue
		}
		keys := k.keys[table]
		if len(keys) == 0 {
			continue
		}
		sql := fmt.Sprintf("DELETE FROM %s WHERE %s = ANY($1)", query.Ident(table), query.Ident(k.keyField[table]))
		tag, err := r.conn(ctx).Exec(ctx, sql, keys)
		if err != nil {
			return 0, fmt.Errorf("delete from %s: %w", table, err)
		}
		if table == e.TableName {
			removed = tag.RowsAffected()
		}
	}
	return removed, nil
}

func (r *entityRepoPG) Relationships(ctx context.Context, uid string) ([]Relationship, error) {
	sql := fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s WHERE %s = $1 OR %s = $1 ORDER BY relationship_date, %s",
		query.Ident(modelmap.RelationshipKey),
		query.Ident(modelmap.RelationshipAncestorCol),
		query.Ident(modelmap.RelationshipChildCol),
		query.Ident(modelmap.RelationshipTypeCol),
		query.Ident(modelmap.RelationshipsTable),
		query.Ident(modelmap.RelationshipAncestorCol),
		query.Ident(modelmap.RelationshipChildCol),
		query.Ident(modelmap.RelationshipKey))
	rows, err := r.conn(ctx).Query(ctx, sql, uid)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var rel Relationship
		var relType string
		if err := rows.Scan(&rel.UID, &rel.AncestorUID, &rel.ChildUID, &relType); err != nil {
			return nil, err
		}
		rel.AncestorType, rel.ChildType = parseRelationshipType(relType)
		out = append(out, rel)
	}
	return out, rows.Err()
}

func relationshipType(ancestor, child modelmap.EntityType) string {
	return string(ancestor) + "/" + string(child)
}

func parseRelationshipType(s string) (ancestor, child modelmap.EntityType) {
	a, c, _ := strings.Cut(s, "/")
	return modelmap.EntityType(a), modelmap.EntityType(c)
}
