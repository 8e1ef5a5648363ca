// Package orphans finds and removes rows whose parent entity no longer
// exists. Parent references carry no ON DELETE CASCADE, so an interrupted
// delete or a manual edit can leave children, aggregate rows and
// relationship rows behind.
package orphans

import (
	"fmt"
	"strings"

	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
	"github.com/pharmadb/pharmadb/internal/platform/query"
)

// Check is one orphan condition: rows of Table whose Column matches no key
// in any of Parents.
type Check struct {
	Name    string
	Table   string
	Column  string
	Parents []Parent
}

type Parent struct {
	Table string
	Key   string
}

func (c Check) where() string {
	var conds []string
	for i, p := range c.Parents {
		alias := fmt.Sprintf("p%d", i)
		conds = append(conds, fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s %s WHERE %s.%s = o.%s)",
			query.Ident(p.Table), alias, alias, query.Ident(p.Key), query.Ident(c.Column)))
	}
	return strings.Join(conds, " AND ")
}

// CountSQL counts the orphaned rows.
func (c Check) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s o WHERE %s", query.Ident(c.Table), c.where())
}

// DeleteSQL removes the orphaned rows.
func (c Check) DeleteSQL() string {
	return fmt.Sprintf("DELETE FROM %s o WHERE %s", query.Ident(c.Table), c.where())
}

// BuildChecks derives the checks from mm in purge order: child entities
// top-down, then aggregate rows, then both ends of entity relationships.
// Deleting an orphaned child first lets later checks catch what hung off it.
func BuildChecks(mm *modelmap.ModelMap) []Check {
	entities := mm.Entities()
	byType := make(map[modelmap.EntityType]modelmap.EntityMapping, len(entities))
	for _, e := range entities {
		byType[e.Type] = e
	}

	var checks []Check
	var walk func(e modelmap.EntityMapping)
	walk = func(parent modelmap.EntityMapping) {
		for _, ct := range parent.Children {
			child, ok := byType[ct]
			if !ok {
				continue
			}
			checks = append(checks, Check{
				Name:    string(child.Type),
				Table:   child.TableName,
				Column:  child.ParentKey,
				Parents: []Parent{{Table: parent.TableName, Key: parent.KeyField}},
			})
			walk(child)
		}
	}
	for _, e := range entities {
		if e.ParentType == "" {
			walk(e)
		}
	}

	for _, a := range mm.Aggregates() {
		parent, ok := byType[a.ParentType]
		if !ok {
			continue
		}
		checks = append(checks, Check{
			Name:    string(a.Type),
			Table:   a.TableName,
			Column:  a.ForeignKey,
			Parents: []Parent{{Table: parent.TableName, Key: parent.KeyField}},
		})
	}

	var all []Parent
	for _, e := range entities {
		all = append(all, Parent{Table: e.TableName, Key: e.KeyField})
	}
	checks = append(checks,
		Check{Name: "RelationshipAncestor", Table: modelmap.RelationshipsTable, Column: "ancestor_uid", Parents: all},
		Check{Name: "RelationshipChild", Table: modelmap.RelationshipsTable, Column: "child_uid", Parents: all},
	)
	return checks
}
