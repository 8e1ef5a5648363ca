// Package seed loads YAML fixtures into the catalog.
//
// A fixture lists entities with their property values, aggregate rows keyed
// by aggregate type, and child entities:
//
//	entities:
//	  - type: GenericDrug
//	    values: {genericName: adalimumab, biologic: "yes"}
//	    aggregates:
//	      GenericAlias:
//	        - {alias: Humira}
//	    children:
//	      - type: ManuDrug
//	        values: {drugName: Humira, manufacturer: AbbVie}
package seed

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/pharmadb/pharmadb/internal/domain/catalog"
	"github.com/pharmadb/pharmadb/internal/platform/db"
)

type Fixture struct {
	Entities []Entity `yaml:"entities"`
}

type Entity struct {
	Type       string                      `yaml:"type"`
	Values     catalog.Values              `yaml:"values"`
	Aggregates map[string][]catalog.Values `yaml:"aggregates"`
	Children   []Entity                    `yaml:"children"`
}

// Catalog is the subset of the catalog service the seeder writes through.
type Catalog interface {
	CreateEntity(ctx context.Context, typeName string, values catalog.Values) (*catalog.UIEntity, error)
	CreateChild(ctx context.Context, parentType, parentUID, childType string, values catalog.Values) (*catalog.UIEntity, error)
	AddAggregateRow(ctx context.Context, typeName, parentUID string, values catalog.Values) (*catalog.UIAggregateRow, error)
}

// Stats counts what a load inserted.
type Stats struct {
	Entities      int `json:"entities"`
	AggregateRows int `json:"aggregate_rows"`
}

type Seeder struct {
	catalog Catalog
	tx      db.TxBeginner
	log     zerolog.Logger
}

// NewSeeder creates a seeder. When tx is non-nil the whole fixture is
// inserted in one transaction.
func NewSeeder(c Catalog, tx db.TxBeginner, logger zerolog.Logger) *Seeder {
	return &Seeder{catalog: c, tx: tx, log: logger.With().Str("component", "seed").Logger()}
}

func Parse(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return &f, nil
}

// LoadFile parses path and inserts its contents.
func (s *Seeder) LoadFile(ctx context.Context, path string) (Stats, error) {
	file, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer file.Close()
	f, err := Parse(file)
	if err != nil {
		return Stats{}, err
	}
	return s.Load(ctx, f)
}

func (s *Seeder) Load(ctx context.Context, f *Fixture) (Stats, error) {
	var stats Stats
	run := func(ctx context.Context) error {
		for i, e := range f.Entities {
			if err := s.insert(ctx, e, nil, &stats); err != nil {
				return fmt.Errorf("entity %d (%s): %w", i, e.Type, err)
			}
		}
		return nil
	}

	var err error
	if s.tx != nil {
		err = db.WithTx(ctx, s.tx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return Stats{}, err
	}
	s.log.Info().Int("entities", stats.Entities).Int("aggregate_rows", stats.AggregateRows).Msg("fixture loaded")
	return stats, nil
}

func (s *Seeder) insert(ctx context.Context, e Entity, parent *catalog.UIEntity, stats *Stats) error {
	values := e.Values
	if values == nil {
		values = catalog.Values{}
	}

	var ent *catalog.UIEntity
	var err error
	if parent == nil {
		ent, err = s.catalog.CreateEntity(ctx, e.Type, values)
	} else {
		ent, err = s.catalog.CreateChild(ctx, string(parent.EntityType), parent.UID, e.Type, values)
	}
	if err != nil {
		return err
	}
	stats.Entities++

	types := make([]string, 0, len(e.Aggregates))
	for t := range e.Aggregates {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		for _, row := range e.Aggregates[t] {
			if _, err := s.catalog.AddAggregateRow(ctx, t, ent.UID, row); err != nil {
				return fmt.Errorf("%s row: %w", t, err)
			}
			stats.AggregateRows++
		}
	}

	for _, child := range e.Children {
		if err := s.insert(ctx, child, ent, stats); err != nil {
			return fmt.Errorf("child %s: %w", child.Type, err)
		}
	}
	return nil
}
