package orphans

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/pharmadb/pharmadb/internal/platform/db"
	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
)

type Database interface {
	db.Querier
	db.TxBeginner
}

// Result is the number of orphaned rows found or deleted for one check.
type Result struct {
	Check string `json:"check"`
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

type Scanner struct {
	db     Database
	checks []Check
	log    zerolog.Logger
	gauge  *prometheus.GaugeVec
}

func NewScanner(database Database, mm *modelmap.ModelMap, logger zerolog.Logger) *Scanner {
	return &Scanner{
		db:     database,
		checks: BuildChecks(mm),
		log:    logger.With().Str("component", "orphans").Logger(),
	}
}

// RegisterMetrics exposes the last scan's counts as pharmadb_orphan_rows.
func (s *Scanner) RegisterMetrics(reg prometheus.Registerer) error {
	s.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pharmadb_orphan_rows",
		Help: "Rows whose parent entity no longer exists, by check.",
	}, []string{"check", "table"})
	return reg.Register(s.gauge)
}

func (s *Scanner) Checks() []Check {
	return s.checks
}

// Scan counts orphaned rows for every check.
func (s *Scanner) Scan(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(s.checks))
	for _, c := range s.checks {
		var n int64
		if err := db.Conn(ctx, s.db).QueryRow(ctx, c.CountSQL()).Scan(&n); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.Name, err)
		}
		results = append(results, Result{Check: c.Name, Table: c.Table, Rows: n})
	}
	s.observe(results)
	return results, nil
}

// Purge deletes orphaned rows in one transaction, in check order.
func (s *Scanner) Purge(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(s.checks))
	err := db.WithTx(ctx, s.db, func(ctx context.Context) error {
		for _, c := range s.checks {
			tag, err := db.Conn(ctx, s.db).Exec(ctx, c.DeleteSQL())
			if err != nil {
				return fmt.Errorf("purge %s: %w", c.Name, err)
			}
			results = append(results, Result{Check: c.Name, Table: c.Table, Rows: tag.RowsAffected()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Rows > 0 {
			s.log.Warn().Str("check", r.Check).Str("table", r.Table).Int64("rows", r.Rows).Msg("purged orphaned rows")
		}
	}
	if s.gauge != nil {
		for _, c := range s.checks {
			s.gauge.WithLabelValues(c.Name, c.Table).Set(0)
		}
	}
	return results, nil
}

func (s *Scanner) observe(results []Result) {
	var total int64
	for _, r := range results {
		total += r.Rows
		if s.gauge != nil {
			s.gauge.WithLabelValues(r.Check, r.Table).Set(float64(r.Rows))
		}
	}
	if total > 0 {
		s.log.Warn().Int64("rows", total).Msg("orphaned rows found")
	} else {
		s.log.Debug().Msg("no orphaned rows")
	}
}

// Schedule adds a job to sched that runs Scan every interval. Overlapping
// runs are skipped.
func (s *Scanner) Schedule(sched *gocron.Scheduler, interval time.Duration) error {
	_, err := sched.Every(interval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if _, err := s.Scan(ctx); err != nil {
			s.log.Error().Err(err).Msg("orphan scan failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule orphan scan: %w", err)
	}
	return nil
}
