package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pharmadb/pharmadb/internal/config"
	"github.com/pharmadb/pharmadb/internal/domain/catalog"
	"github.com/pharmadb/pharmadb/internal/platform/db"
	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
	"github.com/pharmadb/pharmadb/internal/platform/orphans"
	"github.com/pharmadb/pharmadb/internal/platform/seed"
	"github.com/pharmadb/pharmadb/migrations"
	"github.com/pharmadb/pharmadb/pkg/reportclient"
	"github.com/pharmadb/pharmadb/pkg/reportdef"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "pharmadb",
		Short:        "Pharmaceutical database API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(orphansCmd())
	rootCmd.AddCommand(reportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level())
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		Schema:      cfg.DBSchema,
	})
}

// withPool loads config, connects and runs fn.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	srv, err := newServer(cfg, pool, logger, newRegistry())
	if err != nil {
		return err
	}
	srv.scheduler.StartAsync()
	defer srv.Stop()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := srv.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	newMigrator := func(cmd *cobra.Command, cfg *config.Config, pool *pgxpool.Pool) *db.Migrator {
		schema, _ := cmd.Flags().GetString("schema")
		if schema == "" {
			schema = cfg.DBSchema
		}
		if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
			return db.NewMigrator(pool, dir, schema)
		}
		return db.NewMigratorFS(pool, migrations.FS, schema)
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				count, err := newMigrator(cmd, cfg, pool).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				statuses, err := newMigrator(cmd, cfg, pool).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
		c.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
		cmd.AddCommand(c)
	}
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a YAML fixture into the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				logger := newLogger(cfg)
				mm := modelmap.Default()
				base := catalog.NewBaseRepository(pool, mm, logger)
				svc := catalog.NewService(mm,
					catalog.NewEntityRepoPG(base),
					catalog.NewChildEntityRepoPG(base),
					catalog.NewAggregateRepoPG(base),
				)
				stats, err := seed.NewSeeder(svc, pool, logger).LoadFile(ctx, file)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d entities and %d aggregate rows.\n", stats.Entities, stats.AggregateRows)
				return nil
			})
		},
	}
	cmd.Flags().String("file", "", "Path to the YAML fixture")
	return cmd
}

func orphansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "Find or remove rows whose parent entity no longer exists",
	}

	run := func(purge bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				scanner := orphans.NewScanner(pool, modelmap.Default(), newLogger(cfg))
				var (
					results []orphans.Result
					err     error
				)
				if purge {
					results, err = scanner.Purge(ctx)
				} else {
					results, err = scanner.Scan(ctx)
				}
				if err != nil {
					return err
				}
				return printOrphans(cmd.OutOrStdout(), results, purge)
			})
		}
	}

	cmd.AddCommand(&cobra.Command{Use: "scan", Short: "Count orphaned rows", RunE: run(false)})
	cmd.AddCommand(&cobra.Command{Use: "purge", Short: "Delete orphaned rows in one transaction", RunE: run(true)})
	return cmd
}

func printOrphans(w io.Writer, results []orphans.Result, purged bool) error {
	verb := "found"
	if purged {
		verb = "deleted"
	}
	var total int64
	fmt.Fprintf(w, "%-24s %-24s %s\n", "CHECK", "TABLE", strings.ToUpper(verb))
	for _, r := range results {
		total += r.Rows
		fmt.Fprintf(w, "%-24s %-24s %d\n", r.Check, r.Table, r.Rows)
	}
	_, err := fmt.Fprintf(w, "%d orphaned row(s) %s\n", total, verb)
	return err
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Work with reports through the HTTP API",
	}

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Page through distinct report data and print it as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			token, _ := cmd.Flags().GetString("token")
			uid, _ := cmd.Flags().GetString("report")
			table, _ := cmd.Flags().GetString("table")
			columns, _ := cmd.Flags().GetStringSlice("columns")
			filters, _ := cmd.Flags().GetString("filters")
			orderBy, _ := cmd.Flags().GetString("order-by")
			pageSize, _ := cmd.Flags().GetInt("page-size")
			if token == "" {
				token = os.Getenv("PHARMADB_TOKEN")
			}

			ctx := cmd.Context()
			client := reportclient.New(server, reportclient.WithToken(token))

			var data *reportclient.DistinctData
			switch {
			case uid != "":
				var err error
				if data, err = client.ReportData(ctx, uid); err != nil {
					return err
				}
			case table != "" && len(columns) > 0:
				req := reportdef.DistinctDataRequest{
					TableName: table,
					Columns:   columns,
					OrderBy:   orderBy,
					Limit:     pageSize,
				}
				if filters != "" {
					if err := json.Unmarshal([]byte(filters), &req.Filters); err != nil {
						return fmt.Errorf("--filters must be a JSON object: %w", err)
					}
				}
				data = reportclient.NewDistinctData(client, req)
				if err := data.Load(ctx); err != nil {
					return err
				}
			default:
				return fmt.Errorf("either --report or --table with --columns is required")
			}

			for data.HasMore() {
				if err := data.FetchMore(ctx); err != nil {
					return err
				}
			}
			return writeCSV(cmd.OutOrStdout(), data.Columns(), data.Rows())
		},
	}
	fetchCmd.Flags().String("server", "http://localhost:8000/api/v1", "API base URL")
	fetchCmd.Flags().String("token", "", "Bearer token (defaults to $PHARMADB_TOKEN)")
	fetchCmd.Flags().String("report", "", "Saved report uid")
	fetchCmd.Flags().String("table", "", "Table to query")
	fetchCmd.Flags().StringSlice("columns", nil, "Columns to select")
	fetchCmd.Flags().String("filters", "", `Filters as JSON, e.g. {"country":["US","UK"]}`)
	fetchCmd.Flags().String("order-by", "", "Sort column")
	fetchCmd.Flags().Int("page-size", reportdef.DefaultPageSize, "Rows per request")

	cmd.AddCommand(fetchCmd)
	return cmd
}

// writeCSV writes a header of column labels followed by one line per row.
func writeCSV(w io.Writer, columns []reportdef.ColumnMeta, rows []map[string]interface{}) error {
	cw := csv.NewWriter(w)
	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = c.Label
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, c := range columns {
			record[i] = csvValue(row[c.Name])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}
