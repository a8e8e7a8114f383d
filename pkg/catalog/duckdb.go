package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/schlafly/bayestar/internal/model"
	"github.com/schlafly/bayestar/internal/pool"
	sperrors "github.com/schlafly/bayestar/pkg/errors"
)

// DuckDBSource reads the catalog through DuckDB. The DSN is either a
// DuckDB database file (.duckdb or .db) holding the catalog table, or a
// Parquet or CSV file path, possibly a glob, queried in place.
type DuckDBSource struct {
	db     *sql.DB
	from   string
	blocks *pool.BlockPool
}

// NewDuckDBSource opens dsn. table is used only for database files.
func NewDuckDBSource(dsn, table string, blocks *pool.BlockPool) (*DuckDBSource, error) {
	dsn = strings.TrimPrefix(dsn, "duckdb://")
	if table == "" {
		table = DefaultTable
	}
	if blocks == nil {
		blocks = pool.NewBlockPool(pool.DefaultBlockSize)
	}

	from, dbPath, err := duckDBFrom(dsn, table)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, sperrors.Wrap(err, sperrors.CodeCatalogOpen, "failed to initialize DuckDB").WithContext("catalog", dsn)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, sperrors.Wrap(err, sperrors.CodeCatalogOpen, "failed to open catalog").WithContext("catalog", dsn)
	}

	return &DuckDBSource{db: db, from: from, blocks: blocks}, nil
}

// duckDBFrom returns the FROM clause for dsn and the database path to open
// ("" for an in-memory database).
func duckDBFrom(dsn, table string) (from, dbPath string, err error) {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasSuffix(lower, ".duckdb"), strings.HasSuffix(lower, ".db"):
		return QuoteIdent(table), dsn + "?access_mode=read_only", nil
	case strings.HasSuffix(lower, ".parquet"), strings.HasSuffix(lower, ".pq"):
		return "read_parquet(" + quoteLiteral(dsn) + ")", "", nil
	case strings.HasSuffix(lower, ".csv"), strings.HasSuffix(lower, ".csv.gz"),
		strings.HasSuffix(lower, ".tsv"), strings.HasSuffix(lower, ".tsv.gz"):
		return "read_csv_auto(" + quoteLiteral(dsn) + ")", "", nil
	default:
		return "", "", sperrors.New(sperrors.CodeMissingCatalog, "unrecognized catalog; expected .parquet, .csv, .duckdb or a postgres:// URL").
			WithContext("catalog", dsn).
			WithContext("ext", filepath.Ext(dsn))
	}
}

// From returns the FROM clause used by queries.
func (s *DuckDBSource) From() string {
	return s.from
}

// Stream implements Source.
func (s *DuckDBSource) Stream(ctx context.Context, q Query, out chan<- model.Block) error {
	stmt, args := q.SQL(s.from)
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		if ctx.Err() != nil {
			return sperrors.ContextCanceled("catalog query")
		}
		return sperrors.Wrap(err, sperrors.CodeQueryFailed, "catalog query failed").WithContext("from", s.from)
	}
	defer rows.Close()
	return streamRows(ctx, rows, s.blocks, out)
}

// Close closes the database.
func (s *DuckDBSource) Close() error {
	return s.db.Close()
}
