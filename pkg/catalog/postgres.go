package catalog

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schlafly/bayestar/internal/model"
	"github.com/schlafly/bayestar/internal/pool"
	sperrors "github.com/schlafly/bayestar/pkg/errors"
)

// PostgresSource reads the catalog table from PostgreSQL.
type PostgresSource struct {
	pool   *pgxpool.Pool
	table  string
	blocks *pool.BlockPool
}

// NewPostgresSource connects to databaseURL.
func NewPostgresSource(ctx context.Context, databaseURL, table string, blocks *pool.BlockPool) (*PostgresSource, error) {
	if table == "" {
		table = DefaultTable
	}
	if blocks == nil {
		blocks = pool.NewBlockPool(pool.DefaultBlockSize)
	}

	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, sperrors.Wrap(err, sperrors.CodeCatalogOpen, "connect to postgres")
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, sperrors.Wrap(err, sperrors.CodeCatalogOpen, "ping postgres")
	}
	return &PostgresSource{pool: p, table: QuoteIdent(table), blocks: blocks}, nil
}

// Stream implements Source.
func (s *PostgresSource) Stream(ctx context.Context, q Query, out chan<- model.Block) error {
	stmt, args := q.SQL(s.table)
	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		if ctx.Err() != nil {
			return sperrors.ContextCanceled("catalog query")
		}
		return sperrors.Wrap(err, sperrors.CodeQueryFailed, "catalog query failed").WithContext("table", s.table)
	}
	defer rows.Close()
	return streamRows(ctx, rows, s.blocks, out)
}

// Close closes the connection pool.
func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}
