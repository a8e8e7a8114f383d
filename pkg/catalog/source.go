package catalog

import (
	"context"
	"strings"

	"github.com/schlafly/bayestar/internal/model"
	"github.com/schlafly/bayestar/internal/pool"
	sperrors "github.com/schlafly/bayestar/pkg/errors"
)

// DefaultTable is the catalog table used when none is configured.
const DefaultTable = "catalog"

// Source streams catalog rows that pass a query.
type Source interface {
	// Stream sends every matching record to out in blocks and returns when
	// the result is exhausted or ctx is done. It does not close out.
	Stream(ctx context.Context, q Query, out chan<- model.Block) error

	// Close releases the source's connections.
	Close() error
}

// Open picks a backend for dsn: postgres:// and postgresql:// URLs use
// PostgreSQL, everything else is read through DuckDB.
func Open(ctx context.Context, dsn, table string, blocks *pool.BlockPool) (Source, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, sperrors.New(sperrors.CodeMissingCatalog, "no catalog configured (use --catalog or STARPACK_CATALOG)")
	}
	if table == "" {
		table = DefaultTable
	}
	if blocks == nil {
		blocks = pool.NewBlockPool(pool.DefaultBlockSize)
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgresSource(ctx, dsn, table, blocks)
	}
	return NewDuckDBSource(dsn, table, blocks)
}

// rowScanner holds scan destinations for one catalog row in column order.
type rowScanner struct {
	id     int64
	l, b   float64
	mean   [model.NumBands]float64
	err    [model.NumBands]float64
	meanAp [model.NumBands]float64
	nmagOK [model.NumBands]int64
	maglim [model.NumBands]float64
	ebv    float64
	sspp   [model.NumBands]float64
	ssppE  [model.NumBands]float64
	uber   [model.NumBands]float64
	uberE  [model.NumBands]float64
	params [6]float64

	dest []any
}

func newRowScanner() *rowScanner {
	s := &rowScanner{}
	s.dest = append(s.dest, &s.id, &s.l, &s.b)
	for _, arr := range []*[model.NumBands]float64{&s.mean, &s.err, &s.meanAp} {
		for i := range arr {
			s.dest = append(s.dest, &arr[i])
		}
	}
	for i := range s.nmagOK {
		s.dest = append(s.dest, &s.nmagOK[i])
	}
	for i := range s.maglim {
		s.dest = append(s.dest, &s.maglim[i])
	}
	s.dest = append(s.dest, &s.ebv)
	for _, arr := range []*[model.NumBands]float64{&s.sspp, &s.ssppE, &s.uber, &s.uberE} {
		for i := range arr {
			s.dest = append(s.dest, &arr[i])
		}
	}
	for i := range s.params {
		s.dest = append(s.dest, &s.params[i])
	}
	return s
}

func (s *rowScanner) record() model.RawRecord {
	r := model.RawRecord{
		ObjID:      uint64(s.id),
		L:          s.l,
		B:          s.b,
		EBV:        float32(s.ebv),
		SSPPMag:    s.sspp,
		SSPPMagErr: s.ssppE,
		UberMag:    s.uber,
		UberMagErr: s.uberE,
		Teff:       s.params[0],
		TeffErr:    s.params[1],
		LogZ:       s.params[2],
		LogZErr:    s.params[3],
		LogG:       s.params[4],
		LogGErr:    s.params[5],
	}
	for i := 0; i < model.NumBands; i++ {
		r.Mag[i] = float32(s.mean[i])
		r.Err[i] = float32(s.err[i])
		r.MagAp[i] = float32(s.meanAp[i])
		r.MagLimit[i] = float32(s.maglim[i])
		if s.nmagOK[i] > 0 {
			r.NMagOK[i] = uint32(s.nmagOK[i])
		}
	}
	return r
}

// rowIterator is the subset of database/sql.Rows and pgx.Rows used by
// streamRows.
type rowIterator interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// streamRows scans it into blocks of the pool's size and sends them to out.
func streamRows(ctx context.Context, it rowIterator, blocks *pool.BlockPool, out chan<- model.Block) error {
	s := newRowScanner()
	block := blocks.Get()

	send := func(b model.Block) error {
		select {
		case out <- b:
			return nil
		case <-ctx.Done():
			return sperrors.ContextCanceled("catalog stream")
		}
	}

	for it.Next() {
		if err := it.Scan(s.dest...); err != nil {
			return sperrors.Wrap(err, sperrors.CodeScanFailed, "scan catalog row")
		}
		block = append(block, s.record())
		if len(block) >= blocks.Size() {
			if err := send(block); err != nil {
				return err
			}
			block = blocks.Get()
		}
	}
	if err := it.Err(); err != nil {
		if ctx.Err() != nil {
			return sperrors.ContextCanceled("catalog stream")
		}
		return sperrors.Wrap(err, sperrors.CodeQueryFailed, "read catalog rows")
	}
	if len(block) > 0 {
		return send(block)
	}
	blocks.Put(block)
	return nil
}
