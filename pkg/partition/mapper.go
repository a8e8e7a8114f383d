// Package partition assigns catalog records to sky pixels.
//
// A Mapper splits each incoming block into per-pixel groups, and a Shuffle
// merges the groups of every block so each pixel is reduced exactly once.
package partition

import (
	"github.com/schlafly/bayestar/internal/model"
	"github.com/schlafly/bayestar/pkg/healpix"
)

// Mapper groups the records of a block by pixel index.
// A Mapper reuses internal buffers and is not safe for concurrent use.
type Mapper struct {
	pix    healpix.Pixelizer
	bounds *Bounds

	l, b []float64
	idx  []uint64
}

// NewMapper creates a mapper. bounds may be nil.
func NewMapper(pix healpix.Pixelizer, bounds *Bounds) *Mapper {
	return &Mapper{pix: pix, bounds: bounds}
}

// Pixelizer returns the pixelizer used by the mapper.
func (m *Mapper) Pixelizer() healpix.Pixelizer {
	return m.pix
}

// Partition computes the pixel of every record in block and returns the
// groups in order of first appearance. Groups whose pixel center lies
// outside the bounds are dropped lazily as the iterator advances.
//
// The groups own copies of their records, so block may be reused once
// Partition returns.
func (m *Mapper) Partition(block model.Block) *Groups {
	n := len(block)
	if n == 0 {
		return &Groups{}
	}

	m.l = grow(m.l, n)
	m.b = grow(m.b, n)
	if cap(m.idx) < n {
		m.idx = make([]uint64, n)
	}
	m.idx = m.idx[:n]

	for i := range block {
		m.l[i] = block[i].L
		m.b[i] = block[i].B
	}
	m.pix.Pixels(m.l, m.b, m.idx)

	g := &Groups{
		pix:    m.pix,
		bounds: m.bounds,
		byPix:  make(map[uint64][]model.RawRecord),
	}
	for i, ix := range m.idx {
		recs, ok := g.byPix[ix]
		if !ok {
			g.order = append(g.order, ix)
		}
		g.byPix[ix] = append(recs, block[i])
	}
	return g
}

func grow(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	return s[:n]
}

// Groups is a one-pass iterator over the pixel groups of a block.
type Groups struct {
	pix    healpix.Pixelizer
	bounds *Bounds
	order  []uint64
	byPix  map[uint64][]model.RawRecord
	pos    int
}

// Next returns the next group inside the bounds. ok is false once the
// iterator is exhausted; it cannot be restarted.
func (g *Groups) Next() (group model.PixelGroup, ok bool) {
	for g.pos < len(g.order) {
		ix := g.order[g.pos]
		g.pos++

		recs := g.byPix[ix]
		delete(g.byPix, ix)

		if g.bounds != nil {
			l, b := g.pix.Center(ix)
			if !g.bounds.Contains(l, b) {
				continue
			}
		}
		return model.PixelGroup{Index: ix, Records: recs}, true
	}
	return model.PixelGroup{}, false
}
