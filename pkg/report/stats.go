// Package report aggregates run-wide statistics and renders the end of run
// summary and sky map.
package report

import (
	"math"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// RunStats accumulates statistics over the pixels written during a run.
// It is owned by the goroutine that drives the packer.
type RunStats struct {
	Stars  int64
	Pixels int64
	Files  int

	MinStars int
	MaxStars int

	// Extents of the emitted pixel centers, degrees.
	LMin, LMax float64
	BMin, BMax float64

	emitted *roaring64.Bitmap
	counts  map[uint64]int
}

// NewRunStats returns empty statistics.
func NewRunStats() *RunStats {
	return &RunStats{
		MinStars: math.MaxInt,
		MaxStars: math.MinInt,
		LMin:     math.Inf(1),
		LMax:     math.Inf(-1),
		BMin:     math.Inf(1),
		BMax:     math.Inf(-1),
		emitted:  roaring64.New(),
		counts:   make(map[uint64]int),
	}
}

// Add records one written pixel holding n stars centered at (l, b).
func (s *RunStats) Add(ix uint64, n int, l, b float64) {
	s.Pixels++
	s.Stars += int64(n)

	if n < s.MinStars {
		s.MinStars = n
	}
	if n > s.MaxStars {
		s.MaxStars = n
	}
	s.LMin = math.Min(s.LMin, l)
	s.LMax = math.Max(s.LMax, l)
	s.BMin = math.Min(s.BMin, b)
	s.BMax = math.Max(s.BMax, b)

	s.emitted.Add(ix)
	s.counts[ix] += n
}

// SetFiles records the number of containers written.
func (s *RunStats) SetFiles(n int) {
	s.Files = n
}

// MeanStars returns the integer mean number of stars per pixel.
func (s *RunStats) MeanStars() int64 {
	if s.Pixels == 0 {
		return 0
	}
	return s.Stars / s.Pixels
}

// Emitted reports whether pixel ix was written.
func (s *RunStats) Emitted(ix uint64) bool {
	return s.emitted.Contains(ix)
}

// EmittedPixels returns the written pixel indices in ascending order.
func (s *RunStats) EmittedPixels() []uint64 {
	return s.emitted.ToArray()
}

// Count returns the number of stars written for pixel ix.
func (s *RunStats) Count(ix uint64) int {
	return s.counts[ix]
}

// Counts returns the per-pixel star counts. The map must not be modified.
func (s *RunStats) Counts() map[uint64]int {
	return s.counts
}
