package partition

import (
	"sort"

	"github.com/schlafly/bayestar/internal/model"
)

// Shuffle merges partial pixel groups from many blocks. Records of a pixel
// keep their arrival order; pixels drain in ascending index order.
type Shuffle struct {
	groups  map[uint64][]model.RawRecord
	records int
}

// NewShuffle creates an empty shuffle.
func NewShuffle() *Shuffle {
	return &Shuffle{groups: make(map[uint64][]model.RawRecord)}
}

// Add appends a partial group.
func (s *Shuffle) Add(g model.PixelGroup) {
	if len(g.Records) == 0 {
		return
	}
	s.groups[g.Index] = append(s.groups[g.Index], g.Records...)
	s.records += len(g.Records)
}

// AddAll drains an iterator into the shuffle and returns the number of
// groups added.
func (s *Shuffle) AddAll(it *Groups) int {
	n := 0
	for {
		g, ok := it.Next()
		if !ok {
			return n
		}
		s.Add(g)
		n++
	}
}

// Len returns the number of distinct pixels held.
func (s *Shuffle) Len() int {
	return len(s.groups)
}

// Records returns the number of records held.
func (s *Shuffle) Records() int {
	return s.records
}

// Drain calls fn for every pixel in ascending index order and empties the
// shuffle. Each pixel's records are released after fn returns. Draining
// stops at the first error.
func (s *Shuffle) Drain(fn func(model.PixelGroup) error) error {
	keys := make([]uint64, 0, len(s.groups))
	for ix := range s.groups {
		keys = append(keys, ix)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, ix := range keys {
		recs := s.groups[ix]
		delete(s.groups, ix)
		s.records -= len(recs)
		if err := fn(model.PixelGroup{Index: ix, Records: recs}); err != nil {
			return err
		}
	}
	return nil
}
