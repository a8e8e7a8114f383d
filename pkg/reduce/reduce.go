// Package reduce cleans the records of a pixel and drops the ones that
// carry no usable photometry.
package reduce

import (
	"math"

	"github.com/schlafly/bayestar/internal/model"
)

// SentinelError marks a band measurement as uninformative.
const SentinelError = 1e10

// MaxUninformativeBands is the number of sentinel bands at which a record
// is dropped.
const MaxUninformativeBands = 3

// QualityMask flags the anomalies found in each band of a raw record.
type QualityMask struct {
	ZeroMag [model.NumBands]bool
	ZeroErr [model.NumBands]bool
	NaNMag  [model.NumBands]bool
	NaNErr  [model.NumBands]bool
}

// Mask inspects a raw record without modifying it.
func Mask(r *model.RawRecord) QualityMask {
	var m QualityMask
	for i := 0; i < model.NumBands; i++ {
		mag, err := float64(r.Mag[i]), float64(r.Err[i])
		m.ZeroMag[i] = mag == 0
		m.ZeroErr[i] = err == 0
		m.NaNMag[i] = math.IsNaN(mag)
		m.NaNErr[i] = math.IsNaN(err)
	}
	return m
}

// Clean returns a copy of r with the per-band cleaning rules applied:
// a NaN magnitude becomes 0, and a band whose error is NaN or zero, or whose
// magnitude is zero after that substitution, gets SentinelError.
func Clean(r model.RawRecord) model.RawRecord {
	m := Mask(&r)
	for i := 0; i < model.NumBands; i++ {
		if m.NaNMag[i] {
			r.Mag[i] = 0
		}
		if m.NaNErr[i] || m.ZeroErr[i] || r.Mag[i] == 0 {
			r.Err[i] = SentinelError
		}
	}
	return r
}

// HasDetection reports whether the band magnitudes sum to a nonzero value.
func HasDetection(r *model.RawRecord) bool {
	var sum float64
	for _, v := range r.Mag {
		sum += float64(v)
	}
	return sum != 0
}

// UninformativeBands counts the bands carrying exactly the sentinel error.
// Large catalog errors that are not the sentinel still count as measured.
func UninformativeBands(r *model.RawRecord) int {
	n := 0
	for _, e := range r.Err {
		if float64(e) == SentinelError {
			n++
		}
	}
	return n
}

// IsInformative reports whether fewer than MaxUninformativeBands bands
// carry the sentinel error.
func IsInformative(r *model.RawRecord) bool {
	return UninformativeBands(r) < MaxUninformativeBands
}

// Keep is the retention predicate applied to cleaned records.
func Keep(r *model.RawRecord) bool {
	return HasDetection(r) && IsInformative(r)
}

// Stats counts records seen by a Reducer.
type Stats struct {
	In            int64
	Kept          int64
	NoDetection   int64
	Uninformative int64
}

// Dropped returns the number of records removed.
func (s Stats) Dropped() int64 {
	return s.NoDetection + s.Uninformative
}

// Reducer cleans and filters pixel groups while keeping drop counts.
type Reducer struct {
	stats Stats
}

// NewReducer creates a reducer.
func NewReducer() *Reducer {
	return &Reducer{}
}

// Reduce returns the group with every record cleaned and the failing ones
// removed. The result may be empty. The input records are not modified.
func (r *Reducer) Reduce(g model.PixelGroup) model.PixelGroup {
	out := model.PixelGroup{Index: g.Index, Records: make([]model.RawRecord, 0, len(g.Records))}
	for i := range g.Records {
		r.stats.In++
		rec := Clean(g.Records[i])
		switch {
		case !HasDetection(&rec):
			r.stats.NoDetection++
		case !IsInformative(&rec):
			r.stats.Uninformative++
		default:
			r.stats.Kept++
			out.Records = append(out.Records, rec)
		}
	}
	return out
}

// Stats returns the counts accumulated so far.
func (r *Reducer) Stats() Stats {
	return r.stats
}
