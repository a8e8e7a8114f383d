package partition

import (
	"math"

	sperrors "github.com/schlafly/bayestar/pkg/errors"
)

// Bounds is a rectangular region of interest in galactic degrees.
// All four edges are inclusive.
type Bounds struct {
	LMin, LMax float64
	BMin, BMax float64
}

// ParseBounds builds Bounds from the four values l_min, l_max, b_min, b_max.
// An empty slice means "no bounds" and returns nil.
func ParseBounds(v []float64) (*Bounds, error) {
	if len(v) == 0 {
		return nil, nil
	}
	if len(v) != 4 {
		return nil, sperrors.New(sperrors.CodeInvalidBounds, "bounds need exactly four values: l_min l_max b_min b_max").
			WithContext("got", len(v))
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, sperrors.New(sperrors.CodeInvalidBounds, "bounds must be finite").
				WithContext("bounds", v)
		}
	}
	b := &Bounds{LMin: v[0], LMax: v[1], BMin: v[2], BMax: v[3]}
	if b.LMin > b.LMax || b.BMin > b.BMax {
		return nil, sperrors.New(sperrors.CodeInvalidBounds, "bounds minimum exceeds maximum").
			WithContext("bounds", v)
	}
	if b.BMin > 90 || b.BMax < -90 {
		return nil, sperrors.New(sperrors.CodeInvalidBounds, "latitude range lies outside [-90, 90]").
			WithContext("bounds", v)
	}
	return b, nil
}

// Contains reports whether (l, b) lies inside the rectangle, edges included.
// A nil Bounds contains every point.
func (r *Bounds) Contains(l, b float64) bool {
	if r == nil {
		return true
	}
	return l >= r.LMin && l <= r.LMax && b >= r.BMin && b <= r.BMax
}

// Slice returns the bounds in flag order.
func (r *Bounds) Slice() []float64 {
	if r == nil {
		return nil
	}
	return []float64{r.LMin, r.LMax, r.BMin, r.BMax}
}
