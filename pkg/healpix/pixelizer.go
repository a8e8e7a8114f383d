package healpix

import (
	"math"
)

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
)

// Pixelizer maps galactic coordinates in degrees to pixel indices at a fixed
// resolution and ordering. It is a value type with no mutable state.
type Pixelizer struct {
	NSide  int64
	Scheme Scheme
}

// NewPixelizer validates nside against the scheme.
func NewPixelizer(nside int64, scheme Scheme) (Pixelizer, error) {
	if err := ValidateNSide(nside, scheme); err != nil {
		return Pixelizer{}, err
	}
	return Pixelizer{NSide: nside, Scheme: scheme}, nil
}

// Nested reports whether the pixelizer uses nested ordering.
func (p Pixelizer) Nested() bool {
	return p.Scheme == Nested
}

// NPix returns the number of pixels covering the sphere.
func (p Pixelizer) NPix() int64 {
	return NPix(p.NSide)
}

// Pixel returns the index of the pixel containing (l, b).
func (p Pixelizer) Pixel(l, b float64) uint64 {
	theta := (90 - b) * deg2rad
	phi := l * deg2rad
	return uint64(Ang2Pix(p.NSide, p.Scheme, theta, phi))
}

// Pixels computes the pixel index of every (l[i], b[i]) pair into out, which
// must be at least len(l) long.
func (p Pixelizer) Pixels(l, b []float64, out []uint64) {
	for i := range l {
		out[i] = p.Pixel(l[i], b[i])
	}
}

// Center returns the galactic longitude and latitude of the pixel center.
// Longitude is in [0, 360).
func (p Pixelizer) Center(pix uint64) (l, b float64) {
	theta, phi := Pix2Ang(p.NSide, p.Scheme, int64(pix))
	l = phi * rad2deg
	if l >= 360 {
		l -= 360
	}
	return l, 90 - theta*rad2deg
}
