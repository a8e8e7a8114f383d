package healpix

import (
	"math"
	"testing"
)

func TestCenterRoundTrip(t *testing.T) {
	tests := []struct {
		nside  int64
		scheme Scheme
	}{
		{1, Nested}, {2, Nested}, {4, Nested}, {8, Nested}, {32, Nested},
		{1, Ring}, {2, Ring}, {3, Ring}, {5, Ring}, {8, Ring}, {32, Ring},
	}

	for _, tt := range tests {
		p, err := NewPixelizer(tt.nside, tt.scheme)
		if err != nil {
			t.Fatalf("NewPixelizer(%d, %s): %v", tt.nside, tt.scheme, err)
		}
		for ix := uint64(0); ix < uint64(p.NPix()); ix++ {
			l, b := p.Center(ix)
			if got := p.Pixel(l, b); got != ix {
				t.Fatalf("nside=%d %s: Pixel(Center(%d)) = %d (l=%.6f b=%.6f)",
					tt.nside, tt.scheme, ix, got, l, b)
			}
		}
	}
}

func TestCenterRoundTripHighResolution(t *testing.T) {
	for _, scheme := range []Scheme{Nested, Ring} {
		p, _ := NewPixelizer(1<<13, scheme)
		npix := uint64(p.NPix())
		// Sample both caps and the equator densely, the rest sparsely.
		samples := []uint64{0, 1, 2, 3, 4, npix / 2, npix - 4, npix - 1}
		for ix := uint64(0); ix < npix; ix += npix / 4099 {
			samples = append(samples, ix)
		}
		for _, ix := range samples {
			l, b := p.Center(ix)
			if got := p.Pixel(l, b); got != ix {
				t.Errorf("%s: Pixel(Center(%d)) = %d", scheme, ix, got)
			}
		}
	}
}

func TestNestRingConversion(t *testing.T) {
	for _, nside := range []int64{1, 2, 4, 16} {
		seen := make(map[int64]bool)
		for pix := int64(0); pix < NPix(nside); pix++ {
			r := Nest2Ring(nside, pix)
			if r < 0 || r >= NPix(nside) {
				t.Fatalf("nside=%d: Nest2Ring(%d) = %d out of range", nside, pix, r)
			}
			if seen[r] {
				t.Fatalf("nside=%d: ring index %d produced twice", nside, r)
			}
			seen[r] = true
			if back := Ring2Nest(nside, r); back != pix {
				t.Errorf("nside=%d: Ring2Nest(Nest2Ring(%d)) = %d", nside, pix, back)
			}
		}
	}
}

func TestPoles(t *testing.T) {
	const nside = 4
	npix := NPix(nside)

	if got := Ang2Pix(nside, Ring, 1e-9, 0.1); got != 0 {
		t.Errorf("ring north pole = %d, want 0", got)
	}
	if got := Ang2Pix(nside, Ring, math.Pi-1e-9, 0.1); got != npix-4 {
		t.Errorf("ring south pole = %d, want %d", got, npix-4)
	}
	if got := Ang2Pix(nside, Nested, 1e-9, 0.1); got != nside*nside-1 {
		t.Errorf("nested north pole = %d, want %d", got, nside*nside-1)
	}
}

func TestNegativeLongitudeWraps(t *testing.T) {
	p, _ := NewPixelizer(16, Nested)
	if a, b := p.Pixel(-10, 20), p.Pixel(350, 20); a != b {
		t.Errorf("Pixel(-10, 20) = %d, Pixel(350, 20) = %d", a, b)
	}
}

func TestValidateNSide(t *testing.T) {
	tests := []struct {
		nside   int64
		scheme  Scheme
		wantErr bool
	}{
		{512, Nested, false},
		{512, Ring, false},
		{3, Ring, false},
		{3, Nested, true},
		{0, Ring, true},
		{-4, Nested, true},
		{MaxNSide * 2, Ring, true},
	}
	for _, tt := range tests {
		err := ValidateNSide(tt.nside, tt.scheme)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateNSide(%d, %s) error = %v, wantErr %v", tt.nside, tt.scheme, err, tt.wantErr)
		}
	}
}

func TestPixelSize(t *testing.T) {
	// nside=1: 12 pixels over 41253 square degrees.
	want := math.Sqrt(41252.96 / 12)
	if got := PixelSize(1); math.Abs(got-want) > 0.01 {
		t.Errorf("PixelSize(1) = %.4f, want %.4f", got, want)
	}
	if PixelSize(512) >= PixelSize(256) {
		t.Error("PixelSize should shrink with resolution")
	}
}
