// Package healpix implements HEALPix sky pixelization for the nested and
// ring orderings.
//
// Angles follow the HEALPix convention: theta is the colatitude in radians
// (0 at the north pole) and phi the azimuth in radians. The Pixelizer type
// wraps these in galactic longitude/latitude degrees.
package healpix

import (
	"fmt"
	"math"
)

// Scheme selects the pixel ordering.
type Scheme uint8

const (
	Nested Scheme = iota
	Ring
)

func (s Scheme) String() string {
	switch s {
	case Nested:
		return "nested"
	case Ring:
		return "ring"
	default:
		return "unknown"
	}
}

// MaxNSide is the largest supported resolution (pixel indices stay within 62 bits).
const MaxNSide = 1 << 29

const (
	twoThird  = 2.0 / 3.0
	halfPi    = math.Pi / 2
	invHalfPi = 2 / math.Pi
)

var (
	jrll = [12]int64{2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
	jpll = [12]int64{1, 3, 5, 7, 0, 2, 4, 6, 1, 3, 5, 7}
)

// NPix returns the number of pixels at resolution nside.
func NPix(nside int64) int64 {
	return 12 * nside * nside
}

// PixelSize returns the approximate side length of a pixel in degrees.
func PixelSize(nside int64) float64 {
	return math.Sqrt(4*math.Pi/float64(NPix(nside))) * 180 / math.Pi
}

// ValidateNSide checks that nside can be used with the given scheme.
func ValidateNSide(nside int64, scheme Scheme) error {
	if nside < 1 || nside > MaxNSide {
		return fmt.Errorf("nside %d out of range [1, %d]", nside, MaxNSide)
	}
	if scheme == Nested && nside&(nside-1) != 0 {
		return fmt.Errorf("nside %d must be a power of two for nested ordering", nside)
	}
	if scheme != Nested && scheme != Ring {
		return fmt.Errorf("unknown scheme %d", scheme)
	}
	return nil
}

// order returns log2(nside), or -1 when nside is not a power of two.
func order(nside int64) int {
	if nside&(nside-1) != 0 {
		return -1
	}
	o := 0
	for n := nside; n > 1; n >>= 1 {
		o++
	}
	return o
}

// Ang2Pix returns the pixel containing the direction (theta, phi).
// nside must have been checked with ValidateNSide.
func Ang2Pix(nside int64, scheme Scheme, theta, phi float64) int64 {
	z := math.Cos(theta)
	s := math.Sin(theta)
	if scheme == Nested {
		return ang2pixNest(nside, z, s, phi)
	}
	return ang2pixRing(nside, z, s, phi)
}

// Pix2Ang returns the (theta, phi) of the center of pixel pix.
func Pix2Ang(nside int64, scheme Scheme, pix int64) (theta, phi float64) {
	if scheme == Nested {
		return pix2angNest(nside, pix)
	}
	return pix2angRing(nside, pix)
}

// Nest2Ring converts a nested index to the ring index of the same pixel.
func Nest2Ring(nside, pix int64) int64 {
	theta, phi := pix2angNest(nside, pix)
	return Ang2Pix(nside, Ring, theta, phi)
}

// Ring2Nest converts a ring index to the nested index of the same pixel.
func Ring2Nest(nside, pix int64) int64 {
	theta, phi := pix2angRing(nside, pix)
	return Ang2Pix(nside, Nested, theta, phi)
}

func fmodulo(v, m float64) float64 {
	if v >= 0 {
		if v < m {
			return v
		}
		return math.Mod(v, m)
	}
	r := math.Mod(v, m) + m
	if r == m {
		return 0
	}
	return r
}

func imodulo(v, m int64) int64 {
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}

func isqrt(v int64) int64 {
	r := int64(math.Sqrt(float64(v) + 0.5))
	for r*r > v {
		r--
	}
	for (r+1)*(r+1) <= v {
		r++
	}
	return r
}

// polarScale is nside*sqrt(3*(1-|z|)) computed from sin(theta) to keep
// precision close to the poles.
func polarScale(nside int64, za, s float64) float64 {
	return float64(nside) * s / math.Sqrt((1+za)/3)
}

func ang2pixRing(nside int64, z, s, phi float64) int64 {
	za := math.Abs(z)
	tt := fmodulo(phi*invHalfPi, 4)
	npix := NPix(nside)

	if za <= twoThird {
		nl4 := 4 * nside
		ncap := 2 * nside * (nside - 1)
		temp1 := float64(nside) * (0.5 + tt)
		temp2 := float64(nside) * z * 0.75
		jp := int64(temp1 - temp2)
		jm := int64(temp1 + temp2)

		ir := nside + 1 + jp - jm
		kshift := 1 - (ir & 1)
		t1 := jp + jm - nside + kshift + 1 + nl4 + nl4
		ip := imodulo(t1>>1, nl4)
		return ncap + (ir-1)*nl4 + ip
	}

	tp := tt - math.Floor(tt)
	tmp := polarScale(nside, za, s)
	jp := int64(tp * tmp)
	jm := int64((1 - tp) * tmp)

	ir := jp + jm + 1
	ip := imodulo(int64(tt*float64(ir)), 4*ir)
	if z > 0 {
		return 2*ir*(ir-1) + ip
	}
	return npix - 2*ir*(ir+1) + ip
}

func ang2pixNest(nside int64, z, s, phi float64) int64 {
	za := math.Abs(z)
	tt := fmodulo(phi*invHalfPi, 4)
	ord := order(nside)

	if za <= twoThird {
		temp1 := float64(nside) * (0.5 + tt)
		temp2 := float64(nside) * (z * 0.75)
		jp := int64(temp1 - temp2)
		jm := int64(temp1 + temp2)
		ifp := jp >> ord
		ifm := jm >> ord
		var face int64
		switch {
		case ifp == ifm:
			face = ifp | 4
		case ifp < ifm:
			face = ifp
		default:
			face = ifm + 8
		}
		ix := jm & (nside - 1)
		iy := nside - (jp & (nside - 1)) - 1
		return xyf2nest(ord, ix, iy, face)
	}

	ntt := int64(tt)
	if ntt > 3 {
		ntt = 3
	}
	tp := tt - float64(ntt)
	tmp := polarScale(nside, za, s)
	jp := int64(tp * tmp)
	jm := int64((1 - tp) * tmp)
	if jp > nside-1 {
		jp = nside - 1
	}
	if jm > nside-1 {
		jm = nside - 1
	}
	if z >= 0 {
		return xyf2nest(ord, nside-jm-1, nside-jp-1, ntt)
	}
	return xyf2nest(ord, jp, jm, ntt+8)
}

func pix2angRing(nside, pix int64) (theta, phi float64) {
	npix := NPix(nside)
	ncap := 2 * nside * (nside - 1)
	fact2 := 4 / float64(npix)
	fact1 := float64(nside<<1) * fact2

	switch {
	case pix < ncap:
		iring := (1 + isqrt(1+2*pix)) >> 1
		iphi := (pix + 1) - 2*iring*(iring-1)
		tmp := float64(iring*iring) * fact2
		theta = capTheta(1-tmp, tmp)
		phi = (float64(iphi) - 0.5) * halfPi / float64(iring)
	case pix < npix-ncap:
		nl4 := 4 * nside
		ip := pix - ncap
		tmp := ip / nl4
		iring := tmp + nside
		iphi := ip - nl4*tmp + 1
		fodd := 0.5
		if (iring+nside)&1 != 0 {
			fodd = 1
		}
		z := float64(2*nside-iring) * fact1
		theta = math.Acos(z)
		phi = (float64(iphi) - fodd) * math.Pi * 0.75 * fact1
	default:
		ip := npix - pix
		iring := (1 + isqrt(2*ip-1)) >> 1
		iphi := 4*iring + 1 - (ip - 2*iring*(iring-1))
		tmp := float64(iring*iring) * fact2
		theta = capTheta(tmp-1, tmp)
		phi = (float64(iphi) - 0.5) * halfPi / float64(iring)
	}
	return theta, phi
}

func pix2angNest(nside, pix int64) (theta, phi float64) {
	ord := order(nside)
	npix := NPix(nside)
	fact2 := 4 / float64(npix)
	fact1 := float64(nside<<1) * fact2

	ix, iy, face := nest2xyf(ord, nside, pix)
	jr := (jrll[face] << ord) - ix - iy - 1

	var nr int64
	switch {
	case jr < nside:
		nr = jr
		tmp := float64(nr*nr) * fact2
		theta = capTheta(1-tmp, tmp)
	case jr > 3*nside:
		nr = nside*4 - jr
		tmp := float64(nr*nr) * fact2
		theta = capTheta(tmp-1, tmp)
	default:
		nr = nside
		theta = math.Acos(float64(2*nside-jr) * fact1)
	}

	tmp := jpll[face]*nr + ix - iy
	if tmp < 0 {
		tmp += 8 * nr
	}
	if nr == nside {
		phi = 0.75 * halfPi * float64(tmp) * fact1
	} else {
		phi = (0.5 * halfPi * float64(tmp)) / float64(nr)
	}
	return theta, phi
}

// capTheta returns acos(z) for a polar-cap ring, switching to atan2 near the
// poles where acos loses precision. tmp is 1-|z|.
func capTheta(z, tmp float64) float64 {
	if math.Abs(z) <= 0.99 {
		return math.Acos(z)
	}
	return math.Atan2(math.Sqrt(tmp*(2-tmp)), z)
}

func xyf2nest(ord int, ix, iy, face int64) int64 {
	return face<<(2*uint(ord)) + spreadBits(ix) + spreadBits(iy)<<1
}

func nest2xyf(ord int, nside, pix int64) (ix, iy, face int64) {
	npface := nside * nside
	face = pix >> (2 * uint(ord))
	ipf := pix & (npface - 1)
	return compressBits(ipf), compressBits(ipf >> 1), face
}

// spreadBits interleaves the low 31 bits of v with zeros.
func spreadBits(v int64) int64 {
	var r int64
	for i := uint(0); i < 31; i++ {
		r |= ((v >> i) & 1) << (2 * i)
	}
	return r
}

// compressBits gathers the even bits of v.
func compressBits(v int64) int64 {
	var r int64
	for i := uint(0); i < 31; i++ {
		r |= ((v >> (2 * i)) & 1) << i
	}
	return r
}
