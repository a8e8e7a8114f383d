package report

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/schlafly/bayestar/pkg/healpix"
)

const titleHeight = 20

var (
	background = color.RGBA{255, 255, 255, 255}
	unseen     = color.RGBA{128, 128, 128, 255}

	// Anchor colors of the density ramp, low to high.
	ramp = []color.RGBA{
		{68, 1, 84, 255},
		{59, 82, 139, 255},
		{33, 145, 140, 255},
		{94, 201, 98, 255},
		{253, 231, 37, 255},
	}
)

// SkyMap renders per-pixel star counts as a Mollweide projection in
// galactic coordinates, l = 0 at the center and increasing to the left.
// Colors follow the log of the count; pixels without stars are gray.
type SkyMap struct {
	Pixelizer healpix.Pixelizer
	Counts    map[uint64]int
	Width     int
	Title     string
}

// Render draws the map.
func (m SkyMap) Render() *image.RGBA {
	w := m.Width
	if w <= 0 {
		w = 1600
	}
	h := w / 2
	img := image.NewRGBA(image.Rect(0, 0, w, h+titleHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)

	var maxLog float64
	for _, n := range m.Counts {
		if n > 0 {
			maxLog = math.Max(maxLog, math.Log(float64(n)))
		}
	}

	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			l, b, ok := mollweideInverse(i, j, w, h)
			if !ok {
				continue
			}
			n := m.Counts[m.Pixelizer.Pixel(l, b)]
			c := unseen
			if n > 0 {
				frac := 1.0
				if maxLog > 0 {
					frac = math.Log(float64(n)) / maxLog
				}
				c = rampColor(frac)
			}
			img.SetRGBA(i, j+titleHeight, c)
		}
	}

	if m.Title != "" {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(color.Black),
			Face: basicfont.Face7x13,
		}
		adv := d.MeasureString(m.Title)
		d.Dot = fixed.Point26_6{
			X: (fixed.I(w) - adv) / 2,
			Y: fixed.I(titleHeight - 5),
		}
		d.DrawString(m.Title)
	}
	return img
}

// WritePNG encodes the map as PNG.
func (m SkyMap) WritePNG(w io.Writer) error {
	return png.Encode(w, m.Render())
}

// SavePNG writes the map to path.
func (m SkyMap) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create sky map: %w", err)
	}
	if err := m.WritePNG(f); err != nil {
		f.Close()
		return fmt.Errorf("encode sky map: %w", err)
	}
	return f.Close()
}

// mollweideInverse maps image pixel (i, j) of a w×h map to galactic
// coordinates. ok is false outside the projection ellipse.
func mollweideInverse(i, j, w, h int) (l, b float64, ok bool) {
	x := (float64(i)+0.5)/float64(w)*4*math.Sqrt2 - 2*math.Sqrt2
	y := math.Sqrt2 - (float64(j)+0.5)/float64(h)*2*math.Sqrt2
	if x*x/8+y*y/2 > 1 {
		return 0, 0, false
	}

	theta := math.Asin(y / math.Sqrt2)
	lat := math.Asin((2*theta + math.Sin(2*theta)) / math.Pi)
	lon := math.Pi * x / (2 * math.Sqrt2 * math.Cos(theta))

	l = -lon * 180 / math.Pi
	if l < 0 {
		l += 360
	}
	return l, lat * 180 / math.Pi, true
}

func rampColor(frac float64) color.RGBA {
	frac = math.Max(0, math.Min(1, frac))
	pos := frac * float64(len(ramp)-1)
	k := int(pos)
	if k >= len(ramp)-1 {
		return ramp[len(ramp)-1]
	}
	t := pos - float64(k)
	a, c := ramp[k], ramp[k+1]
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return color.RGBA{mix(a.R, c.R), mix(a.G, c.G), mix(a.B, c.B), 255}
}
