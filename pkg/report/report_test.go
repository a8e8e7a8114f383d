package report

import (
	"bytes"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/schlafly/bayestar/pkg/healpix"
	"github.com/schlafly/bayestar/pkg/partition"
	"github.com/schlafly/bayestar/pkg/reduce"
)

func TestRunStatsAdd(t *testing.T) {
	s := NewRunStats()
	s.Add(10, 40, 120.5, -3)
	s.Add(3, 7, 10, 45.25)
	s.Add(99, 12, 300, 0)
	s.SetFiles(2)

	if s.Stars != 59 || s.Pixels != 3 || s.Files != 2 {
		t.Errorf("totals = %d stars, %d pixels, %d files", s.Stars, s.Pixels, s.Files)
	}
	if s.MinStars != 7 || s.MaxStars != 40 {
		t.Errorf("min/max = %d/%d, want 7/40", s.MinStars, s.MaxStars)
	}
	if s.MeanStars() != 19 {
		t.Errorf("MeanStars() = %d, want 19 (integer division)", s.MeanStars())
	}
	if s.LMin != 10 || s.LMax != 300 || s.BMin != -3 || s.BMax != 45.25 {
		t.Errorf("extents = l[%v, %v] b[%v, %v]", s.LMin, s.LMax, s.BMin, s.BMax)
	}
	if !s.Emitted(99) || s.Emitted(4) {
		t.Error("emitted set is wrong")
	}
	if got := s.EmittedPixels(); len(got) != 3 || got[0] != 3 || got[2] != 99 {
		t.Errorf("EmittedPixels() = %v", got)
	}
	if s.Count(10) != 40 || s.Count(4) != 0 {
		t.Errorf("counts = %v", s.Counts())
	}
}

func TestMeanStarsEmpty(t *testing.T) {
	if NewRunStats().MeanStars() != 0 {
		t.Error("empty stats should have zero mean")
	}
}

func TestReportNoPixels(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, false).Report(NewRunStats(), &partition.Bounds{LMin: 0, LMax: 10, BMin: 0, BMax: 10})
	if got := buf.String(); got != NoPixelsMessage+"\n" {
		t.Errorf("report = %q, want only the diagnostic line", got)
	}
}

func TestReportWithBounds(t *testing.T) {
	s := NewRunStats()
	s.Add(1, 5, 10, 20)
	s.Add(2, 6, 11.5, 21.25)
	s.SetFiles(1)

	var buf bytes.Buffer
	NewPrinter(&buf, false).Report(s, &partition.Bounds{LMin: 0, LMax: 20, BMin: 0, BMax: 30})

	want := strings.Join([]string{
		"# of stars in footprint: 11.",
		"# of pixels in footprint: 2.",
		"Stars per pixel:",
		"    min: 5",
		"    mean: 5",
		"    max: 6",
		"# of files: 1.",
		"",
		"Bounds of included pixel centers:",
		"\t(l_min, l_max) = (10.000, 11.500)",
		"\t(b_min, b_max) = (20.000, 21.250)",
		"",
	}, "\n")
	if buf.String() != want {
		t.Errorf("report =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestReportWithoutBoundsOmitsExtents(t *testing.T) {
	s := NewRunStats()
	s.Add(1, 5, 10, 20)
	var buf bytes.Buffer
	NewPrinter(&buf, false).Report(s, nil)
	if strings.Contains(buf.String(), "Bounds of included") {
		t.Errorf("extents printed without bounds:\n%s", buf.String())
	}
}

func TestRecordsLine(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, false).Records(reduce.Stats{In: 10, Kept: 6, NoDetection: 3, Uninformative: 1}, 2)
	out := buf.String()
	if !strings.Contains(out, "Records kept: 6 of 10 (3 without detection, 1 uninformative).") ||
		!strings.Contains(out, "Pixels below the star minimum: 2.") {
		t.Errorf("records output = %q", out)
	}
}

func TestMollweideInverse(t *testing.T) {
	const w, h = 400, 200
	l, b, ok := mollweideInverse(w/2, h/2, w, h)
	if !ok || math.Abs(b) > 1 || (l > 1 && l < 359) {
		t.Errorf("center maps to (%v, %v, %v), want near (0, 0)", l, b, ok)
	}
	if _, _, ok := mollweideInverse(0, 0, w, h); ok {
		t.Error("image corner should lie outside the ellipse")
	}
	// Left of center is positive longitude.
	if l, _, _ := mollweideInverse(w/4, h/2, w, h); l < 80 || l > 100 {
		t.Errorf("quarter width maps to l=%v, want about 90", l)
	}
}

func TestSkyMapPNG(t *testing.T) {
	p, _ := healpix.NewPixelizer(4, healpix.Nested)
	l, b, _ := mollweideInverse(100, 50, 200, 100)
	counts := map[uint64]int{p.Pixel(l, b): 100, p.Pixel(90, 30): 1}

	var buf bytes.Buffer
	m := SkyMap{Pixelizer: p, Counts: counts, Width: 200, Title: "# of stars"}
	if err := m.WritePNG(&buf); err != nil {
		t.Fatalf("WritePNG: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 100+titleHeight {
		t.Fatalf("bounds = %v", b)
	}

	r, g, bl, _ := img.At(100, 50+titleHeight).RGBA()
	top := ramp[len(ramp)-1]
	if uint8(r>>8) != top.R || uint8(g>>8) != top.G || uint8(bl>>8) != top.B {
		t.Errorf("densest pixel color = (%d, %d, %d), want top of ramp", r>>8, g>>8, bl>>8)
	}
	r, _, _, _ = img.At(1, 1+titleHeight).RGBA()
	if uint8(r>>8) != background.R {
		t.Error("corner should be background")
	}
}

func TestRampColor(t *testing.T) {
	if rampColor(0) != ramp[0] || rampColor(1) != ramp[len(ramp)-1] || rampColor(2) != ramp[len(ramp)-1] {
		t.Error("ramp endpoints are wrong")
	}
}
