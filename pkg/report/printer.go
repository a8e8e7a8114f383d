package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/schlafly/bayestar/pkg/partition"
	"github.com/schlafly/bayestar/pkg/reduce"
)

// NoPixelsMessage is printed when a run writes no pixels.
const NoPixelsMessage = "No pixels in specified bounds with sufficient # of stars."

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
)

// Printer writes the end of run report.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter creates a printer. With styled set, headings and labels are
// rendered with terminal styles.
func NewPrinter(w io.Writer, styled bool) *Printer {
	return &Printer{w: w, styled: styled}
}

func (p *Printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *Printer) printf(s lipgloss.Style, format string, args ...interface{}) {
	fmt.Fprintln(p.w, p.render(s, fmt.Sprintf(format, args...)))
}

// Report prints the run summary. The bounds extents are printed only when
// bounds were given.
func (p *Printer) Report(s *RunStats, bounds *partition.Bounds) {
	if s.Pixels == 0 {
		p.printf(warnStyle, NoPixelsMessage)
		return
	}

	p.printf(headingStyle, "# of stars in footprint: %d.", s.Stars)
	p.printf(headingStyle, "# of pixels in footprint: %d.", s.Pixels)
	p.printf(labelStyle, "Stars per pixel:")
	p.printf(labelStyle, "    min: %d", s.MinStars)
	p.printf(labelStyle, "    mean: %d", s.MeanStars())
	p.printf(labelStyle, "    max: %d", s.MaxStars)
	p.printf(headingStyle, "# of files: %d.", s.Files)

	if bounds != nil {
		fmt.Fprintln(p.w)
		p.printf(headingStyle, "Bounds of included pixel centers:")
		p.printf(labelStyle, "\t(l_min, l_max) = (%.3f, %.3f)", s.LMin, s.LMax)
		p.printf(labelStyle, "\t(b_min, b_max) = (%.3f, %.3f)", s.BMin, s.BMax)
	}
}

// Records prints the reducer's keep and drop counts and the number of
// pixels skipped for having too few stars.
func (p *Printer) Records(r reduce.Stats, skippedPixels int64) {
	p.printf(labelStyle, "Records kept: %d of %d (%d without detection, %d uninformative).",
		r.Kept, r.In, r.NoDetection, r.Uninformative)
	if skippedPixels > 0 {
		p.printf(labelStyle, "Pixels below the star minimum: %d.", skippedPixels)
	}
}
