// Package tui renders the starpack command-line output: header, progress
// bars, run summary and container listings.
package tui

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/schlafly/bayestar/pkg/container"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

// PrintHeader prints the program banner.
func PrintHeader(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  STARPACK")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  Catalog to HEALPix pixel containers"))
	fmt.Fprintln(w)
}

// PrintError prints a failure line.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, accentStyle.Render("  ✗ ")+err.Error())
}

// Progress shows the two phases of an export: an open-ended record
// counter while the catalog streams, then a bar over the pixels.
type Progress struct {
	w      io.Writer
	stream *progressbar.ProgressBar
	pack   *progressbar.ProgressBar
}

// NewProgress creates a progress display writing to w.
func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w}
}

// Stream updates the number of catalog records read.
func (p *Progress) Stream(records int64) {
	if p.stream == nil {
		p.stream = newBar(p.w, -1, "  reading catalog")
	}
	_ = p.stream.Set64(records)
}

// Pack updates the number of pixels reduced out of total.
func (p *Progress) Pack(done, total int) {
	if p.pack == nil {
		if p.stream != nil {
			_ = p.stream.Finish()
		}
		p.pack = newBar(p.w, int64(total), "  packing pixels ")
	}
	_ = p.pack.Set(done)
}

// Finish completes whichever bars are active.
func (p *Progress) Finish() {
	for _, bar := range []*progressbar.ProgressBar{p.stream, p.pack} {
		if bar != nil {
			_ = bar.Finish()
		}
	}
}

func newBar(w io.Writer, total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Summary describes a finished export.
type Summary struct {
	Stars    int64
	Pixels   int64
	Files    []string
	Duration time.Duration
}

// PrintSummary prints the completion block after an export.
func PrintSummary(w io.Writer, s Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, successStyle.Render("  ✓ EXPORT COMPLETE"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s in %s pixels\n",
		mutedStyle.Render("Stars:"),
		titleStyle.Render(formatNumber(s.Stars)),
		titleStyle.Render(formatNumber(s.Pixels)))
	for _, f := range s.Files {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("File:"), codeStyle.Render(f))
	}
	if s.Duration > 0 {
		rate := float64(s.Stars) / s.Duration.Seconds()
		fmt.Fprintf(w, "  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(formatDuration(s.Duration)),
			mutedStyle.Render(fmt.Sprintf("(%s stars/sec)", formatNumber(int64(rate)))))
	}
	fmt.Fprintln(w)
}

// PrintContainer lists the datasets of a container and their attributes.
func PrintContainer(w io.Writer, path string, size int64, m container.Manifest) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", accentStyle.Render("▸"), titleStyle.Render(path))
	fmt.Fprintf(w, "  %s %d  %s %s  %s %s  %s %s\n",
		mutedStyle.Render("container"), m.Sequence,
		mutedStyle.Render("stars"), formatNumber(m.Stars),
		mutedStyle.Render("compression"), m.Compression,
		mutedStyle.Render("size"), formatBytes(size))
	if m.RunID != "" {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("run"), m.RunID)
	}
	fmt.Fprintln(w, mutedStyle.Render("  ─────────────────────────────────────"))

	for _, d := range m.Datasets {
		fmt.Fprintf(w, "  %s %s\n", titleStyle.Render(d.Name), mutedStyle.Render(fmt.Sprintf("(%d rows)", d.Rows)))
		keys := make([]string, 0, len(d.Attributes))
		for k := range d.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "      %-14s %s\n", k, d.Attributes[k])
		}
	}
	fmt.Fprintln(w)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
