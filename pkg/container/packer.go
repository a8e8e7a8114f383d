package container

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/schlafly/bayestar/internal/model"
	sperrors "github.com/schlafly/bayestar/pkg/errors"
	"github.com/schlafly/bayestar/pkg/healpix"
)

// DefaultSuffix is used when the requested output name has no known suffix.
const DefaultSuffix = "zip"

var knownSuffixes = []string{"zip", "pkz"}

// OutputName splits a requested output path into the base and suffix used
// to number containers. A trailing ".zip" or ".pkz" is removed from the base
// and reused as the suffix.
func OutputName(out string) (base, suffix string) {
	if abs, err := filepath.Abs(out); err == nil {
		out = abs
	}
	for _, s := range knownSuffixes {
		if strings.HasSuffix(out, "."+s) {
			return strings.TrimSuffix(out, "."+s), s
		}
	}
	return out, DefaultSuffix
}

// FileName returns the path of container seq.
func FileName(base string, seq int, suffix string) string {
	return fmt.Sprintf("%s.%05d.%s", base, seq, suffix)
}

// CloseHook is called with each container after it has been closed.
type CloseHook func(ctx context.Context, path string) error

// Packer writes reduced pixels into containers, opening a new one when
// none is open and closing the current one once its star count reaches
// the capacity. A Packer is used from a single goroutine.
type Packer struct {
	base     string
	suffix   string
	pix      healpix.Pixelizer
	maxStars int64
	opts     Options

	cur   *Container
	paths []string
	hooks []CloseHook
}

// NewPacker creates a packer writing to containers derived from out.
func NewPacker(out string, pix healpix.Pixelizer, maxStars int64, opts Options) (*Packer, error) {
	if maxStars <= 0 {
		return nil, sperrors.InvalidFlag("max-stars", maxStars, "container capacity must be positive")
	}
	base, suffix := OutputName(out)
	return &Packer{
		base:     base,
		suffix:   suffix,
		pix:      pix,
		maxStars: maxStars,
		opts:     opts,
	}, nil
}

// OnClose registers a hook run after every container is closed.
func (p *Packer) OnClose(h CloseHook) {
	p.hooks = append(p.hooks, h)
}

// Write stores one reduced pixel and returns its center. ebv is the pixel's
// reddening summary. Empty groups are rejected; callers skip them.
func (p *Packer) Write(ctx context.Context, g model.PixelGroup, ebv float64) (l, b float64, err error) {
	if g.Len() == 0 {
		return 0, 0, sperrors.New(sperrors.CodeWriteFailed, "empty pixel group").WithContext("pixel", g.Index)
	}

	if p.cur == nil {
		path := FileName(p.base, len(p.paths), p.suffix)
		c, err := Create(ctx, path, len(p.paths), p.opts)
		if err != nil {
			return 0, 0, err
		}
		p.cur = c
		p.paths = append(p.paths, path)
	}

	phot, props := g.Rows()
	l, b, err = p.cur.WritePixel(ctx, p.pix, g.Index, ebv, phot, props)
	if err != nil {
		return 0, 0, err
	}

	if p.cur.Stars() >= p.maxStars {
		if err := p.closeCurrent(ctx); err != nil {
			return l, b, err
		}
	}
	return l, b, nil
}

func (p *Packer) closeCurrent(ctx context.Context) error {
	c := p.cur
	p.cur = nil
	if err := c.Close(); err != nil {
		return err
	}
	// Every hook sees the file even when an earlier one failed.
	var errs sperrors.MultiError
	for _, h := range p.hooks {
		errs.Add(h(ctx, c.Path()))
	}
	return errs.Combined()
}

// Current returns the open container, or nil.
func (p *Packer) Current() *Container {
	return p.cur
}

// Files returns the number of containers opened so far.
func (p *Packer) Files() int {
	return len(p.paths)
}

// Paths returns the paths of all containers opened so far.
func (p *Packer) Paths() []string {
	out := make([]string, len(p.paths))
	copy(out, p.paths)
	return out
}

// Close closes the open container, if any. It is safe to call on every
// exit path and more than once.
func (p *Packer) Close(ctx context.Context) error {
	if p.cur == nil {
		return nil
	}
	return p.closeCurrent(ctx)
}
