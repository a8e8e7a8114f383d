// Package pipe runs an export: catalog stream -> partition -> shuffle ->
// reduce -> pack, with run statistics collected along the way.
package pipe

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/schlafly/bayestar/internal/model"
	"github.com/schlafly/bayestar/internal/pool"
	"github.com/schlafly/bayestar/pkg/catalog"
	"github.com/schlafly/bayestar/pkg/container"
	"github.com/schlafly/bayestar/pkg/defaults/metrics"
	sperrors "github.com/schlafly/bayestar/pkg/errors"
	"github.com/schlafly/bayestar/pkg/healpix"
	"github.com/schlafly/bayestar/pkg/interfaces"
	"github.com/schlafly/bayestar/pkg/partition"
	"github.com/schlafly/bayestar/pkg/reduce"
	"github.com/schlafly/bayestar/pkg/report"
	"github.com/schlafly/bayestar/pkg/telemetry"
)

// Phase names reported to the progress callback.
const (
	PhaseStream = "stream"
	PhasePack   = "pack"
)

// Config holds pipeline configuration.
type Config struct {
	Pixelizer healpix.Pixelizer

	// Bounds restricts output to pixels whose centers lie inside; nil keeps
	// every pixel.
	Bounds *partition.Bounds

	// Query is the catalog selection. Its Region should cover Bounds.
	Query catalog.Query

	// MinStars is the fewest retained stars a pixel needs to be written.
	MinStars int

	// MaxStars is the container capacity that triggers rollover.
	MaxStars int64

	// Output is the requested container name; see container.OutputName.
	Output string

	Container container.Options

	// Blocks receives consumed blocks for reuse by the source; optional.
	Blocks *pool.BlockPool

	// BlockBuffer is the channel buffer between the source and the
	// partitioner, in blocks.
	BlockBuffer int

	// OnClose hooks run after each container is closed (e.g. S3 upload).
	OnClose []container.CloseHook

	Metrics interfaces.MetricsExporter
}

// DefaultBlockBuffer is used when Config.BlockBuffer is not positive.
const DefaultBlockBuffer = 16

// ProgressStats is a snapshot of a running export.
type ProgressStats struct {
	Phase        string
	RecordsRead  int64
	BlocksRead   int64
	PixelsDone   int
	PixelsTotal  int
	StarsWritten int64
	Elapsed      time.Duration
}

// Result is the outcome of a successful run.
type Result struct {
	// Stats covers written pixels only.
	Stats *report.RunStats

	// Records counts what the reducer saw across all pixels, including
	// pixels later skipped for having too few stars.
	Records reduce.Stats

	// SkippedPixels counts pixels with fewer than MinStars retained stars.
	SkippedPixels int64

	Files    []string
	Duration time.Duration
}

// Pipeline runs one export.
type Pipeline struct {
	cfg     Config
	metrics interfaces.MetricsExporter

	recordsRead atomic.Int64
	blocksRead  atomic.Int64

	progressFn       func(ProgressStats)
	progressInterval time.Duration
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.BlockBuffer <= 0 {
		cfg.BlockBuffer = DefaultBlockBuffer
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	return &Pipeline{cfg: cfg, metrics: m, progressInterval: 100 * time.Millisecond}
}

// SetProgressCallback sets a callback for progress updates. It is called
// from the pipeline goroutines, at most once per 100ms per phase plus once
// at the end of each phase.
func (p *Pipeline) SetProgressCallback(fn func(stats ProgressStats)) {
	p.progressFn = fn
}

func (p *Pipeline) tags() map[string]string {
	return map[string]string{
		interfaces.TagScheme: p.cfg.Pixelizer.Scheme.String(),
		interfaces.TagNSide:  strconv.FormatInt(p.cfg.Pixelizer.NSide, 10),
	}
}

// Run streams src through the pipeline. The open container is closed on
// every path; on error the containers written so far remain on disk.
func (p *Pipeline) Run(ctx context.Context, src catalog.Source) (res *Result, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "export",
		attribute.Int64("nside", p.cfg.Pixelizer.NSide),
		attribute.String("scheme", p.cfg.Pixelizer.Scheme.String()),
		attribute.String("output", p.cfg.Output),
	)
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	packer, err := container.NewPacker(p.cfg.Output, p.cfg.Pixelizer, p.cfg.MaxStars, p.cfg.Container)
	if err != nil {
		return nil, err
	}
	packer.OnClose(func(ctx context.Context, path string) error {
		p.metrics.Counter(interfaces.MetricContainersClosed, 1, map[string]string{interfaces.TagFile: path})
		return nil
	})
	for _, h := range p.cfg.OnClose {
		packer.OnClose(h)
	}
	defer func() {
		if cerr := packer.Close(ctx); cerr != nil && err == nil {
			res, err = nil, cerr
		}
	}()

	shuffle, err := p.stream(ctx, src, start)
	if err != nil {
		return nil, err
	}

	res, err = p.pack(ctx, shuffle, packer, start)
	if err != nil {
		return nil, err
	}
	stats := res.Stats

	if err := packer.Close(ctx); err != nil {
		return nil, err
	}
	stats.SetFiles(packer.Files())

	elapsed := time.Since(start)
	p.metrics.Timer(interfaces.MetricExportDuration, elapsed, p.tags())
	telemetry.SetSpanAttributes(ctx,
		attribute.Int64("stars", stats.Stars),
		attribute.Int64("pixels", stats.Pixels),
		attribute.Int("files", stats.Files),
	)
	res.Files = packer.Paths()
	res.Duration = elapsed
	return res, nil
}

// stream runs the catalog source and the partitioner concurrently and
// returns every in-bounds pixel group merged by pixel.
func (p *Pipeline) stream(ctx context.Context, src catalog.Source, start time.Time) (*partition.Shuffle, error) {
	ctx, span := telemetry.StartSpan(ctx, "catalog.stream")
	defer span.End()

	mapper := partition.NewMapper(p.cfg.Pixelizer, p.cfg.Bounds)
	shuffle := partition.NewShuffle()
	blocks := make(chan model.Block, p.cfg.BlockBuffer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(blocks)
		return src.Stream(gctx, p.cfg.Query, blocks)
	})

	g.Go(func() error {
		lastReport := time.Now()
		for {
			select {
			case <-gctx.Done():
				return sperrors.ContextCanceled("partition")
			case block, ok := <-blocks:
				if !ok {
					return nil
				}
				p.recordsRead.Add(int64(len(block)))
				p.blocksRead.Add(1)
				shuffle.AddAll(mapper.Partition(block))
				if p.cfg.Blocks != nil {
					p.cfg.Blocks.Put(block)
				}

				if p.progressFn != nil && time.Since(lastReport) > p.progressInterval {
					p.progressFn(p.snapshot(PhaseStream, start, 0, shuffle.Len(), 0))
					lastReport = time.Now()
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil && !sperrors.IsCode(err, sperrors.CodeContextCanceled) {
			err = sperrors.Wrap(err, sperrors.CodeContextCanceled, "catalog stream interrupted")
		}
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("records", p.recordsRead.Load()),
		attribute.Int("pixels", shuffle.Len()),
	)
	p.metrics.Counter(interfaces.MetricCatalogRows, p.recordsRead.Load(), p.tags())
	p.metrics.Counter(interfaces.MetricCatalogBlocks, p.blocksRead.Load(), p.tags())
	p.metrics.Timer(interfaces.MetricCatalogDuration, time.Since(start), p.tags())
	if p.progressFn != nil {
		p.progressFn(p.snapshot(PhaseStream, start, 0, shuffle.Len(), 0))
	}
	return shuffle, nil
}

// pack reduces each pixel in ascending order and writes the survivors.
func (p *Pipeline) pack(ctx context.Context, shuffle *partition.Shuffle, packer *container.Packer, start time.Time) (*Result, error) {
	reducer := reduce.NewReducer()
	stats := report.NewRunStats()
	var skipped int64
	total := shuffle.Len()
	done := 0
	lastReport := time.Now()

	err := shuffle.Drain(func(g model.PixelGroup) error {
		if err := ctx.Err(); err != nil {
			return sperrors.ContextCanceled("pack")
		}
		done++

		kept := reducer.Reduce(g)
		n := kept.Len()
		switch {
		case n == 0:
			return nil
		case n < p.cfg.MinStars:
			skipped++
			return nil
		}

		ebv := reduce.EBV(kept)
		l, b, err := packer.Write(ctx, kept, ebv)
		if err != nil {
			return err
		}
		stats.Add(kept.Index, n, l, b)

		if p.progressFn != nil && time.Since(lastReport) > p.progressInterval {
			p.progressFn(p.snapshot(PhasePack, start, done, total, stats.Stars))
			lastReport = time.Now()
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	records := reducer.Stats()

	p.metrics.Counter(interfaces.MetricPixelsWritten, stats.Pixels, p.tags())
	p.metrics.Counter(interfaces.MetricPixelsSkipped, skipped, p.tags())
	p.metrics.Gauge(interfaces.MetricPixelStars, float64(stats.MeanStars()), p.tags())
	p.metrics.Counter(interfaces.MetricRecordsKept, records.Kept, p.tags())
	p.metrics.Counter(interfaces.MetricRecordsNoDetection, records.NoDetection, p.tags())
	p.metrics.Counter(interfaces.MetricRecordsUninformative, records.Uninformative, p.tags())
	if p.progressFn != nil {
		p.progressFn(p.snapshot(PhasePack, start, done, total, stats.Stars))
	}
	return &Result{Stats: stats, Records: records, SkippedPixels: skipped}, nil
}

func (p *Pipeline) snapshot(phase string, start time.Time, done, total int, stars int64) ProgressStats {
	return ProgressStats{
		Phase:        phase,
		RecordsRead:  p.recordsRead.Load(),
		BlocksRead:   p.blocksRead.Load(),
		PixelsDone:   done,
		PixelsTotal:  total,
		StarsWritten: stars,
		Elapsed:      time.Since(start),
	}
}
