package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/schlafly/bayestar/internal/pipe"
	"github.com/schlafly/bayestar/internal/pool"
	"github.com/schlafly/bayestar/pkg/catalog"
	"github.com/schlafly/bayestar/pkg/config"
	"github.com/schlafly/bayestar/pkg/container"
	"github.com/schlafly/bayestar/pkg/defaults/metrics"
	"github.com/schlafly/bayestar/pkg/healpix"
	"github.com/schlafly/bayestar/pkg/interfaces"
	"github.com/schlafly/bayestar/pkg/partition"
	"github.com/schlafly/bayestar/pkg/report"
	"github.com/schlafly/bayestar/pkg/storage/s3"
	"github.com/schlafly/bayestar/pkg/telemetry"
	"github.com/schlafly/bayestar/pkg/tui"
)

// Export flags. Values are applied over the loaded configuration only when
// the flag is set on the command line.
var (
	nsideFlag        int64
	boundsFlag       []float64
	minStarsFlag     int
	maxStarsFlag     int64
	nBandsFlag       int
	nDetFlag         int
	ringFlag         bool
	visualizeFlag    bool
	mapFlag          string
	catalogFlag      string
	tableFlag        string
	compressionFlag  string
	compressionLevel int
	chunkRowsFlag    int
	padPixelsFlag    float64
	uploadFlag       string
	otlpFlag         string
	noProgressFlag   bool
)

const skyMapWidth = 1600

var exportCmd = &cobra.Command{
	Use:   "export OUT",
	Short: "Partition the catalog and write pixel containers",
	Long: `Query the catalog, group the selected stars by HEALPix pixel and write
each pixel with enough good stars to numbered containers named
OUT.00000.zip, OUT.00001.zip, ... A new container is started once the
current one holds --max-stars stars.

Examples:
  starpack export --catalog ps1.parquet -n 512 runs/ps1
  starpack export --catalog 'ps1/*.parquet' -b 10 20 -5 5 --max-stars 20000 out.pkz
  starpack export --catalog postgres://survey@db/ps1 --table sdss.stars --ring out
  starpack export --catalog ps1.duckdb --upload s3://survey/runs/2026 --map sky.png out`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	f := exportCmd.Flags()
	f.Int64VarP(&nsideFlag, "nside", "n", 512, "HEALPix resolution")
	f.Float64SliceVarP(&boundsFlag, "bounds", "b", nil, "Restrict to pixel centers in l_min,l_max,b_min,b_max (degrees)")
	f.IntVar(&minStarsFlag, "min-stars", 1, "Fewest retained stars for a pixel to be written")
	f.Int64Var(&maxStarsFlag, "max-stars", 50000, "Stars per container before starting a new one")
	f.IntVar(&nBandsFlag, "n-bands", 4, "Minimum number of bands with a detection")
	f.IntVar(&nDetFlag, "n-det", 4, "Minimum total number of detections")
	f.BoolVarP(&ringFlag, "ring", "r", false, "Use ring ordering instead of nested")
	f.BoolVar(&visualizeFlag, "visualize", false, "Render a sky map of the written pixels next to the output")
	f.StringVar(&mapFlag, "map", "", "Write the sky map PNG to this path")
	f.StringVar(&catalogFlag, "catalog", "", "Catalog: Parquet/CSV file or glob, DuckDB file, or postgres:// URL")
	f.StringVar(&tableFlag, "table", catalog.DefaultTable, "Catalog table for database catalogs")
	f.StringVar(&compressionFlag, "compression", container.CompressionZstd.String(), "Dataset compression (zstd, gzip, brotli, lz4, snappy, none)")
	f.IntVar(&compressionLevel, "compression-level", 0, "Compression level; 0 selects the codec maximum")
	f.IntVar(&chunkRowsFlag, "chunk-rows", container.DefaultOptions().ChunkRows, "Rows per Parquet row group")
	f.Float64Var(&padPixelsFlag, "pad-pixels", catalog.DefaultPadPixels, "Latitude margin of the catalog query, in pixel sizes")
	f.StringVar(&uploadFlag, "upload", "", "Upload each closed container to s3://bucket/prefix")
	f.StringVar(&otlpFlag, "otlp-endpoint", "", "Export traces to this OTLP gRPC endpoint")
	f.BoolVar(&noProgressFlag, "no-progress", false, "Hide progress bars")
}

// applyFlags copies the flags set on the command line into cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("nside") {
		cfg.Pixels.NSide = nsideFlag
	}
	if set("bounds") {
		cfg.Pixels.Bounds = boundsFlag
	}
	if set("min-stars") {
		cfg.Pixels.MinStars = minStarsFlag
	}
	if set("ring") {
		cfg.Pixels.Ring = ringFlag
	}
	if set("max-stars") {
		cfg.Output.MaxStars = maxStarsFlag
	}
	if set("n-bands") {
		cfg.Catalog.MinBands = nBandsFlag
	}
	if set("n-det") {
		cfg.Catalog.MinDetections = nDetFlag
	}
	if set("catalog") {
		cfg.Catalog.DSN = catalogFlag
	}
	if set("table") {
		cfg.Catalog.Table = tableFlag
	}
	if set("pad-pixels") {
		cfg.Catalog.PadPixels = padPixelsFlag
	}
	if set("compression") {
		cfg.Output.Compression = compressionFlag
	}
	if set("compression-level") {
		cfg.Output.CompressionLevel = compressionLevel
	}
	if set("chunk-rows") {
		cfg.Output.ChunkRows = chunkRowsFlag
	}
	if set("upload") {
		cfg.Output.Upload = uploadFlag
	}
	if set("map") {
		cfg.Output.Map = mapFlag
	}
	if set("otlp-endpoint") {
		cfg.Telemetry.OTLPEndpoint = otlpFlag
	}
}

// skyMapPath returns where the sky map goes, or "" for none.
func skyMapPath(out, explicit string, visualize bool) string {
	if explicit != "" {
		return explicit
	}
	if !visualize {
		return ""
	}
	base, _ := container.OutputName(out)
	return base + ".png"
}

func runExport(cmd *cobra.Command, args []string) error {
	m, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := m.Get()
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Validate has checked all of these.
	bounds, _ := partition.ParseBounds(cfg.Pixels.Bounds)
	pix, _ := healpix.NewPixelizer(cfg.Pixels.NSide, cfg.Scheme())
	comp, _ := container.ParseCompression(cfg.Output.Compression)

	ctx := cmd.Context()
	out := args[0]
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	shutdown, err := telemetry.NewOTLPExporter(telemetry.DefaultOTLPConfig(cfg.Telemetry.OTLPEndpoint, version)).Init(ctx)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdown(sctx)
	}()

	var mx interfaces.MetricsExporter = metrics.NewNoopMetrics()
	if verbose {
		mx = metrics.NewLogMetrics(metrics.WithOutput(stderr))
	}
	defer mx.Close()

	blocks := pool.NewBlockPool(cfg.Catalog.BlockSize)
	src, err := catalog.Open(ctx, cfg.Catalog.DSN, cfg.Catalog.Table, blocks)
	if err != nil {
		return err
	}
	defer src.Close()

	pcfg := pipe.Config{
		Pixelizer: pix,
		Bounds:    bounds,
		Query: catalog.NewQuery(cfg.Catalog.MinBands, cfg.Catalog.MinDetections,
			catalog.QueryRegion(bounds, pix.NSide, cfg.Catalog.PadPixels)),
		MinStars: cfg.Pixels.MinStars,
		MaxStars: cfg.Output.MaxStars,
		Output:   out,
		Container: container.Options{
			Compression:      comp,
			CompressionLevel: cfg.Output.CompressionLevel,
			ChunkRows:        cfg.Output.ChunkRows,
			RunID:            uuid.NewString(),
		},
		Blocks:  blocks,
		Metrics: mx,
	}

	if cfg.Output.Upload != "" {
		hook, err := uploadHook(ctx, cfg.Output.Upload, mx)
		if err != nil {
			return err
		}
		pcfg.OnClose = append(pcfg.OnClose, hook)
	}

	if verbose {
		tui.PrintHeader(stderr, version)
		fmt.Fprintf(stderr, "  catalog %s  nside %d (%s)  run %s\n\n", cfg.Catalog.DSN, pix.NSide, pix.Scheme, pcfg.Container.RunID)
	}

	p := pipe.NewPipeline(pcfg)
	var progress *tui.Progress
	if !noProgressFlag && !verbose {
		progress = tui.NewProgress(stderr)
		p.SetProgressCallback(func(s pipe.ProgressStats) {
			if s.Phase == pipe.PhaseStream {
				progress.Stream(s.RecordsRead)
			} else {
				progress.Pack(s.PixelsDone, s.PixelsTotal)
			}
		})
	}

	res, err := p.Run(ctx, src)
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		return err
	}

	printer := report.NewPrinter(stdout, true)
	printer.Report(res.Stats, bounds)
	if verbose {
		printer.Records(res.Records, res.SkippedPixels)
	}

	if path := skyMapPath(out, cfg.Output.Map, visualizeFlag); path != "" && res.Stats.Pixels > 0 {
		sky := report.SkyMap{
			Pixelizer: pix,
			Counts:    res.Stats.Counts(),
			Width:     skyMapWidth,
			Title:     fmt.Sprintf("%s: %d stars, nside %d", filepath.Base(out), res.Stats.Stars, pix.NSide),
		}
		// The map is a convenience; a failure does not fail the export.
		if err := sky.SavePNG(path); err != nil {
			fmt.Fprintf(stderr, "warning: sky map not written: %v\n", err)
		} else if verbose {
			fmt.Fprintf(stderr, "sky map: %s\n", path)
		}
	}

	tui.PrintSummary(stderr, tui.Summary{
		Stars:    res.Stats.Stars,
		Pixels:   res.Stats.Pixels,
		Files:    res.Files,
		Duration: res.Duration,
	})
	return nil
}

func uploadHook(ctx context.Context, url string, mx interfaces.MetricsExporter) (container.CloseHook, error) {
	bucket, prefix, err := s3.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client, err := s3.NewClient(ctx, s3.DefaultConfig(bucket, prefix))
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, path string) error {
		start := time.Now()
		err := client.Upload(ctx, path)
		status := "ok"
		if err != nil {
			status = "error"
		}
		mx.Timer(interfaces.MetricUploadDuration, time.Since(start), map[string]string{
			interfaces.TagFile:   filepath.Base(path),
			interfaces.TagStatus: status,
		})
		return err
	}, nil
}
