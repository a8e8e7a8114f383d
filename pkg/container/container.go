// Package container writes pixel datasets into sequentially numbered
// archive files.
//
// A container is a ZIP archive of Parquet members. Every written pixel adds
// two members, "photometry/pixel <ix>.parquet" and
// "derived-parameters/pixel <ix>.parquet", each carrying the pixel
// attributes as schema metadata. A manifest.json listing every dataset is
// written when the container is closed.
package container

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/schlafly/bayestar/internal/model"
	sperrors "github.com/schlafly/bayestar/pkg/errors"
	"github.com/schlafly/bayestar/pkg/healpix"
)

// Version is recorded in every manifest and Parquet footer.
const Version = "1.0.0"

// ManifestName is the archive member holding the dataset index.
const ManifestName = "manifest.json"

var tracer = otel.Tracer("github.com/schlafly/bayestar/pkg/container")

// Options configures dataset encoding.
type Options struct {
	// Compression codec for Parquet pages.
	Compression Compression

	// CompressionLevel; 0 selects the codec maximum.
	CompressionLevel int

	// ChunkRows is the maximum number of rows per Parquet row group.
	ChunkRows int

	// RunID is stored in every dataset's attributes.
	RunID string

	// Allocator for Arrow buffers; nil uses the default allocator.
	Allocator memory.Allocator
}

// DefaultOptions returns zstd at its strongest level with 4096-row chunks.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
		ChunkRows:   4096,
	}
}

func (o Options) allocator() memory.Allocator {
	if o.Allocator != nil {
		return o.Allocator
	}
	return memory.DefaultAllocator
}

func (o Options) writerProperties() *parquet.WriterProperties {
	chunk := o.ChunkRows
	if chunk <= 0 {
		chunk = 4096
	}
	opts := []parquet.WriterProperty{
		parquet.WithCompression(o.Compression.codec()),
		parquet.WithMaxRowGroupLength(int64(chunk)),
		parquet.WithCreatedBy("starpack " + Version),
	}
	level := o.CompressionLevel
	if level == 0 {
		level = o.Compression.MaxLevel()
	}
	if level != 0 {
		opts = append(opts, parquet.WithCompressionLevel(level))
	}
	return parquet.NewWriterProperties(opts...)
}

// DatasetEntry describes one archive member in the manifest.
type DatasetEntry struct {
	Name       string            `json:"name"`
	Category   string            `json:"category"`
	Member     string            `json:"member"`
	Rows       int               `json:"rows"`
	Attributes map[string]string `json:"attributes"`
}

// Manifest indexes the datasets of a container.
type Manifest struct {
	Version     string         `json:"version"`
	Sequence    int            `json:"sequence"`
	RunID       string         `json:"run_id,omitempty"`
	Compression string         `json:"compression"`
	Stars       int64          `json:"stars"`
	CreatedAt   time.Time      `json:"created_at"`
	Datasets    []DatasetEntry `json:"datasets"`
}

// DatasetName returns the dataset path of a pixel within a category.
func DatasetName(category string, ix uint64) string {
	return fmt.Sprintf("%s/pixel %d", category, ix)
}

func memberName(dataset string) string {
	return dataset + ".parquet"
}

// Container is one open output archive. Writes go to a temporary file that
// is renamed to the final path on Close.
type Container struct {
	mu sync.Mutex

	path     string
	tempPath string
	file     *os.File
	zw       *zip.Writer
	opts     Options
	manifest Manifest
	stars    int64
	closed   bool
	broken   error // set when a member write failed mid-stream
	span     trace.Span
}

// Create opens a new container at path. seq is the container's position in
// the output sequence and is recorded in its manifest.
func Create(ctx context.Context, path string, seq int, opts Options) (*Container, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, sperrors.Wrap(err, sperrors.CodeContainerCreate, "create output directory").
			WithContext("path", path)
	}

	tempPath := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	f, err := os.Create(tempPath)
	if err != nil {
		return nil, sperrors.Wrap(err, sperrors.CodeContainerCreate, "create container").
			WithContext("path", path)
	}

	_, span := tracer.Start(ctx, "container.write",
		trace.WithAttributes(
			attribute.String("container.path", path),
			attribute.Int("container.sequence", seq),
		))

	return &Container{
		path:     path,
		tempPath: tempPath,
		file:     f,
		zw:       zip.NewWriter(f),
		opts:     opts,
		span:     span,
		manifest: Manifest{
			Version:     Version,
			Sequence:    seq,
			RunID:       opts.RunID,
			Compression: opts.Compression.String(),
			CreatedAt:   time.Now().UTC(),
		},
	}, nil
}

// Path returns the final path of the container.
func (c *Container) Path() string {
	return c.path
}

// Sequence returns the container's position in the output sequence.
func (c *Container) Sequence() int {
	return c.manifest.Sequence
}

// Stars returns the cumulative number of stars written.
func (c *Container) Stars() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stars
}

// Pixels returns the number of pixels written.
func (c *Container) Pixels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.manifest.Datasets) / 2
}

// WritePixel stores the photometry and derived-parameter datasets of pixel
// ix and returns the pixel center in degrees. phot and props must describe
// the same stars in the same order.
func (c *Container) WritePixel(ctx context.Context, pix healpix.Pixelizer, ix uint64, ebv float64,
	phot []model.PhotometryRow, props []model.PropertyRow) (l, b float64, err error) {
	if len(phot) != len(props) {
		return 0, 0, sperrors.Newf(sperrors.CodeWriteFailed,
			"photometry has %d rows but derived parameters have %d", len(phot), len(props)).
			WithContext("pixel", ix)
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, sperrors.Wrap(err, sperrors.CodeContextCanceled, "write pixel")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, 0, sperrors.New(sperrors.CodeWriteFailed, "container is closed").
			WithContext("path", c.path)
	}
	if c.broken != nil {
		return 0, 0, c.broken
	}

	l, b = pix.Center(ix)
	attrs := Attributes{
		HealpixIndex: ix,
		Nested:       pix.Nested(),
		NSide:        pix.NSide,
		L:            l,
		B:            b,
		EBV:          ebv,
		NStars:       len(phot),
		RunID:        c.opts.RunID,
		CreatedAt:    time.Now(),
	}
	md := attrs.metadata()
	mem := c.opts.allocator()

	// Both datasets are encoded before either member is added so that an
	// encoding failure leaves no half pixel behind.
	photSchema := withMetadata(PhotometrySchema(), md)
	photRec := photometryRecord(mem, photSchema, phot)
	photEnc, err := c.encodeDataset(CategoryPhotometry, ix, photSchema, photRec, attrs)
	photRec.Release()
	if err != nil {
		return 0, 0, err
	}

	propSchema := withMetadata(PropertiesSchema(), md)
	propRec := propertiesRecord(mem, propSchema, props)
	propEnc, err := c.encodeDataset(CategoryProperties, ix, propSchema, propRec, attrs)
	propRec.Release()
	if err != nil {
		return 0, 0, err
	}

	for _, d := range []encodedDataset{photEnc, propEnc} {
		if err := c.addMember(d); err != nil {
			// The archive stream is now unusable; Close discards it.
			c.broken = err
			return 0, 0, err
		}
	}
	c.manifest.Datasets = append(c.manifest.Datasets, photEnc.entry, propEnc.entry)
	c.stars += int64(len(phot))
	return l, b, nil
}

// encodedDataset is one Parquet member ready to be added to the archive.
type encodedDataset struct {
	entry DatasetEntry
	data  []byte
}

func (c *Container) encodeDataset(category string, ix uint64, schema *arrow.Schema, rec arrow.Record, attrs Attributes) (encodedDataset, error) {
	name := DatasetName(category, ix)

	var buf bytes.Buffer
	w, err := pqarrow.NewFileWriter(schema, &buf, c.opts.writerProperties(),
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return encodedDataset{}, sperrors.Wrap(err, sperrors.CodeWriteFailed, "create dataset writer").
			WithContext("dataset", name)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		return encodedDataset{}, sperrors.Wrapf(err, sperrors.CodeWriteFailed, "encode %d rows", rec.NumRows()).
			WithContext("dataset", name)
	}
	if err := w.Close(); err != nil {
		return encodedDataset{}, sperrors.Wrap(err, sperrors.CodeWriteFailed, "finish dataset").
			WithContext("dataset", name)
	}

	return encodedDataset{
		entry: DatasetEntry{
			Name:       name,
			Category:   category,
			Member:     memberName(name),
			Rows:       int(rec.NumRows()),
			Attributes: attrs.Map(),
		},
		data: buf.Bytes(),
	}, nil
}

func (c *Container) addMember(d encodedDataset) error {
	member := d.entry.Member
	hdr := &zip.FileHeader{Name: member, Method: zip.Store, Modified: time.Now()}
	mw, err := c.zw.CreateHeader(hdr)
	if err != nil {
		return sperrors.Wrap(err, sperrors.CodeWriteFailed, "add archive member").
			WithContext("member", member)
	}
	if _, err := mw.Write(d.data); err != nil {
		return sperrors.Wrap(err, sperrors.CodeWriteFailed, "write archive member").
			WithContext("member", member)
	}
	return nil
}

// Close writes the manifest, finalizes the archive and moves it to its final
// path. Closing twice is a no-op. On failure the temporary file is removed.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	defer c.span.End()

	if c.broken != nil {
		c.file.Close()
		os.Remove(c.tempPath)
		c.span.RecordError(c.broken)
		return sperrors.Wrap(c.broken, sperrors.CodeContainerClose, "container discarded after failed write").
			WithContext("path", c.path)
	}

	c.manifest.Stars = c.stars
	c.span.SetAttributes(
		attribute.Int64("container.stars", c.stars),
		attribute.Int("container.datasets", len(c.manifest.Datasets)),
	)

	if err := c.finish(); err != nil {
		c.file.Close()
		os.Remove(c.tempPath)
		c.span.RecordError(err)
		return err
	}

	if err := os.Rename(c.tempPath, c.path); err != nil {
		os.Remove(c.tempPath)
		c.span.RecordError(err)
		return sperrors.Wrap(err, sperrors.CodeContainerClose, "rename container").
			WithContext("path", c.path)
	}
	return nil
}

func (c *Container) finish() error {
	mw, err := c.zw.Create(ManifestName)
	if err != nil {
		return sperrors.Wrap(err, sperrors.CodeContainerClose, "add manifest").WithContext("path", c.path)
	}
	enc := json.NewEncoder(mw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c.manifest); err != nil {
		return sperrors.Wrap(err, sperrors.CodeContainerClose, "encode manifest").WithContext("path", c.path)
	}
	if err := c.zw.Close(); err != nil {
		return sperrors.Wrap(err, sperrors.CodeContainerClose, "finalize archive").WithContext("path", c.path)
	}
	if err := c.file.Sync(); err != nil {
		return sperrors.Wrap(err, sperrors.CodeContainerClose, "sync container").WithContext("path", c.path)
	}
	if err := c.file.Close(); err != nil {
		return sperrors.Wrap(err, sperrors.CodeContainerClose, "close container").WithContext("path", c.path)
	}
	return nil
}

// Abort discards the container without producing a file.
func (c *Container) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.span.End()
	c.file.Close()
	return os.Remove(c.tempPath)
}

// WritePixelToNewFile writes a single pixel into a fresh container at path
// and closes it.
func WritePixelToNewFile(ctx context.Context, path string, opts Options, pix healpix.Pixelizer, ix uint64, ebv float64,
	phot []model.PhotometryRow, props []model.PropertyRow) (l, b float64, err error) {
	c, err := Create(ctx, path, 0, opts)
	if err != nil {
		return 0, 0, err
	}
	l, b, err = c.WritePixel(ctx, pix, ix, ebv, phot, props)
	if err != nil {
		c.Abort()
		return 0, 0, err
	}
	if err := c.Close(); err != nil {
		return 0, 0, err
	}
	return l, b, nil
}
