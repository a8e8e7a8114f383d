package container

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/schlafly/bayestar/internal/model"
	sperrors "github.com/schlafly/bayestar/pkg/errors"
)

// Reader gives read access to a closed container.
type Reader struct {
	path     string
	alloc    memory.Allocator
	zr       *zip.ReadCloser
	manifest Manifest
	members  map[string]*zip.File
}

// Open opens a container and loads its manifest.
func Open(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, sperrors.Wrap(err, sperrors.CodeReadFailed, "open container").WithContext("path", path)
	}

	r := &Reader{path: path, alloc: memory.DefaultAllocator, zr: zr, members: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		r.members[f.Name] = f
	}

	mf, ok := r.members[ManifestName]
	if !ok {
		zr.Close()
		return nil, sperrors.New(sperrors.CodeReadFailed, "container has no manifest").WithContext("path", path)
	}
	data, err := readMember(mf)
	if err != nil {
		zr.Close()
		return nil, sperrors.Wrap(err, sperrors.CodeReadFailed, "read manifest").WithContext("path", path)
	}
	if err := json.Unmarshal(data, &r.manifest); err != nil {
		zr.Close()
		return nil, sperrors.Wrap(err, sperrors.CodeReadFailed, "decode manifest").WithContext("path", path)
	}
	return r, nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.zr.Close()
}

// Manifest returns the container's manifest.
func (r *Reader) Manifest() Manifest {
	return r.manifest
}

// Datasets returns the dataset names in storage order.
func (r *Reader) Datasets() []string {
	names := make([]string, len(r.manifest.Datasets))
	for i, d := range r.manifest.Datasets {
		names[i] = d.Name
	}
	return names
}

// Pixels returns the distinct pixel indices stored, ascending.
func (r *Reader) Pixels() ([]uint64, error) {
	seen := make(map[uint64]bool)
	var out []uint64
	for _, d := range r.manifest.Datasets {
		a, err := ParseAttributes(d.Attributes)
		if err != nil {
			return nil, sperrors.Wrap(err, sperrors.CodeReadFailed, "decode attributes").WithContext("dataset", d.Name)
		}
		if !seen[a.HealpixIndex] {
			seen[a.HealpixIndex] = true
			out = append(out, a.HealpixIndex)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Attributes returns the attributes of a dataset as listed in the manifest.
func (r *Reader) Attributes(dataset string) (Attributes, error) {
	for _, d := range r.manifest.Datasets {
		if d.Name == dataset {
			return ParseAttributes(d.Attributes)
		}
	}
	return Attributes{}, sperrors.New(sperrors.CodeReadFailed, "no such dataset").WithContext("dataset", dataset)
}

// readDataset decodes one Parquet member and hands every record batch to fn.
// The returned attributes come from the member's own schema metadata.
func (r *Reader) readDataset(ctx context.Context, dataset string, fn func(arrow.Record) error) (Attributes, error) {
	f, ok := r.members[memberName(dataset)]
	if !ok {
		return Attributes{}, sperrors.New(sperrors.CodeReadFailed, "no such dataset").WithContext("dataset", dataset)
	}
	data, err := readMember(f)
	if err != nil {
		return Attributes{}, sperrors.Wrap(err, sperrors.CodeReadFailed, "read member").WithContext("dataset", dataset)
	}

	pqReader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return Attributes{}, sperrors.Wrap(err, sperrors.CodeReadFailed, "open parquet member").WithContext("dataset", dataset)
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{BatchSize: 8192}, r.alloc)
	if err != nil {
		return Attributes{}, sperrors.Wrap(err, sperrors.CodeReadFailed, "create arrow reader").WithContext("dataset", dataset)
	}

	schema, err := arrowReader.Schema()
	if err != nil {
		return Attributes{}, sperrors.Wrap(err, sperrors.CodeReadFailed, "read schema").WithContext("dataset", dataset)
	}
	attrs, err := ParseAttributes(metadataMap(schema.Metadata()))
	if err != nil {
		return Attributes{}, sperrors.Wrap(err, sperrors.CodeReadFailed, "decode attributes").WithContext("dataset", dataset)
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return Attributes{}, sperrors.Wrap(err, sperrors.CodeReadFailed, "read table").WithContext("dataset", dataset)
	}
	defer table.Release()

	tr := array.NewTableReader(table, 8192)
	defer tr.Release()
	for tr.Next() {
		if err := fn(tr.Record()); err != nil {
			return Attributes{}, sperrors.Wrap(err, sperrors.CodeReadFailed, "decode rows").WithContext("dataset", dataset)
		}
	}
	return attrs, nil
}

// ReadPhotometry returns the photometry rows and attributes of pixel ix.
func (r *Reader) ReadPhotometry(ctx context.Context, ix uint64) ([]model.PhotometryRow, Attributes, error) {
	var rows []model.PhotometryRow
	attrs, err := r.readDataset(ctx, DatasetName(CategoryPhotometry, ix), func(rec arrow.Record) error {
		var err error
		rows, err = decodePhotometry(rec, rows)
		return err
	})
	if err != nil {
		return nil, Attributes{}, err
	}
	if len(rows) != attrs.NStars {
		return nil, Attributes{}, fmt.Errorf("pixel %d: read %d photometry rows, attributes say %d", ix, len(rows), attrs.NStars)
	}
	return rows, attrs, nil
}

// ReadProperties returns the derived-parameter rows and attributes of pixel ix.
func (r *Reader) ReadProperties(ctx context.Context, ix uint64) ([]model.PropertyRow, Attributes, error) {
	var rows []model.PropertyRow
	attrs, err := r.readDataset(ctx, DatasetName(CategoryProperties, ix), func(rec arrow.Record) error {
		var err error
		rows, err = decodeProperties(rec, rows)
		return err
	})
	if err != nil {
		return nil, Attributes{}, err
	}
	return rows, attrs, nil
}
