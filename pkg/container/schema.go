package container

import (
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/schlafly/bayestar/internal/model"
)

// Dataset categories.
const (
	CategoryPhotometry = "photometry"
	CategoryProperties = "derived-parameters"
)

// bands is the type of a per-band column. pqarrow in arrow v14 writes
// fixed-size list elements as nulls, so a plain list is used instead.
func bands(t arrow.DataType) arrow.DataType {
	return arrow.ListOf(t)
}

// PhotometrySchema returns the column layout of photometry datasets.
func PhotometrySchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "obj_id", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "l", Type: arrow.PrimitiveTypes.Float64},
		{Name: "b", Type: arrow.PrimitiveTypes.Float64},
		{Name: "mag", Type: bands(arrow.PrimitiveTypes.Float32)},
		{Name: "err", Type: bands(arrow.PrimitiveTypes.Float32)},
		{Name: "maglimit", Type: bands(arrow.PrimitiveTypes.Float32)},
		{Name: "nDet", Type: bands(arrow.PrimitiveTypes.Uint32)},
		{Name: "EBV", Type: arrow.PrimitiveTypes.Float32},
	}, nil)
}

// PropertiesSchema returns the column layout of derived-parameter datasets.
func PropertiesSchema() *arrow.Schema {
	f64 := arrow.PrimitiveTypes.Float64
	return arrow.NewSchema([]arrow.Field{
		{Name: "obj_id", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "l", Type: f64},
		{Name: "b", Type: f64},
		{Name: "ssppmag", Type: bands(f64)},
		{Name: "ssppmagerr", Type: bands(f64)},
		{Name: "ubermag", Type: bands(f64)},
		{Name: "ubermagerr", Type: bands(f64)},
		{Name: "teff", Type: f64},
		{Name: "tefferr", Type: f64},
		{Name: "logz", Type: f64},
		{Name: "logzerr", Type: f64},
		{Name: "logg", Type: f64},
		{Name: "loggerr", Type: f64},
	}, nil)
}

func withMetadata(s *arrow.Schema, md arrow.Metadata) *arrow.Schema {
	return arrow.NewSchema(s.Fields(), &md)
}

func appendBandsF32(b array.Builder, v [model.NumBands]float32) {
	lb := b.(*array.ListBuilder)
	lb.Append(true)
	lb.ValueBuilder().(*array.Float32Builder).AppendValues(v[:], nil)
}

func appendBandsF64(b array.Builder, v [model.NumBands]float64) {
	lb := b.(*array.ListBuilder)
	lb.Append(true)
	lb.ValueBuilder().(*array.Float64Builder).AppendValues(v[:], nil)
}

func appendBandsU32(b array.Builder, v [model.NumBands]uint32) {
	lb := b.(*array.ListBuilder)
	lb.Append(true)
	lb.ValueBuilder().(*array.Uint32Builder).AppendValues(v[:], nil)
}

// photometryRecord builds one record holding all rows. The caller releases it.
func photometryRecord(mem memory.Allocator, schema *arrow.Schema, rows []model.PhotometryRow) arrow.Record {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for i := range rows {
		r := &rows[i]
		b.Field(0).(*array.Uint64Builder).Append(r.ObjID)
		b.Field(1).(*array.Float64Builder).Append(r.L)
		b.Field(2).(*array.Float64Builder).Append(r.B)
		appendBandsF32(b.Field(3), r.Mag)
		appendBandsF32(b.Field(4), r.Err)
		appendBandsF32(b.Field(5), r.MagLimit)
		appendBandsU32(b.Field(6), r.NDet)
		b.Field(7).(*array.Float32Builder).Append(r.EBV)
	}
	return b.NewRecord()
}

func propertiesRecord(mem memory.Allocator, schema *arrow.Schema, rows []model.PropertyRow) arrow.Record {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for i := range rows {
		r := &rows[i]
		b.Field(0).(*array.Uint64Builder).Append(r.ObjID)
		b.Field(1).(*array.Float64Builder).Append(r.L)
		b.Field(2).(*array.Float64Builder).Append(r.B)
		appendBandsF64(b.Field(3), r.SSPPMag)
		appendBandsF64(b.Field(4), r.SSPPMagErr)
		appendBandsF64(b.Field(5), r.UberMag)
		appendBandsF64(b.Field(6), r.UberMagErr)
		scalars := []float64{r.Teff, r.TeffErr, r.LogZ, r.LogZErr, r.LogG, r.LogGErr}
		for j, v := range scalars {
			b.Field(7 + j).(*array.Float64Builder).Append(v)
		}
	}
	return b.NewRecord()
}

// bandSlice returns the values of row i of a list column of width
// NumBands. Fixed-size lists are accepted as well as plain lists.
func bandSlice(col arrow.Array, i int) (arrow.Array, int, error) {
	switch c := col.(type) {
	case *array.FixedSizeList:
		start := (c.Data().Offset() + i) * model.NumBands
		return c.ListValues(), start, nil
	case *array.List:
		start, end := c.ValueOffsets(i)
		if end-start != model.NumBands {
			return nil, 0, fmt.Errorf("row %d has %d bands, want %d", i, end-start, model.NumBands)
		}
		return c.ListValues(), int(start), nil
	default:
		return nil, 0, fmt.Errorf("unexpected band column type %s", col.DataType())
	}
}

func readBandsF32(col arrow.Array, i int) (out [model.NumBands]float32, err error) {
	vals, start, err := bandSlice(col, i)
	if err != nil {
		return out, err
	}
	f, ok := vals.(*array.Float32)
	if !ok {
		return out, fmt.Errorf("band values are %s, want float32", vals.DataType())
	}
	for k := range out {
		out[k] = f.Value(start + k)
	}
	return out, nil
}

func readBandsF64(col arrow.Array, i int) (out [model.NumBands]float64, err error) {
	vals, start, err := bandSlice(col, i)
	if err != nil {
		return out, err
	}
	f, ok := vals.(*array.Float64)
	if !ok {
		return out, fmt.Errorf("band values are %s, want float64", vals.DataType())
	}
	for k := range out {
		out[k] = f.Value(start + k)
	}
	return out, nil
}

func readBandsU32(col arrow.Array, i int) (out [model.NumBands]uint32, err error) {
	vals, start, err := bandSlice(col, i)
	if err != nil {
		return out, err
	}
	u, ok := vals.(*array.Uint32)
	if !ok {
		return out, fmt.Errorf("band values are %s, want uint32", vals.DataType())
	}
	for k := range out {
		out[k] = u.Value(start + k)
	}
	return out, nil
}

func decodePhotometry(rec arrow.Record, out []model.PhotometryRow) ([]model.PhotometryRow, error) {
	if rec.NumCols() != 8 {
		return nil, fmt.Errorf("photometry record has %d columns, want 8", rec.NumCols())
	}
	ids, ok1 := rec.Column(0).(*array.Uint64)
	ls, ok2 := rec.Column(1).(*array.Float64)
	bs, ok3 := rec.Column(2).(*array.Float64)
	ebv, ok4 := rec.Column(7).(*array.Float32)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("photometry record has unexpected column types")
	}

	for i := 0; i < int(rec.NumRows()); i++ {
		row := model.PhotometryRow{ObjID: ids.Value(i), L: ls.Value(i), B: bs.Value(i), EBV: ebv.Value(i)}
		var err error
		if row.Mag, err = readBandsF32(rec.Column(3), i); err != nil {
			return nil, err
		}
		if row.Err, err = readBandsF32(rec.Column(4), i); err != nil {
			return nil, err
		}
		if row.MagLimit, err = readBandsF32(rec.Column(5), i); err != nil {
			return nil, err
		}
		if row.NDet, err = readBandsU32(rec.Column(6), i); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func decodeProperties(rec arrow.Record, out []model.PropertyRow) ([]model.PropertyRow, error) {
	if rec.NumCols() != 13 {
		return nil, fmt.Errorf("derived-parameter record has %d columns, want 13", rec.NumCols())
	}
	ids, ok1 := rec.Column(0).(*array.Uint64)
	ls, ok2 := rec.Column(1).(*array.Float64)
	bs, ok3 := rec.Column(2).(*array.Float64)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("derived-parameter record has unexpected column types")
	}
	scalars := make([]*array.Float64, 6)
	for j := range scalars {
		c, ok := rec.Column(7 + j).(*array.Float64)
		if !ok {
			return nil, fmt.Errorf("column %s is %s, want float64", rec.ColumnName(7+j), rec.Column(7+j).DataType())
		}
		scalars[j] = c
	}

	for i := 0; i < int(rec.NumRows()); i++ {
		row := model.PropertyRow{
			ObjID:   ids.Value(i),
			L:       ls.Value(i),
			B:       bs.Value(i),
			Teff:    scalars[0].Value(i),
			TeffErr: scalars[1].Value(i),
			LogZ:    scalars[2].Value(i),
			LogZErr: scalars[3].Value(i),
			LogG:    scalars[4].Value(i),
			LogGErr: scalars[5].Value(i),
		}
		var err error
		if row.SSPPMag, err = readBandsF64(rec.Column(3), i); err != nil {
			return nil, err
		}
		if row.SSPPMagErr, err = readBandsF64(rec.Column(4), i); err != nil {
			return nil, err
		}
		if row.UberMag, err = readBandsF64(rec.Column(5), i); err != nil {
			return nil, err
		}
		if row.UberMagErr, err = readBandsF64(rec.Column(6), i); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}
