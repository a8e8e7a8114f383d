// Package catalog reads stellar catalog rows that pass the photometric
// selection from a query engine, in blocks.
package catalog

import (
	"fmt"
	"math"
	"strings"

	"github.com/schlafly/bayestar/internal/model"
	"github.com/schlafly/bayestar/pkg/healpix"
	"github.com/schlafly/bayestar/pkg/partition"
)

// DefaultPointSourceTolerance is the largest PSF minus aperture magnitude
// difference for which a band counts as point-like.
const DefaultPointSourceTolerance = 0.1

// DefaultPadPixels is the latitude margin, in pixel sizes, added around the
// bounds when querying.
const DefaultPadPixels = 5

// Region is a galactic longitude/latitude rectangle in degrees.
type Region struct {
	LMin, LMax float64
	BMin, BMax float64
}

// FullSky covers every coordinate.
func FullSky() Region {
	return Region{LMin: 0, LMax: 360, BMin: -90, BMax: 90}
}

// QueryRegion widens bounds into the region handed to the catalog query:
// all longitudes, with the latitude range padded by padPixels pixel sizes
// and clamped to [-90, 90]. A nil bounds selects the full sky. The padding
// only keeps edge pixels complete; the partitioner applies the exact bounds.
func QueryRegion(bounds *partition.Bounds, nside int64, padPixels float64) Region {
	r := FullSky()
	if bounds == nil {
		return r
	}
	pad := padPixels * healpix.PixelSize(nside)
	r.BMin = math.Max(-90, bounds.BMin-pad)
	r.BMax = math.Min(90, bounds.BMax+pad)
	return r
}

// FullLongitude reports whether the region spans every longitude.
func (r Region) FullLongitude() bool {
	return r.LMin <= 0 && r.LMax >= 360
}

// Contains reports whether (l, b) lies in the region, edges included.
func (r Region) Contains(l, b float64) bool {
	if !r.FullLongitude() && (l < r.LMin || l > r.LMax) {
		return false
	}
	return b >= r.BMin && b <= r.BMax
}

// Query is the photometric selection applied to the catalog.
type Query struct {
	// MinBands is the minimum number of bands with a detection.
	MinBands int

	// MinDetections is the minimum total number of detections.
	MinDetections int

	// PointSourceTolerance bounds mean - mean_ap for a point-like band.
	PointSourceTolerance float64

	Region Region
}

// NewQuery returns a query with the default point-source tolerance.
func NewQuery(minBands, minDetections int, region Region) Query {
	return Query{
		MinBands:             minBands,
		MinDetections:        minDetections,
		PointSourceTolerance: DefaultPointSourceTolerance,
		Region:               region,
	}
}

// PointlikeBands is the number of point-like bands required: one fewer
// than MinBands, but at least one.
func (q Query) PointlikeBands() int {
	n := q.MinBands - 1
	if n < 1 {
		return 1
	}
	return n
}

// Match applies the selection to an in-memory record. The catalog's
// goodflag column is not part of a record, so records are taken as good.
func (q Query) Match(r *model.RawRecord) bool {
	var bands, dets, pointlike int
	for i := 0; i < model.NumBands; i++ {
		if r.NMagOK[i] > 0 {
			bands++
		}
		dets += int(r.NMagOK[i])
		if float64(r.Mag[i])-float64(r.MagAp[i]) < q.PointSourceTolerance {
			pointlike++
		}
	}
	return bands >= q.MinBands &&
		r.NMagOK[0] > 0 &&
		dets >= q.MinDetections &&
		pointlike >= q.PointlikeBands() &&
		q.Region.Contains(r.L, r.B)
}

// column is one flattened catalog column and its SQL type.
type column struct {
	name    string
	sqlType string
	nanNull bool // replace NULL with NaN
	zeroNul bool // replace NULL with 0
}

const (
	sqlBigint = "BIGINT"
	sqlDouble = "DOUBLE PRECISION"
)

func bandColumns(prefix, sqlType string) []column {
	cols := make([]column, model.NumBands)
	for i := range cols {
		cols[i] = column{name: fmt.Sprintf("%s_%d", prefix, i), sqlType: sqlType}
		if sqlType == sqlDouble {
			cols[i].nanNull = true
		} else {
			cols[i].zeroNul = true
		}
	}
	return cols
}

// Columns lists the catalog columns in the order they are selected.
func Columns() []string {
	cols := catalogColumns()
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.name
	}
	return out
}

func catalogColumns() []column {
	dbl := func(name string) column { return column{name: name, sqlType: sqlDouble, nanNull: true} }

	cols := []column{
		{name: "obj_id", sqlType: sqlBigint},
		{name: "l", sqlType: sqlDouble},
		{name: "b", sqlType: sqlDouble},
	}
	cols = append(cols, bandColumns("mean", sqlDouble)...)
	cols = append(cols, bandColumns("err", sqlDouble)...)
	cols = append(cols, bandColumns("mean_ap", sqlDouble)...)
	cols = append(cols, bandColumns("nmag_ok", sqlBigint)...)
	cols = append(cols, bandColumns("maglimit", sqlDouble)...)
	cols = append(cols, dbl("ebv"))
	cols = append(cols, bandColumns("ssppmag", sqlDouble)...)
	cols = append(cols, bandColumns("ssppmagerr", sqlDouble)...)
	cols = append(cols, bandColumns("ubermag", sqlDouble)...)
	cols = append(cols, bandColumns("ubermagerr", sqlDouble)...)
	for _, n := range []string{"teff", "tefferr", "logz", "logzerr", "logg", "loggerr"} {
		cols = append(cols, dbl(n))
	}
	return cols
}

func (c column) expr() string {
	e := fmt.Sprintf("CAST(%s AS %s)", c.name, c.sqlType)
	switch {
	case c.nanNull:
		e = fmt.Sprintf("coalesce(%s, CAST('NaN' AS %s))", e, sqlDouble)
	case c.zeroNul:
		e = fmt.Sprintf("coalesce(%s, 0)", e)
	}
	return e
}

// bandCount counts the bands for which cond(i) holds.
func bandCount(cond func(i int) string) string {
	parts := make([]string, model.NumBands)
	for i := range parts {
		parts[i] = "CASE WHEN " + cond(i) + " THEN 1 ELSE 0 END"
	}
	return "(" + strings.Join(parts, " + ") + ")"
}

// SQL renders the selection against from, a table name or table function,
// using $n placeholders. It returns the statement and its arguments.
func (q Query) SQL(from string) (string, []any) {
	cols := catalogColumns()
	exprs := make([]string, len(cols))
	for i, c := range cols {
		exprs[i] = c.expr()
	}

	sums := make([]string, model.NumBands)
	for i := range sums {
		sums[i] = fmt.Sprintf("coalesce(nmag_ok_%d, 0)", i)
	}

	where := []string{
		"goodflag = 1",
		bandCount(func(i int) string { return fmt.Sprintf("nmag_ok_%d > 0", i) }) + " >= $1",
		"nmag_ok_0 > 0",
		"(" + strings.Join(sums, " + ") + ") >= $2",
		bandCount(func(i int) string { return fmt.Sprintf("mean_%d - mean_ap_%d < $3", i, i) }) + " >= $4",
		"b BETWEEN $5 AND $6",
	}
	args := []any{q.MinBands, q.MinDetections, q.PointSourceTolerance, q.PointlikeBands(), q.Region.BMin, q.Region.BMax}
	if !q.Region.FullLongitude() {
		where = append(where, "l BETWEEN $7 AND $8")
		args = append(args, q.Region.LMin, q.Region.LMax)
	}

	stmt := "SELECT " + strings.Join(exprs, ", ") +
		" FROM " + from +
		" WHERE " + strings.Join(where, " AND ")
	return stmt, args
}

// QuoteIdent quotes a possibly schema-qualified identifier.
func QuoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
