// Package model defines the catalog and output row types shared by the
// starpack pipeline stages.
package model

// NumBands is the number of photometric passbands carried per star.
const NumBands = 5

// RawRecord is one catalog row as delivered by a catalog source.
// Sources never modify a record after sending it; the reducer cleans a copy.
type RawRecord struct {
	ObjID uint64

	// Galactic longitude and latitude in degrees.
	L float64
	B float64

	// Per-band photometry.
	Mag      [NumBands]float32
	Err      [NumBands]float32
	MagAp    [NumBands]float32 // aperture magnitudes, used only by the point-source cut
	NMagOK   [NumBands]uint32
	MagLimit [NumBands]float32

	// EBV is the line-of-sight dust reddening.
	EBV float32

	// Derived stellar parameters.
	SSPPMag    [NumBands]float64
	SSPPMagErr [NumBands]float64
	UberMag    [NumBands]float64
	UberMagErr [NumBands]float64
	Teff       float64
	TeffErr    float64
	LogZ       float64
	LogZErr    float64
	LogG       float64
	LogGErr    float64
}

// Block is a batch of records read from a catalog source.
type Block []RawRecord

// PixelGroup holds the records that fall into one sky pixel.
// Record order within a group carries no meaning.
type PixelGroup struct {
	Index   uint64
	Records []RawRecord
}

// Len returns the number of records in the group.
func (g PixelGroup) Len() int {
	return len(g.Records)
}

// EBV returns the reddening value of every record in the group.
func (g PixelGroup) EBV() []float64 {
	out := make([]float64, len(g.Records))
	for i := range g.Records {
		out[i] = float64(g.Records[i].EBV)
	}
	return out
}

// PhotometryRow is the persisted photometry layout of one star.
type PhotometryRow struct {
	ObjID    uint64
	L        float64
	B        float64
	Mag      [NumBands]float32
	Err      [NumBands]float32
	MagLimit [NumBands]float32
	NDet     [NumBands]uint32
	EBV      float32
}

// PropertyRow is the persisted derived-parameter layout of one star.
type PropertyRow struct {
	ObjID      uint64
	L          float64
	B          float64
	SSPPMag    [NumBands]float64
	SSPPMagErr [NumBands]float64
	UberMag    [NumBands]float64
	UberMagErr [NumBands]float64
	Teff       float64
	TeffErr    float64
	LogZ       float64
	LogZErr    float64
	LogG       float64
	LogGErr    float64
}

// Photometry projects the record onto the photometry layout.
func (r *RawRecord) Photometry() PhotometryRow {
	return PhotometryRow{
		ObjID:    r.ObjID,
		L:        r.L,
		B:        r.B,
		Mag:      r.Mag,
		Err:      r.Err,
		MagLimit: r.MagLimit,
		NDet:     r.NMagOK,
		EBV:      r.EBV,
	}
}

// Properties projects the record onto the derived-parameter layout.
func (r *RawRecord) Properties() PropertyRow {
	return PropertyRow{
		ObjID:      r.ObjID,
		L:          r.L,
		B:          r.B,
		SSPPMag:    r.SSPPMag,
		SSPPMagErr: r.SSPPMagErr,
		UberMag:    r.UberMag,
		UberMagErr: r.UberMagErr,
		Teff:       r.Teff,
		TeffErr:    r.TeffErr,
		LogZ:       r.LogZ,
		LogZErr:    r.LogZErr,
		LogG:       r.LogG,
		LogGErr:    r.LogGErr,
	}
}

// Rows materialises both output layouts for every record of the group,
// one row per record in the same order.
func (g PixelGroup) Rows() ([]PhotometryRow, []PropertyRow) {
	phot := make([]PhotometryRow, len(g.Records))
	props := make([]PropertyRow, len(g.Records))
	for i := range g.Records {
		phot[i] = g.Records[i].Photometry()
		props[i] = g.Records[i].Properties()
	}
	return phot, props
}
