package container

import (
	"fmt"
	"strconv"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
)

// Attribute keys attached to every dataset.
const (
	AttrHealpixIndex = "healpix_index"
	AttrNested       = "nested"
	AttrNSide        = "nside"
	AttrL            = "l"
	AttrB            = "b"
	AttrEBV          = "EBV"
	AttrNStars       = "n_stars"
	AttrRunID        = "run_id"
	AttrCreatedAt    = "created_at"
)

// Attributes is the metadata stored with each pixel dataset. The same set
// is attached to the photometry and derived-parameter datasets of a pixel.
type Attributes struct {
	HealpixIndex uint64
	Nested       bool
	NSide        int64
	L            float64 // pixel center, degrees
	B            float64
	EBV          float64
	NStars       int
	RunID        string
	CreatedAt    time.Time
}

// Map returns the attributes as string key/value pairs.
func (a Attributes) Map() map[string]string {
	nested := "0"
	if a.Nested {
		nested = "1"
	}
	m := map[string]string{
		AttrHealpixIndex: strconv.FormatUint(a.HealpixIndex, 10),
		AttrNested:       nested,
		AttrNSide:        strconv.FormatInt(a.NSide, 10),
		AttrL:            strconv.FormatFloat(a.L, 'g', -1, 64),
		AttrB:            strconv.FormatFloat(a.B, 'g', -1, 64),
		AttrEBV:          strconv.FormatFloat(a.EBV, 'g', -1, 64),
		AttrNStars:       strconv.Itoa(a.NStars),
	}
	if a.RunID != "" {
		m[AttrRunID] = a.RunID
	}
	if !a.CreatedAt.IsZero() {
		m[AttrCreatedAt] = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	return m
}

// metadata returns the attributes as Arrow schema metadata with a stable
// key order.
func (a Attributes) metadata() arrow.Metadata {
	m := a.Map()
	keys := []string{AttrHealpixIndex, AttrNested, AttrNSide, AttrL, AttrB, AttrEBV, AttrNStars, AttrRunID, AttrCreatedAt}
	var ks, vs []string
	for _, k := range keys {
		if v, ok := m[k]; ok {
			ks = append(ks, k)
			vs = append(vs, v)
		}
	}
	return arrow.NewMetadata(ks, vs)
}

// ParseAttributes decodes attributes from key/value pairs. The pixel keys
// are required; run_id and created_at are optional.
func ParseAttributes(m map[string]string) (Attributes, error) {
	var a Attributes
	var err error

	get := func(k string) (string, error) {
		v, ok := m[k]
		if !ok {
			return "", fmt.Errorf("missing attribute %q", k)
		}
		return v, nil
	}

	v, err := get(AttrHealpixIndex)
	if err != nil {
		return a, err
	}
	if a.HealpixIndex, err = strconv.ParseUint(v, 10, 64); err != nil {
		return a, fmt.Errorf("attribute %s: %w", AttrHealpixIndex, err)
	}

	if v, err = get(AttrNested); err != nil {
		return a, err
	}
	a.Nested = v == "1"

	if v, err = get(AttrNSide); err != nil {
		return a, err
	}
	if a.NSide, err = strconv.ParseInt(v, 10, 64); err != nil {
		return a, fmt.Errorf("attribute %s: %w", AttrNSide, err)
	}

	floats := []struct {
		key string
		dst *float64
	}{{AttrL, &a.L}, {AttrB, &a.B}, {AttrEBV, &a.EBV}}
	for _, f := range floats {
		if v, err = get(f.key); err != nil {
			return a, err
		}
		if *f.dst, err = strconv.ParseFloat(v, 64); err != nil {
			return a, fmt.Errorf("attribute %s: %w", f.key, err)
		}
	}

	if v, err = get(AttrNStars); err != nil {
		return a, err
	}
	if a.NStars, err = strconv.Atoi(v); err != nil {
		return a, fmt.Errorf("attribute %s: %w", AttrNStars, err)
	}

	a.RunID = m[AttrRunID]
	if v, ok := m[AttrCreatedAt]; ok {
		if a.CreatedAt, err = time.Parse(time.RFC3339, v); err != nil {
			return a, fmt.Errorf("attribute %s: %w", AttrCreatedAt, err)
		}
	}
	return a, nil
}

func metadataMap(md arrow.Metadata) map[string]string {
	m := make(map[string]string, md.Len())
	for i, k := range md.Keys() {
		m[k] = md.Values()[i]
	}
	return m
}
