package partition

import (
	"math"
	"testing"

	"github.com/schlafly/bayestar/internal/model"
	sperrors "github.com/schlafly/bayestar/pkg/errors"
	"github.com/schlafly/bayestar/pkg/healpix"
)

func mustPixelizer(t *testing.T, nside int64, scheme healpix.Scheme) healpix.Pixelizer {
	t.Helper()
	p, err := healpix.NewPixelizer(nside, scheme)
	if err != nil {
		t.Fatalf("NewPixelizer: %v", err)
	}
	return p
}

// star returns a record placed at the center of pixel ix.
func star(p healpix.Pixelizer, ix uint64, id uint64) model.RawRecord {
	l, b := p.Center(ix)
	return model.RawRecord{ObjID: id, L: l, B: b}
}

func collect(g *Groups) []model.PixelGroup {
	var out []model.PixelGroup
	for {
		grp, ok := g.Next()
		if !ok {
			return out
		}
		out = append(out, grp)
	}
}

func TestParseBounds(t *testing.T) {
	tests := []struct {
		name    string
		in      []float64
		wantNil bool
		wantErr bool
	}{
		{"none", nil, true, false},
		{"valid", []float64{0, 30, -10, 10}, false, false},
		{"degenerate point", []float64{5, 5, 5, 5}, false, false},
		{"three values", []float64{0, 1, 2}, true, true},
		{"inverted longitude", []float64{30, 0, -10, 10}, true, true},
		{"inverted latitude", []float64{0, 30, 10, -10}, true, true},
		{"nan", []float64{0, math.NaN(), -10, 10}, true, true},
		{"above pole", []float64{0, 30, 91, 95}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ParseBounds(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !sperrors.IsCode(err, sperrors.CodeInvalidBounds) {
				t.Errorf("error code = %s, want %s", sperrors.GetCode(err), sperrors.CodeInvalidBounds)
			}
			if (b == nil) != tt.wantNil {
				t.Errorf("bounds = %v, wantNil %v", b, tt.wantNil)
			}
		})
	}
}

func TestBoundsContainsInclusive(t *testing.T) {
	b := &Bounds{LMin: 10, LMax: 20, BMin: -5, BMax: 5}
	tests := []struct {
		l, b float64
		want bool
	}{
		{10, 0, true},
		{20, 5, true},
		{15, -5, true},
		{9.999, 0, false},
		{15, 5.001, false},
	}
	for _, tt := range tests {
		if got := b.Contains(tt.l, tt.b); got != tt.want {
			t.Errorf("Contains(%v, %v) = %v, want %v", tt.l, tt.b, got, tt.want)
		}
	}
	var none *Bounds
	if !none.Contains(400, -100) {
		t.Error("nil bounds should contain everything")
	}
}

func TestPartitionEmptyBlock(t *testing.T) {
	m := NewMapper(mustPixelizer(t, 4, healpix.Nested), nil)
	if got := collect(m.Partition(nil)); len(got) != 0 {
		t.Errorf("nil block produced %d groups", len(got))
	}
	if got := collect(m.Partition(model.Block{})); len(got) != 0 {
		t.Errorf("empty block produced %d groups", len(got))
	}
}

func TestPartitionGroupsStable(t *testing.T) {
	p := mustPixelizer(t, 8, healpix.Nested)
	block := model.Block{
		star(p, 100, 1),
		star(p, 7, 2),
		star(p, 100, 3),
		star(p, 7, 4),
		star(p, 100, 5),
	}

	groups := collect(NewMapper(p, nil).Partition(block))
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].Index != 100 || groups[1].Index != 7 {
		t.Errorf("group order = %d, %d; want first-appearance order 100, 7", groups[0].Index, groups[1].Index)
	}
	wantIDs := []uint64{1, 3, 5}
	for i, r := range groups[0].Records {
		if r.ObjID != wantIDs[i] {
			t.Errorf("pixel 100 record %d = %d, want %d", i, r.ObjID, wantIDs[i])
		}
	}

	// Groups must not alias the input block.
	block[0].ObjID = 99
	if groups[0].Records[0].ObjID != 1 {
		t.Error("group records alias the input block")
	}
}

func TestPartitionBoundsEdgeIsInside(t *testing.T) {
	p := mustPixelizer(t, 16, healpix.Ring)
	const ix = 1234
	l, b := p.Center(ix)
	block := model.Block{star(p, ix, 1)}

	onEdge := &Bounds{LMin: l, LMax: l + 10, BMin: b - 10, BMax: b}
	if got := collect(NewMapper(p, onEdge).Partition(block)); len(got) != 1 {
		t.Errorf("center on the edge: got %d groups, want 1", len(got))
	}

	outside := &Bounds{LMin: l + 1e-9, LMax: l + 10, BMin: b - 10, BMax: b}
	if got := collect(NewMapper(p, outside).Partition(block)); len(got) != 0 {
		t.Errorf("center just outside: got %d groups, want 0", len(got))
	}
}

func TestPartitionBoundsUsesPixelCenter(t *testing.T) {
	p := mustPixelizer(t, 1, healpix.Nested)
	// A star near the edge of a big pixel is kept or dropped with its
	// whole pixel, based on the center rather than the star itself.
	const ix = 4
	l, b := p.Center(ix)
	rec := model.RawRecord{ObjID: 1, L: l + 5, B: b + 5}
	if p.Pixel(rec.L, rec.B) != ix {
		t.Fatalf("test star left pixel %d", ix)
	}
	bounds := &Bounds{LMin: l + 1, LMax: l + 10, BMin: b + 1, BMax: b + 10}
	if got := collect(NewMapper(p, bounds).Partition(model.Block{rec})); len(got) != 0 {
		t.Errorf("star inside bounds but pixel center outside: got %d groups, want 0", len(got))
	}
}

func TestShuffleMergesBlocks(t *testing.T) {
	p := mustPixelizer(t, 8, healpix.Nested)
	m := NewMapper(p, nil)
	s := NewShuffle()

	blocks := []model.Block{
		{star(p, 300, 1), star(p, 12, 2)},
		{star(p, 12, 3)},
		{star(p, 300, 4), star(p, 300, 5)},
	}
	for _, blk := range blocks {
		s.AddAll(m.Partition(blk))
	}
	if s.Len() != 2 || s.Records() != 5 {
		t.Fatalf("Len=%d Records=%d, want 2 and 5", s.Len(), s.Records())
	}

	var got []model.PixelGroup
	err := s.Drain(func(g model.PixelGroup) error {
		got = append(got, g)
		return nil
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 2 || got[0].Index != 12 || got[1].Index != 300 {
		t.Fatalf("drained %+v, want pixels 12 then 300", got)
	}
	if got[0].Len() != 2 || got[1].Len() != 3 {
		t.Errorf("group sizes = %d, %d; want 2, 3", got[0].Len(), got[1].Len())
	}
	if got[1].Records[0].ObjID != 1 || got[1].Records[2].ObjID != 5 {
		t.Error("records of a pixel should keep arrival order")
	}
	if s.Len() != 0 || s.Records() != 0 {
		t.Error("shuffle should be empty after Drain")
	}
}

func TestShuffleDrainStopsOnError(t *testing.T) {
	s := NewShuffle()
	s.Add(model.PixelGroup{Index: 1, Records: []model.RawRecord{{}}})
	s.Add(model.PixelGroup{Index: 2, Records: []model.RawRecord{{}}})
	s.Add(model.PixelGroup{Index: 3})

	calls := 0
	err := s.Drain(func(model.PixelGroup) error {
		calls++
		return sperrors.New(sperrors.CodeWriteFailed, "boom")
	})
	if err == nil || calls != 1 {
		t.Errorf("Drain err=%v calls=%d, want error after 1 call", err, calls)
	}
}
