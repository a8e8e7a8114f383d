package reduce

import (
	"math"
	"testing"

	"github.com/schlafly/bayestar/internal/model"
)

var (
	nan32 = float32(math.NaN())
	inf32 = float32(math.Inf(1))
)

func rec(id uint64, mag, err [model.NumBands]float32) model.RawRecord {
	return model.RawRecord{ObjID: id, Mag: mag, Err: err}
}

func TestCleanNaNMagnitude(t *testing.T) {
	in := rec(1,
		[model.NumBands]float32{nan32, 17, 16, 15, 14},
		[model.NumBands]float32{0.1, 0.02, 0.02, 0.03, 0.05})

	out := Clean(in)
	if out.Mag[0] != 0 {
		t.Errorf("NaN magnitude cleaned to %v, want 0", out.Mag[0])
	}
	if out.Err[0] != SentinelError {
		t.Errorf("band 0 error = %v, want sentinel", out.Err[0])
	}
	if out.Err[1] != 0.02 {
		t.Errorf("band 1 error changed to %v", out.Err[1])
	}
	if !Keep(&out) {
		t.Error("record with one sentinel band should be kept")
	}
	if !math.IsNaN(float64(in.Mag[0])) {
		t.Error("Clean modified its input")
	}
}

func TestCleanErrorRules(t *testing.T) {
	out := Clean(rec(1,
		[model.NumBands]float32{18, 17, 0, 15, 14},
		[model.NumBands]float32{nan32, 0, 0.1, 0.03, 0.05}))

	want := [model.NumBands]float32{SentinelError, SentinelError, SentinelError, 0.03, 0.05}
	if out.Err != want {
		t.Errorf("errors = %v, want %v", out.Err, want)
	}
	for i := range out.Err {
		if math.IsNaN(float64(out.Err[i])) || out.Err[i] == 0 || math.IsNaN(float64(out.Mag[i])) {
			t.Errorf("band %d still carries a NaN or zero error", i)
		}
	}
	if IsInformative(&out) {
		t.Error("three sentinel bands should be uninformative")
	}
}

func TestMask(t *testing.T) {
	r := rec(1,
		[model.NumBands]float32{0, nan32, 16, 15, 14},
		[model.NumBands]float32{0.1, 0.1, 0, nan32, 0.05})
	m := Mask(&r)
	if !m.ZeroMag[0] || !m.NaNMag[1] || !m.ZeroErr[2] || !m.NaNErr[3] {
		t.Errorf("mask = %+v", m)
	}
	if m.ZeroMag[4] || m.NaNErr[4] {
		t.Error("band 4 is clean")
	}
}

func TestKeepPredicate(t *testing.T) {
	good := [model.NumBands]float32{0.1, 0.1, 0.1, 0.1, 0.1}
	tests := []struct {
		name string
		mag  [model.NumBands]float32
		err  [model.NumBands]float32
		want bool
	}{
		{"all bands", [model.NumBands]float32{18, 17, 16, 15, 14}, good, true},
		{"all zero", [model.NumBands]float32{}, good, false},
		{"all NaN", [model.NumBands]float32{nan32, nan32, nan32, nan32, nan32}, good, false},
		{"two missing", [model.NumBands]float32{18, 17, 16, 0, 0}, good, true},
		{"three missing", [model.NumBands]float32{18, 17, 0, 0, 0}, good, false},
		{"two missing plus zero error", [model.NumBands]float32{18, 17, 16, 0, 0}, [model.NumBands]float32{0, 0.1, 0.1, 0.1, 0.1}, false},
		{"huge catalog errors are not sentinels", [model.NumBands]float32{18, 17, 16, 15, 14}, [model.NumBands]float32{2e10, inf32, inf32, 0.1, 0.1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Clean(rec(1, tt.mag, tt.err))
			if got := Keep(&r); got != tt.want {
				t.Errorf("Keep = %v, want %v (errors %v)", got, tt.want, r.Err)
			}
			if HasDetection(&r) == (r.Mag == [model.NumBands]float32{}) {
				t.Error("HasDetection must be false exactly when every magnitude is zero")
			}
		})
	}
}

func TestUninformativeBandsExactSentinel(t *testing.T) {
	r := rec(1,
		[model.NumBands]float32{18, 17, 16, 15, 14},
		[model.NumBands]float32{SentinelError, 2e10, inf32, 0.1, SentinelError})
	if got := UninformativeBands(&r); got != 2 {
		t.Errorf("UninformativeBands = %d, want 2", got)
	}
}

func TestReducerDropsAllZero(t *testing.T) {
	good := [model.NumBands]float32{0.1, 0.1, 0.1, 0.1, 0.1}
	g := model.PixelGroup{Index: 9, Records: []model.RawRecord{
		rec(1, [model.NumBands]float32{}, good),
		rec(2, [model.NumBands]float32{18, 17, 16, 15, 14}, good),
		rec(3, [model.NumBands]float32{}, good),
		rec(4, [model.NumBands]float32{}, good),
		rec(5, [model.NumBands]float32{}, good),
	}}

	r := NewReducer()
	out := r.Reduce(g)
	if out.Index != 9 || out.Len() != 1 || out.Records[0].ObjID != 2 {
		t.Fatalf("Reduce = %+v, want only record 2", out)
	}
	st := r.Stats()
	if st.In != 5 || st.Kept != 1 || st.NoDetection != 4 || st.Dropped() != 4 {
		t.Errorf("stats = %+v", st)
	}
}

func TestReducerEmptyGroup(t *testing.T) {
	r := NewReducer()
	out := r.Reduce(model.PixelGroup{Index: 3})
	if out.Index != 3 || out.Len() != 0 {
		t.Errorf("Reduce(empty) = %+v", out)
	}
}

func TestReducerCountsUninformative(t *testing.T) {
	r := NewReducer()
	r.Reduce(model.PixelGroup{Records: []model.RawRecord{
		rec(1, [model.NumBands]float32{18, 0, 0, 0, 14}, [model.NumBands]float32{0.1, 0.1, 0.1, 0.1, 0.1}),
	}})
	if st := r.Stats(); st.Uninformative != 1 || st.Kept != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		values []float64
		q      float64
		want   float64
	}{
		{[]float64{1, 2, 3, 4}, 95, 3.85},
		{[]float64{4, 1, 3, 2}, 50, 2.5},
		{[]float64{10, 0, 5}, 50, 5},
		{[]float64{7}, 95, 7},
		{[]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21}, 95, 20},
		{[]float64{0.1, 0.2}, 0, 0.1},
		{[]float64{0.1, 0.2}, 100, 0.2},
	}
	for _, tt := range tests {
		got := Percentile(tt.values, tt.q)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentile(%v, %v) = %v, want %v", tt.values, tt.q, got, tt.want)
		}
	}

	if !math.IsNaN(Percentile(nil, 95)) {
		t.Error("empty input should give NaN")
	}
	if !math.IsNaN(Percentile([]float64{1, math.NaN()}, 95)) {
		t.Error("NaN input should give NaN")
	}

	in := []float64{3, 1, 2}
	Percentile(in, 50)
	if in[0] != 3 || in[1] != 1 {
		t.Error("Percentile reordered its input")
	}
}

func TestEBV(t *testing.T) {
	g := model.PixelGroup{Records: []model.RawRecord{{EBV: 0.5}, {EBV: 0.25}, {EBV: 1}, {EBV: 0.75}}}
	// sorted 0.25 0.5 0.75 1, rank 2.85
	if got := EBV(g); math.Abs(got-0.9625) > 1e-6 {
		t.Errorf("EBV = %v, want 0.9625", got)
	}
}
