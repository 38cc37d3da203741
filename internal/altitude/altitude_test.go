package altitude

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestAbsolute_ReferenceIsZero(t *testing.T) {
	if got := Absolute(101325, 101325); got != 0 {
		t.Fatalf("alt=%v want 0", got)
	}
}

func TestConverter_BaselineThenRelative(t *testing.T) {
	c, err := NewConverter(101325)
	if err != nil {
		t.Fatalf("NewConverter() error: %v", err)
	}
	if _, ok := c.Baseline(); ok {
		t.Fatalf("baseline set before first frame")
	}

	alt, ok := c.Relative(101325)
	if !ok || alt != 0 {
		t.Fatalf("first frame alt=%v ok=%v want 0,true", alt, ok)
	}
	if b, ok := c.Baseline(); !ok || b != 0 {
		t.Fatalf("baseline=%v ok=%v want 0,true", b, ok)
	}

	alt, ok = c.Relative(100000)
	if !ok {
		t.Fatalf("expected ok")
	}
	// 44330*((101325/100000)^0.1903-1) = 111.18 m.
	if math.Abs(float64(alt)-111.18) > 0.01 {
		t.Fatalf("alt=%v want ~111.18", alt)
	}
	if math.Abs(float64(alt)-111.4) > 0.5 {
		t.Fatalf("alt=%v want within 0.5 of 111.4", alt)
	}
}

func TestConverter_BaselineFiresOnce(t *testing.T) {
	c, _ := NewConverter(101325)
	c.Relative(100000)
	base, _ := c.Baseline()

	c.Relative(90000)
	c.Relative(101325)
	if got, _ := c.Baseline(); got != base {
		t.Fatalf("baseline moved: %v -> %v", base, got)
	}
	alt, _ := c.Relative(100000)
	if alt != 0 {
		t.Fatalf("alt at baseline pressure=%v want 0", alt)
	}
}

func TestConverter_InvalidPressureSkipped(t *testing.T) {
	c, _ := NewConverter(101325)
	for _, p := range []float64{0, -1, math.NaN()} {
		if _, ok := c.Relative(p); ok {
			t.Fatalf("pressure %v accepted", p)
		}
	}
	if _, ok := c.Baseline(); ok {
		t.Fatalf("invalid frame set baseline")
	}
}

func TestNewConverter_RejectsInvalidReference(t *testing.T) {
	for _, p := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		if _, err := NewConverter(p); err == nil {
			t.Fatalf("reference %v accepted", p)
		}
	}
}

type fakePressure struct {
	values []float64
	failAt int
	reads  int
}

func (f *fakePressure) ReadPressure() (float64, error) {
	f.reads++
	if f.failAt > 0 && f.reads == f.failAt {
		return 0, errors.New("bus error")
	}
	if len(f.values) == 0 {
		return 101325, nil
	}
	return f.values[(f.reads-1)%len(f.values)], nil
}

func TestCalibrate_DiscardsWarmupAndAverages(t *testing.T) {
	// Warm-up readings are wildly off and must not affect the mean.
	f := &fakePressure{values: []float64{1, 1, 100000, 100010, 100020, 100030}}
	cal, err := Calibrate(context.Background(), f, CalibrationConfig{WarmupSamples: 2, ReferenceSamples: 4})
	if err != nil {
		t.Fatalf("Calibrate() error: %v", err)
	}
	if cal.ReferencePa != 100015 {
		t.Fatalf("reference=%v want 100015", cal.ReferencePa)
	}
	if cal.Samples != 4 || f.reads != 6 {
		t.Fatalf("samples=%d reads=%d want 4,6", cal.Samples, f.reads)
	}
	if cal.StdDevPa <= 0 {
		t.Fatalf("stddev=%v want > 0", cal.StdDevPa)
	}
}

func TestCalibrate_ReadFailureIsFatal(t *testing.T) {
	cases := []struct {
		name   string
		failAt int
	}{
		{name: "Warmup", failAt: 2},
		{name: "Reference", failAt: 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakePressure{failAt: tc.failAt}
			_, err := Calibrate(context.Background(), f, CalibrationConfig{WarmupSamples: 3, ReferenceSamples: 5})
			if err == nil {
				t.Fatalf("expected error")
			}
			if f.reads != tc.failAt {
				t.Fatalf("reads=%d want %d (no retry)", f.reads, tc.failAt)
			}
		})
	}
}

func TestCalibrate_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Calibrate(ctx, &fakePressure{}, CalibrationConfig{ReferenceSamples: 3})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}
