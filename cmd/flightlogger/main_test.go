package main

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"flightlog/internal/acquire"
	"flightlog/internal/config"
	"flightlog/internal/sensors/bmp390"
)

func TestBatchFromDrain(t *testing.T) {
	d := bmp390.Drain{
		Frames: []bmp390.Frame{
			{PressurePa: 101300, TemperatureC: 21.5},
			{PressurePa: 101310, TemperatureC: 21.4},
		},
		SensorTime: 0xABCDEF,
		Timing:     bmp390.DefaultConfig().Timing,
	}
	got := batchFromDrain(d)
	want := acquire.Batch{
		Frames: []acquire.Frame{
			{PressurePa: 101300, TemperatureC: 21.5},
			{PressurePa: 101310, TemperatureC: 21.4},
		},
		SensorTicks: 0xABCDEF,
		PeriodUS:    10000,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("batch mismatch (-want +got):\n%s", diff)
	}
}

func TestBaroConfigMatchesDriverDefaults(t *testing.T) {
	cfg := config.Default()
	got := baroConfig(cfg.Sensors.Baro)
	if diff := cmp.Diff(bmp390.DefaultConfig(), got); diff != "" {
		t.Fatalf("baro config mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := config.Default()
	sc := sessionConfig(cfg)
	if sc.MotionCapacity != 4000 || sc.BaroCapacity != 4000 {
		t.Fatalf("capacities=%d/%d want 4000/4000", sc.MotionCapacity, sc.BaroCapacity)
	}
	if sc.Writer.FlushInterval != time.Second || sc.Writer.BufferSize != 8192 {
		t.Fatalf("writer=%+v", sc.Writer)
	}
	if sc.Calibration.ReferenceSamples != 50 || sc.Calibration.WarmupSamples != 8 {
		t.Fatalf("calibration=%+v", sc.Calibration)
	}
	if sc.Period != time.Millisecond {
		t.Fatalf("period=%v want 1ms", sc.Period)
	}
}
