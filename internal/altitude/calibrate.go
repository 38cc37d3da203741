package altitude

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// PressureReader takes one synchronous pressure reading in Pascals.
type PressureReader interface {
	ReadPressure() (float64, error)
}

type CalibrationConfig struct {
	// WarmupSamples readings are discarded after power-up.
	WarmupSamples int
	WarmupDelay   time.Duration
	// ReferenceSamples readings are averaged into the reference pressure.
	ReferenceSamples int
	SampleDelay      time.Duration
}

// Calibration is the outcome of a successful run.
type Calibration struct {
	ReferencePa float64
	StdDevPa    float64
	Samples     int
}

// Calibrate runs the warm-up and reference averaging protocol. Any read
// failure is fatal and is returned without retrying.
func Calibrate(ctx context.Context, r PressureReader, cfg CalibrationConfig) (Calibration, error) {
	if r == nil {
		return Calibration{}, fmt.Errorf("altitude: pressure reader is nil")
	}
	if cfg.ReferenceSamples <= 0 {
		return Calibration{}, fmt.Errorf("altitude: reference samples must be > 0")
	}

	for i := 0; i < cfg.WarmupSamples; i++ {
		if _, err := r.ReadPressure(); err != nil {
			return Calibration{}, fmt.Errorf("altitude: warm-up read %d failed: %w", i+1, err)
		}
		if err := wait(ctx, cfg.WarmupDelay); err != nil {
			return Calibration{}, err
		}
	}

	samples := make([]float64, 0, cfg.ReferenceSamples)
	for i := 0; i < cfg.ReferenceSamples; i++ {
		p, err := r.ReadPressure()
		if err != nil {
			return Calibration{}, fmt.Errorf("altitude: reference read %d failed: %w", i+1, err)
		}
		if math.IsNaN(p) || p <= 0 {
			return Calibration{}, fmt.Errorf("altitude: reference read %d invalid pressure %v", i+1, p)
		}
		samples = append(samples, p)
		if err := wait(ctx, cfg.SampleDelay); err != nil {
			return Calibration{}, err
		}
	}

	mean, std := stat.MeanStdDev(samples, nil)
	if len(samples) < 2 {
		std = 0
	}
	log.Printf("altitude: reference pressure %.2f Pa (%.2f hPa), stddev %.2f Pa over %d samples",
		mean, mean/100.0, std, len(samples))
	return Calibration{ReferencePa: mean, StdDevPa: std, Samples: len(samples)}, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
