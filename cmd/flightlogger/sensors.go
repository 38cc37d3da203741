package main

import (
	"flightlog/internal/acquire"
	"flightlog/internal/config"
	"flightlog/internal/sensors/bmp390"
	"flightlog/internal/sensors/mpu6886"
)

// baroSource adapts the BMP390 driver to the session's Barometer.
type baroSource struct {
	d *bmp390.Device
}

func (b baroSource) FIFOLength() (uint16, error)    { return b.d.FIFOLength() }
func (b baroSource) ReadPressure() (float64, error) { return b.d.ReadPressure() }
func (b baroSource) StartStream() error             { return b.d.StartFIFO() }
func (b baroSource) StopStream() error              { return b.d.StopFIFO() }

func (b baroSource) DrainFIFO(n uint16) (acquire.Batch, error) {
	d, err := b.d.DrainN(n)
	if err != nil {
		return acquire.Batch{}, err
	}
	return batchFromDrain(d), nil
}

func batchFromDrain(d bmp390.Drain) acquire.Batch {
	b := acquire.Batch{
		Frames:      make([]acquire.Frame, len(d.Frames)),
		SensorTicks: d.SensorTime,
		PeriodUS:    d.Timing.SamplePeriodMicros(),
	}
	for i, f := range d.Frames {
		b.Frames[i] = acquire.Frame{PressurePa: f.PressurePa, TemperatureC: f.TemperatureC}
	}
	return b
}

// imuSource adapts the MPU6886 driver; it also implements session.Streamer.
type imuSource struct {
	*mpu6886.Device
}

func (s imuSource) StartStream() error { return s.StartFIFO() }
func (s imuSource) StopStream() error  { return s.StopFIFO() }

func baroConfig(c config.BaroConfig) bmp390.Config {
	return bmp390.Config{
		Timing: bmp390.Timing{
			PressEnabled: true,
			TempEnabled:  true,
			PressOSR:     *c.PressOSR,
			TempOSR:      *c.TempOSR,
			ODR:          *c.ODR,
		},
		IIR:        *c.IIR,
		FIFOFrames: c.FIFOFrames,
	}
}
