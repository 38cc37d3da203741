package acquire

import (
	"time"

	"flightlog/internal/record"
)

// MotionSource is the IMU's buffered-sample interface. Poll must not block;
// ok is false when no sample is available.
type MotionSource interface {
	Poll() (raw record.RawMotion, ok bool, err error)
}

// Frame is one decoded barometer FIFO frame.
type Frame struct {
	PressurePa   float64
	TemperatureC float64
}

// Batch is the result of one FIFO drain.
type Batch struct {
	// Frames are ordered newest first, as decoded from the hardware FIFO.
	Frames []Frame
	// SensorTicks is the sensor tick counter at the newest frame.
	SensorTicks uint32
	// PeriodUS is the inter-sample period of the configuration in effect when
	// the batch was drained.
	PeriodUS uint32
}

// Barometer drains a hardware FIFO. DrainFIFO is given the byte count just
// read from FIFOLength so the drain costs a single bus transfer.
type Barometer interface {
	FIFOLength() (uint16, error)
	DrainFIFO(n uint16) (Batch, error)
}

// HostClock is a free-running microsecond counter that wraps at 2^32.
type HostClock interface {
	NowMicros() uint32
}

// MonotonicClock counts microseconds since it was created.
type MonotonicClock struct {
	start time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

func (c *MonotonicClock) NowMicros() uint32 {
	return uint32(time.Since(c.start) / time.Microsecond)
}
