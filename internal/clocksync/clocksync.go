// Package clocksync maps a sensor-local tick counter onto the host
// microsecond clock.
//
// One anchor (host_us, sensor_ticks) is taken on the first non-empty FIFO
// drain of a session and never moved. Later tick readings are extended past
// counter rollover and translated relative to that anchor. Host timestamps are
// u32 microseconds and wrap; all host arithmetic is modulo 2^32.
package clocksync

import "fmt"

// TickPeriod is the duration of one sensor tick in microseconds, expressed as
// an exact ratio Num/Den.
type TickPeriod struct {
	Num uint64
	Den uint64
}

// TickPeriodFromHz derives the period of a counter clocked at hz.
func TickPeriodFromHz(hz uint64) TickPeriod {
	return TickPeriod{Num: 1_000_000, Den: hz}
}

// Micros converts a tick count to microseconds, truncating.
func (p TickPeriod) Micros(ticks uint64) uint64 {
	return ticks * p.Num / p.Den
}

func (p TickPeriod) String() string {
	return fmt.Sprintf("%.4fus", float64(p.Num)/float64(p.Den))
}

// Anchor is the session sync point.
type Anchor struct {
	Established      bool
	HostEpochUS      uint32
	SensorEpochTicks uint32
}

type Config struct {
	Period TickPeriod
	// CounterBits is the width of the sensor counter (24 for BMP3xx). 0 means 32.
	CounterBits uint
}

// Engine is owned by the acquisition context; it is not safe for concurrent use.
type Engine struct {
	period TickPeriod
	mask   uint32

	anchor Anchor

	lastTicks uint32
	// elapsed is the number of ticks since the anchor, extended past rollover.
	elapsed uint64
}

func New(cfg Config) (*Engine, error) {
	if cfg.Period.Num == 0 || cfg.Period.Den == 0 {
		return nil, fmt.Errorf("clocksync: invalid tick period %d/%d", cfg.Period.Num, cfg.Period.Den)
	}
	bits := cfg.CounterBits
	if bits == 0 {
		bits = 32
	}
	if bits > 32 {
		return nil, fmt.Errorf("clocksync: counter width %d exceeds 32 bits", bits)
	}
	mask := uint32(0xFFFFFFFF)
	if bits < 32 {
		mask = uint32(1)<<bits - 1
	}
	return &Engine{period: cfg.Period, mask: mask}, nil
}

func (e *Engine) Anchor() Anchor { return e.anchor }

func (e *Engine) Period() TickPeriod { return e.period }

// Observe records a tick counter reading taken at a FIFO drain and returns the
// host timestamp of that reading. The first call anchors the session at
// hostNowUS; later calls ignore hostNowUS.
//
// Readings must be observed more often than once per counter period for the
// rollover extension to hold.
func (e *Engine) Observe(sensorTicks, hostNowUS uint32) uint32 {
	sensorTicks &= e.mask
	if !e.anchor.Established {
		e.anchor = Anchor{Established: true, HostEpochUS: hostNowUS, SensorEpochTicks: sensorTicks}
		e.lastTicks = sensorTicks
		e.elapsed = 0
		return hostNowUS
	}
	delta := (sensorTicks - e.lastTicks) & e.mask
	e.elapsed += uint64(delta)
	e.lastTicks = sensorTicks
	return e.hostAt(e.elapsed)
}

// HostTime translates a tick reading to host time without updating the
// rollover tracking. Readings older than the anchor by less than one counter
// period are treated as having wrapped forward.
func (e *Engine) HostTime(sensorTicks uint32) (uint32, bool) {
	if !e.anchor.Established {
		return 0, false
	}
	delta := (sensorTicks&e.mask - e.anchor.SensorEpochTicks) & e.mask
	return e.hostAt(uint64(delta)), true
}

func (e *Engine) hostAt(elapsedTicks uint64) uint32 {
	return e.anchor.HostEpochUS + uint32(e.period.Micros(elapsedTicks))
}

// Backdate returns the timestamp of a frame that sits framesBehind positions
// before the newest frame of a batch.
func Backdate(newestUS uint32, framesBehind int, periodUS uint32) uint32 {
	return newestUS - uint32(framesBehind)*periodUS
}
