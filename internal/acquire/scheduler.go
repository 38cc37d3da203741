// Package acquire holds the per-cycle acquisition logic that runs on the
// real-time loop: poll the IMU, drain the barometer FIFO, stamp and convert,
// and hand records to the transfer queues without ever blocking.
package acquire

import (
	"fmt"
	"log"
	"sync/atomic"

	"flightlog/internal/altitude"
	"flightlog/internal/clocksync"
	"flightlog/internal/queue"
	"flightlog/internal/record"
)

// DefaultMotionBurst bounds the IMU packets read in one cycle when
// Deps.MotionBurst is unset.
const DefaultMotionBurst = 32

type Deps struct {
	Motion MotionSource
	// MotionBurst is the most IMU packets read per cycle; a late cycle reads
	// the backlog instead of leaving it in the sensor FIFO.
	MotionBurst int
	// MotionPeriodUS back-dates packets read behind the newest one in a
	// cycle. Zero stamps them all with the read time.
	MotionPeriodUS uint32

	Baro     Barometer
	Clock    HostClock
	Sync     *clocksync.Engine
	Altitude *altitude.Converter
	MotionQ  *queue.Queue[record.MotionRecord]
	BaroQ    *queue.Queue[record.BarometricRecord]
}

type Stats struct {
	MotionPushed  uint64
	MotionDropped uint64
	MotionErrors  uint64
	BaroPushed    uint64
	BaroDropped   uint64
	FIFOErrors    uint64
	DecodeErrors  uint64
	InvalidFrames uint64
	Batches       uint64
}

// Scheduler is driven by a single goroutine; only Stats may be called
// concurrently.
type Scheduler struct {
	d      Deps
	motion []record.RawMotion

	motionErrors  atomic.Uint64
	fifoErrors    atomic.Uint64
	decodeErrors  atomic.Uint64
	invalidFrames atomic.Uint64
	batches       atomic.Uint64
}

func New(d Deps) (*Scheduler, error) {
	switch {
	case d.Baro == nil:
		return nil, fmt.Errorf("acquire: barometer is nil")
	case d.Clock == nil:
		return nil, fmt.Errorf("acquire: host clock is nil")
	case d.Sync == nil:
		return nil, fmt.Errorf("acquire: clock sync is nil")
	case d.Altitude == nil:
		return nil, fmt.Errorf("acquire: altitude converter is nil")
	case d.MotionQ == nil || d.BaroQ == nil:
		return nil, fmt.Errorf("acquire: queue is nil")
	}
	if d.MotionBurst <= 0 {
		d.MotionBurst = DefaultMotionBurst
	}
	return &Scheduler{d: d, motion: make([]record.RawMotion, 0, d.MotionBurst)}, nil
}

// Step runs one acquisition cycle. Failures are counted and never escalate.
func (s *Scheduler) Step() {
	s.pollMotion()
	s.drainBaro()
}

// pollMotion reads every buffered IMU packet, up to MotionBurst. The newest
// was read just now; earlier ones are back-dated by the sample period.
func (s *Scheduler) pollMotion() {
	if s.d.Motion == nil {
		return
	}
	s.motion = s.motion[:0]
	for len(s.motion) < s.d.MotionBurst {
		raw, ok, err := s.d.Motion.Poll()
		if err != nil {
			s.note(&s.motionErrors, "motion read", err)
			break
		}
		if !ok {
			break
		}
		s.motion = append(s.motion, raw)
	}
	if len(s.motion) == 0 {
		return
	}
	now := s.d.Clock.NowMicros()
	last := len(s.motion) - 1
	for i, raw := range s.motion {
		s.d.MotionQ.TryPush(record.MotionRecord{
			Raw:         raw,
			TimestampUS: clocksync.Backdate(now, last-i, s.d.MotionPeriodUS),
		})
	}
}

func (s *Scheduler) drainBaro() {
	n, err := s.d.Baro.FIFOLength()
	if err != nil {
		s.note(&s.fifoErrors, "fifo length", err)
		return
	}
	if n == 0 {
		return
	}
	batch, err := s.d.Baro.DrainFIFO(n)
	if err != nil {
		s.note(&s.decodeErrors, "fifo drain", err)
		return
	}
	s.process(batch)
}

func (s *Scheduler) process(b Batch) {
	if len(b.Frames) == 0 {
		return
	}
	s.batches.Add(1)
	newest := s.d.Sync.Observe(b.SensorTicks, s.d.Clock.NowMicros())

	// Oldest frame is last; enqueue in chronological order.
	for i := len(b.Frames) - 1; i >= 0; i-- {
		alt, ok := s.d.Altitude.Relative(b.Frames[i].PressurePa)
		if !ok {
			s.invalidFrames.Add(1)
			continue
		}
		s.d.BaroQ.TryPush(record.BarometricRecord{
			RelativeAltitudeM: alt,
			TimestampUS:       clocksync.Backdate(newest, i, b.PeriodUS),
		})
	}
}

func (s *Scheduler) note(counter *atomic.Uint64, what string, err error) {
	if n := counter.Add(1); n == 1 || n%100 == 0 {
		log.Printf("acquire: %s failed (%d so far): %v", what, n, err)
	}
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		MotionPushed:  s.d.MotionQ.Pushed(),
		MotionDropped: s.d.MotionQ.Dropped(),
		MotionErrors:  s.motionErrors.Load(),
		BaroPushed:    s.d.BaroQ.Pushed(),
		BaroDropped:   s.d.BaroQ.Dropped(),
		FIFOErrors:    s.fifoErrors.Load(),
		DecodeErrors:  s.decodeErrors.Load(),
		InvalidFrames: s.invalidFrames.Load(),
		Batches:       s.batches.Load(),
	}
}
