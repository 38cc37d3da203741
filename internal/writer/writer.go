// Package writer drains the transfer queues into storage from its own
// goroutine, batching records in a fixed-size local buffer.
package writer

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"flightlog/internal/queue"
	"flightlog/internal/record"
)

// Storage is the append-only sink for encoded records.
type Storage interface {
	Append(p []byte) error
	Sync() error
	Close() error
	CurrentSize() uint64
}

// Clock supplies both the flush-interval reference and the idle wake-up, so
// a fake clock drives the whole flush schedule.
type Clock interface {
	Now() time.Time
	// After delivers once d has elapsed. The writer abandons the channel
	// when it wakes for another reason.
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type Config struct {
	// BufferSize is the local accumulation buffer in bytes.
	BufferSize int
	// FlushInterval forces a flush this long after the previous one.
	FlushInterval time.Duration
	// FlushFill forces a flush once the buffer holds this fraction of BufferSize.
	FlushFill float64
}

type Stats struct {
	Flushes       uint64
	FlushErrors   uint64
	BytesWritten  uint64
	MotionWritten uint64
	BaroWritten   uint64
}

type Writer struct {
	cfg   Config
	fill  int
	clock Clock

	motion *queue.Queue[record.MotionRecord]
	baro   *queue.Queue[record.BarometricRecord]
	store  Storage

	buf       []byte
	lastFlush time.Time
	// pending counts records in buf by type; they are credited on a successful write.
	pendingMotion uint64
	pendingBaro   uint64

	flushes       atomic.Uint64
	flushErrors   atomic.Uint64
	bytesWritten  atomic.Uint64
	motionWritten atomic.Uint64
	baroWritten   atomic.Uint64

	stopOnce  sync.Once
	stopCh    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

func New(cfg Config, motion *queue.Queue[record.MotionRecord], baro *queue.Queue[record.BarometricRecord], store Storage, clock Clock) (*Writer, error) {
	if motion == nil || baro == nil {
		return nil, fmt.Errorf("writer: queue is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("writer: storage is nil")
	}
	if cfg.BufferSize < record.MotionSize {
		return nil, fmt.Errorf("writer: buffer size %d smaller than one record", cfg.BufferSize)
	}
	if cfg.FlushInterval <= 0 {
		return nil, fmt.Errorf("writer: flush interval must be > 0")
	}
	if cfg.FlushFill <= 0 || cfg.FlushFill > 1 {
		return nil, fmt.Errorf("writer: flush fill %v must be in (0,1]", cfg.FlushFill)
	}
	if clock == nil {
		clock = systemClock{}
	}
	fill := int(float64(cfg.BufferSize) * cfg.FlushFill)
	if fill < 1 {
		fill = 1
	}
	return &Writer{
		cfg:       cfg,
		fill:      fill,
		clock:     clock,
		motion:    motion,
		baro:      baro,
		store:     store,
		buf:       make([]byte, 0, cfg.BufferSize),
		lastFlush: clock.Now(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

func (w *Writer) Stats() Stats {
	return Stats{
		Flushes:       w.flushes.Load(),
		FlushErrors:   w.flushErrors.Load(),
		BytesWritten:  w.bytesWritten.Load(),
		MotionWritten: w.motionWritten.Load(),
		BaroWritten:   w.baroWritten.Load(),
	}
}

// Run is the writer loop. It returns after Stop once the shutdown drain has
// finished; the result is also available from Wait.
func (w *Writer) Run() error {
	defer close(w.done)
	for {
		worked := w.Step()
		select {
		case <-w.stopCh:
			w.err = w.shutdown()
			return w.err
		default:
		}
		if !worked {
			w.idle()
		}
	}
}

// Stop requests the shutdown drain. The current iteration completes first.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Wait blocks until Run has returned and reports the shutdown result.
func (w *Writer) Wait() error {
	<-w.done
	return w.err
}

// Step performs one iteration: at most one record from each queue, then a
// flush if the interval elapsed or the buffer reached the fill threshold.
// It reports whether any work was done.
func (w *Writer) Step() bool {
	worked := false
	if m, ok := w.motion.TryPop(); ok {
		w.appendRecord(m)
		worked = true
	}
	if b, ok := w.baro.TryPop(); ok {
		w.appendRecord(b)
		worked = true
	}
	if w.flushDue() {
		_ = w.flush()
		worked = true
	}
	return worked
}

func (w *Writer) flushDue() bool {
	if len(w.buf) == 0 {
		return false
	}
	if len(w.buf) >= w.fill {
		return true
	}
	return w.clock.Now().Sub(w.lastFlush) >= w.cfg.FlushInterval
}

// idle blocks until a record arrives, the flush deadline passes or Stop is
// called.
func (w *Writer) idle() {
	var deadline <-chan time.Time
	if len(w.buf) > 0 {
		remaining := w.cfg.FlushInterval - w.clock.Now().Sub(w.lastFlush)
		if remaining <= 0 {
			return
		}
		deadline = w.clock.After(remaining)
	}
	select {
	case <-w.stopCh:
	case m := <-w.motion.C():
		w.appendRecord(m)
	case b := <-w.baro.C():
		w.appendRecord(b)
	case <-deadline:
	}
}

func (w *Writer) appendRecord(r record.Record) {
	if len(w.buf)+r.Size() > cap(w.buf) {
		_ = w.flush()
	}
	w.buf = r.AppendBinary(w.buf)
	switch r.Tag() {
	case record.TagMotion:
		w.pendingMotion++
	case record.TagBarometric:
		w.pendingBaro++
	}
}

// flush commits the exact buffer contents and syncs. On a failed append the
// buffered records are dropped; storage guarantees no partial record remains.
func (w *Writer) flush() error {
	defer func() {
		w.buf = w.buf[:0]
		w.pendingMotion, w.pendingBaro = 0, 0
		w.lastFlush = w.clock.Now()
	}()
	if len(w.buf) > 0 {
		if err := w.store.Append(w.buf); err != nil {
			w.flushErrors.Add(1)
			log.Printf("writer: append %d bytes failed, records dropped: %v", len(w.buf), err)
			return err
		}
		w.bytesWritten.Add(uint64(len(w.buf)))
		w.motionWritten.Add(w.pendingMotion)
		w.baroWritten.Add(w.pendingBaro)
	}
	if err := w.store.Sync(); err != nil {
		w.flushErrors.Add(1)
		log.Printf("writer: sync failed: %v", err)
		return err
	}
	w.flushes.Add(1)
	return nil
}

// shutdown drains both queues, writes what is left, syncs and closes the
// storage. It runs once and is not retried.
func (w *Writer) shutdown() error {
	var errs []error
	for {
		m, okM := w.motion.TryPop()
		if okM {
			if len(w.buf)+m.Size() > cap(w.buf) {
				errs = appendErr(errs, w.flush())
			}
			w.appendRecord(m)
		}
		b, okB := w.baro.TryPop()
		if okB {
			if len(w.buf)+b.Size() > cap(w.buf) {
				errs = appendErr(errs, w.flush())
			}
			w.appendRecord(b)
		}
		if !okM && !okB {
			break
		}
	}
	errs = appendErr(errs, w.flush())
	w.closeOnce.Do(func() {
		errs = appendErr(errs, w.store.Close())
	})
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("writer: shutdown: %w", err)
	}
	return nil
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}
