// Package session owns the logging lifecycle: calibrate, open a session file,
// run acquisition and the writer, and tear everything down in order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"flightlog/internal/acquire"
	"flightlog/internal/altitude"
	"flightlog/internal/catalog"
	"flightlog/internal/clocksync"
	"flightlog/internal/queue"
	"flightlog/internal/record"
	"flightlog/internal/writer"
)

var now = time.Now

type State int32

const (
	Idle State = iota
	Calibrating
	Logging
	ShuttingDown
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Calibrating:
		return "calibrating"
	case Logging:
		return "logging"
	case ShuttingDown:
		return "shutting_down"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrBusy       = errors.New("session: transition in progress")
	ErrTerminal   = errors.New("session: in error state, reset required")
	ErrNotRunning = errors.New("session: manager not running")
)

// Streamer is implemented by sensors that must be switched into FIFO
// streaming for the duration of a session.
type Streamer interface {
	StartStream() error
	StopStream() error
}

// Barometer is read in forced mode during calibration and streamed while
// logging.
type Barometer interface {
	acquire.Barometer
	altitude.PressureReader
	Streamer
}

type Sensors struct {
	// Motion may be nil; only barometric records are logged then.
	Motion acquire.MotionSource
	Baro   Barometer
	// IMU packets read per cycle and their spacing; see acquire.Deps.
	MotionBurst    int
	MotionPeriodUS uint32
	// Tick counter of the barometer.
	TickPeriod  clocksync.TickPeriod
	CounterBits uint
}

// Storage is one session's output stream.
type Storage interface {
	writer.Storage
	Path() string
}

// StorageFactory creates the output for a new session.
type StorageFactory func(id uuid.UUID, started time.Time) (Storage, error)

// Catalog records sessions. Failures are logged and never affect logging.
type Catalog interface {
	Begin(ctx context.Context, s catalog.Session) error
	Finish(ctx context.Context, id uuid.UUID, sum catalog.Summary) error
}

type Config struct {
	MotionCapacity int
	BaroCapacity   int
	Writer         writer.Config
	Calibration    altitude.CalibrationConfig
	// Period of the acquisition loop.
	Period time.Duration
	// StatusInterval between status log lines while logging; 0 disables.
	StatusInterval time.Duration
}

type Snapshot struct {
	State     State
	SessionID uuid.UUID
	Path      string
	StartedAt time.Time

	ReferencePa float64
	ReferenceSD float64

	BytesWritten uint64
	MotionQueued int
	BaroQueued   int
	Acquire      acquire.Stats
	Writer       writer.Stats

	LastError string
}

// run is the per-session state. A new session never reuses one.
type run struct {
	id      uuid.UUID
	started time.Time
	store   Storage
	cal     altitude.Calibration

	motionQ *queue.Queue[record.MotionRecord]
	baroQ   *queue.Queue[record.BarometricRecord]
	sched   *acquire.Scheduler
	w       *writer.Writer
}

type Manager struct {
	cfg     Config
	sensors Sensors
	open    StorageFactory
	cat     Catalog
	clock   acquire.HostClock

	state atomic.Int32
	cur   atomic.Pointer[run]

	mu      sync.Mutex
	lastErr string

	// The acquisition loop owns the active run; these hand it over.
	attachCh chan *run
	detachCh chan chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	loopDone  chan struct{}
}

func New(cfg Config, sensors Sensors, open StorageFactory, cat Catalog) (*Manager, error) {
	if sensors.Baro == nil {
		return nil, fmt.Errorf("session: barometer is nil")
	}
	if open == nil {
		return nil, fmt.Errorf("session: storage factory is nil")
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Millisecond
	}
	return &Manager{
		cfg:      cfg,
		sensors:  sensors,
		open:     open,
		cat:      cat,
		clock:    acquire.NewMonotonicClock(),
		attachCh: make(chan *run),
		detachCh: make(chan chan struct{}),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}, nil
}

func (m *Manager) State() State { return State(m.state.Load()) }

// Start launches the acquisition loop. Logging begins on the first Toggle.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.started.Store(true)
		go m.loop(ctx)
	})
}

// Toggle starts a session from Idle or stops the running one. Starting
// calibrates synchronously, so it blocks for the calibration duration.
func (m *Manager) Toggle(ctx context.Context) error {
	switch m.State() {
	case Idle:
		return m.begin(ctx)
	case Logging:
		return m.end()
	case Error:
		return ErrTerminal
	default:
		return ErrBusy
	}
}

// Reset leaves the Error state.
func (m *Manager) Reset() error {
	if !m.state.CompareAndSwap(int32(Error), int32(Idle)) {
		return fmt.Errorf("session: reset from %s", m.State())
	}
	log.Printf("session: reset to idle")
	return nil
}

// Close ends a running session and stops the acquisition loop.
func (m *Manager) Close() error {
	var err error
	if m.State() == Logging {
		err = m.end()
	}
	m.stopOnce.Do(func() { close(m.stopCh) })
	return err
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	snap := Snapshot{State: m.State(), LastError: m.lastErr}
	m.mu.Unlock()

	r := m.cur.Load()
	if r == nil {
		return snap
	}
	snap.SessionID = r.id
	snap.Path = r.store.Path()
	snap.StartedAt = r.started
	snap.ReferencePa = r.cal.ReferencePa
	snap.ReferenceSD = r.cal.StdDevPa
	snap.BytesWritten = r.store.CurrentSize()
	snap.MotionQueued = r.motionQ.Len()
	snap.BaroQueued = r.baroQ.Len()
	snap.Acquire = r.sched.Stats()
	snap.Writer = r.w.Stats()
	return snap
}

func (m *Manager) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.lastErr = ""
		return
	}
	m.lastErr = err.Error()
}

// fail enters the terminal Error state.
func (m *Manager) fail(err error) error {
	m.setErr(err)
	m.state.Store(int32(Error))
	log.Printf("session: %v", err)
	return err
}

func (m *Manager) begin(ctx context.Context) error {
	if !m.started.Load() {
		return ErrNotRunning
	}
	if !m.state.CompareAndSwap(int32(Idle), int32(Calibrating)) {
		return ErrBusy
	}
	m.setErr(nil)
	log.Printf("session: calibrating")

	cal, err := altitude.Calibrate(ctx, m.sensors.Baro, m.cfg.Calibration)
	if err != nil {
		if ctx.Err() != nil {
			m.state.Store(int32(Idle))
			return err
		}
		return m.fail(fmt.Errorf("calibration: %w", err))
	}

	r, err := m.newRun(cal)
	if err != nil {
		return m.fail(err)
	}
	if err := m.startStreams(); err != nil {
		_ = r.store.Close()
		return m.fail(err)
	}

	// The shutdown result is collected through Wait in end.
	go func() { _ = r.w.Run() }()

	m.cur.Store(r)
	select {
	case m.attachCh <- r:
	case <-m.loopDone:
		m.stopStreams()
		r.w.Stop()
		_ = r.w.Wait()
		m.cur.Store(nil)
		return m.fail(ErrNotRunning)
	}

	if m.cat != nil {
		err := m.cat.Begin(ctx, catalog.Session{
			ID:          r.id,
			Path:        r.store.Path(),
			StartedAt:   r.started,
			ReferencePa: cal.ReferencePa,
			ReferenceSD: cal.StdDevPa,
		})
		if err != nil {
			log.Printf("session: catalog: %v", err)
		}
	}

	m.state.Store(int32(Logging))
	log.Printf("session: logging to %s (id %s)", r.store.Path(), r.id)
	return nil
}

// newRun allocates everything a session needs. Any failure is fatal.
func (m *Manager) newRun(cal altitude.Calibration) (*run, error) {
	r := &run{id: uuid.New(), started: now().UTC(), cal: cal}

	store, err := m.open(r.id, r.started)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	r.store = store

	fail := func(err error) (*run, error) {
		_ = store.Close()
		return nil, err
	}

	if r.motionQ, err = queue.New[record.MotionRecord](m.cfg.MotionCapacity); err != nil {
		return fail(fmt.Errorf("motion queue: %w", err))
	}
	if r.baroQ, err = queue.New[record.BarometricRecord](m.cfg.BaroCapacity); err != nil {
		return fail(fmt.Errorf("baro queue: %w", err))
	}
	cs, err := clocksync.New(clocksync.Config{Period: m.sensors.TickPeriod, CounterBits: m.sensors.CounterBits})
	if err != nil {
		return fail(err)
	}
	conv, err := altitude.NewConverter(cal.ReferencePa)
	if err != nil {
		return fail(err)
	}
	r.sched, err = acquire.New(acquire.Deps{
		Motion:         m.sensors.Motion,
		MotionBurst:    m.sensors.MotionBurst,
		MotionPeriodUS: m.sensors.MotionPeriodUS,
		Baro:           m.sensors.Baro,
		Clock:          m.clock,
		Sync:           cs,
		Altitude:       conv,
		MotionQ:        r.motionQ,
		BaroQ:          r.baroQ,
	})
	if err != nil {
		return fail(err)
	}
	r.w, err = writer.New(m.cfg.Writer, r.motionQ, r.baroQ, store, nil)
	if err != nil {
		return fail(err)
	}
	return r, nil
}

func (m *Manager) startStreams() error {
	if err := m.sensors.Baro.StartStream(); err != nil {
		return fmt.Errorf("barometer stream: %w", err)
	}
	if s, ok := m.sensors.Motion.(Streamer); ok {
		if err := s.StartStream(); err != nil {
			_ = m.sensors.Baro.StopStream()
			return fmt.Errorf("imu stream: %w", err)
		}
	}
	return nil
}

func (m *Manager) stopStreams() {
	if err := m.sensors.Baro.StopStream(); err != nil {
		log.Printf("session: barometer stop: %v", err)
	}
	if s, ok := m.sensors.Motion.(Streamer); ok {
		if err := s.StopStream(); err != nil {
			log.Printf("session: imu stop: %v", err)
		}
	}
}

// end gates acquisition off, lets the writer drain and close, and records the
// outcome. A shutdown failure is reported once and leaves the manager Idle.
func (m *Manager) end() error {
	if !m.state.CompareAndSwap(int32(Logging), int32(ShuttingDown)) {
		return ErrBusy
	}
	r := m.cur.Load()

	ack := make(chan struct{})
	select {
	case m.detachCh <- ack:
		<-ack
	case <-m.loopDone:
	}
	m.stopStreams()

	r.w.Stop()
	werr := r.w.Wait()
	m.logStatus(r)

	sum := catalog.Summary{
		StoppedAt:     now().UTC(),
		BytesWritten:  int64(r.store.CurrentSize()),
		MotionRecords: r.w.Stats().MotionWritten,
		BaroRecords:   r.w.Stats().BaroWritten,
		MotionDropped: r.motionQ.Dropped(),
		BaroDropped:   r.baroQ.Dropped(),
		Err:           werr,
	}
	if m.cat != nil {
		if err := m.cat.Finish(context.Background(), r.id, sum); err != nil {
			log.Printf("session: catalog: %v", err)
		}
	}

	m.setErr(werr)
	m.cur.Store(nil)
	m.state.Store(int32(Idle))
	if werr != nil {
		log.Printf("session: stopped with error: %v", werr)
		return werr
	}
	log.Printf("session: stopped, %d bytes in %s", sum.BytesWritten, r.store.Path())
	return nil
}

// loop is the acquisition context. It runs one scheduler step per period
// while a session is attached and Logging.
func (m *Manager) loop(ctx context.Context) {
	defer close(m.loopDone)

	tick := time.NewTicker(m.cfg.Period)
	defer tick.Stop()
	var statusC <-chan time.Time
	if m.cfg.StatusInterval > 0 {
		status := time.NewTicker(m.cfg.StatusInterval)
		defer status.Stop()
		statusC = status.C
	}

	var active *run
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case r := <-m.attachCh:
			active = r
		case ack := <-m.detachCh:
			active = nil
			close(ack)
		case <-tick.C:
			if active != nil && m.State() == Logging {
				active.sched.Step()
			}
		case <-statusC:
			if active != nil && m.State() == Logging {
				m.logStatus(active)
			}
		}
	}
}

func (m *Manager) logStatus(r *run) {
	a := r.sched.Stats()
	w := r.w.Stats()
	log.Printf("session: %s bytes=%d flushes=%d imu=%d/%d drop baro=%d/%d drop queued=%d/%d errs fifo=%d decode=%d imu=%d",
		m.State(), r.store.CurrentSize(), w.Flushes,
		a.MotionPushed, a.MotionDropped, a.BaroPushed, a.BaroDropped,
		r.motionQ.Len(), r.baroQ.Len(),
		a.FIFOErrors, a.DecodeErrors, a.MotionErrors)
}
