// Package trigger turns physical inputs (a push button, a signal) into
// logging toggle requests.
package trigger

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

var now = time.Now

type Config struct {
	// GPIOChip and GPIOLine name the button line, e.g. "gpiochip0" and
	// "GPIO17". An empty line disables the button.
	GPIOChip string
	GPIOLine string
	// Debounce suppresses toggles closer together than this.
	Debounce time.Duration
	// Signal makes SIGUSR1 a toggle.
	Signal bool
}

// Trigger coalesces toggle requests: if one is already pending the next is
// dropped, so a bouncing input can never queue up a start and a stop.
type Trigger struct {
	debounce time.Duration
	ch       chan struct{}
	last     atomic.Int64

	mu      sync.Mutex
	closers []io.Closer
	closed  bool
}

func New(debounce time.Duration) *Trigger {
	return &Trigger{debounce: debounce, ch: make(chan struct{}, 1)}
}

// Open builds a Trigger with the sources enabled in cfg.
func Open(cfg Config) (*Trigger, error) {
	t := New(cfg.Debounce)
	if cfg.GPIOLine != "" {
		c, err := openButtonFn(cfg.GPIOChip, cfg.GPIOLine, t.Fire)
		if err != nil {
			return nil, fmt.Errorf("trigger: button: %w", err)
		}
		t.add(c)
		log.Printf("trigger: button on %s/%s", cfg.GPIOChip, cfg.GPIOLine)
	}
	if cfg.Signal {
		c, err := notifySignal(t.Fire)
		if err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("trigger: signal: %w", err)
		}
		t.add(c)
		log.Printf("trigger: SIGUSR1 toggles logging")
	}
	return t, nil
}

func (t *Trigger) add(c io.Closer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closers = append(t.closers, c)
}

// C delivers one value per accepted toggle.
func (t *Trigger) C() <-chan struct{} { return t.ch }

// Fire requests a toggle. It never blocks and reports whether the request was
// accepted.
func (t *Trigger) Fire() bool {
	n := now().UnixNano()
	if t.debounce > 0 {
		prev := t.last.Load()
		if prev != 0 && time.Duration(n-prev) < t.debounce {
			return false
		}
		if !t.last.CompareAndSwap(prev, n) {
			return false
		}
	}
	select {
	case t.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (t *Trigger) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	var errs []error
	for _, c := range t.closers {
		errs = append(errs, c.Close())
	}
	t.closers = nil
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
