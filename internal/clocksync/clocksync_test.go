package clocksync

import "testing"

func mustNew(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return e
}

func TestObserve_TranslatesFromAnchor(t *testing.T) {
	e := mustNew(t, Config{Period: TickPeriod{Num: 39, Den: 1}})

	if got := e.Observe(0, 1_000_000); got != 1_000_000 {
		t.Fatalf("anchor host=%d want 1000000", got)
	}
	if got := e.Period().Micros(2000); got != 78000 {
		t.Fatalf("frame sensor us=%d want 78000", got)
	}
	if got := e.Observe(2000, 5); got != 1_078_000 {
		t.Fatalf("host=%d want 1078000", got)
	}
	if got, ok := e.HostTime(2000); !ok || got != 1_078_000 {
		t.Fatalf("HostTime=%d,%v want 1078000,true", got, ok)
	}
}

func TestObserve_AnchorSetOnce(t *testing.T) {
	e := mustNew(t, Config{Period: TickPeriod{Num: 39, Den: 1}})
	e.Observe(100, 42)
	first := e.Anchor()

	e.Observe(200, 99_999)
	e.Observe(300, 123_456)
	if got := e.Anchor(); got != first {
		t.Fatalf("anchor changed: got %+v want %+v", got, first)
	}
	if !first.Established || first.HostEpochUS != 42 || first.SensorEpochTicks != 100 {
		t.Fatalf("anchor=%+v", first)
	}
}

func TestHostTime_BeforeAnchor(t *testing.T) {
	e := mustNew(t, Config{Period: TickPeriod{Num: 39, Den: 1}})
	if _, ok := e.HostTime(10); ok {
		t.Fatalf("expected not established")
	}
}

func TestObserve_SensorCounterRollover(t *testing.T) {
	// 24-bit counter at 25.6 kHz.
	e := mustNew(t, Config{Period: TickPeriodFromHz(25_600), CounterBits: 24})

	const max24 = 1<<24 - 1
	e.Observe(max24-255, 0)
	// 512 ticks later the counter has wrapped to 256.
	got := e.Observe(256, 0)
	if want := uint32(512 * 1_000_000 / 25_600); got != want {
		t.Fatalf("host=%d want %d", got, want)
	}

	// Walk through several full counter periods; elapsed must keep growing.
	step := uint32(1 << 22)
	ticks := uint32(256)
	total := uint64(512)
	for i := 0; i < 12; i++ {
		ticks = (ticks + step) & max24
		total += uint64(step)
		got = e.Observe(ticks, 0)
	}
	if want := uint32(total * 1_000_000 / 25_600); got != want {
		t.Fatalf("host=%d want %d", got, want)
	}
}

func TestObserve_HostClockRollover(t *testing.T) {
	e := mustNew(t, Config{Period: TickPeriod{Num: 39, Den: 1}})
	e.Observe(0, 0xFFFF_FF00)
	got := e.Observe(10, 0)
	// 0xFFFF_FF00 + 390us wraps to 134.
	if got != 134 {
		t.Fatalf("host=%d want 134", got)
	}
}

func TestBackdate(t *testing.T) {
	const newest = uint32(5_000_000)
	got := []uint32{
		Backdate(newest, 2, 10_000),
		Backdate(newest, 1, 10_000),
		Backdate(newest, 0, 10_000),
	}
	want := []uint32{newest - 20_000, newest - 10_000, newest}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d ts=%d want %d", i, got[i], want[i])
		}
	}

	// Wrap below zero.
	if got := Backdate(5_000, 1, 10_000); got != 0xFFFF_FFFF-4_999 {
		t.Fatalf("wrapped ts=%d", got)
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for zero period")
	}
	if _, err := New(Config{Period: TickPeriod{Num: 1, Den: 1}, CounterBits: 40}); err == nil {
		t.Fatalf("expected error for wide counter")
	}
}
