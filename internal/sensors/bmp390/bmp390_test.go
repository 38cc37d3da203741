package bmp390

import (
	"errors"
	"math"
	"testing"
	"time"
)

// NVM image of a typical part.
var testNVM = []byte{108, 107, 56, 74, 246, 60, 246, 96, 240, 35, 0, 156, 99, 48, 117, 247, 246, 80, 70, 8, 196}

type fakeI2C struct {
	regs map[byte][]byte

	nvmReads int
	nvmSeq   [][]byte

	dataReads   int
	lengthReads int
	writes      []writeOp
}

type writeOp struct {
	reg byte
	val byte
}

func (f *fakeI2C) ReadRegU8(reg byte) (byte, error) {
	b, ok := f.regs[reg]
	if !ok || len(b) < 1 {
		return 0, errors.New("no reg")
	}
	return b[0], nil
}

func (f *fakeI2C) ReadReg(reg byte, dst []byte) error {
	if reg == regNVM {
		f.nvmReads++
		idx := f.nvmReads - 1
		if idx < len(f.nvmSeq) {
			copy(dst, f.nvmSeq[idx])
			return nil
		}
		copy(dst, testNVM)
		return nil
	}
	switch reg {
	case regFIFOData:
		f.dataReads++
	case regFIFOLength:
		f.lengthReads++
	}
	b, ok := f.regs[reg]
	if !ok {
		return errors.New("no reg")
	}
	// Reads past the register contents see zeros.
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, b)
	return nil
}

func (f *fakeI2C) WriteReg(reg, value byte) error {
	f.writes = append(f.writes, writeOp{reg: reg, val: value})
	return nil
}

func (f *fakeI2C) lastWrite(reg byte) (byte, bool) {
	for i := len(f.writes) - 1; i >= 0; i-- {
		if f.writes[i].reg == reg {
			return f.writes[i].val, true
		}
	}
	return 0, false
}

func noSleep(t *testing.T) {
	t.Helper()
	oldSleep := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = oldSleep })
}

func put24(v uint32) []byte { return []byte{byte(v), byte(v >> 8), byte(v >> 16)} }

func newTestDevice(t *testing.T, regs map[byte][]byte) (*Device, *fakeI2C) {
	t.Helper()
	noSleep(t)
	if regs == nil {
		regs = map[byte][]byte{}
	}
	regs[regChipID] = []byte{chipID390}
	f := &fakeI2C{regs: regs}
	d, err := newWithIO(f, DefaultConfig())
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	return d, f
}

func TestTiming_SamplePeriod(t *testing.T) {
	def := DefaultConfig().Timing
	if got := def.ConversionMicros(); got != 6849 {
		t.Fatalf("conversion=%d want 6849", got)
	}
	if got := def.SamplePeriodMicros(); got != 10000 {
		t.Fatalf("period=%d want 10000 (odr bound)", got)
	}

	slow := Timing{PressEnabled: true, TempEnabled: true, PressOSR: 5, TempOSR: 0, ODR: 0}
	if got := slow.SamplePeriodMicros(); got != 67449 {
		t.Fatalf("period=%d want 67449 (conversion bound)", got)
	}

	pressOnly := Timing{PressEnabled: true, PressOSR: 0, ODR: 0}
	if got := pressOnly.ConversionMicros(); got != 234+392+2020 {
		t.Fatalf("conversion=%d want %d", got, 234+392+2020)
	}
}

func TestNew_RejectsWrongChip(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{regChipID: {0x58}}}
	if _, err := newWithIO(f, DefaultConfig()); err == nil {
		t.Fatalf("expected chip id error")
	}
}

func TestNew_AcceptsBMP388(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{regChipID: {chipID388}}}
	if _, err := newWithIO(f, DefaultConfig()); err != nil {
		t.Fatalf("newWithIO with BMP388 id: %v", err)
	}
}

func TestNew_RetriesCalibrationAfterReset(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{
		regs:   map[byte][]byte{regChipID: {chipID390}},
		nvmSeq: [][]byte{make([]byte, nvmLen), testNVM},
	}
	if _, err := newWithIO(f, DefaultConfig()); err != nil {
		t.Fatalf("expected New to succeed, got %v", err)
	}
	if f.nvmReads != 2 {
		t.Fatalf("nvm reads=%d want 2", f.nvmReads)
	}
	if v, ok := f.lastWrite(regCmd); !ok || v != cmdSoftReset {
		t.Fatalf("reset not issued")
	}
}

func TestNew_FailsOnInvalidCalibration(t *testing.T) {
	noSleep(t)
	zero := make([]byte, nvmLen)
	f := &fakeI2C{
		regs:   map[byte][]byte{regChipID: {chipID390}},
		nvmSeq: [][]byte{zero, zero, zero},
	}
	if _, err := newWithIO(f, DefaultConfig()); err == nil {
		t.Fatalf("expected invalid calibration error")
	}
}

func TestNew_RejectsBadTiming(t *testing.T) {
	noSleep(t)
	cfg := DefaultConfig()
	cfg.Timing.PressOSR = 6
	f := &fakeI2C{regs: map[byte][]byte{regChipID: {chipID390}}}
	if _, err := newWithIO(f, cfg); err == nil {
		t.Fatalf("expected oversampling error")
	}
}

func TestReadForced_Compensation(t *testing.T) {
	data := append(put24(6500000), put24(8400000)...)
	d, f := newTestDevice(t, map[byte][]byte{regData: data})

	tc, p, err := d.ReadForced()
	if err != nil {
		t.Fatalf("ReadForced: %v", err)
	}
	if math.Abs(tc-23.99966) > 1e-4 {
		t.Fatalf("temp=%v want 23.99966", tc)
	}
	if math.Abs(p-94557.26) > 0.01 {
		t.Fatalf("pressure=%v want 94557.26", p)
	}
	if v, _ := f.lastWrite(regPwrCtrl); v != pwrPress|pwrTemp|modeForce {
		t.Fatalf("pwr_ctrl=0x%02X want forced", v)
	}

	p2, err := d.ReadPressure()
	if err != nil || p2 != p {
		t.Fatalf("ReadPressure=%v,%v want %v", p2, err, p)
	}
}

func TestStartFIFO_Registers(t *testing.T) {
	d, f := newTestDevice(t, map[byte][]byte{regErr: {0x00}})
	if err := d.StartFIFO(); err != nil {
		t.Fatalf("StartFIFO: %v", err)
	}
	want := map[byte]byte{
		regOSR:         0x01,
		regODR:         0x01,
		regConfig:      0x06,
		regFIFOWTM:     0x5E,
		regFIFOWTM + 1: 0x01,
		regFIFOCfg2:    fifoFiltered,
		regFIFOCfg1:    0x1F,
		regPwrCtrl:     0x33,
		regCmd:         cmdFIFOFlush,
	}
	for reg, v := range want {
		got, ok := f.lastWrite(reg)
		if !ok || got != v {
			t.Fatalf("reg 0x%02X=0x%02X (written=%v) want 0x%02X", reg, got, ok, v)
		}
	}
}

func TestStartFIFO_ConfigError(t *testing.T) {
	d, _ := newTestDevice(t, map[byte][]byte{regErr: {0x04}})
	if err := d.StartFIFO(); err == nil {
		t.Fatalf("expected configuration error")
	}
}

func fifo(frames ...[]byte) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

func ptFrame(uT, uP uint32) []byte {
	return append(append([]byte{0x94}, put24(uT)...), put24(uP)...)
}

func TestDrainFIFO_NewestFirstWithSensorTime(t *testing.T) {
	data := fifo(
		ptFrame(8400000, 6500000),
		[]byte{0x48, 0x00},
		ptFrame(8400000, 6600000),
		append([]byte{0x84}, put24(6700000)...),
	)
	n := len(data)
	data = append(data, 0xA0)
	data = append(data, put24(0x123456)...)

	d, _ := newTestDevice(t, map[byte][]byte{
		regFIFOLength: {byte(n), byte(n >> 8)},
		regFIFOData:   data,
	})

	got, err := d.DrainFIFO()
	if err != nil {
		t.Fatalf("DrainFIFO: %v", err)
	}
	if len(got.Frames) != 3 {
		t.Fatalf("frames=%d want 3", len(got.Frames))
	}
	want := []float64{90902.235, 92729.424, 94557.261}
	for i, w := range want {
		if math.Abs(got.Frames[i].PressurePa-w) > 0.01 {
			t.Fatalf("frame[%d]=%v want %v", i, got.Frames[i].PressurePa, w)
		}
	}
	if math.Abs(got.Frames[0].TemperatureC-23.99966) > 1e-4 {
		t.Fatalf("pressure-only frame temp=%v want last temperature", got.Frames[0].TemperatureC)
	}
	if got.SensorTime != 0x123456 {
		t.Fatalf("sensor time=0x%X want 0x123456", got.SensorTime)
	}
	if got.Timing != DefaultConfig().Timing {
		t.Fatalf("timing=%+v want %+v", got.Timing, DefaultConfig().Timing)
	}
}

func TestDrainFIFO_FallsBackToSensorTimeRegisters(t *testing.T) {
	data := ptFrame(8400000, 6500000)
	n := len(data)
	// No time frame: the sensor returns an empty frame past the end.
	data = append(data, 0x80, 0x00)

	d, _ := newTestDevice(t, map[byte][]byte{
		regFIFOLength: {byte(n), 0},
		regFIFOData:   data,
		regSensorTime: put24(777),
	})
	got, err := d.DrainFIFO()
	if err != nil {
		t.Fatalf("DrainFIFO: %v", err)
	}
	if len(got.Frames) != 1 || got.SensorTime != 777 {
		t.Fatalf("frames=%d time=%d want 1, 777", len(got.Frames), got.SensorTime)
	}
}

func TestDrainFIFO_Empty(t *testing.T) {
	d, f := newTestDevice(t, map[byte][]byte{regFIFOLength: {0, 0}})
	got, err := d.DrainFIFO()
	if err != nil {
		t.Fatalf("DrainFIFO: %v", err)
	}
	if len(got.Frames) != 0 {
		t.Fatalf("frames=%d want 0", len(got.Frames))
	}
	if f.dataReads != 0 {
		t.Fatalf("fifo data reads=%d want 0", f.dataReads)
	}
}

func TestDrainFIFO_ConfigErrorFrame(t *testing.T) {
	data := fifo(ptFrame(8400000, 6500000), []byte{0x44, 0x00})
	d, _ := newTestDevice(t, map[byte][]byte{
		regFIFOLength: {byte(len(data)), 0},
		regFIFOData:   data,
	})
	if _, err := d.DrainFIFO(); !errors.Is(err, ErrConfigFrame) {
		t.Fatalf("err=%v want ErrConfigFrame", err)
	}
}

func TestDrainFIFO_UnknownHeader(t *testing.T) {
	data := []byte{0x13, 0, 0, 0}
	d, _ := newTestDevice(t, map[byte][]byte{
		regFIFOLength: {byte(len(data)), 0},
		regFIFOData:   data,
	})
	if _, err := d.DrainFIFO(); !errors.Is(err, ErrFrameHeader) {
		t.Fatalf("err=%v want ErrFrameHeader", err)
	}
}

func TestDrainFIFO_PartialTrailingFrameIgnored(t *testing.T) {
	full := ptFrame(8400000, 6500000)
	data := append(append([]byte{}, full...), 0x94, 0x01, 0x02)
	d, _ := newTestDevice(t, nil)
	// The fake pads reads with zeros, so exercise the parser directly.
	frames, _, _, err := d.parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("frames=%d want 1", len(frames))
	}
}

func TestDrainN_SingleTransfer(t *testing.T) {
	data := fifo(ptFrame(8400000, 6500000), ptFrame(8400000, 6600000))
	n := len(data)
	data = append(data, 0xA0)
	data = append(data, put24(42)...)

	d, f := newTestDevice(t, map[byte][]byte{regFIFOData: data})
	got, err := d.DrainN(uint16(n))
	if err != nil {
		t.Fatalf("DrainN: %v", err)
	}
	if len(got.Frames) != 2 || got.SensorTime != 42 {
		t.Fatalf("frames=%d time=%d want 2, 42", len(got.Frames), got.SensorTime)
	}
	if f.lengthReads != 0 || f.dataReads != 1 {
		t.Fatalf("length reads=%d data reads=%d want 0, 1", f.lengthReads, f.dataReads)
	}

	if got, err := d.DrainN(0); err != nil || len(got.Frames) != 0 || f.dataReads != 1 {
		t.Fatalf("DrainN(0)=%+v, %v data reads=%d", got, err, f.dataReads)
	}
}

func TestSupportedChip(t *testing.T) {
	for _, tc := range []struct {
		id   byte
		want bool
	}{
		{0x60, true},
		{0x50, true},
		{0x58, false},
		{0x00, false},
	} {
		if got := supportedChip(tc.id); got != tc.want {
			t.Fatalf("supportedChip(0x%02X)=%v want %v", tc.id, got, tc.want)
		}
	}
}
