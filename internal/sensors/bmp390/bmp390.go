package bmp390

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"flightlog/internal/i2c"
)

var sleep = time.Sleep

// BMP390 driver.
//
// Supports chip ID, NVM compensation, forced-mode reads (used for ground
// calibration) and FIFO streaming with pressure, temperature and sensor time.

const (
	addrPrimary   = 0x76
	addrSecondary = 0x77

	regChipID = 0x00
	chipID390 = 0x60
	chipID388 = 0x50

	regErr        = 0x02
	regData       = 0x04
	regSensorTime = 0x0C
	regFIFOLength = 0x12
	regFIFOData   = 0x14
	regFIFOWTM    = 0x15
	regFIFOCfg1   = 0x17
	regFIFOCfg2   = 0x18
	regPwrCtrl    = 0x1B
	regOSR        = 0x1C
	regODR        = 0x1D
	regConfig     = 0x1F
	regNVM        = 0x31
	nvmLen        = 21
	regCmd        = 0x7E

	cmdSoftReset = 0xB6
	cmdFIFOFlush = 0xB0

	pwrPress  = 0x01
	pwrTemp   = 0x02
	modeForce = 0x10
	modeNorm  = 0x30

	fifoMode       = 0x01
	fifoStopOnFull = 0x02
	fifoTime       = 0x04
	fifoPress      = 0x08
	fifoTemp       = 0x10
	fifoFiltered   = 0x08

	// FIFO capacity in bytes.
	fifoSize = 512
)

// Sensor time is a 24-bit counter clocked at 25.6 kHz.
const (
	SensorTimeHz   = 25600
	SensorTimeBits = 24
)

var (
	ErrConfigFrame = errors.New("bmp390: fifo config error frame")
	ErrFrameHeader = errors.New("bmp390: unknown fifo frame header")
)

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

// Timing is the measurement configuration that determines sample cadence.
type Timing struct {
	PressEnabled bool
	TempEnabled  bool
	// PressOSR and TempOSR are register codes: oversampling is 2^code.
	PressOSR uint8
	TempOSR  uint8
	// ODR is the register code: the output period is 5 ms << code.
	ODR uint8
}

// ConversionMicros is the total measurement time for one sample.
func (t Timing) ConversionMicros() uint32 {
	c := uint32(234)
	if t.PressEnabled {
		c += 392 + (uint32(1)<<t.PressOSR)*2020
	}
	if t.TempEnabled {
		c += 163 + (uint32(1)<<t.TempOSR)*2020
	}
	return c
}

func (t Timing) ODRPeriodMicros() uint32 {
	return uint32(5000) << t.ODR
}

// SamplePeriodMicros is the effective inter-sample period: a sample cannot be
// produced faster than its conversion completes.
func (t Timing) SamplePeriodMicros() uint32 {
	return max(t.ConversionMicros(), t.ODRPeriodMicros())
}

func (t Timing) validate() error {
	if t.PressOSR > 5 || t.TempOSR > 5 {
		return fmt.Errorf("bmp390: oversampling code out of range (press=%d temp=%d)", t.PressOSR, t.TempOSR)
	}
	if t.ODR > 17 {
		return fmt.Errorf("bmp390: odr code %d out of range", t.ODR)
	}
	if !t.PressEnabled {
		return fmt.Errorf("bmp390: pressure must be enabled")
	}
	return nil
}

type Config struct {
	Timing Timing
	// IIR is the filter coefficient code (0 = off, 7 = coeff 127).
	IIR uint8
	// FIFOFrames sets the watermark in pressure+temperature frames.
	FIFOFrames int
}

// DefaultConfig is 100 Hz, pressure x2, temperature x1, IIR coefficient 7.
func DefaultConfig() Config {
	return Config{
		Timing:     Timing{PressEnabled: true, TempEnabled: true, PressOSR: 1, TempOSR: 0, ODR: 1},
		IIR:        3,
		FIFOFrames: 50,
	}
}

// Frame is one decoded pressure sample from the FIFO.
type Frame struct {
	PressurePa   float64
	TemperatureC float64
}

// Drain is the result of one FIFO read.
type Drain struct {
	// Frames are newest first.
	Frames []Frame
	// SensorTime is the 24-bit sensor time read with the batch.
	SensorTime uint32
	// Timing is the configuration in effect when the batch was read.
	Timing Timing
}

type calib struct {
	t1, t2, t3                                   float64
	p1, p2, p3, p4, p5, p6, p7, p8, p9, p10, p11 float64
}

type Device struct {
	dev regIO
	cfg Config
	cal calib

	// Last compensated temperature, used for pressure-only frames.
	tLin float64
	buf  [fifoSize + 4]byte
}

func DefaultAddresses() []uint16 { return []uint16{addrPrimary, addrSecondary} }

// Detect returns the first address in addrs answering with a chip ID the
// driver accepts (BMP390 or BMP388).
func Detect(bus *i2c.Bus, addrs ...uint16) (uint16, error) {
	if len(addrs) == 0 {
		addrs = DefaultAddresses()
	}
	return bus.Probe(regChipID, supportedChip, addrs...)
}

func supportedChip(id byte) bool { return id == chipID390 || id == chipID388 }

func New(dev *i2c.Dev, cfg Config) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("bmp390: dev is nil")
	}
	return newWithIO(dev, cfg)
}

func newWithIO(dev regIO, cfg Config) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("bmp390: dev is nil")
	}
	if err := cfg.Timing.validate(); err != nil {
		return nil, err
	}
	if cfg.IIR > 7 {
		return nil, fmt.Errorf("bmp390: iir code %d out of range", cfg.IIR)
	}
	if cfg.FIFOFrames <= 0 {
		cfg.FIFOFrames = DefaultConfig().FIFOFrames
	}
	d := &Device{dev: dev, cfg: cfg}

	id, err := d.dev.ReadRegU8(regChipID)
	if err != nil {
		return nil, fmt.Errorf("bmp390: id read failed: %w", err)
	}
	if !supportedChip(id) {
		return nil, fmt.Errorf("bmp390: chip id=0x%02X want 0x%02X", id, chipID390)
	}

	if err := d.dev.WriteReg(regCmd, cmdSoftReset); err != nil {
		return nil, fmt.Errorf("bmp390: reset failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	// NVM can read back as zeros right after reset.
	var calibErr error
	for i := 0; i < 3; i++ {
		calibErr = d.readCalibration()
		if calibErr == nil {
			break
		}
		sleep(5 * time.Millisecond)
	}
	if calibErr != nil {
		return nil, calibErr
	}
	return d, nil
}

func (d *Device) readCalibration() error {
	b := make([]byte, nvmLen)
	if err := d.dev.ReadReg(regNVM, b); err != nil {
		return fmt.Errorf("bmp390: read nvm failed: %w", err)
	}
	t1 := binary.LittleEndian.Uint16(b[0:2])
	p5 := binary.LittleEndian.Uint16(b[11:13])
	if t1 == 0 || p5 == 0 {
		return fmt.Errorf("bmp390: calibration invalid (T1=%d P5=%d)", t1, p5)
	}
	s8 := func(i int) float64 { return float64(int8(b[i])) }
	s16 := func(i int) float64 { return float64(int16(binary.LittleEndian.Uint16(b[i : i+2]))) }
	u16 := func(i int) float64 { return float64(binary.LittleEndian.Uint16(b[i : i+2])) }

	d.cal = calib{
		t1:  math.Ldexp(float64(t1), 8),
		t2:  math.Ldexp(u16(2), -30),
		t3:  math.Ldexp(s8(4), -48),
		p1:  math.Ldexp(s16(5)-16384, -20),
		p2:  math.Ldexp(s16(7)-16384, -29),
		p3:  math.Ldexp(s8(9), -32),
		p4:  math.Ldexp(s8(10), -37),
		p5:  math.Ldexp(float64(p5), 3),
		p6:  math.Ldexp(u16(13), -6),
		p7:  math.Ldexp(s8(15), -8),
		p8:  math.Ldexp(s8(16), -15),
		p9:  math.Ldexp(s16(17), -48),
		p10: math.Ldexp(s8(19), -48),
		p11: math.Ldexp(s8(20), -65),
	}
	return nil
}

func (d *Device) Config() Config { return d.cfg }

func (d *Device) Timing() Timing { return d.cfg.Timing }

// ReadPressure takes one forced-mode measurement and returns pressure in Pa.
// The device must not be streaming.
func (d *Device) ReadPressure() (float64, error) {
	_, p, err := d.ReadForced()
	return p, err
}

// ReadForced triggers one measurement and returns temperature (C) and
// pressure (Pa).
func (d *Device) ReadForced() (tempC, pressPa float64, err error) {
	if err := d.writeMeasurementConfig(); err != nil {
		return 0, 0, err
	}
	if err := d.dev.WriteReg(regPwrCtrl, pwrPress|pwrTemp|modeForce); err != nil {
		return 0, 0, fmt.Errorf("bmp390: forced mode failed: %w", err)
	}
	t := d.cfg.Timing
	t.TempEnabled = true
	sleep(time.Duration(t.ConversionMicros()+500) * time.Microsecond)

	buf := make([]byte, 6)
	if err := d.dev.ReadReg(regData, buf); err != nil {
		return 0, 0, fmt.Errorf("bmp390: read data failed: %w", err)
	}
	uP := u24(buf[0:3])
	uT := u24(buf[3:6])
	d.tLin = d.compensateTemp(uT)
	return d.tLin, d.compensatePress(uP), nil
}

// StartFIFO switches to normal mode with FIFO streaming of pressure,
// temperature and sensor time. Any stale FIFO content is flushed.
func (d *Device) StartFIFO() error {
	if err := d.dev.WriteReg(regPwrCtrl, 0x00); err != nil {
		return fmt.Errorf("bmp390: sleep mode failed: %w", err)
	}
	if err := d.writeMeasurementConfig(); err != nil {
		return err
	}

	wtm := d.cfg.FIFOFrames * 7
	if wtm > fifoSize-7 {
		wtm = fifoSize - 7
	}
	if err := d.dev.WriteReg(regFIFOWTM, byte(wtm)); err != nil {
		return fmt.Errorf("bmp390: fifo watermark failed: %w", err)
	}
	if err := d.dev.WriteReg(regFIFOWTM+1, byte(wtm>>8)&0x01); err != nil {
		return fmt.Errorf("bmp390: fifo watermark failed: %w", err)
	}
	if err := d.dev.WriteReg(regFIFOCfg2, fifoFiltered); err != nil {
		return fmt.Errorf("bmp390: fifo config 2 failed: %w", err)
	}
	cfg1 := byte(fifoMode | fifoStopOnFull | fifoTime | fifoPress)
	if d.cfg.Timing.TempEnabled {
		cfg1 |= fifoTemp
	}
	if err := d.dev.WriteReg(regFIFOCfg1, cfg1); err != nil {
		return fmt.Errorf("bmp390: fifo config 1 failed: %w", err)
	}
	if err := d.dev.WriteReg(regCmd, cmdFIFOFlush); err != nil {
		return fmt.Errorf("bmp390: fifo flush failed: %w", err)
	}

	pwr := byte(pwrPress | modeNorm)
	if d.cfg.Timing.TempEnabled {
		pwr |= pwrTemp
	}
	if err := d.dev.WriteReg(regPwrCtrl, pwr); err != nil {
		return fmt.Errorf("bmp390: normal mode failed: %w", err)
	}
	if e, err := d.dev.ReadRegU8(regErr); err == nil && e&0x04 != 0 {
		return fmt.Errorf("bmp390: sensor rejected configuration (err=0x%02X)", e)
	}
	return nil
}

// StopFIFO puts the sensor back to sleep.
func (d *Device) StopFIFO() error {
	if err := d.dev.WriteReg(regPwrCtrl, 0x00); err != nil {
		return fmt.Errorf("bmp390: sleep mode failed: %w", err)
	}
	return d.dev.WriteReg(regFIFOCfg1, 0x00)
}

func (d *Device) writeMeasurementConfig() error {
	t := d.cfg.Timing
	if err := d.dev.WriteReg(regOSR, t.TempOSR<<3|t.PressOSR); err != nil {
		return fmt.Errorf("bmp390: osr write failed: %w", err)
	}
	if err := d.dev.WriteReg(regODR, t.ODR); err != nil {
		return fmt.Errorf("bmp390: odr write failed: %w", err)
	}
	if err := d.dev.WriteReg(regConfig, d.cfg.IIR<<1); err != nil {
		return fmt.Errorf("bmp390: config write failed: %w", err)
	}
	return nil
}

// FIFOLength returns the number of bytes waiting in the FIFO.
func (d *Device) FIFOLength() (uint16, error) {
	var b [2]byte
	if err := d.dev.ReadReg(regFIFOLength, b[:]); err != nil {
		return 0, fmt.Errorf("bmp390: fifo length read failed: %w", err)
	}
	return binary.LittleEndian.Uint16(b[:]) & 0x01FF, nil
}

// SensorTime reads the 24-bit sensor time registers.
func (d *Device) SensorTime() (uint32, error) {
	var b [3]byte
	if err := d.dev.ReadReg(regSensorTime, b[:]); err != nil {
		return 0, fmt.Errorf("bmp390: sensor time read failed: %w", err)
	}
	return u24(b[:]), nil
}

// DrainFIFO reads everything currently in the FIFO.
func (d *Device) DrainFIFO() (Drain, error) {
	n, err := d.FIFOLength()
	if err != nil {
		return Drain{Timing: d.cfg.Timing}, err
	}
	return d.DrainN(n)
}

// DrainN reads n FIFO bytes, n being a fill level just read with FIFOLength.
// Reading past the last frame makes the sensor append a sensor-time frame, so
// the read asks for four extra bytes. n == 0 yields an empty Drain without
// bus traffic.
func (d *Device) DrainN(n uint16) (Drain, error) {
	out := Drain{Timing: d.cfg.Timing}
	if n == 0 {
		return out, nil
	}
	if n > fifoSize {
		n = fifoSize
	}
	raw := d.buf[:int(n)+4]
	if err := d.dev.ReadReg(regFIFOData, raw); err != nil {
		return out, fmt.Errorf("bmp390: fifo read failed: %w", err)
	}

	frames, st, haveTime, err := d.parse(raw)
	if err != nil {
		return out, err
	}
	if !haveTime {
		st, err = d.SensorTime()
		if err != nil {
			return out, err
		}
	}
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	out.Frames = frames
	out.SensorTime = st
	return out, nil
}

// parse decodes frames oldest first. A trailing partial frame is ignored.
func (d *Device) parse(b []byte) (frames []Frame, sensorTime uint32, haveTime bool, err error) {
	for i := 0; i < len(b); {
		h := b[i]
		i++
		switch h {
		case 0x94:
			if len(b)-i < 6 {
				return frames, sensorTime, haveTime, nil
			}
			d.tLin = d.compensateTemp(u24(b[i : i+3]))
			frames = append(frames, Frame{PressurePa: d.compensatePress(u24(b[i+3 : i+6])), TemperatureC: d.tLin})
			i += 6
		case 0x84:
			if len(b)-i < 3 {
				return frames, sensorTime, haveTime, nil
			}
			frames = append(frames, Frame{PressurePa: d.compensatePress(u24(b[i : i+3])), TemperatureC: d.tLin})
			i += 3
		case 0x90:
			if len(b)-i < 3 {
				return frames, sensorTime, haveTime, nil
			}
			d.tLin = d.compensateTemp(u24(b[i : i+3]))
			i += 3
		case 0xA0:
			if len(b)-i < 3 {
				return frames, sensorTime, haveTime, nil
			}
			sensorTime = u24(b[i : i+3])
			haveTime = true
			i += 3
		case 0x48:
			i++
		case 0x44:
			return nil, 0, false, ErrConfigFrame
		case 0x80:
			return frames, sensorTime, haveTime, nil
		default:
			return nil, 0, false, fmt.Errorf("%w 0x%02X at %d", ErrFrameHeader, h, i-1)
		}
	}
	return frames, sensorTime, haveTime, nil
}

func (d *Device) compensateTemp(uT uint32) float64 {
	c := &d.cal
	pd1 := float64(uT) - c.t1
	pd2 := pd1 * c.t2
	return pd2 + pd1*pd1*c.t3
}

func (d *Device) compensatePress(uP uint32) float64 {
	c := &d.cal
	t := d.tLin
	p := float64(uP)

	out1 := c.p5 + c.p6*t + c.p7*t*t + c.p8*t*t*t
	out2 := p * (c.p1 + c.p2*t + c.p3*t*t + c.p4*t*t*t)
	pd3 := p * p * (c.p9 + c.p10*t)
	pd4 := pd3 + p*p*p*c.p11
	return out1 + out2 + pd4
}

func u24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
