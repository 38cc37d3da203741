package mpu6886

import (
	"errors"
	"fmt"
	"time"

	"flightlog/internal/i2c"
	"flightlog/internal/record"
)

var sleep = time.Sleep

// Minimal MPU6886 driver.
//
// Configures +/-16 g, +/-2000 dps at 1 kHz into the FIFO and hands out one
// raw packet per Poll.

const (
	addrDefault = 0x68

	regWhoAmI = 0x75
	whoAmIVal = 0x19

	regSmplrtDiv    = 0x19
	regConfig       = 0x1A
	regGyroConfig   = 0x1B
	regAccelConfig  = 0x1C
	regAccelConfig2 = 0x1D
	regFIFOEn       = 0x23
	regIntEnable    = 0x38
	regUserCtrl     = 0x6A
	regPwrMgmt1     = 0x6B
	regPwrMgmt2     = 0x6C
	regFIFOCountH   = 0x72
	regFIFORW       = 0x74

	bitReset     = 0x80
	clkAuto      = 0x01
	fsGyro2000   = 0x18
	fsAccel16g   = 0x18
	dlpf176Hz    = 0x01
	fifoAccelGyr = 0x18
	userFIFOEn   = 0x40
	userFIFORst  = 0x04

	// accel xyz, temperature, gyro xyz; big endian.
	packetSize = 14
	fifoSize   = 1024
)

// Sensitivity at the configured full-scale ranges.
const (
	AccelLSBPerG   = 2048.0
	GyroLSBPerDPS  = 16.4
	TempLSBPerC    = 326.8
	TempOffsetC    = 25.0
	SampleRateHz   = 1000
	AccelFullScale = 16
	GyroFullScale  = 2000
)

// FIFOPackets is how many whole packets the FIFO holds.
const FIFOPackets = fifoSize / packetSize

var ErrFIFOOverflow = errors.New("mpu6886: fifo overflow")

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

type Device struct {
	dev regIO

	buf [packetSize]byte
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("mpu6886: dev is nil")
	}
	return newWithIO(dev)
}

func newWithIO(dev regIO) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("mpu6886: dev is nil")
	}
	d := &Device{dev: dev}

	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("mpu6886: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("mpu6886: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) init() error {
	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("mpu6886: reset failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	if err := d.dev.WriteReg(regPwrMgmt1, clkAuto); err != nil {
		return fmt.Errorf("mpu6886: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	steps := []struct {
		reg  byte
		val  byte
		what string
	}{
		{regPwrMgmt2, 0x00, "enable axes"},
		{regIntEnable, 0x00, "interrupts"},
		{regAccelConfig, fsAccel16g, "accel config"},
		{regAccelConfig2, 0x00, "accel config 2"},
		{regGyroConfig, fsGyro2000, "gyro config"},
		// 1 kHz internal rate, divider 0.
		{regConfig, dlpf176Hz, "config"},
		{regSmplrtDiv, 0x00, "sample rate"},
	}
	for _, s := range steps {
		if err := d.dev.WriteReg(s.reg, s.val); err != nil {
			return fmt.Errorf("mpu6886: %s failed: %w", s.what, err)
		}
	}
	return nil
}

// StartFIFO clears the FIFO and starts buffering accel+gyro packets.
func (d *Device) StartFIFO() error {
	if err := d.dev.WriteReg(regFIFOEn, fifoAccelGyr); err != nil {
		return fmt.Errorf("mpu6886: fifo enable failed: %w", err)
	}
	return d.resetFIFO()
}

// StopFIFO stops buffering.
func (d *Device) StopFIFO() error {
	if err := d.dev.WriteReg(regFIFOEn, 0x00); err != nil {
		return fmt.Errorf("mpu6886: fifo disable failed: %w", err)
	}
	return d.dev.WriteReg(regUserCtrl, 0x00)
}

func (d *Device) resetFIFO() error {
	if err := d.dev.WriteReg(regUserCtrl, userFIFORst); err != nil {
		return fmt.Errorf("mpu6886: fifo reset failed: %w", err)
	}
	if err := d.dev.WriteReg(regUserCtrl, userFIFOEn); err != nil {
		return fmt.Errorf("mpu6886: fifo start failed: %w", err)
	}
	return nil
}

// FIFOCount returns the number of buffered bytes.
func (d *Device) FIFOCount() (int, error) {
	var b [2]byte
	if err := d.dev.ReadReg(regFIFOCountH, b[:]); err != nil {
		return 0, fmt.Errorf("mpu6886: fifo count read failed: %w", err)
	}
	return int(b[0]&0x1F)<<8 | int(b[1]), nil
}

// Poll returns the oldest buffered packet. ok is false when none is waiting.
// A FIFO that has filled up has lost packet alignment, so it is reset and
// ErrFIFOOverflow is returned.
func (d *Device) Poll() (raw record.RawMotion, ok bool, err error) {
	n, err := d.FIFOCount()
	if err != nil {
		return raw, false, err
	}
	if n > fifoSize-packetSize {
		if rerr := d.resetFIFO(); rerr != nil {
			return raw, false, errors.Join(ErrFIFOOverflow, rerr)
		}
		return raw, false, ErrFIFOOverflow
	}
	if n < packetSize {
		return raw, false, nil
	}
	if err := d.dev.ReadReg(regFIFORW, d.buf[:]); err != nil {
		return raw, false, fmt.Errorf("mpu6886: fifo read failed: %w", err)
	}
	return decodePacket(d.buf[:]), true, nil
}

func decodePacket(b []byte) record.RawMotion {
	be := func(i int) int16 { return int16(b[i])<<8 | int16(b[i+1]) }
	return record.RawMotion{
		Accel: [3]int16{be(0), be(2), be(4)},
		Temp:  be(6),
		Gyro:  [3]int16{be(8), be(10), be(12)},
	}
}
