package record

import (
	"encoding/binary"
	"math"
)

// Log format: binary, append-only, little-endian.
//
// - 4-byte magic "M510" at file start.
// - Records follow back to back. Each record is a 1-byte tag, a fixed-size
//   payload for that tag, then a u32 microsecond timestamp. There is no length
//   prefix: a reader walks the stream by tag-directed fixed sizes.
//
// Motion ('I'):      tag | 10 x int16 (ax ay az gx gy gz mx my mz temp) | u32 ts  = 25 bytes
// Barometric ('B'):  tag | float32 relative altitude (m)                | u32 ts  =  9 bytes

// Magic identifies a log file.
var Magic = [4]byte{'M', '5', '1', '0'}

const (
	TagMotion     byte = 'I'
	TagBarometric byte = 'B'

	MotionSize     = 1 + rawMotionSize + 4
	BarometricSize = 1 + 4 + 4

	rawMotionSize = 10 * 2
)

// Record is a single fixed-size entry of the log stream.
type Record interface {
	Tag() byte
	Size() int
	Timestamp() uint32
	// AppendBinary appends the encoded record (tag included) to dst.
	AppendBinary(dst []byte) []byte
}

// RawMotion is one sensor-native IMU sample in counts.
// Mag is zero for parts without a magnetometer.
type RawMotion struct {
	Accel [3]int16
	Gyro  [3]int16
	Mag   [3]int16
	Temp  int16
}

type MotionRecord struct {
	Raw         RawMotion
	TimestampUS uint32
}

func (MotionRecord) Tag() byte { return TagMotion }
func (MotionRecord) Size() int { return MotionSize }
func (m MotionRecord) Timestamp() uint32 { return m.TimestampUS }

func (m MotionRecord) AppendBinary(dst []byte) []byte {
	dst = append(dst, TagMotion)
	for _, v := range m.Raw.Accel {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
	}
	for _, v := range m.Raw.Gyro {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
	}
	for _, v := range m.Raw.Mag {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
	}
	dst = binary.LittleEndian.AppendUint16(dst, uint16(m.Raw.Temp))
	return binary.LittleEndian.AppendUint32(dst, m.TimestampUS)
}

type BarometricRecord struct {
	RelativeAltitudeM float32
	TimestampUS       uint32
}

func (BarometricRecord) Tag() byte { return TagBarometric }
func (BarometricRecord) Size() int { return BarometricSize }
func (b BarometricRecord) Timestamp() uint32 { return b.TimestampUS }

func (b BarometricRecord) AppendBinary(dst []byte) []byte {
	dst = append(dst, TagBarometric)
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(b.RelativeAltitudeM))
	return binary.LittleEndian.AppendUint32(dst, b.TimestampUS)
}

// SizeOf returns the encoded size for a tag, or 0 for unknown tags.
func SizeOf(tag byte) int {
	switch tag {
	case TagMotion:
		return MotionSize
	case TagBarometric:
		return BarometricSize
	default:
		return 0
	}
}

func decodeMotion(b []byte) MotionRecord {
	var m MotionRecord
	off := 1
	next := func() int16 {
		v := int16(binary.LittleEndian.Uint16(b[off : off+2]))
		off += 2
		return v
	}
	for i := range m.Raw.Accel {
		m.Raw.Accel[i] = next()
	}
	for i := range m.Raw.Gyro {
		m.Raw.Gyro[i] = next()
	}
	for i := range m.Raw.Mag {
		m.Raw.Mag[i] = next()
	}
	m.Raw.Temp = next()
	m.TimestampUS = binary.LittleEndian.Uint32(b[off : off+4])
	return m
}

func decodeBarometric(b []byte) BarometricRecord {
	return BarometricRecord{
		RelativeAltitudeM: math.Float32frombits(binary.LittleEndian.Uint32(b[1:5])),
		TimestampUS:       binary.LittleEndian.Uint32(b[5:9]),
	}
}
