// Package export decodes flight logs on the ground into engineering units
// and writes them out as CSV and plots.
package export

import (
	"errors"
	"fmt"
	"io"
	"math"

	"flightlog/internal/record"
	"flightlog/internal/sensors/mpu6886"
)

// Scale converts raw IMU counts to engineering units.
type Scale struct {
	AccelGPerLSB  float64
	GyroDPSPerLSB float64
}

// Datasheet sensitivities (LSB per unit) by full-scale setting.
var (
	accelSensitivity = map[int]float64{2: 16384, 4: 8192, 8: 4096, 16: 2048}
	gyroSensitivity  = map[int]float64{250: 131, 500: 65.5, 1000: 32.8, 2000: 16.4}
)

// ScaleFor returns the scale for the given full-scale ranges in g and dps.
func ScaleFor(accelFS, gyroFS int) (Scale, error) {
	a, ok := accelSensitivity[accelFS]
	if !ok {
		return Scale{}, fmt.Errorf("export: unsupported accel full scale %d g", accelFS)
	}
	g, ok := gyroSensitivity[gyroFS]
	if !ok {
		return Scale{}, fmt.Errorf("export: unsupported gyro full scale %d dps", gyroFS)
	}
	return Scale{AccelGPerLSB: 1 / a, GyroDPSPerLSB: 1 / g}, nil
}

// DefaultScale matches the logger's IMU configuration.
func DefaultScale() Scale {
	s, _ := ScaleFor(mpu6886.AccelFullScale, mpu6886.GyroFullScale)
	return s
}

type IMURow struct {
	// T is seconds since the first record in the file.
	T     float64
	Accel [3]float64
	Gyro  [3]float64
	TempC float64
}

type BaroRow struct {
	T         float64
	AltitudeM float64
}

type Flight struct {
	IMU  []IMURow
	Baro []BaroRow
	// Truncated is set when the file ends inside a record.
	Truncated bool
	// Bytes is the number of bytes decoded, header included.
	Bytes int64
}

// unwrapper extends u32 microsecond timestamps. Deltas are taken as signed so
// that small backward steps (back-dated barometer frames) are not mistaken
// for rollover.
type unwrapper struct {
	last uint32
	ext  int64
}

func (u *unwrapper) next(ts uint32) int64 {
	u.ext += int64(int32(ts - u.last))
	u.last = ts
	return u.ext
}

// Decode reads a whole log. A truncated trailing record is reported through
// Flight.Truncated, not as an error. Any other format error is returned along
// with everything decoded before it.
func Decode(r io.Reader, sc Scale) (*Flight, error) {
	rr := record.NewReader(r)
	f := &Flight{}

	var imuT, baroT unwrapper
	seeded := false
	for {
		rec, err := rr.Next()
		if err != nil {
			f.Bytes = rr.Offset()
			if errors.Is(err, io.EOF) {
				return f, nil
			}
			if errors.Is(err, record.ErrTruncated) {
				f.Truncated = true
				return f, nil
			}
			return f, err
		}
		if !seeded {
			imuT = unwrapper{last: rec.Timestamp()}
			baroT = imuT
			seeded = true
		}
		switch v := rec.(type) {
		case record.MotionRecord:
			f.IMU = append(f.IMU, imuRow(v, seconds(imuT.next(v.TimestampUS)), sc))
		case record.BarometricRecord:
			f.Baro = append(f.Baro, BaroRow{
				T:         seconds(baroT.next(v.TimestampUS)),
				AltitudeM: float64(v.RelativeAltitudeM),
			})
		}
	}
}

func seconds(us int64) float64 { return float64(us) / 1e6 }

func imuRow(m record.MotionRecord, t float64, sc Scale) IMURow {
	row := IMURow{T: t, TempC: float64(m.Raw.Temp)/mpu6886.TempLSBPerC + mpu6886.TempOffsetC}
	for i := 0; i < 3; i++ {
		row.Accel[i] = float64(m.Raw.Accel[i]) * sc.AccelGPerLSB
		row.Gyro[i] = float64(m.Raw.Gyro[i]) * sc.GyroDPSPerLSB
	}
	return row
}

type Summary struct {
	MotionRecords int
	BaroRecords   int
	Truncated     bool
	// Start and End span both record types, in seconds.
	Start, End float64

	MaxAltitudeM   float64
	MaxAltitudeAtS float64
	MaxAccelG      float64
	MaxAccelAtS    float64
}

func (f *Flight) Summary() Summary {
	s := Summary{
		MotionRecords: len(f.IMU),
		BaroRecords:   len(f.Baro),
		Truncated:     f.Truncated,
		Start:         math.Inf(1),
		End:           math.Inf(-1),
		MaxAltitudeM:  math.Inf(-1),
	}
	span := func(t float64) {
		s.Start = math.Min(s.Start, t)
		s.End = math.Max(s.End, t)
	}
	for _, r := range f.IMU {
		span(r.T)
		if a := math.Sqrt(r.Accel[0]*r.Accel[0] + r.Accel[1]*r.Accel[1] + r.Accel[2]*r.Accel[2]); a > s.MaxAccelG {
			s.MaxAccelG, s.MaxAccelAtS = a, r.T
		}
	}
	for _, r := range f.Baro {
		span(r.T)
		if r.AltitudeM > s.MaxAltitudeM {
			s.MaxAltitudeM, s.MaxAltitudeAtS = r.AltitudeM, r.T
		}
	}
	if len(f.IMU) == 0 && len(f.Baro) == 0 {
		s.Start, s.End = 0, 0
	}
	if len(f.Baro) == 0 {
		s.MaxAltitudeM = 0
	}
	return s
}

// Duration is the span between the first and last record in seconds.
func (s Summary) Duration() float64 { return s.End - s.Start }
