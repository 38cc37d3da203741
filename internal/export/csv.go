package export

import (
	"encoding/csv"
	"io"
	"strconv"
)

var (
	imuHeader  = []string{"timestamp_sec", "accel_x_g", "accel_y_g", "accel_z_g", "gyro_x_dps", "gyro_y_dps", "gyro_z_dps", "temp_c"}
	baroHeader = []string{"timestamp_sec", "altitude_m"}
)

func ff(v float64, prec int) string { return strconv.FormatFloat(v, 'f', prec, 64) }

func WriteIMUCSV(w io.Writer, rows []IMURow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(imuHeader); err != nil {
		return err
	}
	rec := make([]string, len(imuHeader))
	for _, r := range rows {
		rec[0] = ff(r.T, 6)
		for i := 0; i < 3; i++ {
			rec[1+i] = ff(r.Accel[i], 5)
			rec[4+i] = ff(r.Gyro[i], 4)
		}
		rec[7] = ff(r.TempC, 2)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteBaroCSV(w io.Writer, rows []BaroRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(baroHeader); err != nil {
		return err
	}
	rec := make([]string, len(baroHeader))
	for _, r := range rows {
		rec[0] = ff(r.T, 6)
		rec[1] = ff(r.AltitudeM, 3)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
