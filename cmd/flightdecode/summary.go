package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"flightlog/internal/catalog"
	"flightlog/internal/export"
)

func printFlightSummary(w io.Writer, path string, flight *export.Flight) {
	s := flight.Summary()
	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "bytes: %d\n", flight.Bytes)
	fmt.Fprintf(w, "truncated: %t\n", s.Truncated)
	fmt.Fprintf(w, "motion_records: %d\n", s.MotionRecords)
	fmt.Fprintf(w, "baro_records: %d\n", s.BaroRecords)
	fmt.Fprintf(w, "duration_s: %.3f\n", s.Duration())
	if s.BaroRecords > 0 {
		fmt.Fprintf(w, "max_altitude_m: %.2f at %.3fs\n", s.MaxAltitudeM, s.MaxAltitudeAtS)
	}
	if s.MotionRecords > 0 {
		fmt.Fprintf(w, "max_accel_g: %.2f at %.3fs\n", s.MaxAccelG, s.MaxAccelAtS)
	}
}

func printCatalog(ctx context.Context, w io.Writer, path string) error {
	c, err := catalog.Open(path)
	if err != nil {
		return err
	}
	defer c.Close()

	sessions, err := c.Sessions(ctx)
	if err != nil {
		return err
	}
	printSessions(w, sessions)
	return nil
}

func printSessions(w io.Writer, sessions []catalog.Session) {
	fmt.Fprintf(w, "sessions: %d\n", len(sessions))
	for _, s := range sessions {
		fmt.Fprintf(w, "- id: %s\n", s.ID)
		fmt.Fprintf(w, "  path: %s\n", s.Path)
		fmt.Fprintf(w, "  state: %s\n", s.State)
		fmt.Fprintf(w, "  started: %s\n", s.StartedAt.UTC().Format(time.RFC3339))
		if !s.StoppedAt.IsZero() {
			fmt.Fprintf(w, "  duration: %s\n", s.Duration().Round(time.Millisecond))
		}
		fmt.Fprintf(w, "  reference_pa: %.1f\n", s.ReferencePa)
		fmt.Fprintf(w, "  bytes: %d\n", s.BytesWritten)
		fmt.Fprintf(w, "  records: motion=%d baro=%d\n", s.MotionRecords, s.BaroRecords)
		if s.MotionDropped > 0 || s.BaroDropped > 0 {
			fmt.Fprintf(w, "  dropped: motion=%d baro=%d\n", s.MotionDropped, s.BaroDropped)
		}
		if s.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", s.Error)
		}
	}
}
