package web

import (
	"time"

	"flightlog/internal/session"
)

// StatusSnapshot is the JSON view of the session manager.
type StatusSnapshot struct {
	Service   string `json:"service"`
	NowUTC    string `json:"now_utc"`
	UptimeSec int64  `json:"uptime_sec"`

	State      string `json:"state"`
	SessionID  string `json:"session_id,omitempty"`
	Path       string `json:"path,omitempty"`
	StartedUTC string `json:"started_utc,omitempty"`
	ElapsedSec int64  `json:"elapsed_sec,omitempty"`

	ReferencePa float64 `json:"reference_pa,omitempty"`
	ReferenceSD float64 `json:"reference_sd_pa,omitempty"`

	BytesWritten uint64 `json:"bytes_written"`
	MotionQueued int    `json:"motion_queued"`
	BaroQueued   int    `json:"baro_queued"`

	Counters map[string]uint64 `json:"counters,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

func statusFrom(snap session.Snapshot, now, bootedAt time.Time) StatusSnapshot {
	st := StatusSnapshot{
		Service:      "flightlogger",
		NowUTC:       now.UTC().Format(time.RFC3339Nano),
		UptimeSec:    int64(now.Sub(bootedAt).Seconds()),
		State:        snap.State.String(),
		Path:         snap.Path,
		ReferencePa:  snap.ReferencePa,
		ReferenceSD:  snap.ReferenceSD,
		BytesWritten: snap.BytesWritten,
		MotionQueued: snap.MotionQueued,
		BaroQueued:   snap.BaroQueued,
		LastError:    snap.LastError,
	}
	if !snap.StartedAt.IsZero() {
		st.SessionID = snap.SessionID.String()
		st.StartedUTC = snap.StartedAt.UTC().Format(time.RFC3339)
		st.ElapsedSec = int64(now.Sub(snap.StartedAt).Seconds())
		a, w := snap.Acquire, snap.Writer
		st.Counters = map[string]uint64{
			"motion_pushed":  a.MotionPushed,
			"motion_dropped": a.MotionDropped,
			"motion_errors":  a.MotionErrors,
			"baro_pushed":    a.BaroPushed,
			"baro_dropped":   a.BaroDropped,
			"fifo_errors":    a.FIFOErrors,
			"decode_errors":  a.DecodeErrors,
			"invalid_frames": a.InvalidFrames,
			"batches":        a.Batches,
			"flushes":        w.Flushes,
			"flush_errors":   w.FlushErrors,
			"motion_written": w.MotionWritten,
			"baro_written":   w.BaroWritten,
		}
	}
	return st
}
