package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"flightlog/internal/record"
)

func TestCreate_WritesMagicAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flights", "a.bin")
	f, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if f.CurrentSize() != 4 {
		t.Fatalf("size=%d want 4", f.CurrentSize())
	}

	rec := record.BarometricRecord{RelativeAltitudeM: 2, TimestampUS: 5}
	if err := f.Append(rec.AppendBinary(nil)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if err := f.Append([]byte{1}); err == nil {
		t.Fatalf("append after close succeeded")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	want := append([]byte("M510"), rec.AppendBinary(nil)...)
	if !bytes.Equal(b, want) {
		t.Fatalf("file=% x want % x", b, want)
	}
}

func TestCreate_RefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.bin")
	if err := os.WriteFile(path, []byte("keep"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if _, err := Create(path); err == nil {
		t.Fatalf("expected error for existing file")
	}
	b, _ := os.ReadFile(path)
	if string(b) != "keep" {
		t.Fatalf("existing file modified: %q", b)
	}
}

func TestFileName(t *testing.T) {
	id := uuid.MustParse("0123abcd-0000-4000-8000-000000000000")
	now := time.Date(2025, 4, 12, 9, 5, 7, 0, time.UTC)
	got := FileName("log", now, id)
	if got != "log_20250412_090507_0123abcd.bin" {
		t.Fatalf("name=%q", got)
	}
	if !strings.HasPrefix(FileName("", now, id), "log_") {
		t.Fatalf("empty prefix not defaulted")
	}
}
