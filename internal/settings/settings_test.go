package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tmagjoy/internal/joystick"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return &Store{Path: filepath.Join(t.TempDir(), "state", "settings.yaml")}
}

func TestLoad_MissingFileIsInvalidRecord(t *testing.T) {
	s := newStore(t)
	f, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Calibration.Valid || !f.Tuning.IsZero() {
		t.Fatalf("file=%+v want zero", f)
	}
}

func TestLoad_CorruptFileErrors(t *testing.T) {
	s := newStore(t)
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path, []byte("calibration: [not, a, map\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(); err == nil || !strings.Contains(err.Error(), "settings: decode") {
		t.Fatalf("err=%v want decode error", err)
	}

	// Saving over a corrupt file recovers it.
	if err := s.SaveTuning(Tuning{PressNorm: 0.6, ReleaseNorm: 0.3, AxisRatio: 2}); err != nil {
		t.Fatalf("SaveTuning: %v", err)
	}
	f, err := s.Load()
	if err != nil || f.Tuning.PressNorm != 0.6 {
		t.Fatalf("file=%+v err=%v", f, err)
	}
}

func TestSave_SectionsAreIndependent(t *testing.T) {
	s := newStore(t)
	rec := joystick.Record{CenterX: 1.5, CenterY: -2, SpanX: 20, SpanY: 22, RotationDeg: 12.5, InvertY: true,
		ThresholdXMT: 5, ThresholdYMT: 5, AbsDeadzoneEnabled: true, AbsDeadzoneMT: 1.5, Valid: true}
	tun := Tuning{PressNorm: 0.5, ReleaseNorm: 0.25, AxisRatio: 2.5, DeadzoneNorm: 0.2}

	if err := s.SaveCalibration(rec); err != nil {
		t.Fatalf("SaveCalibration: %v", err)
	}
	if err := s.SaveTuning(tun); err != nil {
		t.Fatalf("SaveTuning: %v", err)
	}
	f, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Calibration != rec {
		t.Fatalf("calibration=%+v want %+v", f.Calibration, rec)
	}
	if f.Tuning != tun {
		t.Fatalf("tuning=%+v want %+v", f.Tuning, tun)
	}
	if m := f.Tuning.Menu(); m.PressNorm != 0.5 || m.AxisRatio != 2.5 {
		t.Fatalf("menu=%+v", m)
	}

	b, err := os.ReadFile(s.Path)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"calibration:", "center_x: 1.5", "tuning:", "deadzone_norm: 0.2"} {
		if !strings.Contains(string(b), key) {
			t.Fatalf("file missing %q:\n%s", key, b)
		}
	}
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 3; i++ {
		if err := s.SaveTuning(Tuning{PressNorm: 0.5}); err != nil {
			t.Fatalf("SaveTuning: %v", err)
		}
	}
	entries, err := os.ReadDir(filepath.Dir(s.Path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "settings.yaml" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("dir entries=%v", names)
	}
}

func TestStore_EmptyPath(t *testing.T) {
	s := &Store{}
	if _, err := s.Load(); err == nil {
		t.Fatalf("expected error")
	}
	if err := s.SaveCalibration(joystick.Record{}); err == nil {
		t.Fatalf("expected error")
	}
}
