package power

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"periph.io/x/conn/v3/physic"
)

func TestParseMicro(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"3712000\n", 3712000, false},
		{"-250000", -250000, false},
		{"  42 ", 42, false},
		{"\n", 0, true},
		{"3.7", 0, true},
	}
	for _, tc := range cases {
		got, err := parseMicro(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("parseMicro(%q)=%d,%v want %d err=%v", tc.in, got, err, tc.want, tc.wantErr)
		}
	}
}

func writeAttr(t *testing.T, dir, name, val string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(val), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestSysfsMonitor_Read(t *testing.T) {
	dir := t.TempDir()
	m := SysfsMonitor{
		VoltagePath: writeAttr(t, dir, "voltage_now", "3712000\n"),
		CurrentPath: writeAttr(t, dir, "current_now", "-250000\n"),
	}
	r, err := m.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.Voltage != 3712*physic.MilliVolt {
		t.Fatalf("voltage=%s want 3.712V", r.Voltage)
	}
	if !r.HaveCurrent || r.Current != -250*physic.MilliAmpere {
		t.Fatalf("current=%s have=%v", r.Current, r.HaveCurrent)
	}
	if math.Abs(r.Volts()-3.712) > 1e-9 || math.Abs(r.Amps()+0.25) > 1e-9 {
		t.Fatalf("volts=%v amps=%v", r.Volts(), r.Amps())
	}
}

func TestSysfsMonitor_VoltageOnly(t *testing.T) {
	dir := t.TempDir()
	m := SysfsMonitor{VoltagePath: writeAttr(t, dir, "voltage_now", "4100000")}
	r, err := m.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.HaveCurrent {
		t.Fatalf("unexpected current")
	}
}

func TestSysfsMonitor_Errors(t *testing.T) {
	if _, err := (SysfsMonitor{}).Read(); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := (SysfsMonitor{VoltagePath: filepath.Join(t.TempDir(), "missing")}).Read(); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
