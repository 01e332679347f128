package power

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Reading is one battery sample.
type Reading struct {
	Time    time.Time
	Voltage physic.ElectricPotential
	// Current is positive while charging on most fuel gauges; zero when
	// the current attribute is not available.
	Current     physic.ElectricCurrent
	HaveCurrent bool
}

// Volts returns the voltage as a float for JSON/status consumers.
func (r Reading) Volts() float64 { return float64(r.Voltage) / float64(physic.Volt) }

// Amps returns the current as a float.
func (r Reading) Amps() float64 { return float64(r.Current) / float64(physic.Ampere) }

// SysfsMonitor reads a Linux power_supply class device.
//
// voltage_now is in µV and current_now in µA per the kernel ABI.
type SysfsMonitor struct {
	VoltagePath string
	// CurrentPath is optional.
	CurrentPath string
}

func parseMicro(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("power: empty value")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("power: parse %q: %w", s, err)
	}
	return n, nil
}

func readMicro(path string) (int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("power: read %s: %w", path, err)
	}
	return parseMicro(string(b))
}

// Read samples voltage and, if configured, current.
func (m SysfsMonitor) Read() (Reading, error) {
	if m.VoltagePath == "" {
		return Reading{}, fmt.Errorf("power: voltage path is empty")
	}
	uv, err := readMicro(m.VoltagePath)
	if err != nil {
		return Reading{}, err
	}
	r := Reading{Time: nowFn(), Voltage: physic.ElectricPotential(uv) * physic.MicroVolt}
	if m.CurrentPath != "" {
		ua, err := readMicro(m.CurrentPath)
		if err != nil {
			return r, err
		}
		r.Current = physic.ElectricCurrent(ua) * physic.MicroAmpere
		r.HaveCurrent = true
	}
	return r, nil
}

var nowFn = time.Now
