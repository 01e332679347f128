package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Sensor      SensorConfig      `yaml:"sensor"`
	Joystick    JoystickConfig    `yaml:"joystick"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Menu        MenuConfig        `yaml:"menu"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Battery     BatteryConfig     `yaml:"battery"`
	Settings    SettingsConfig    `yaml:"settings"`
	Web         WebConfig         `yaml:"web"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
}

type SensorConfig struct {
	// Enable=false runs the service without hardware (every read fails).
	Enable  bool   `yaml:"enable"`
	I2CBus  string `yaml:"i2c_bus"`
	Address uint16 `yaml:"address"`
	// Range is "low" (±40/±133 mT) or "high" (±80/±266 mT).
	Range     string `yaml:"range"`
	Averaging int    `yaml:"averaging"`
}

type JoystickConfig struct {
	DeadzoneNorm         float64 `yaml:"deadzone_norm"`
	Hysteresis           bool    `yaml:"hysteresis"`
	HysteresisEnterNorm  float64 `yaml:"hysteresis_enter_norm"`
	HysteresisExitNorm   float64 `yaml:"hysteresis_exit_norm"`
	DigitalThresholdNorm float64 `yaml:"digital_threshold_norm"`
	DirectionBiasDeg     float64 `yaml:"direction_bias_deg"`
	AnalogDeadzone       float64 `yaml:"analog_deadzone"`
	AnalogGamma          float64 `yaml:"analog_gamma"`
}

type CalibrationConfig struct {
	SampleInterval    time.Duration `yaml:"sample_interval"`
	ProgressInterval  time.Duration `yaml:"progress_interval"`
	NeutralDuration   time.Duration `yaml:"neutral_duration"`
	DirectionDuration time.Duration `yaml:"direction_duration"`
	SweepDuration     time.Duration `yaml:"sweep_duration"`
}

type MenuConfig struct {
	Enable      bool    `yaml:"enable"`
	PressNorm   float64 `yaml:"press_norm"`
	ReleaseNorm float64 `yaml:"release_norm"`
	AxisRatio   float64 `yaml:"axis_ratio"`
}

type MonitorConfig struct {
	Enable   bool          `yaml:"enable"`
	Interval time.Duration `yaml:"interval"`
}

type BatteryConfig struct {
	Enable        bool          `yaml:"enable"`
	VoltagePath   string        `yaml:"voltage_path"`
	CurrentPath   string        `yaml:"current_path"`
	CutoffVolts   float64       `yaml:"cutoff_volts"`
	CheckInterval time.Duration `yaml:"check_interval"`
	StatsInterval time.Duration `yaml:"stats_interval"`
	// Stats enables periodic voltage/current polling at boot.
	Stats bool `yaml:"stats"`

	// Power switch GPIO. Empty chip disables the switch.
	SwitchChip      string `yaml:"switch_chip"`
	SwitchLine      int    `yaml:"switch_line"`
	SwitchActiveLow bool   `yaml:"switch_active_low"`
}

type SettingsConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	Enable         bool          `yaml:"enable"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	StatusInterval time.Duration `yaml:"status_interval"`
}

// Load reads path, rejecting unknown fields, and applies defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", unknownFieldDetail(err))
		}
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func unknownFieldDetail(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, "field "); i >= 0 {
		return msg[i:]
	}
	return msg
}

// DefaultAndValidate fills zero values with defaults and rejects inconsistent settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	s := &cfg.Sensor
	if s.I2CBus == "" {
		s.I2CBus = "/dev/i2c-1"
	}
	if s.Address == 0 {
		s.Address = 0x35
	}
	if s.Address > 0x7F {
		return fmt.Errorf("sensor.address must be a 7-bit address")
	}
	switch strings.ToLower(strings.TrimSpace(s.Range)) {
	case "", "low":
		s.Range = "low"
	case "high":
		s.Range = "high"
	default:
		return fmt.Errorf("sensor.range must be low or high")
	}
	if s.Averaging < 0 || s.Averaging > 5 {
		return fmt.Errorf("sensor.averaging must be 0..5")
	}

	j := &cfg.Joystick
	if j.DeadzoneNorm == 0 {
		j.DeadzoneNorm = 0.12
	}
	if j.DeadzoneNorm < 0 || j.DeadzoneNorm > 0.9 {
		return fmt.Errorf("joystick.deadzone_norm must be in [0, 0.9]")
	}
	if j.HysteresisEnterNorm == 0 {
		j.HysteresisEnterNorm = 0.10
	}
	if j.HysteresisExitNorm == 0 {
		j.HysteresisExitNorm = 0.16
	}
	if j.HysteresisExitNorm < j.HysteresisEnterNorm {
		return fmt.Errorf("joystick.hysteresis_exit_norm must be >= joystick.hysteresis_enter_norm")
	}
	if j.DigitalThresholdNorm == 0 {
		j.DigitalThresholdNorm = 0.35
	}
	if j.DigitalThresholdNorm < 0.05 || j.DigitalThresholdNorm > 0.9 {
		return fmt.Errorf("joystick.digital_threshold_norm must be in [0.05, 0.9]")
	}
	if j.AnalogDeadzone < 0 || j.AnalogDeadzone >= 1 {
		return fmt.Errorf("joystick.analog_deadzone must be in [0, 1)")
	}
	if j.AnalogGamma == 0 {
		j.AnalogGamma = 1
	}
	if j.AnalogGamma < 0 {
		return fmt.Errorf("joystick.analog_gamma must be > 0")
	}

	c := &cfg.Calibration
	if c.SampleInterval <= 0 {
		c.SampleInterval = 10 * time.Millisecond
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 100 * time.Millisecond
	}
	if c.NeutralDuration <= 0 {
		c.NeutralDuration = 1500 * time.Millisecond
	}
	if c.DirectionDuration <= 0 {
		c.DirectionDuration = 2500 * time.Millisecond
	}
	if c.SweepDuration <= 0 {
		c.SweepDuration = 5 * time.Second
	}
	if c.SampleInterval > c.NeutralDuration/40 {
		return fmt.Errorf("calibration.sample_interval too coarse for calibration.neutral_duration")
	}

	m := &cfg.Menu
	if m.PressNorm == 0 {
		m.PressNorm = 0.55
	}
	if m.ReleaseNorm == 0 {
		m.ReleaseNorm = 0.30
	}
	if m.AxisRatio == 0 {
		m.AxisRatio = 2.0
	}
	if m.PressNorm < 0.20 || m.PressNorm > 0.95 {
		return fmt.Errorf("menu.press_norm must be in [0.20, 0.95]")
	}
	if m.ReleaseNorm >= m.PressNorm {
		return fmt.Errorf("menu.release_norm must be < menu.press_norm")
	}
	if m.AxisRatio < 1 || m.AxisRatio > 4 {
		return fmt.Errorf("menu.axis_ratio must be in [1, 4]")
	}

	if cfg.Monitor.Interval <= 0 {
		cfg.Monitor.Interval = 100 * time.Millisecond
	}

	b := &cfg.Battery
	if b.VoltagePath == "" {
		b.VoltagePath = "/sys/class/power_supply/battery/voltage_now"
	}
	if b.CurrentPath == "" {
		b.CurrentPath = "/sys/class/power_supply/battery/current_now"
	}
	if b.CutoffVolts == 0 {
		b.CutoffVolts = 3.3
	}
	if b.CutoffVolts < 0 {
		return fmt.Errorf("battery.cutoff_volts must be > 0")
	}
	if b.CheckInterval <= 0 {
		b.CheckInterval = 60 * time.Second
	}
	if b.StatsInterval <= 0 {
		b.StatsInterval = 1 * time.Second
	}
	if b.SwitchChip != "" && b.SwitchLine < 0 {
		return fmt.Errorf("battery.switch_line must be >= 0")
	}

	if cfg.Settings.Path == "" {
		cfg.Settings.Path = "/var/lib/tmagjoy/settings.yaml"
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}

	q := &cfg.MQTT
	if q.Enable && strings.TrimSpace(q.Broker) == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
	}
	if q.ClientID == "" {
		q.ClientID = "tmagjoy"
	}
	if q.TopicPrefix == "" {
		q.TopicPrefix = "tmagjoy"
	}
	q.TopicPrefix = strings.TrimRight(q.TopicPrefix, "/")
	if q.StatusInterval <= 0 {
		q.StatusInterval = 1 * time.Second
	}
	return nil
}
