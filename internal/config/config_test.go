package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_EmptyFileGetsDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Sensor.I2CBus != "/dev/i2c-1" || cfg.Sensor.Address != 0x35 || cfg.Sensor.Range != "low" {
		t.Fatalf("sensor defaults=%+v", cfg.Sensor)
	}
	if cfg.Calibration.NeutralDuration != 1500*time.Millisecond || cfg.Calibration.SampleInterval != 10*time.Millisecond {
		t.Fatalf("calibration defaults=%+v", cfg.Calibration)
	}
	if cfg.Menu.PressNorm != 0.55 || cfg.Menu.ReleaseNorm != 0.30 || cfg.Menu.AxisRatio != 2 {
		t.Fatalf("menu defaults=%+v", cfg.Menu)
	}
	if cfg.Battery.CheckInterval != 60*time.Second || cfg.Battery.CutoffVolts != 3.3 {
		t.Fatalf("battery defaults=%+v", cfg.Battery)
	}
	if cfg.Joystick.AnalogGamma != 1 || cfg.Joystick.HysteresisExitNorm != 0.16 {
		t.Fatalf("joystick defaults=%+v", cfg.Joystick)
	}
	if cfg.MQTT.TopicPrefix != "tmagjoy" || cfg.Web.Listen != ":8080" {
		t.Fatalf("outer defaults mqtt=%+v web=%+v", cfg.MQTT, cfg.Web)
	}
}

func TestLoad_ParsesValues(t *testing.T) {
	path := writeTempConfig(t, `
sensor:
  enable: true
  i2c_bus: /dev/i2c-3
  address: 0x22
  range: HIGH
  averaging: 2
calibration:
  sweep_duration: 7s
menu:
  enable: true
  press_norm: 0.7
  release_norm: 0.4
mqtt:
  enable: true
  broker: tcp://localhost:1883
  topic_prefix: devices/joy/
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Sensor.Enable || cfg.Sensor.I2CBus != "/dev/i2c-3" || cfg.Sensor.Address != 0x22 || cfg.Sensor.Range != "high" || cfg.Sensor.Averaging != 2 {
		t.Fatalf("sensor=%+v", cfg.Sensor)
	}
	if cfg.Calibration.SweepDuration != 7*time.Second {
		t.Fatalf("sweep=%s want 7s", cfg.Calibration.SweepDuration)
	}
	if cfg.MQTT.TopicPrefix != "devices/joy" {
		t.Fatalf("prefix=%q", cfg.MQTT.TopicPrefix)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"ReleaseAbovePress", "menu:\n  press_norm: 0.4\n  release_norm: 0.5\n", "menu.release_norm must be < menu.press_norm"},
		{"PressOutOfRange", "menu:\n  press_norm: 0.99\n", "menu.press_norm must be in [0.20, 0.95]"},
		{"AxisRatio", "menu:\n  axis_ratio: 8\n", "menu.axis_ratio must be in [1, 4]"},
		{"Hysteresis", "joystick:\n  hysteresis_enter_norm: 0.3\n  hysteresis_exit_norm: 0.2\n", "joystick.hysteresis_exit_norm must be >= joystick.hysteresis_enter_norm"},
		{"Deadzone", "joystick:\n  deadzone_norm: 0.95\n", "joystick.deadzone_norm must be in [0, 0.9]"},
		{"Range", "sensor:\n  range: medium\n", "sensor.range must be low or high"},
		{"Address", "sensor:\n  address: 0x80\n", "sensor.address must be a 7-bit address"},
		{"Averaging", "sensor:\n  averaging: 9\n", "sensor.averaging must be 0..5"},
		{"MQTTBroker", "mqtt:\n  enable: true\n", "mqtt.broker is required when mqtt.enable is true"},
		{"CoarseSampling", "calibration:\n  sample_interval: 100ms\n", "calibration.sample_interval too coarse for calibration.neutral_duration"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.yaml))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	path := writeTempConfig(t, "menu:\n  press: 0.5\n")
	_, err := Load(path)
	requireErrEq(t, err, "config contains unknown fields: field press not found in type config.MenuConfig")
}

func TestDefaultAndValidate_Nil(t *testing.T) {
	requireErrEq(t, DefaultAndValidate(nil), "config is nil")
}

func TestDefaultAndValidate_Idempotent(t *testing.T) {
	var cfg Config
	if err := DefaultAndValidate(&cfg); err != nil {
		t.Fatalf("first: %v", err)
	}
	again := cfg
	if err := DefaultAndValidate(&again); err != nil {
		t.Fatalf("second: %v", err)
	}
	if again != cfg {
		t.Fatalf("second pass changed config:\n%+v\n%+v", cfg, again)
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "tmagjoy.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Sensor.Enable || !cfg.Menu.Enable || !cfg.Joystick.Hysteresis || cfg.Joystick.AnalogGamma != 1.5 {
		t.Fatalf("cfg=%+v", cfg)
	}
}
