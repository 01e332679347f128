package tmag5273

import (
	"fmt"
	"time"

	"tmagjoy/internal/i2c"
	"tmagjoy/internal/joystick"
)

var sleep = time.Sleep

// TMAG5273 3-axis linear Hall sensor. Only X and Y are enabled; the stick
// magnet moves in the sensor's XY plane.

const (
	addrDefault = 0x35 // A1 variant

	regDeviceConfig1 = 0x00
	regDeviceConfig2 = 0x01
	regSensorConfig1 = 0x02
	regSensorConfig2 = 0x03
	regDeviceID      = 0x0D
	regManufacturerL = 0x0E
	regManufacturerH = 0x0F
	regXMSB          = 0x12
	regConvStatus    = 0x18

	manufacturerID = 0x5449

	// DEVICE_CONFIG_2 OPERATING_MODE.
	modeStandby    = 0x00
	modeContinuous = 0x02

	// SENSOR_CONFIG_1 MAG_CH_EN = X,Y.
	chanXY = 0x3 << 4

	// SENSOR_CONFIG_2 X_Y_RANGE.
	bitXYRangeHigh = 0x02

	// DEVICE_CONFIG_1 CONV_AVG field at bits 4:2.
	convAvgShift = 2
	convAvgMax   = 5

	// CONV_STATUS RESULT_STATUS.
	bitResultReady = 0x01
)

// Options select the measurement range and on-chip averaging.
type Options struct {
	// WideRange selects the ±80 mT (A1) or ±266 mT (A2) range.
	WideRange bool
	// Averaging is the CONV_AVG code (0..5 for 1x..32x).
	Averaging int
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

type Device struct {
	dev     regIO
	version byte
	rangeMT float64
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev, opts Options) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("tmag5273: dev is nil")
	}
	return newWithIO(dev, opts)
}

func newWithIO(dev regIO, opts Options) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("tmag5273: dev is nil")
	}
	if opts.Averaging < 0 || opts.Averaging > convAvgMax {
		return nil, fmt.Errorf("tmag5273: averaging code %d out of range 0..%d", opts.Averaging, convAvgMax)
	}
	d := &Device{dev: dev}

	var id [2]byte
	if err := d.dev.ReadReg(regManufacturerL, id[:]); err != nil {
		return nil, fmt.Errorf("tmag5273: manufacturer id read failed: %w", err)
	}
	if got := uint16(id[1])<<8 | uint16(id[0]); got != manufacturerID {
		return nil, fmt.Errorf("tmag5273: manufacturer id=0x%04X want 0x%04X", got, manufacturerID)
	}

	ver, err := d.dev.ReadRegU8(regDeviceID)
	if err != nil {
		return nil, fmt.Errorf("tmag5273: device id read failed: %w", err)
	}
	d.version = ver & 0x03
	r, err := rangeFor(d.version, opts.WideRange)
	if err != nil {
		return nil, err
	}
	d.rangeMT = r

	if err := d.init(opts); err != nil {
		return nil, err
	}
	return d, nil
}

func rangeFor(version byte, wide bool) (float64, error) {
	switch version {
	case 1:
		if wide {
			return 80, nil
		}
		return 40, nil
	case 2:
		if wide {
			return 266, nil
		}
		return 133, nil
	}
	return 0, fmt.Errorf("tmag5273: unknown device version %d", version)
}

func (d *Device) init(opts Options) error {
	if err := d.dev.WriteReg(regDeviceConfig2, modeStandby); err != nil {
		return fmt.Errorf("tmag5273: standby failed: %w", err)
	}
	if err := d.dev.WriteReg(regDeviceConfig1, byte(opts.Averaging)<<convAvgShift); err != nil {
		return fmt.Errorf("tmag5273: averaging config failed: %w", err)
	}
	if err := d.dev.WriteReg(regSensorConfig1, chanXY); err != nil {
		return fmt.Errorf("tmag5273: channel config failed: %w", err)
	}
	var rng byte
	if opts.WideRange {
		rng = bitXYRangeHigh
	}
	if err := d.dev.WriteReg(regSensorConfig2, rng); err != nil {
		return fmt.Errorf("tmag5273: range config failed: %w", err)
	}
	if err := d.dev.WriteReg(regDeviceConfig2, modeContinuous); err != nil {
		return fmt.Errorf("tmag5273: continuous mode failed: %w", err)
	}
	// Let the first XY conversion land before the first read.
	sleep(5 * time.Millisecond)
	return nil
}

// RangeMT is the configured full-scale field (mT).
func (d *Device) RangeMT() float64 { return d.rangeMT }

// Version is the DEVICE_ID VER field (1 = A1 40/80 mT, 2 = A2 133/266 mT).
func (d *Device) Version() byte { return d.version }

// Ready reports whether a fresh conversion result is available.
func (d *Device) Ready() (bool, error) {
	st, err := d.dev.ReadRegU8(regConvStatus)
	if err != nil {
		return false, fmt.Errorf("tmag5273: status read failed: %w", err)
	}
	return st&bitResultReady != 0, nil
}

// ReadField burst-reads the X/Y result registers and returns the field in mT.
func (d *Device) ReadField() (joystick.Vec2, error) {
	if d == nil {
		return joystick.Vec2{}, fmt.Errorf("tmag5273: device is nil")
	}
	var buf [4]byte
	if err := d.dev.ReadReg(regXMSB, buf[:]); err != nil {
		return joystick.Vec2{}, fmt.Errorf("tmag5273: read field failed: %w", err)
	}
	x := int16(uint16(buf[0])<<8 | uint16(buf[1]))
	y := int16(uint16(buf[2])<<8 | uint16(buf[3]))
	scale := d.rangeMT / 32768.0
	return joystick.Vec2{X: float64(x) * scale, Y: float64(y) * scale}, nil
}

// Close returns the sensor to standby.
func (d *Device) Close() error {
	if d == nil || d.dev == nil {
		return nil
	}
	return d.dev.WriteReg(regDeviceConfig2, modeStandby)
}
