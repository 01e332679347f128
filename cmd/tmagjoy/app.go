package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	"periph.io/x/conn/v3/physic"

	"tmagjoy/internal/config"
	"tmagjoy/internal/i2c"
	"tmagjoy/internal/joystick"
	"tmagjoy/internal/mqttpub"
	"tmagjoy/internal/power"
	"tmagjoy/internal/sensors/tmag5273"
	"tmagjoy/internal/sensortask"
	"tmagjoy/internal/settings"
	"tmagjoy/internal/web"
)

// app owns every long-lived component and their shutdown order.
type app struct {
	cfg config.Config

	bus    *i2c.Bus
	sensor *tmag5273.Device
	sw     power.Switch

	store *settings.Store
	task  *sensortask.Service
	bcast *web.Broadcaster
	mqtt  *mqttpub.Publisher

	done chan struct{}
	wg   sync.WaitGroup
}

// taskConfig maps the YAML config onto the sensor task. Hardware handles are
// filled in by newApp.
func taskConfig(cfg config.Config) sensortask.Config {
	base := joystick.DefaultCalibration()
	base.DeadzoneNorm = cfg.Joystick.DeadzoneNorm
	base.Hysteresis = joystick.Hysteresis{
		Enabled:   cfg.Joystick.Hysteresis,
		EnterNorm: cfg.Joystick.HysteresisEnterNorm,
		ExitNorm:  cfg.Joystick.HysteresisExitNorm,
	}
	base.DigitalThresholdNorm = cfg.Joystick.DigitalThresholdNorm

	return sensortask.Config{
		Base: base,
		Timing: joystick.Timing{
			SampleInterval:    cfg.Calibration.SampleInterval,
			ProgressInterval:  cfg.Calibration.ProgressInterval,
			NeutralDuration:   cfg.Calibration.NeutralDuration,
			DirectionDuration: cfg.Calibration.DirectionDuration,
			SweepDuration:     cfg.Calibration.SweepDuration,
		},
		DirectionBiasRad: cfg.Joystick.DirectionBiasDeg * math.Pi / 180,
		AnalogDeadzone:   cfg.Joystick.AnalogDeadzone,
		AnalogGamma:      cfg.Joystick.AnalogGamma,
		Menu: joystick.MenuTuning{
			PressNorm:   cfg.Menu.PressNorm,
			ReleaseNorm: cfg.Menu.ReleaseNorm,
			AxisRatio:   cfg.Menu.AxisRatio,
		},
		MenuEnabled:          cfg.Menu.Enable,
		MonitorEnabled:       cfg.Monitor.Enable,
		PowerStatsEnabled:    cfg.Battery.Enable && cfg.Battery.Stats,
		MonitorInterval:      cfg.Monitor.Interval,
		StatsInterval:        cfg.Battery.StatsInterval,
		BatteryCheckInterval: cfg.Battery.CheckInterval,
	}
}

func cutoffPotential(volts float64) physic.ElectricPotential {
	return physic.ElectricPotential(math.Round(volts * float64(physic.Volt)))
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}
	r := &app{
		cfg:   c,
		store: &settings.Store{Path: c.Settings.Path},
		bcast: web.NewBroadcaster(),
		done:  make(chan struct{}),
	}

	tc := taskConfig(c)
	tc.Settings = r.store

	// Keep running without the sensor; every read fails and the status says so.
	if c.Sensor.Enable {
		if err := r.openSensor(); err != nil {
			log.Printf("tmag5273 init failed: %v", err)
		} else {
			tc.Sensor = r.sensor
		}
	}

	if c.Battery.Enable {
		tc.Battery = power.SysfsMonitor{VoltagePath: c.Battery.VoltagePath, CurrentPath: c.Battery.CurrentPath}
		if strings.TrimSpace(c.Battery.SwitchChip) != "" {
			sw, err := power.OpenSwitch(power.SwitchConfig{
				Chip:      c.Battery.SwitchChip,
				Line:      c.Battery.SwitchLine,
				ActiveLow: c.Battery.SwitchActiveLow,
			})
			if err != nil {
				log.Printf("power switch init failed: %v", err)
			} else {
				r.sw = sw
			}
		}
		tc.Protector = power.NewProtector(cutoffPotential(c.Battery.CutoffVolts), c.Battery.CheckInterval, r.sw)
	}

	if c.MQTT.Enable {
		pub, err := mqttpub.New(mqttpub.Config{
			Broker:         c.MQTT.Broker,
			ClientID:       c.MQTT.ClientID,
			TopicPrefix:    c.MQTT.TopicPrefix,
			StatusInterval: c.MQTT.StatusInterval,
		})
		if err != nil {
			r.Close()
			return nil, err
		}
		r.mqtt = pub
	}

	tc.StatusSink = r.publishStatus
	r.task = sensortask.New(tc)
	// This host has no other UI owning the joystick, so menu events are live
	// whenever menu navigation is on.
	r.task.SetPrimaryUI(true)

	if err := r.task.Start(ctx); err != nil {
		r.Close()
		return nil, fmt.Errorf("sensortask start: %w", err)
	}
	if r.mqtt != nil {
		if err := r.mqtt.Start(ctx); err != nil {
			r.Close()
			return nil, fmt.Errorf("mqtt start: %w", err)
		}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.forwardEvents(ctx)
	}()
	return r, nil
}

func (r *app) openSensor() error {
	bus, err := i2c.Open(r.cfg.Sensor.I2CBus)
	if err != nil {
		return err
	}
	dev, err := tmag5273.New(bus.Dev(r.cfg.Sensor.Address), tmag5273.Options{
		WideRange: r.cfg.Sensor.Range == "high",
		Averaging: r.cfg.Sensor.Averaging,
	})
	if err != nil {
		_ = bus.Close()
		return err
	}
	r.bus = bus
	r.sensor = dev
	log.Printf("tmag5273 on %s addr=0x%02X version=%d range=±%.0f mT",
		bus.Path(), r.cfg.Sensor.Address, dev.Version(), dev.RangeMT())
	return nil
}

// publishStatus runs on the sensor task goroutine and must not block.
func (r *app) publishStatus(st sensortask.Status) {
	r.bcast.PublishStatus(st)
	r.mqtt.OfferStatus(st)
}

func (r *app) forwardEvents(ctx context.Context) {
	events := r.task.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case ev := <-events:
			log.Printf("menu: %s", ev.Direction)
			r.bcast.PublishMenu(ev)
			r.mqtt.OfferMenu(ev)
		}
	}
}

// Close stops producers before sinks, then releases hardware.
func (r *app) Close() {
	if r == nil {
		return
	}
	if r.task != nil {
		r.task.Close()
	}
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	r.wg.Wait()
	if r.mqtt != nil {
		r.mqtt.Close()
	}
	r.bcast.Close()
	if r.sensor != nil {
		if err := r.sensor.Close(); err != nil {
			log.Printf("tmag5273 standby failed: %v", err)
		}
	}
	if r.bus != nil {
		_ = r.bus.Close()
	}
	if r.sw != nil {
		_ = r.sw.Close()
	}
}
