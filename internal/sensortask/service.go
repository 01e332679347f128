// Package sensortask runs the joystick sensor loop: request handling,
// calibration stepping, live monitor/menu decoding and battery protection,
// all from one goroutine.
package sensortask

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tmagjoy/internal/joystick"
	"tmagjoy/internal/power"
	"tmagjoy/internal/settings"
)

var nowFn = time.Now
var afterFn = time.After

// FieldReader is the raw sensor.
type FieldReader interface {
	ReadField() (joystick.Vec2, error)
}

// SettingsStore persists calibration and tuning.
type SettingsStore interface {
	Load() (settings.File, error)
	SaveCalibration(joystick.Record) error
	SaveTuning(settings.Tuning) error
}

// BatteryReader samples the battery.
type BatteryReader interface {
	Read() (power.Reading, error)
}

type Config struct {
	Sensor   FieldReader
	Settings SettingsStore
	// Battery and Protector are optional.
	Battery   BatteryReader
	Protector *power.Protector

	// Base is the calibration used when no valid record is stored.
	Base   joystick.Calibration
	Timing joystick.Timing
	// DirectionBiasRad rotates the 8-way sector grid.
	DirectionBiasRad float64
	AnalogDeadzone   float64
	AnalogGamma      float64

	Menu joystick.MenuTuning

	MenuEnabled       bool
	MonitorEnabled    bool
	PowerStatsEnabled bool

	MonitorInterval      time.Duration
	StatsInterval        time.Duration
	BatteryCheckInterval time.Duration

	QueueDepth int
	EventDepth int

	// StatusSink, when set, receives a copy of the status after every wake.
	// It is called from the loop goroutine and must not block.
	StatusSink func(Status)
}

// MenuEvent is one synthetic button press from menu navigation.
type MenuEvent struct {
	Direction joystick.Direction `json:"direction"`
	Time      time.Time          `json:"time"`
}

// Status is the published snapshot. Copied by value.
type Status struct {
	Stage    joystick.Stage `json:"stage"`
	Progress float64        `json:"progress"`
	Retry    bool           `json:"retry"`
	Retries  int            `json:"retries"`

	Direction joystick.Direction `json:"direction"`
	NX        float64            `json:"nx"`
	NY        float64            `json:"ny"`
	AnalogX   float64            `json:"analog_x"`
	AnalogY   float64            `json:"analog_y"`
	FieldX    float64            `json:"field_x_mt"`
	FieldY    float64            `json:"field_y_mt"`
	RAbsMT    float64            `json:"r_abs_mt"`

	Span                 joystick.Vec2 `json:"span_mt"`
	ThresholdMT          joystick.Vec2 `json:"threshold_mt"`
	DigitalThresholdNorm float64       `json:"digital_threshold_norm"`
	DeadzoneNorm         float64       `json:"deadzone_norm"`
	AbsDeadzoneMT        float64       `json:"abs_deadzone_mt"`
	CalibrationValid     bool          `json:"calibration_valid"`

	Tuning joystick.MenuTuning `json:"menu_tuning"`

	MenuEnabled       bool `json:"menu_enabled"`
	MonitorEnabled    bool `json:"monitor_enabled"`
	PowerStatsEnabled bool `json:"power_stats_enabled"`
	PrimaryUI         bool `json:"primary_ui"`

	SensorOK bool `json:"sensor_ok"`

	BatteryValid bool    `json:"battery_valid"`
	BatteryVolts float64 `json:"battery_volts"`
	BatteryAmps  float64 `json:"battery_amps"`
	PowerLatched bool    `json:"power_latched"`

	RequestsDropped uint64 `json:"requests_dropped"`
	EventsDropped   uint64 `json:"events_dropped"`

	LastUpdateAt time.Time `json:"last_update_utc,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

type Service struct {
	cfg Config

	mu   sync.RWMutex
	snap Status

	reqCh      chan Request
	events     chan MenuEvent
	settingsCh chan struct{}

	settingsPending atomic.Bool
	primaryUI       atomic.Bool
	reqDropped      atomic.Uint64
	evDropped       atomic.Uint64

	// Owned by the loop goroutine.
	cal       joystick.Calibration
	decoder   *joystick.Decoder
	session   *joystick.Session
	nav       *joystick.MenuNav
	menuOn    bool
	monitorOn bool
	statsOn   bool
	sensorErr string
	powerErr  string
	lastStats time.Time
	lastCheck time.Time

	wg       sync.WaitGroup
	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config) *Service {
	if cfg.Base == (joystick.Calibration{}) {
		cfg.Base = joystick.DefaultCalibration()
	}
	cfg.Base.Normalize()
	cfg.Timing = cfg.Timing.WithDefaults()
	if cfg.Menu == (joystick.MenuTuning{}) {
		cfg.Menu = joystick.DefaultMenuTuning()
	}
	if cfg.AnalogGamma <= 0 {
		cfg.AnalogGamma = 1
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 100 * time.Millisecond
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 1 * time.Second
	}
	if cfg.BatteryCheckInterval <= 0 {
		cfg.BatteryCheckInterval = 60 * time.Second
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 8
	}
	if cfg.EventDepth <= 0 {
		cfg.EventDepth = 8
	}

	s := &Service{
		cfg:        cfg,
		reqCh:      make(chan Request, cfg.QueueDepth),
		events:     make(chan MenuEvent, cfg.EventDepth),
		settingsCh: make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		cal:        cfg.Base,
		session:    joystick.NewSession(cfg.Timing),
		nav:        joystick.NewMenuNav(cfg.Menu),
		menuOn:     cfg.MenuEnabled,
		monitorOn:  cfg.MonitorEnabled,
		statsOn:    cfg.PowerStatsEnabled,
	}
	s.decoder = joystick.NewDecoder(s.cal, cfg.DirectionBiasRad)
	s.primaryUI.Store(true)
	return s
}

// Status returns a copy of the latest snapshot.
func (s *Service) Status() Status {
	if s == nil {
		return Status{}
	}
	s.mu.RLock()
	st := s.snap
	s.mu.RUnlock()
	st.RequestsDropped = s.reqDropped.Load()
	st.EventsDropped = s.evDropped.Load()
	st.PrimaryUI = s.primaryUI.Load()
	return st
}

// Tuning returns the current menu tuning and deadzone.
func (s *Service) Tuning() settings.Tuning {
	st := s.Status()
	return settings.Tuning{
		PressNorm:    st.Tuning.PressNorm,
		ReleaseNorm:  st.Tuning.ReleaseNorm,
		AxisRatio:    st.Tuning.AxisRatio,
		DeadzoneNorm: st.DeadzoneNorm,
	}
}

// Events delivers menu button events. Events are dropped when nobody reads.
func (s *Service) Events() <-chan MenuEvent {
	if s == nil {
		return nil
	}
	return s.events
}

// Submit enqueues r without blocking. A full queue drops the request.
func (s *Service) Submit(r Request) {
	if s == nil || r == 0 {
		return
	}
	select {
	case s.reqCh <- r:
	default:
		s.reqDropped.Add(1)
	}
}

// NotifySettingsChanged asks the loop to reload persisted settings. The reload
// waits until no calibration is running or awaiting save.
func (s *Service) NotifySettingsChanged() {
	if s == nil {
		return
	}
	s.settingsPending.Store(true)
	select {
	case s.settingsCh <- struct{}{}:
	default:
	}
}

// SetPrimaryUI gates menu navigation events.
func (s *Service) SetPrimaryUI(v bool) {
	if s == nil {
		return
	}
	s.primaryUI.Store(v)
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("sensortask: service is nil")
	}
	if s.cfg.Settings == nil {
		return fmt.Errorf("sensortask: settings store is nil")
	}
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("sensortask: already started")
	}
	s.reloadSettings()
	s.publish()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	return nil
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context) {
	for {
		var timer <-chan time.Time
		if d, ok := s.nextTimeout(nowFn()); ok {
			timer = afterFn(d)
		}
		var req Request
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case req = <-s.reqCh:
		case <-s.settingsCh:
		case <-timer:
		}
		s.wake(nowFn(), req)
	}
}

// nextTimeout is the bounded wait before the next wake. ok=false means wait
// for a request indefinitely.
func (s *Service) nextTimeout(now time.Time) (time.Duration, bool) {
	var best time.Duration
	have := false
	consider := func(d time.Duration) {
		if d < 0 {
			d = 0
		}
		if !have || d < best {
			best, have = d, true
		}
	}
	if s.session.Active() {
		consider(s.cfg.Timing.SampleInterval)
	}
	if s.monitorOn || s.menuOn {
		consider(s.cfg.MonitorInterval)
	}
	if s.cfg.Battery != nil {
		if s.statsOn {
			consider(dueIn(now, s.lastStats, s.cfg.StatsInterval))
		}
		if s.cfg.Protector != nil && !s.cfg.Protector.Latched() {
			consider(dueIn(now, s.lastCheck, s.cfg.BatteryCheckInterval))
		}
	}
	return best, have
}

func dueIn(now, last time.Time, every time.Duration) time.Duration {
	if last.IsZero() {
		return 0
	}
	return last.Add(every).Sub(now)
}

// wake runs one loop iteration. req may be zero.
func (s *Service) wake(now time.Time, req Request) {
	s.applyPendingSettings()
	for _, f := range req.Flags() {
		s.dispatch(now, f)
	}
	// save_cal and cal_abort return the session to Idle.
	s.applyPendingSettings()

	// One sensor read per wake, shared by calibration and live decoding.
	calDue := s.session.Active() && s.session.SampleDue(now)
	live := s.monitorOn || s.menuOn
	var (
		field   joystick.Vec2
		readErr = errNoRead
	)
	if calDue || live {
		field, readErr = s.read()
	}

	if s.session.Active() {
		prev := s.session.Stage()
		if s.session.Step(now, field, readErr == nil, &s.cal) {
			s.decoder.SetCalibration(s.cal)
			st := s.session.Stage()
			if st == prev {
				log.Printf("sensortask: calibration stage %s retry %d", st, s.session.Retries())
			} else {
				log.Printf("sensortask: calibration stage %s -> %s", prev, st)
			}
		}
	}

	var sample joystick.Sample
	if live {
		sample, _ = s.decoder.DecodeRead(func() (joystick.Vec2, error) { return field, readErr })
	}

	if s.menuOn && readErr == nil && s.primaryUI.Load() && !s.session.Active() {
		if d, fired := s.nav.Update(sample.Unit); fired {
			s.emit(MenuEvent{Direction: d, Time: now})
		}
	}

	s.pollPower(now)

	s.setState(func(st *Status) {
		st.Stage = s.session.Stage()
		st.Progress = s.session.Progress()
		st.Retry = s.session.Retry()
		st.Retries = s.session.Retries()
		if live {
			st.Direction = sample.Direction
			st.NX, st.NY = sample.Norm.X, sample.Norm.Y
			a := joystick.Proportional(sample.Unit, s.analogDeadzone(), s.cfg.AnalogGamma)
			st.AnalogX, st.AnalogY = a.X, a.Y
			st.FieldX, st.FieldY = sample.Field.X, sample.Field.Y
			st.RAbsMT = sample.RAbsMT
		}
	})
	s.publish()
}

// applyPendingSettings runs a deferred reload once the session is Idle. A
// finished but unsaved run still owns the live calibration.
func (s *Service) applyPendingSettings() {
	if s.settingsPending.Load() && s.session.Stage() == joystick.StageIdle {
		s.settingsPending.Store(false)
		s.reloadSettings()
	}
}

var errNoRead = errors.New("sensortask: no sample this tick")

func (s *Service) read() (joystick.Vec2, error) {
	if s.cfg.Sensor == nil {
		return joystick.Vec2{}, errors.New("sensortask: no sensor")
	}
	v, err := s.cfg.Sensor.ReadField()
	if err != nil {
		if msg := err.Error(); msg != s.sensorErr {
			log.Printf("sensortask: sensor read failed: %v", err)
			s.sensorErr = msg
			s.setState(func(st *Status) {
				st.SensorOK = false
				st.LastError = msg
			})
		}
		return joystick.Vec2{}, err
	}
	if s.sensorErr != "" {
		log.Printf("sensortask: sensor read recovered")
		s.sensorErr = ""
	}
	s.setState(func(st *Status) { st.SensorOK = true })
	return v, nil
}

func (s *Service) analogDeadzone() float64 {
	if s.cfg.AnalogDeadzone > 0 {
		return s.cfg.AnalogDeadzone
	}
	return s.cal.DeadzoneNorm
}

func (s *Service) emit(ev MenuEvent) {
	select {
	case s.events <- ev:
	default:
		s.evDropped.Add(1)
	}
}

func (s *Service) dispatch(now time.Time, f Request) {
	switch f {
	case ReqCalAbort:
		dz := s.cal.DeadzoneNorm
		if s.session.Abort(&s.cal) {
			s.decoder.SetCalibration(s.cal)
			s.decoder.Reset()
			log.Printf("sensortask: calibration aborted, previous calibration restored")
			// Deadzone steps taken during the run were persisted; put the
			// restored value back on disk too.
			if s.cal.DeadzoneNorm != dz {
				s.saveTuning()
			}
		}

	case ReqStartNeutralCal, ReqStartExtentsCal:
		if s.session.Active() {
			log.Printf("sensortask: %s ignored, calibration already running", f)
			return
		}
		mode := joystick.ModeExtents
		if f == ReqStartNeutralCal {
			mode = joystick.ModeNeutral
		}
		s.session.Start(now, mode, s.cal)
		s.decoder.Reset()
		s.nav.Reset()
		log.Printf("sensortask: calibration started (%s)", f)

	case ReqSaveCal:
		if st := s.session.Stage(); st != joystick.StageDone {
			log.Printf("sensortask: save ignored: calibration not complete (stage %s)", st)
			return
		}
		// The run stays Done until the record is on disk so a failed
		// save can be retried.
		next := s.cal
		next.Valid = true
		if err := s.cfg.Settings.SaveCalibration(next.Record()); err != nil {
			log.Printf("sensortask: save calibration failed: %v", err)
			s.setErr(fmt.Sprintf("sensortask: save calibration: %v", err))
			return
		}
		rec, err := s.session.Commit(&s.cal)
		if err != nil {
			log.Printf("sensortask: save ignored: %v", err)
			return
		}
		s.decoder.SetCalibration(s.cal)
		log.Printf("sensortask: calibration saved (span %.1f/%.1f mT, rot %.1f°)", rec.SpanX, rec.SpanY, rec.RotationDeg)

	case ReqMenuOn:
		s.menuOn = true
	case ReqMenuOff:
		s.menuOn = false
		s.nav.Reset()
	case ReqMonitorOn:
		s.monitorOn = true
	case ReqMonitorOff:
		s.monitorOn = false

	case ReqDeadzoneInc, ReqDeadzoneDec:
		step := joystick.DeadzoneStep
		if f == ReqDeadzoneDec {
			step = -step
		}
		s.cal.SetDeadzone(s.cal.DeadzoneNorm + step)
		s.decoder.SetCalibration(s.cal)
		s.saveTuning()

	case ReqMenuPressUp, ReqMenuPressDown, ReqMenuReleaseUp, ReqMenuReleaseDown, ReqMenuRatioUp, ReqMenuRatioDown:
		s.nav.SetTuning(s.nav.Tuning().Adjust(menuAdjust[f]))
		s.saveTuning()

	case ReqPowerStatsOn:
		s.statsOn = true
	case ReqPowerStatsOff:
		s.statsOn = false
		s.setState(func(st *Status) { st.BatteryValid = false })
	}
}

var menuAdjust = map[Request]joystick.MenuAdjust{
	ReqMenuPressUp:     joystick.PressUp,
	ReqMenuPressDown:   joystick.PressDown,
	ReqMenuReleaseUp:   joystick.ReleaseUp,
	ReqMenuReleaseDown: joystick.ReleaseDown,
	ReqMenuRatioUp:     joystick.RatioUp,
	ReqMenuRatioDown:   joystick.RatioDown,
}

func (s *Service) currentTuning() settings.Tuning {
	m := s.nav.Tuning()
	return settings.Tuning{
		PressNorm:    m.PressNorm,
		ReleaseNorm:  m.ReleaseNorm,
		AxisRatio:    m.AxisRatio,
		DeadzoneNorm: s.cal.DeadzoneNorm,
	}
}

func (s *Service) saveTuning() {
	if err := s.cfg.Settings.SaveTuning(s.currentTuning()); err != nil {
		s.setErr(fmt.Sprintf("sensortask: save tuning: %v", err))
	}
}

// reloadSettings applies the persisted record and tuning. A load failure
// counts as an invalid record.
func (s *Service) reloadSettings() {
	if s.cfg.Settings == nil {
		return
	}
	f, err := s.cfg.Settings.Load()
	if err != nil {
		log.Printf("sensortask: settings load failed, using defaults: %v", err)
		s.setErr(err.Error())
		f = settings.File{}
	}
	cal := joystick.ApplyRecord(s.cfg.Base, f.Calibration)
	tun := s.cfg.Menu
	// Tuning is always written whole, so a present section carries the
	// deadzone even when it is 0.
	if !f.Tuning.IsZero() {
		if f.Tuning.PressNorm > 0 {
			tun = f.Tuning.Menu()
		}
		cal.SetDeadzone(f.Tuning.DeadzoneNorm)
	}
	s.cal = cal
	s.decoder.SetCalibration(cal)
	s.nav.SetTuning(tun)
}

func (s *Service) pollPower(now time.Time) {
	if s.cfg.Battery == nil {
		return
	}
	statsDue := s.statsOn && dueIn(now, s.lastStats, s.cfg.StatsInterval) <= 0
	checkDue := s.cfg.Protector != nil && !s.cfg.Protector.Latched() &&
		dueIn(now, s.lastCheck, s.cfg.BatteryCheckInterval) <= 0
	if !statsDue && !checkDue {
		return
	}
	if statsDue {
		s.lastStats = now
	}
	if checkDue {
		s.lastCheck = now
	}

	r, err := s.cfg.Battery.Read()
	if err != nil {
		if msg := err.Error(); msg != s.powerErr {
			log.Printf("sensortask: battery read failed: %v", err)
			s.powerErr = msg
			s.setErr(msg)
		}
		return
	}
	s.powerErr = ""

	if statsDue {
		s.setState(func(st *Status) {
			st.BatteryValid = true
			st.BatteryVolts = r.Volts()
			st.BatteryAmps = r.Amps()
		})
	}
	if checkDue {
		latched, err := s.cfg.Protector.Check(now, r.Voltage)
		if err != nil {
			s.setErr(fmt.Sprintf("sensortask: power switch: %v", err))
		}
		if latched {
			s.setState(func(st *Status) { st.PowerLatched = true })
		}
	}
}

func (s *Service) setErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastError = msg
	s.snap.LastUpdateAt = nowFn().UTC()
}

func (s *Service) setState(update func(*Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update(&s.snap)
	s.snap.LastUpdateAt = nowFn().UTC()
}

// publish refreshes the calibration-derived status fields and hands a copy
// to the sink.
func (s *Service) publish() {
	c := s.cal
	tun := s.nav.Tuning()
	s.setState(func(st *Status) {
		st.Span = c.Span
		st.ThresholdMT = c.ThresholdMT
		st.DigitalThresholdNorm = c.DigitalThresholdNorm
		st.DeadzoneNorm = c.DeadzoneNorm
		st.AbsDeadzoneMT = c.AbsDeadzoneMT
		st.CalibrationValid = c.Valid
		st.Tuning = tun
		st.MenuEnabled = s.menuOn
		st.MonitorEnabled = s.monitorOn
		st.PowerStatsEnabled = s.statsOn
	})
	if s.cfg.StatusSink != nil {
		s.cfg.StatusSink(s.Status())
	}
}
