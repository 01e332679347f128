package joystick

import (
	"fmt"
	"math"
	"time"
)

// Stage is a calibration stage. Stages only advance in declaration order.
type Stage int

const (
	StageIdle Stage = iota
	StageNeutral
	StageUp
	StageRight
	StageDown
	StageLeft
	StageSweep
	StageDone
)

var stageNames = [...]string{
	StageIdle:    "idle",
	StageNeutral: "neutral",
	StageUp:      "up",
	StageRight:   "right",
	StageDown:    "down",
	StageLeft:    "left",
	StageSweep:   "sweep",
	StageDone:    "done",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Mode selects which stages a session runs.
type Mode int

const (
	// ModeExtents runs Neutral, the four directions, Sweep.
	ModeExtents Mode = iota
	// ModeNeutral only recenters.
	ModeNeutral
)

const (
	neutralMinSamples   = 40
	directionMinSamples = 8
	sweepMinSamples     = 50

	absDeadzoneGain = 2.5
	absDeadzoneMin  = 1.5
	absDeadzoneMax  = 12.0

	dirMinFloor = 0.6
	dirMinGain  = 1.6
	dirMinMax   = 12.0

	thresholdFrac    = 0.25
	thresholdMaxFrac = 0.60
	thresholdDZGain  = 1.2
	thresholdFloor   = 1.0
)

// Timing controls stage durations and polling cadence.
type Timing struct {
	SampleInterval    time.Duration
	ProgressInterval  time.Duration
	NeutralDuration   time.Duration
	DirectionDuration time.Duration
	SweepDuration     time.Duration
}

// DefaultTiming returns the stock calibration cadence.
func DefaultTiming() Timing {
	return Timing{
		SampleInterval:    10 * time.Millisecond,
		ProgressInterval:  100 * time.Millisecond,
		NeutralDuration:   1500 * time.Millisecond,
		DirectionDuration: 2500 * time.Millisecond,
		SweepDuration:     5 * time.Second,
	}
}

// WithDefaults fills zero durations from DefaultTiming.
func (t Timing) WithDefaults() Timing {
	d := DefaultTiming()
	if t.SampleInterval <= 0 {
		t.SampleInterval = d.SampleInterval
	}
	if t.ProgressInterval <= 0 {
		t.ProgressInterval = d.ProgressInterval
	}
	if t.NeutralDuration <= 0 {
		t.NeutralDuration = d.NeutralDuration
	}
	if t.DirectionDuration <= 0 {
		t.DirectionDuration = d.DirectionDuration
	}
	if t.SweepDuration <= 0 {
		t.SweepDuration = d.SweepDuration
	}
	return t
}

// Per-stage accumulators. Exactly one is live at a time.
type stageData interface{ stageData() }

type neutralData struct {
	n            int
	sum, sumSq   Vec2
	min, max     Vec2
	haveExtremes bool
}

type directionalData struct {
	n   int
	sum Vec2
}

type sweepData struct {
	n                int
	rawMin, rawMax   Vec2
	rotMin, rotMax   Vec2
	haveRaw, haveRot bool
}

func (*neutralData) stageData()     {}
func (*directionalData) stageData() {}
func (*sweepData) stageData()       {}

// Session is a calibration run in progress.
//
// It mutates the live calibration it is stepped with and keeps a snapshot
// of the calibration taken at Start for Abort. Not safe for concurrent use.
type Session struct {
	timing Timing
	mode   Mode

	stage      Stage
	stageStart time.Time
	lastSample time.Time
	lastProg   time.Time
	progress   float64
	retry      bool
	retries    int

	prior Calibration
	data  stageData

	noiseMT    float64
	deadzoneMT float64
	dirMinMT   float64

	// captured recentered means indexed by direction stage.
	captured map[Stage]Vec2
}

// NewSession returns an idle session.
func NewSession(t Timing) *Session {
	return &Session{timing: t.WithDefaults()}
}

// Stage returns the current stage.
func (s *Session) Stage() Stage { return s.stage }

// Active reports whether a run is in flight (not idle, not done).
func (s *Session) Active() bool {
	return s.stage != StageIdle && s.stage != StageDone
}

// Progress is the time-based completion fraction of the current stage.
func (s *Session) Progress() float64 { return s.progress }

// Retry reports whether the current stage is a retry of a failed attempt.
func (s *Session) Retry() bool { return s.retry }

// Retries counts stage retries during this run.
func (s *Session) Retries() int { return s.retries }

// NoiseMT is the RMS noise measured during Neutral.
func (s *Session) NoiseMT() float64 { return s.noiseMT }

// Start begins a run in mode, snapshotting live for Abort.
func (s *Session) Start(now time.Time, mode Mode, live Calibration) {
	s.mode = mode
	s.prior = live
	s.captured = make(map[Stage]Vec2, 4)
	s.noiseMT = 0
	s.deadzoneMT = 0
	s.dirMinMT = dirMinFloor
	s.retries = 0
	s.enter(now, StageNeutral, false)
}

// Abort restores the snapshot into live and clears the session. A Done run
// that was never committed is discarded the same way. It is a no-op when idle.
func (s *Session) Abort(live *Calibration) bool {
	if s.stage == StageIdle {
		return false
	}
	*live = s.prior
	s.clear()
	return true
}

// Commit finishes a Done run, marking live valid, and returns the record to persist.
func (s *Session) Commit(live *Calibration) (Record, error) {
	if s.stage != StageDone {
		return Record{}, fmt.Errorf("joystick: calibration not complete (stage %s)", s.stage)
	}
	live.Valid = true
	rec := live.Record()
	s.clear()
	return rec, nil
}

func (s *Session) clear() {
	s.stage = StageIdle
	s.data = nil
	s.progress = 0
	s.retry = false
	s.captured = nil
	s.prior = Calibration{}
}

func (s *Session) enter(now time.Time, st Stage, retry bool) {
	s.stage = st
	s.stageStart = now
	s.lastSample = time.Time{}
	s.lastProg = now
	s.progress = 0
	s.retry = retry
	if retry {
		s.retries++
	}
	switch st {
	case StageNeutral:
		s.data = &neutralData{}
	case StageUp, StageRight, StageDown, StageLeft:
		s.data = &directionalData{}
	case StageSweep:
		s.data = &sweepData{}
	default:
		s.data = nil
	}
	if st == StageDone {
		s.progress = 1
	}
}

func (s *Session) duration() time.Duration {
	switch s.stage {
	case StageNeutral:
		return s.timing.NeutralDuration
	case StageSweep:
		return s.timing.SweepDuration
	default:
		return s.timing.DirectionDuration
	}
}

// SampleDue reports whether the next fine-grained sample should be taken.
func (s *Session) SampleDue(now time.Time) bool {
	if !s.Active() {
		return false
	}
	return s.lastSample.IsZero() || now.Sub(s.lastSample) >= s.timing.SampleInterval
}

// Step advances the run. field/ok carry the sample read for this tick; a
// missing sample still lets timeouts and progress advance. It returns true
// when the stage changed.
func (s *Session) Step(now time.Time, field Vec2, ok bool, live *Calibration) bool {
	if !s.Active() {
		return false
	}
	if ok && s.SampleDue(now) {
		s.lastSample = now
		s.accumulate(field, *live)
	}

	dur := s.duration()
	elapsed := now.Sub(s.stageStart)
	if now.Sub(s.lastProg) >= s.timing.ProgressInterval || elapsed >= dur {
		s.lastProg = now
		s.progress = clamp(float64(elapsed)/float64(dur), 0, 1)
	}
	if elapsed < dur {
		return false
	}
	s.finishStage(now, live)
	return true
}

func (s *Session) accumulate(field Vec2, live Calibration) {
	switch d := s.data.(type) {
	case *neutralData:
		d.n++
		d.sum = d.sum.Add(field)
		d.sumSq = d.sumSq.Add(Vec2{field.X * field.X, field.Y * field.Y})
		if !d.haveExtremes {
			d.min, d.max = field, field
			d.haveExtremes = true
		} else {
			d.min, d.max = minVec(d.min, field), maxVec(d.max, field)
		}
	case *directionalData:
		delta := field.Sub(live.Center)
		if delta.Len() > s.dirMinMT {
			d.n++
			d.sum = d.sum.Add(delta)
		}
	case *sweepData:
		delta := field.Sub(live.Center)
		if delta.Len() <= s.deadzoneMT {
			return
		}
		d.n++
		if !d.haveRaw {
			d.rawMin, d.rawMax = delta, delta
			d.haveRaw = true
		} else {
			d.rawMin, d.rawMax = minVec(d.rawMin, delta), maxVec(d.rawMax, delta)
		}
		rot := live.Transform(field)
		if !d.haveRot {
			d.rotMin, d.rotMax = rot, rot
			d.haveRot = true
		} else {
			d.rotMin, d.rotMax = minVec(d.rotMin, rot), maxVec(d.rotMax, rot)
		}
	}
}

func (s *Session) finishStage(now time.Time, live *Calibration) {
	switch d := s.data.(type) {
	case *neutralData:
		if d.n < neutralMinSamples {
			s.enter(now, StageNeutral, true)
			return
		}
		s.applyNeutral(d, live)
		if s.mode == ModeNeutral {
			s.enter(now, StageDone, false)
			return
		}
		s.enter(now, StageUp, false)

	case *directionalData:
		if d.n < directionMinSamples {
			s.enter(now, s.stage, true)
			return
		}
		avg := d.sum.Scale(1 / float64(d.n))
		if avg.Len() < s.dirMinMT {
			s.enter(now, s.stage, true)
			return
		}
		s.captured[s.stage] = avg
		if s.stage != StageLeft {
			s.enter(now, s.stage+1, false)
			return
		}
		fit := SolveAxes(
			s.captured[StageUp], s.captured[StageRight],
			s.captured[StageDown], s.captured[StageLeft],
		)
		live.Rotation = fit.Rotation
		live.InvertX = fit.InvertX
		live.InvertY = fit.InvertY
		s.enter(now, StageSweep, false)

	case *sweepData:
		if d.n < sweepMinSamples {
			s.enter(now, StageSweep, true)
			return
		}
		s.applySweep(d, live)
		s.enter(now, StageDone, false)
	}
}

func (s *Session) applyNeutral(d *neutralData, live *Calibration) {
	n := float64(d.n)
	mean := d.sum.Scale(1 / n)
	mid := d.min.Add(d.max).Scale(0.5)
	live.Center = mean.Add(mid).Scale(0.5)

	varX := math.Max(0, d.sumSq.X/n-mean.X*mean.X)
	varY := math.Max(0, d.sumSq.Y/n-mean.Y*mean.Y)
	s.noiseMT = math.Sqrt(varX + varY)
	s.deadzoneMT = clamp(absDeadzoneGain*s.noiseMT, absDeadzoneMin, absDeadzoneMax)
	s.dirMinMT = math.Min(math.Max(dirMinFloor, s.noiseMT*dirMinGain), dirMinMax)

	live.AbsDeadzoneEnabled = true
	live.AbsDeadzoneMT = s.deadzoneMT
}

func (s *Session) applySweep(d *sweepData, live *Calibration) {
	sweep := d.rotMax.Sub(d.rotMin).Scale(0.5)

	// Direction captures, taken before rotation was known, act as a span floor.
	up := live.invert(live.Rotation.Apply(s.captured[StageUp]))
	right := live.invert(live.Rotation.Apply(s.captured[StageRight]))
	down := live.invert(live.Rotation.Apply(s.captured[StageDown]))
	left := live.invert(live.Rotation.Apply(s.captured[StageLeft]))
	dirX := (math.Abs(right.X) + math.Abs(left.X)) / 2
	dirY := (math.Abs(up.Y) + math.Abs(down.Y)) / 2

	live.Span = Vec2{
		X: floorSpan(math.Max(sweep.X, dirX)),
		Y: floorSpan(math.Max(sweep.Y, dirY)),
	}

	raw := d.rawMax.Sub(d.rawMin).Scale(0.5)
	rawMin := math.Min(raw.X, raw.Y)
	lo := math.Max(thresholdDZGain*s.deadzoneMT, thresholdFloor)
	hi := math.Max(thresholdMaxFrac*rawMin, lo)
	thr := clamp(thresholdFrac*rawMin, lo, hi)
	live.ThresholdMT = Vec2{thr, thr}
	live.DigitalThresholdNorm = thresholdNormFromMT(thr, live.Span)
}

func minVec(a, b Vec2) Vec2 { return Vec2{math.Min(a.X, b.X), math.Min(a.Y, b.Y)} }
func maxVec(a, b Vec2) Vec2 { return Vec2{math.Max(a.X, b.X), math.Max(a.Y, b.Y)} }
