package power

import (
	"log"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Protector is the one-way low-battery cutoff.
//
// It latches after two consecutive readings below Cutoff taken at least
// Spacing apart. Once latched the switch is driven off and the latch is only
// cleared by constructing a new Protector (i.e. a restart).
type Protector struct {
	cutoff  physic.ElectricPotential
	spacing time.Duration
	sw      Switch

	lowCount int
	firstLow time.Time
	latched  bool
	latchAt  time.Time
}

// NewProtector returns a protector. sw may be nil, in which case latching
// only records state.
func NewProtector(cutoff physic.ElectricPotential, spacing time.Duration, sw Switch) *Protector {
	if spacing <= 0 {
		spacing = 60 * time.Second
	}
	return &Protector{cutoff: cutoff, spacing: spacing, sw: sw}
}

// Latched reports whether the cutoff has fired.
func (p *Protector) Latched() bool { return p != nil && p.latched }

// LatchedAt is when the cutoff fired.
func (p *Protector) LatchedAt() time.Time {
	if p == nil {
		return time.Time{}
	}
	return p.latchAt
}

// Check feeds one reading. It returns true exactly once, on the reading that
// latches the cutoff.
func (p *Protector) Check(now time.Time, v physic.ElectricPotential) (bool, error) {
	if p == nil || p.latched {
		return false, nil
	}
	if v >= p.cutoff {
		p.lowCount = 0
		p.firstLow = time.Time{}
		return false, nil
	}
	if p.lowCount == 0 {
		p.lowCount = 1
		p.firstLow = now
		log.Printf("power: battery %s below cutoff %s (1/2)", v, p.cutoff)
		return false, nil
	}
	if now.Sub(p.firstLow) < p.spacing {
		return false, nil
	}

	p.latched = true
	p.latchAt = now
	log.Printf("power: battery %s below cutoff %s (2/2), cutting power", v, p.cutoff)
	if p.sw != nil {
		if err := p.sw.Set(false); err != nil {
			return true, err
		}
	}
	return true, nil
}
