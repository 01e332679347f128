package sensortask

import (
	"fmt"
	"math/bits"
	"strings"
)

// Request is a set of independent control flags. Several flags may be sent
// in one Request; they are handled in declaration order.
type Request uint32

const (
	ReqCalAbort Request = 1 << iota
	ReqStartNeutralCal
	ReqStartExtentsCal
	ReqSaveCal
	ReqMenuOn
	ReqMenuOff
	ReqMonitorOn
	ReqMonitorOff
	ReqDeadzoneInc
	ReqDeadzoneDec
	ReqMenuPressUp
	ReqMenuPressDown
	ReqMenuReleaseUp
	ReqMenuReleaseDown
	ReqMenuRatioUp
	ReqMenuRatioDown
	ReqPowerStatsOn
	ReqPowerStatsOff

	reqEnd
)

var requestNames = map[Request]string{
	ReqCalAbort:        "cal_abort",
	ReqStartNeutralCal: "start_neutral_cal",
	ReqStartExtentsCal: "start_extents_cal",
	ReqSaveCal:         "save_cal",
	ReqMenuOn:          "menu_on",
	ReqMenuOff:         "menu_off",
	ReqMonitorOn:       "monitor_on",
	ReqMonitorOff:      "monitor_off",
	ReqDeadzoneInc:     "deadzone_inc",
	ReqDeadzoneDec:     "deadzone_dec",
	ReqMenuPressUp:     "menu_press_up",
	ReqMenuPressDown:   "menu_press_down",
	ReqMenuReleaseUp:   "menu_release_up",
	ReqMenuReleaseDown: "menu_release_down",
	ReqMenuRatioUp:     "menu_ratio_up",
	ReqMenuRatioDown:   "menu_ratio_down",
	ReqPowerStatsOn:    "power_stats_on",
	ReqPowerStatsOff:   "power_stats_off",
}

// Has reports whether every flag in f is set.
func (r Request) Has(f Request) bool { return f != 0 && r&f == f }

// Flags splits r into single flags in dispatch order. Unknown bits are dropped.
func (r Request) Flags() []Request {
	out := make([]Request, 0, bits.OnesCount32(uint32(r)))
	for f := Request(1); f < reqEnd; f <<= 1 {
		if r&f != 0 {
			out = append(out, f)
		}
	}
	return out
}

// Names returns the wire names of the set flags.
func (r Request) Names() []string {
	flags := r.Flags()
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		out = append(out, requestNames[f])
	}
	return out
}

func (r Request) String() string {
	if r == 0 {
		return "none"
	}
	return strings.Join(r.Names(), "|")
}

// ParseRequests ORs together the named flags.
func ParseRequests(names []string) (Request, error) {
	var r Request
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		f, ok := requestByName[n]
		if !ok {
			return 0, fmt.Errorf("sensortask: unknown request %q", n)
		}
		r |= f
	}
	return r, nil
}

var requestByName = func() map[string]Request {
	m := make(map[string]Request, len(requestNames))
	for f, n := range requestNames {
		m[n] = f
	}
	return m
}()
