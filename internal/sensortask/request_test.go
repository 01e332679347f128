package sensortask

import (
	"reflect"
	"testing"
)

func TestRequestNamesCoverEveryFlag(t *testing.T) {
	for f := Request(1); f < reqEnd; f <<= 1 {
		if requestNames[f] == "" {
			t.Fatalf("flag 0x%X has no name", uint32(f))
		}
	}
}

func TestParseRequests(t *testing.T) {
	r, err := ParseRequests([]string{"menu_on", " START_EXTENTS_CAL ", "menu_on"})
	if err != nil {
		t.Fatalf("ParseRequests: %v", err)
	}
	if r != ReqMenuOn|ReqStartExtentsCal {
		t.Fatalf("r=%s", r)
	}
	// Flags come back in dispatch order, not argument order.
	if got := r.Names(); !reflect.DeepEqual(got, []string{"start_extents_cal", "menu_on"}) {
		t.Fatalf("names=%v", got)
	}
	if _, err := ParseRequests([]string{"reboot"}); err == nil {
		t.Fatalf("expected error for unknown request")
	}
}

func TestRequestFlagsDropsUnknownBits(t *testing.T) {
	r := ReqSaveCal | Request(1<<31)
	if got := r.Flags(); len(got) != 1 || got[0] != ReqSaveCal {
		t.Fatalf("flags=%v", got)
	}
	if Request(0).String() != "none" {
		t.Fatalf("zero string=%q", Request(0).String())
	}
	if !r.Has(ReqSaveCal) || r.Has(ReqMenuOn) || r.Has(0) {
		t.Fatalf("Has mismatch")
	}
}
