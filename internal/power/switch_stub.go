//go:build !linux || (!arm && !arm64)

package power

import "fmt"

func openSwitch(cfg SwitchConfig) (Switch, error) {
	return nil, fmt.Errorf("power: gpio switch unsupported on this platform")
}

var openSwitchFn = openSwitch
