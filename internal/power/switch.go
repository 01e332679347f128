package power

// Switch drives the load power rail.
type Switch interface {
	Set(on bool) error
	Close() error
}

// SwitchConfig selects a GPIO output line.
type SwitchConfig struct {
	Chip      string
	Line      int
	ActiveLow bool
}

// OpenSwitch requests the configured line as an output, initially on.
func OpenSwitch(cfg SwitchConfig) (Switch, error) {
	return openSwitchFn(cfg)
}
