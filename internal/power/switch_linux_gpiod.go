//go:build linux && (arm || arm64)

package power

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

func openSwitch(cfg SwitchConfig) (Switch, error) {
	if strings.TrimSpace(cfg.Chip) == "" {
		return nil, fmt.Errorf("power: switch chip is empty")
	}
	if cfg.Line < 0 {
		return nil, fmt.Errorf("power: invalid switch line %d", cfg.Line)
	}
	chipPath := cfg.Chip
	if !strings.HasPrefix(chipPath, "/") {
		chipPath = filepath.Join("/dev", chipPath)
	}

	chip, err := gpiocdev.NewChip(chipPath, gpiocdev.WithConsumer("tmagjoy-power"))
	if err != nil {
		return nil, fmt.Errorf("power: open %s: %w", chipPath, err)
	}
	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(1)}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := chip.RequestLine(cfg.Line, opts...)
	if err != nil {
		_ = chip.Close()
		return nil, fmt.Errorf("power: request %s line %d: %w", chipPath, cfg.Line, err)
	}
	return &gpiodSwitch{chip: chip, line: line}, nil
}

var openSwitchFn = openSwitch

type gpiodSwitch struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpiodSwitch) Set(on bool) error {
	if g == nil || g.line == nil {
		return fmt.Errorf("power: switch not initialized")
	}
	v := 0
	if on {
		v = 1
	}
	return g.line.SetValue(v)
}

// Close releases the line without changing its level; the kernel keeps the
// last driven value.
func (g *gpiodSwitch) Close() error {
	if g == nil || g.line == nil {
		return nil
	}
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}
