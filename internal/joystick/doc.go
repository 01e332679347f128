// Package joystick implements magnetic joystick signal conditioning.
//
// A Decoder turns raw two-axis field strength samples (mT) into a normalized
// stick vector and an 8-way direction using a Calibration. A Session runs the
// multi-stage, non-blocking calibration (neutral, four directions, sweep) that
// produces that Calibration. MenuNav derives one-shot button events for menu
// navigation from the same stream.
//
// Nothing here blocks or locks; callers own all state from a single goroutine.
package joystick
