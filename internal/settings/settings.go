// Package settings persists the joystick calibration record and menu tuning.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"tmagjoy/internal/joystick"
)

// Tuning is the persisted user tuning.
type Tuning struct {
	PressNorm    float64 `yaml:"press_norm" json:"press_norm"`
	ReleaseNorm  float64 `yaml:"release_norm" json:"release_norm"`
	AxisRatio    float64 `yaml:"axis_ratio" json:"axis_ratio"`
	DeadzoneNorm float64 `yaml:"deadzone_norm" json:"deadzone_norm"`
}

// Menu returns the menu-navigation part of t.
func (t Tuning) Menu() joystick.MenuTuning {
	return joystick.MenuTuning{PressNorm: t.PressNorm, ReleaseNorm: t.ReleaseNorm, AxisRatio: t.AxisRatio}
}

// IsZero reports whether nothing was persisted.
func (t Tuning) IsZero() bool { return t == Tuning{} }

// File is the on-disk document.
type File struct {
	Calibration joystick.Record `yaml:"calibration"`
	Tuning      Tuning          `yaml:"tuning"`
}

// Store reads and writes the settings file at Path.
// Saves are read-modify-write so the two sections never clobber each other.
type Store struct {
	Path string

	mu sync.Mutex
}

// Load returns the current file. A missing file is not an error and yields
// a zero File whose record is invalid.
func (s *Store) Load() (File, error) {
	if s == nil || s.Path == "" {
		return File{}, errors.New("settings: path is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (File, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return File{}, nil
	}
	if err != nil {
		return File{}, fmt.Errorf("settings: read %s: %w", s.Path, err)
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return File{}, fmt.Errorf("settings: decode %s: %w", s.Path, err)
	}
	return f, nil
}

// SaveCalibration replaces the calibration section.
func (s *Store) SaveCalibration(rec joystick.Record) error {
	return s.update(func(f *File) { f.Calibration = rec })
}

// SaveTuning replaces the tuning section.
func (s *Store) SaveTuning(t Tuning) error {
	return s.update(func(f *File) { f.Tuning = t })
}

func (s *Store) update(fn func(*File)) error {
	if s == nil || s.Path == "" {
		return errors.New("settings: path is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.loadLocked()
	if err != nil {
		// A corrupt file is overwritten.
		f = File{}
	}
	fn(&f)
	b, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	return writeFileAtomic(s.Path, b, 0o644)
}

// writeFileAtomic writes b next to path and renames it into place, so a
// crash or power loss leaves either the old or the new file.
func writeFileAtomic(path string, b []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("settings: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("settings: sync: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("settings: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("settings: rename: %w", err)
	}
	return nil
}
