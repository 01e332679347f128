package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"tmagjoy/internal/joystick"
	"tmagjoy/internal/settings"
)

// tuningPayloadIn is the strict POST schema. Every key is required so a
// client never persists a half-filled tuning by accident.
type tuningPayloadIn struct {
	PressNorm    *float64 `json:"press_norm"`
	ReleaseNorm  *float64 `json:"release_norm"`
	AxisRatio    *float64 `json:"axis_ratio"`
	DeadzoneNorm *float64 `json:"deadzone_norm"`
}

var tuningPostKeys = []string{
	"press_norm",
	"release_norm",
	"axis_ratio",
	"deadzone_norm",
}

// decodeStrict decodes a single JSON object into v. Unknown, duplicate and
// null keys are rejected, as is trailing data. Keys listed in required must
// be present.
func decodeStrict(body []byte, v any, required ...string) error {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("invalid json: expected object")
	}

	seen := make(map[string]struct{})
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("invalid json: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return errors.New("invalid json: expected string key")
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("invalid json: %w", err)
		}
		if strings.TrimSpace(string(raw)) == "null" {
			return fmt.Errorf("invalid json: %q cannot be null", key)
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("invalid json: trailing data")
	}

	for _, k := range required {
		if _, ok := seen[k]; !ok {
			return fmt.Errorf("invalid json: missing required key %q", k)
		}
	}

	typed := json.NewDecoder(bytes.NewReader(body))
	typed.DisallowUnknownFields()
	if err := typed.Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// applyTuningPayload validates p and returns the clamped tuning to persist.
func applyTuningPayload(p tuningPayloadIn) (settings.Tuning, error) {
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"press_norm", p.PressNorm},
		{"release_norm", p.ReleaseNorm},
		{"axis_ratio", p.AxisRatio},
		{"deadzone_norm", p.DeadzoneNorm},
	} {
		if f.v == nil {
			return settings.Tuning{}, fmt.Errorf("%s is required", f.name)
		}
		if math.IsNaN(*f.v) || math.IsInf(*f.v, 0) || *f.v < 0 {
			return settings.Tuning{}, fmt.Errorf("%s must be a non-negative number", f.name)
		}
	}
	if *p.ReleaseNorm >= *p.PressNorm {
		return settings.Tuning{}, errors.New("release_norm must be < press_norm")
	}

	m := joystick.MenuTuning{
		PressNorm:   *p.PressNorm,
		ReleaseNorm: *p.ReleaseNorm,
		AxisRatio:   *p.AxisRatio,
	}.Clamp()
	return settings.Tuning{
		PressNorm:    m.PressNorm,
		ReleaseNorm:  m.ReleaseNorm,
		AxisRatio:    m.AxisRatio,
		DeadzoneNorm: math.Min(*p.DeadzoneNorm, joystick.MaxDeadzoneNorm),
	}, nil
}

func tuningHandler(task Task, store SettingsStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, task.Tuning())
		case http.MethodPost:
			if store == nil {
				http.Error(w, "settings unavailable", http.StatusNotFound)
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
			if err != nil {
				http.Error(w, "read body failed", http.StatusBadRequest)
				return
			}
			var in tuningPayloadIn
			if err := decodeStrict(body, &in, tuningPostKeys...); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			t, err := applyTuningPayload(in)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := store.SaveTuning(t); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			task.NotifySettingsChanged()
			writeJSON(w, t)
		default:
			allowMethod(w, r, http.MethodGet, http.MethodPost)
		}
	})
}
