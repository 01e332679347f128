package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"path"
	"runtime"
	"runtime/debug"
	"time"

	"tmagjoy/internal/sensortask"
	"tmagjoy/internal/settings"
)

// Task is the slice of the sensor task the HTTP surface drives.
// Implementations must be safe to call concurrently.
type Task interface {
	Status() sensortask.Status
	Tuning() settings.Tuning
	Submit(r sensortask.Request)
	NotifySettingsChanged()
}

// SettingsStore reads the persisted record and writes tuning changes.
type SettingsStore interface {
	Load() (settings.File, error)
	SaveTuning(t settings.Tuning) error
}

// Deps bundles what Handler serves. Task is required; the rest are optional.
type Deps struct {
	Task        Task
	Settings    SettingsStore
	Broadcaster *Broadcaster
	Logs        *LogBuffer
}

// maxRequestBody bounds every JSON body accepted by the API.
const maxRequestBody = 64 << 10

var nowFn = time.Now

func Handler(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, d.Task.Status())
	})

	mux.HandleFunc("/api/request", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			http.Error(w, "read body failed", http.StatusBadRequest)
			return
		}
		req, err := decodeRequestPayload(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d.Task.Submit(req)
		writeOK(w)
	})

	mux.HandleFunc("/api/calibration", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if d.Settings == nil {
			http.Error(w, "settings unavailable", http.StatusNotFound)
			return
		}
		f, err := d.Settings.Load()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, f.Calibration)
	})

	mux.Handle("/api/tuning", tuningHandler(d.Task, d.Settings))

	if d.Broadcaster != nil {
		mux.Handle("/api/ws", streamHandler(d.Broadcaster))
	}
	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}
	mux.HandleFunc("/api/about", handleAbout)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" && path.Dir(r.URL.Path) == "/api" {
			http.NotFound(w, r)
			return
		}
		st := d.Task.Status()
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>tmagjoy</title></head><body>")
		_, _ = fmt.Fprint(w, "<h1>tmagjoy</h1>")
		_, _ = fmt.Fprint(w, "<p>Live data: <a href=\"/api/status\">/api/status</a>, websocket <code>/api/ws</code>.</p>")
		_, _ = fmt.Fprintf(w, "<pre>stage=%s\ndirection=%s\ncalibration_valid=%t\nsensor_ok=%t\nlast_error=%s</pre>",
			html.EscapeString(st.Stage.String()), html.EscapeString(st.Direction.String()),
			st.CalibrationValid, st.SensorOK, html.EscapeString(st.LastError),
		)
		_, _ = fmt.Fprint(w, "</body></html>")
	})

	return mux
}

// requestPayload is the POST /api/request body.
type requestPayload struct {
	Requests []string `json:"requests"`
}

func decodeRequestPayload(body []byte) (sensortask.Request, error) {
	var p requestPayload
	if err := decodeStrict(body, &p); err != nil {
		return 0, err
	}
	if len(p.Requests) == 0 {
		return 0, fmt.Errorf("requests must be non-empty")
	}
	return sensortask.ParseRequests(p.Requests)
}

type aboutResponse struct {
	Service   string `json:"service"`
	NowUTC    string `json:"now_utc"`
	GoVersion string `json:"go_version"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
}

func handleAbout(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	resp := aboutResponse{
		Service:   "tmagjoy",
		NowUTC:    nowFn().UTC().Format(time.RFC3339Nano),
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		resp.Version = bi.Main.Version
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				resp.Commit = s.Value
			case "vcs.modified":
				resp.Dirty = s.Value == "true"
			}
		}
	}
	writeJSON(w, resp)
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	allow := methods[0]
	for _, m := range methods[1:] {
		allow += ", " + m
	}
	w.Header().Set("Allow", allow)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{\"ok\":true}\n"))
}

// Serve runs the HTTP surface until ctx is cancelled.
func Serve(ctx context.Context, listenAddr string, d Deps) error {
	if d.Task == nil {
		return fmt.Errorf("web: task is nil")
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	// WriteTimeout stays unset; websocket streams are long-lived and set
	// their own per-frame deadlines.

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
