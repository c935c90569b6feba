package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/cognidesk/cognidesk/pkg/fault"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("Response encode failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, fault.HTTPStatus(err), map[string]interface{}{
		"error":     err.Error(),
		"kind":      string(fault.KindOf(err)),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func decodeJSON(r *http.Request, into interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fault.Validation("server", "invalid request body: %v", err)
	}
	return nil
}

// requestLogger logs one line per request with latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		slog.Info("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration", time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
