package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

const healthTimeout = 3 * time.Second

// encodeFailureBody is sent when a handler's result cannot be encoded.
const encodeFailureBody = `{"status":"error","message":"Failed to encode response"}` + "\n"

// respond writes body as an uncacheable JSON response.
func respond(w http.ResponseWriter, status int, body models.APIResponse) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		slog.Error("Server.respond: failed to encode response", "status", body.Status, "error", err)
		buf.Reset()
		buf.WriteString(encodeFailureBody)
		status = http.StatusInternalServerError
	}

	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Debug("Server.respond: client went away", "error", err)
	}
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, models.Success(models.ServiceInfo{
		Service:   ServiceName,
		Status:    "running",
		Version:   s.opts.Version,
		Transport: s.opts.Transport,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	report := models.HealthReport{
		Server:    "ok",
		Bot:       "ok",
		Store:     "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.opts.Transport == "" {
		report.Bot = "not configured"
	}

	status := http.StatusOK
	if s.opts.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.opts.Store.Ping(ctx); err != nil {
			slog.Warn("Server.healthHandler: store ping failed", "error", err)
			report.Store = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	if status != http.StatusOK {
		respond(w, status, models.NewAPIResponseBuilder().
			WithStatus(models.APIStatusError).
			WithMessage("Session store unavailable").
			WithResult(report).
			Build())
		return
	}
	respond(w, status, models.Success(report))
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stats == nil {
		respond(w, http.StatusServiceUnavailable, models.Error("Dispatcher not running"))
		return
	}
	respond(w, http.StatusOK, models.Success(s.opts.Stats.Stats(r.Context())))
}
