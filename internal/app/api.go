package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/voiceguard/internal/monitor"
	"github.com/MrWong99/voiceguard/pkg/incident"
)

// maxBodyBytes bounds request bodies of the control API.
const maxBodyBytes = 64 << 10

// StatusResponse is the body of GET /api/v1/monitor/status and of the
// start/stop endpoints.
type StatusResponse struct {
	Status          monitor.Status `json:"status"`
	SessionID       string         `json:"session_id,omitempty"`
	Error           string         `json:"error,omitempty"`
	Message         string         `json:"message,omitempty"`
	AnalysisEnabled bool           `json:"analysis_enabled"`
	Destinations    []string       `json:"alert_destinations"`
	Stats           statsBody      `json:"stats"`
}

type statsBody struct {
	monitor.Stats
	SpeechRatio float64 `json:"speech_ratio"`
	HighRatio   float64 `json:"high_threat_ratio"`
}

// destinationsBody is the request and response body of the destinations
// endpoints.
type destinationsBody struct {
	Destinations []string `json:"destinations"`
}

type errorBody struct {
	Error string `json:"error"`
}

// RegisterAPI adds the monitoring control routes to mux:
//
//	POST /api/v1/monitor/start
//	POST /api/v1/monitor/stop
//	GET  /api/v1/monitor/status
//	GET  /api/v1/incidents
//	GET  /api/v1/incidents/{id}/evidence
//	GET  /api/v1/alerts/destinations
//	PUT  /api/v1/alerts/destinations
func (a *App) RegisterAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/monitor/start", a.handleStart)
	mux.HandleFunc("POST /api/v1/monitor/stop", a.handleStop)
	mux.HandleFunc("GET /api/v1/monitor/status", a.handleStatus)
	mux.HandleFunc("GET /api/v1/incidents", a.handleIncidents)
	mux.HandleFunc("GET /api/v1/incidents/{id}/evidence", a.handleEvidence)
	mux.HandleFunc("GET /api/v1/alerts/destinations", a.handleGetDestinations)
	mux.HandleFunc("PUT /api/v1/alerts/destinations", a.handlePutDestinations)
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	err := a.session.Start(r.Context())
	switch {
	case errors.Is(err, monitor.ErrAlreadyActive):
		a.writeStatus(w, http.StatusOK, "already active")
	case err != nil:
		slog.Error("api: start monitoring failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	default:
		a.writeStatus(w, http.StatusOK, "monitoring started")
	}
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	if a.session.Status() != monitor.StatusActive {
		a.writeStatus(w, http.StatusOK, "not active")
		return
	}
	if err := a.session.Stop(r.Context()); err != nil {
		slog.Error("api: stop monitoring failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	a.writeStatus(w, http.StatusOK, "monitoring stopped")
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	a.writeStatus(w, http.StatusOK, "")
}

func (a *App) writeStatus(w http.ResponseWriter, code int, msg string) {
	st := a.session.Stats()
	res := StatusResponse{
		Status:          a.session.Status(),
		SessionID:       a.session.ID(),
		Message:         msg,
		AnalysisEnabled: a.AnalysisEnabled(),
		Destinations:    a.session.AlertDestinations(),
		Stats: statsBody{
			Stats:       st,
			SpeechRatio: st.SpeechRatio(),
			HighRatio:   st.HighRatio(),
		},
	}
	if err := a.session.Err(); err != nil && res.Status == monitor.StatusError {
		res.Error = err.Error()
	}
	writeJSON(w, code, res)
}

func (a *App) handleIncidents(w http.ResponseWriter, r *http.Request) {
	sum, err := a.session.IncidentSummary(r.Context())
	if err != nil {
		slog.Error("api: incident summary failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	if sum.Incidents == nil {
		sum.Incidents = []incident.Incident{}
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *App) handleEvidence(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wav, err := a.providers.Store.Evidence(r.Context(), id)
	switch {
	case errors.Is(err, incident.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	case err != nil:
		slog.Error("api: load evidence failed", "incident_id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.wav"`)
	http.ServeContent(w, r, id+".wav", time.Time{}, bytes.NewReader(wav))
}

func (a *App) handleGetDestinations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, destinationsBody{Destinations: a.session.AlertDestinations()})
}

func (a *App) handlePutDestinations(w http.ResponseWriter, r *http.Request) {
	var body destinationsBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return
	}
	if err := a.SetDestinations(body.Destinations); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, destinationsBody{Destinations: a.session.AlertDestinations()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}
