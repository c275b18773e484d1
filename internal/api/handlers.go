package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/db"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/login"
)

// maxBody bounds request bodies; tickets and bundles are a few KB.
const maxBody = 1 << 20

func (s *Server) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(captchaPage)
}

// handleTicket accepts the slider ticket for account id. Both query
// parameters are required.
func (s *Server) handleTicket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sid, ticket := q.Get("id"), q.Get("ticket")
	if sid == "" || ticket == "" {
		writeError(w, http.StatusBadRequest, "id and ticket are required")
		return
	}
	if err := s.backend.SubmitTicket(sid, ticket); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthResponse is the response from /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	Uptime    string    `json:"uptime"`
	Accounts  int       `json:"accounts"`
	Running   int       `json:"running"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	accounts := s.backend.Accounts()
	running := 0
	for _, a := range accounts {
		if s.backend.Running(a.SID) {
			running++
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		RunID:     s.backend.RunID(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Accounts:  len(accounts),
		Running:   running,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Get())
}

// AccountResponse is one row of /accounts.
type AccountResponse struct {
	SID      string       `json:"sid"`
	SelfID   string       `json:"self_id"`
	Protocol string       `json:"protocol"`
	Enabled  bool         `json:"enabled"`
	Running  bool         `json:"running"`
	State    *login.State `json:"state,omitempty"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	states := s.backend.Get()
	accounts := s.backend.Accounts()
	out := make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		row := AccountResponse{
			SID:      a.SID,
			SelfID:   a.SelfID,
			Protocol: a.Protocol,
			Enabled:  a.Enabled,
			Running:  s.backend.Running(a.SID),
		}
		if st, ok := states[a.SID]; ok {
			row.State = &st
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleWrite sends the request body to the gateway's stdin. A trailing
// newline in the body is dropped; one is always appended.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	text := strings.TrimRight(string(body), "\r\n")
	if err := s.backend.Write(sid, text); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("operator input written", "sid", sid, "inject_len", len(text), "action", "write")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	if err := s.backend.Start(r.Context(), sid); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	if err := s.backend.Stop(sid); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// CredentialBody carries a credential bundle in both directions.
type CredentialBody struct {
	Bundle string `json:"bundle"`
}

func (s *Server) handleExportCredential(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	bundle, err := s.backend.ExportCredential(sid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CredentialBody{Bundle: bundle})
}

func (s *Server) handleImportCredential(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	var body CredentialBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := s.backend.ImportCredential(sid, body.Bundle); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "imported"})
}

// EventsResponse is the journal view of one account.
type EventsResponse struct {
	SID    string           `json:"sid"`
	Events []db.StatusEvent `json:"events"`
	Runs   []db.Run         `json:"runs"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	sid := chi.URLParam(r, "sid")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := s.journal.RecentEvents(sid, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	runs, err := s.journal.RecentRuns(sid, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if events == nil {
		events = []db.StatusEvent{}
	}
	if runs == nil {
		runs = []db.Run{}
	}
	writeJSON(w, http.StatusOK, EventsResponse{SID: sid, Events: events, Runs: runs})
}
