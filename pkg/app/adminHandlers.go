package app

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"civichub/pkg/api"
	myMiddleware "civichub/pkg/middleware"
)

func limitParam(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

// ---------------------------------------------------------------------------
// Broadcasts
// ---------------------------------------------------------------------------

func (s *Server) SendBroadcast() http.HandlerFunc {
	type request struct {
		Title    string       `json:"title"`
		Message  string       `json:"message"`
		Type     string       `json:"type"`
		Audience api.Audience `json:"audience"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())

		var req request
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			log.Printf("Unable to unmarshal request body: %v\n", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		broadcast, err := s.services.Broadcasts.Send(r.Context(), actor, api.Broadcast{
			Title:    req.Title,
			Message:  req.Message,
			Type:     req.Type,
			Audience: req.Audience,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, broadcast)
	}
}

func (s *Server) GetBroadcasts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		broadcasts, err := s.services.Broadcasts.List(r.Context(), limitParam(r, 50))
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, broadcasts)
	}
}

func (s *Server) DeleteBroadcast() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())
		broadcastId := chi.URLParam(r, "broadcastId")

		if err := s.services.Broadcasts.Delete(r.Context(), actor, broadcastId); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ---------------------------------------------------------------------------
// Emergency alerts
// ---------------------------------------------------------------------------

func (s *Server) CreateAlert() http.HandlerFunc {
	type request struct {
		Title   string         `json:"title"`
		Message string         `json:"message"`
		Level   api.AlertLevel `json:"level"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())

		var req request
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			log.Printf("Unable to unmarshal request body: %v\n", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		alert, err := s.services.Alerts.Create(r.Context(), actor, req.Title, req.Message, req.Level)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, alert)
	}
}

func (s *Server) ResolveAlert() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())
		alertId := chi.URLParam(r, "alertId")

		alert, err := s.services.Alerts.Resolve(r.Context(), actor, alertId)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, alert)
	}
}

func (s *Server) GetActiveAlert() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alert, err := s.services.Alerts.Active(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, alert)
	}
}

func (s *Server) GetAlerts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alerts, err := s.services.Alerts.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, alerts)
	}
}

func (s *Server) DeleteAlert() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())
		alertId := chi.URLParam(r, "alertId")

		if err := s.services.Alerts.Delete(r.Context(), actor, alertId); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ---------------------------------------------------------------------------
// Audit trail
// ---------------------------------------------------------------------------

func (s *Server) GetAuditLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())

		logs, err := s.services.Audit.List(r.Context(), actor, limitParam(r, 100))
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, logs)
	}
}
