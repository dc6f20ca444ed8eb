package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"holdbusters/internal/assistant"
	"holdbusters/internal/dashboard"
	"holdbusters/internal/feedback"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Registry tracks live chat sessions by id. Sessions are in-process
// working state; they are never persisted.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*assistant.Service
	create   func() *assistant.Service
}

// NewRegistry creates a Registry that builds sessions with create.
func NewRegistry(create func() *assistant.Service) *Registry {
	return &Registry{
		sessions: make(map[string]*assistant.Service),
		create:   create,
	}
}

// Open creates a new session and returns its id.
func (r *Registry) Open() string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = r.create()
	r.mu.Unlock()
	return id
}

// Get returns the session with the given id, or nil.
func (r *Registry) Get(id string) *assistant.Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Deps holds everything the HTTP surface needs.
type Deps struct {
	Sessions  *Registry
	Feedback  *feedback.Store
	Dashboard *dashboard.Service
	// Token enables bearer auth on all routes except /health when
	// non-empty.
	Token string
}

// NewHandler builds the chi router for the dashboard and assistant API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Post("/sessions", handleOpenSession(deps))
		r.Post("/sessions/{id}/questions", handleAsk(deps))
		r.Post("/sessions/{id}/corrections", handleCorrection(deps))
		r.Post("/sessions/{id}/reset", handleReset(deps))
		r.Get("/sessions/{id}/history", handleHistory(deps))

		r.Get("/corrections", handleListCorrections(deps))
		r.Delete("/corrections", handleClearCorrections(deps))

		r.Get("/dashboard/summary", handleDashboard(deps))
		r.Get("/invoices", handleInvoices(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleOpenSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := deps.Sessions.Open()

		// Let the caller report up front that saved corrections will apply
		// to this conversation.
		saved := len(deps.Feedback.LoadAll())

		writeJSON(w, http.StatusCreated, map[string]any{
			"id":                id,
			"saved_corrections": saved,
		})
	}
}

type questionRequest struct {
	Question string `json:"question"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc := deps.Sessions.Get(chi.URLParam(r, "id"))
		if svc == nil {
			httpError(w, http.StatusNotFound, "not_found", "unknown session")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req questionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		turn, err := svc.Ask(r.Context(), req.Question)
		if err != nil {
			httpError(w, http.StatusBadGateway, "assistant_error", "%v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"turn":  turn,
			"state": svc.State(),
		})
	}
}

type correctionRequest struct {
	Feedback string `json:"feedback"`
}

func handleCorrection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc := deps.Sessions.Get(chi.URLParam(r, "id"))
		if svc == nil {
			httpError(w, http.StatusNotFound, "not_found", "unknown session")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req correctionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Feedback == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "feedback is required")
			return
		}

		turn, persisted, err := svc.SubmitCorrection(r.Context(), req.Feedback)
		if err != nil {
			httpError(w, http.StatusBadGateway, "assistant_error", "%v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"turn":      turn,
			"persisted": persisted,
		})
	}
}

func handleReset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc := deps.Sessions.Get(chi.URLParam(r, "id"))
		if svc == nil {
			httpError(w, http.StatusNotFound, "not_found", "unknown session")
			return
		}
		svc.Reset()
		writeJSON(w, http.StatusOK, map[string]any{
			"saved_corrections": len(deps.Feedback.LoadAll()),
		})
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc := deps.Sessions.Get(chi.URLParam(r, "id"))
		if svc == nil {
			httpError(w, http.StatusNotFound, "not_found", "unknown session")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"turns": svc.History(),
			"state": svc.State(),
		})
	}
}

func handleListCorrections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := deps.Feedback.LoadAll()
		if entries == nil {
			entries = []feedback.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleClearCorrections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Feedback.Clear(); err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "clearing corrections: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDashboard(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overview, err := deps.Dashboard.Overview(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "warehouse_error", "loading dashboard: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, overview)
	}
}

func handleInvoices(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", raw)
				return
			}
		}

		table, err := deps.Dashboard.Invoices(r.Context(), status, limit)
		if err != nil {
			httpError(w, http.StatusBadGateway, "warehouse_error", "loading invoices: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, table)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
