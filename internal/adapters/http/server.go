package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/concord"
	"github.com/aretw0/concord/internal/logging"
	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/presence"
	"github.com/aretw0/concord/pkg/engine"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Engine is the subset of *concord.Engine the HTTP transport drives.
type Engine interface {
	CreateSession(ctx context.Context, sessionID string, initial domain.SharedState) (*domain.CollaborationSession, error)
	GetSession(ctx context.Context, sessionID string) (*domain.CollaborationSession, error)
	GetSessionState(ctx context.Context, sessionID string) (domain.SharedState, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]string, error)
	JoinSession(ctx context.Context, sessionID string, p domain.Participant) (bool, error)
	LeaveSession(ctx context.Context, sessionID, userID string) (bool, error)
	UpdateParticipantPresence(ctx context.Context, sessionID, userID string, u presence.Update) (bool, error)
	GetActiveParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	SynchronizeState(ctx context.Context, sessionID string, updates []domain.StateUpdate) (*engine.Result, error)
	ResolveConflicts(ctx context.Context, sessionID string, updates []domain.StateUpdate, strategy domain.ResolutionStrategy) (*engine.Resolution, error)
	Submit(ctx context.Context, sessionID string, updates []domain.StateUpdate) (*engine.Result, error)
}

var _ Engine = (*concord.Engine)(nil)

// Server implements the REST, SSE and WebSocket surface over an Engine.
type Server struct {
	Engine  Engine
	Streams *StreamManager
	Logger  *slog.Logger
}

// NewServer creates a server. The stream manager must also be registered as the
// engine's publisher for clients to receive events.
func NewServer(eng Engine, streams *StreamManager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	if streams == nil {
		streams = NewStreamManager(logger)
	}
	return &Server{Engine: eng, Streams: streams, Logger: logger}
}

// Handler returns the routed handler with CORS enabled.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Post("/", s.CreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.GetSession)
			r.Delete("/", s.DeleteSession)
			r.Get("/state", s.GetState)
			r.Post("/sync", s.Synchronize)
			r.Post("/resolve", s.Resolve)
			r.Post("/submit", s.Submit)
			r.Get("/participants", s.ListParticipants)
			r.Post("/participants", s.Join)
			r.Delete("/participants/{userID}", s.Leave)
			r.Put("/participants/{userID}/presence", s.UpdatePresence)
			r.Get("/events", s.SubscribeEvents)
			r.Get("/ws", s.ServeWebSocket)
		})
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetHealth reports liveness.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Logger, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo reports the server version.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Logger, http.StatusOK, map[string]string{
		"name":    "concord",
		"version": concord.Version,
	})
}

type createSessionRequest struct {
	SessionID    string             `json:"sessionId"`
	InitialState domain.SharedState `json:"initialState"`
}

// CreateSession handles POST /sessions.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.Engine.CreateSession(r.Context(), req.SessionID, req.InitialState)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, s.Logger, http.StatusCreated, sess)
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.ListSessions(r.Context())
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, s.Logger, http.StatusOK, map[string][]string{"sessions": ids})
}

// GetSession handles GET /sessions/{sessionID}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Engine.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, s.Logger, http.StatusOK, sess)
}

// DeleteSession handles DELETE /sessions/{sessionID}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetState handles GET /sessions/{sessionID}/state.
func (s *Server) GetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.Engine.GetSessionState(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, s.Logger, http.StatusOK, state)
}

type updatesRequest struct {
	Updates  []domain.StateUpdate      `json:"updates"`
	Strategy domain.ResolutionStrategy `json:"strategy,omitempty"`
}

// Synchronize handles POST /sessions/{sessionID}/sync.
func (s *Server) Synchronize(w http.ResponseWriter, r *http.Request) {
	var req updatesRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.Engine.SynchronizeState(r.Context(), chi.URLParam(r, "sessionID"), req.Updates)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, s.Logger, http.StatusOK, res)
}

// Submit handles POST /sessions/{sessionID}/submit, routing conflicting batches to the resolver.
func (s *Server) Submit(w http.ResponseWriter, r *http.Request) {
	var req updatesRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.Engine.Submit(r.Context(), chi.URLParam(r, "sessionID"), req.Updates)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, s.Logger, http.StatusOK, res)
}

// Resolve handles POST /sessions/{sessionID}/resolve.
func (s *Server) Resolve(w http.ResponseWriter, r *http.Request) {
	var req updatesRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.Engine.ResolveConflicts(r.Context(), chi.URLParam(r, "sessionID"), req.Updates, req.Strategy)
	if err != nil {
		// An absent session still yields a version_mismatch resolution body.
		if res != nil && errors.Is(err, domain.ErrSessionNotFound) {
			writeJSON(w, s.Logger, http.StatusNotFound, res)
			return
		}
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, s.Logger, http.StatusOK, res)
}

// ListParticipants handles GET /sessions/{sessionID}/participants.
func (s *Server) ListParticipants(w http.ResponseWriter, r *http.Request) {
	ps, err := s.Engine.GetActiveParticipants(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, s.Logger, http.StatusOK, map[string][]domain.Participant{"participants": ps})
}

type joinRequest struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Join handles POST /sessions/{sessionID}/participants.
func (s *Server) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, s.Logger, fmt.Errorf("%w: missing userId", domain.ErrInvalidUpdate))
		return
	}
	ok, err := s.Engine.JoinSession(r.Context(), chi.URLParam(r, "sessionID"), domain.Participant{
		UserID:   req.UserID,
		Username: req.Username,
	})
	s.writeOutcome(w, ok, err, domain.ErrSessionNotFound)
}

// Leave handles DELETE /sessions/{sessionID}/participants/{userID}.
func (s *Server) Leave(w http.ResponseWriter, r *http.Request) {
	ok, err := s.Engine.LeaveSession(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "userID"))
	s.writeOutcome(w, ok, err, domain.ErrParticipantNotFound)
}

// UpdatePresence handles PUT /sessions/{sessionID}/participants/{userID}/presence.
// An omitted field is left untouched; null or an empty object clears it.
func (s *Server) UpdatePresence(w http.ResponseWriter, r *http.Request) {
	var req presence.Patch
	if !s.decode(w, r, &req) {
		return
	}
	u, err := req.Update()
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	ok, err := s.Engine.UpdateParticipantPresence(r.Context(),
		chi.URLParam(r, "sessionID"), chi.URLParam(r, "userID"), u)
	s.writeOutcome(w, ok, err, domain.ErrParticipantNotFound)
}

// writeOutcome renders the boolean results of join, leave and presence calls.
func (s *Server) writeOutcome(w http.ResponseWriter, ok bool, err error, notFound error) {
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	if !ok {
		writeJSON(w, s.Logger, http.StatusNotFound, errorResponse{Error: notFound.Error()})
		return
	}
	writeJSON(w, s.Logger, http.StatusOK, map[string]bool{"success": true})
}

// SubscribeEvents handles GET /sessions/{sessionID}/events as a Server-Sent Events stream.
// The optional watch query parameter restricts state events to the listed subtrees;
// "presence" selects membership and presence events.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.Engine.GetSession(r.Context(), sessionID); err != nil {
		writeError(w, s.Logger, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	filter := parseWatch(r.URL.Query().Get("watch"))
	ch, unsubscribe := s.Streams.Subscribe(sessionID)
	defer unsubscribe()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !filter.match(msg.Event) {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event.Type, msg.Data)
			flusher.Flush()
		}
	}
}

// decode reads a JSON body, answering 400 on malformed input.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, s.Logger, fmt.Errorf("%w: %v", domain.ErrInvalidUpdate, err))
		return false
	}
	return true
}

const watchPresence = "presence"

// watchFilter selects events by subtree. A nil filter matches everything.
type watchFilter map[string]bool

func parseWatch(raw string) watchFilter {
	if raw == "" {
		return nil
	}
	f := make(watchFilter)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			f[part] = true
		}
	}
	return f
}

func (f watchFilter) match(ev domain.Event) bool {
	if f == nil {
		return true
	}
	switch ev.Type {
	case domain.EventPresenceChanged, domain.EventParticipantJoined, domain.EventParticipantLeft:
		return f[watchPresence]
	case domain.EventStateSynced, domain.EventConflictResolved:
		if ev.Diff == nil {
			return false
		}
		return (f[string(domain.SubtreeAnalysisParameters)] && len(ev.Diff.AnalysisParameters) > 0) ||
			(f[string(domain.SubtreeQueryState)] && len(ev.Diff.QueryState) > 0) ||
			(f[string(domain.SubtreeVisualizationState)] && len(ev.Diff.VisualizationState) > 0)
	}
	return true
}
