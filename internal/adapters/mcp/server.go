// Package mcp exposes the synchronization engine as Model Context Protocol tools,
// so agents can inspect and edit shared analysis sessions.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/concord"
	"github.com/aretw0/concord/internal/logging"
	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/presence"
	"github.com/aretw0/concord/pkg/engine"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName      = "concord-mcp"
	sessionsURI     = "concord://sessions"
	shutdownTimeout = 5 * time.Second
)

// Engine defines the operations the MCP server needs from the synchronization engine.
type Engine interface {
	CreateSession(ctx context.Context, sessionID string, initial domain.SharedState) (*domain.CollaborationSession, error)
	GetSessionState(ctx context.Context, sessionID string) (domain.SharedState, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]string, error)
	JoinSession(ctx context.Context, sessionID string, p domain.Participant) (bool, error)
	LeaveSession(ctx context.Context, sessionID, userID string) (bool, error)
	UpdateParticipantPresence(ctx context.Context, sessionID, userID string, u presence.Update) (bool, error)
	GetActiveParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	SynchronizeState(ctx context.Context, sessionID string, updates []domain.StateUpdate) (*engine.Result, error)
	ResolveConflicts(ctx context.Context, sessionID string, updates []domain.StateUpdate, strategy domain.ResolutionStrategy) (*engine.Resolution, error)
}

var _ Engine = (*concord.Engine)(nil)

// SessionArgs identifies a session.
type SessionArgs struct {
	SessionID string `json:"sessionId" jsonschema:"required" jsonschema_description:"The session ID"`
}

// CreateSessionArgs is the input of create_session.
type CreateSessionArgs struct {
	SessionID    string             `json:"sessionId" jsonschema:"required" jsonschema_description:"The new session ID"`
	InitialState domain.SharedState `json:"initialState,omitempty" jsonschema_description:"Optional initial shared state"`
}

// ParticipantArgs identifies a participant of a session.
type ParticipantArgs struct {
	SessionID string `json:"sessionId" jsonschema:"required"`
	UserID    string `json:"userId" jsonschema:"required"`
	Username  string `json:"username,omitempty"`
}

// PresenceArgs is the input of update_presence. Omitted fields are left untouched.
type PresenceArgs struct {
	SessionID string `json:"sessionId" jsonschema:"required"`
	UserID    string `json:"userId" jsonschema:"required"`
	presence.Patch
}

// UpdatesArgs is the input of synchronize_state and resolve_conflicts.
type UpdatesArgs struct {
	SessionID string                    `json:"sessionId" jsonschema:"required"`
	Updates   []domain.StateUpdate      `json:"updates" jsonschema:"required" jsonschema_description:"State updates to apply"`
	Strategy  domain.ResolutionStrategy `json:"strategy,omitempty" jsonschema:"enum=merge,enum=last_writer_wins" jsonschema_description:"Resolution strategy (resolve_conflicts only)"`
}

// SessionSummary is the output of create_session.
type SessionSummary struct {
	SessionID string             `json:"sessionId"`
	Status    string             `json:"status"`
	State     domain.SharedState `json:"state"`
}

// SessionList is the output of list_sessions.
type SessionList struct {
	Sessions []string `json:"sessions"`
}

// ParticipantList is the output of list_participants.
type ParticipantList struct {
	Participants []domain.Participant `json:"participants"`
}

// Outcome is the output of membership and presence tools.
type Outcome struct {
	Success bool `json:"success"`
}

// Server wraps the Engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates a new MCP Server instance.
func NewServer(eng Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		engine: eng,
		mcpServer: server.NewMCPServer(serverName, concord.Version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
		),
		logger: logger,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

// ServeSSE serves MCP over SSE on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Info("MCP Server shutting down")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("create_session",
		mcp.WithDescription("Create a collaborative analysis session with an optional initial shared state."),
		mcp.WithInputSchema[CreateSessionArgs](),
		mcp.WithOutputSchema[SessionSummary](),
	), mcp.NewStructuredToolHandler(s.handleCreateSession))

	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List the IDs of all live sessions."),
		mcp.WithOutputSchema[SessionList](),
	), mcp.NewStructuredToolHandler(s.handleListSessions))

	s.mcpServer.AddTool(mcp.NewTool("delete_session",
		mcp.WithDescription("Delete a session and all of its state."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID")),
		mcp.WithOutputSchema[Outcome](),
	), mcp.NewStructuredToolHandler(s.handleDeleteSession))

	s.mcpServer.AddTool(mcp.NewTool("get_session_state",
		mcp.WithDescription("Get the current shared state (parameters, query, visualization, version) of a session."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID")),
		mcp.WithOutputSchema[domain.SharedState](),
	), mcp.NewStructuredToolHandler(s.handleGetState))

	s.mcpServer.AddTool(mcp.NewTool("join_session",
		mcp.WithDescription("Join a session as a participant, or rejoin after leaving."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID")),
		mcp.WithString("userId", mcp.Required(), mcp.Description("The participant's user ID")),
		mcp.WithString("username", mcp.Description("Display name")),
		mcp.WithOutputSchema[Outcome](),
	), mcp.NewStructuredToolHandler(s.handleJoin))

	s.mcpServer.AddTool(mcp.NewTool("leave_session",
		mcp.WithDescription("Mark a participant as inactive."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID")),
		mcp.WithString("userId", mcp.Required(), mcp.Description("The participant's user ID")),
		mcp.WithOutputSchema[Outcome](),
	), mcp.NewStructuredToolHandler(s.handleLeave))

	s.mcpServer.AddTool(mcp.NewTool("update_presence",
		mcp.WithDescription("Move a participant's cursor or change their selection. Null or an empty object clears it."),
		mcp.WithInputSchema[PresenceArgs](),
		mcp.WithOutputSchema[Outcome](),
	), mcp.NewStructuredToolHandler(s.handlePresence))

	s.mcpServer.AddTool(mcp.NewTool("list_participants",
		mcp.WithDescription("List the active participants of a session with their cursors and selections."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("The session ID")),
		mcp.WithOutputSchema[ParticipantList](),
	), mcp.NewStructuredToolHandler(s.handleParticipants))

	s.mcpServer.AddTool(mcp.NewTool("synchronize_state",
		mcp.WithDescription("Apply a batch of state updates in timestamp order. Each state-changing update advances the version by one."),
		mcp.WithInputSchema[UpdatesArgs](),
		mcp.WithOutputSchema[engine.Result](),
	), mcp.NewStructuredToolHandler(s.handleSynchronize))

	s.mcpServer.AddTool(mcp.NewTool("resolve_conflicts",
		mcp.WithDescription("Resolve concurrently authored updates as one step (strategy merge or last_writer_wins)."),
		mcp.WithInputSchema[UpdatesArgs](),
		mcp.WithOutputSchema[domain.ConflictResolution](),
	), mcp.NewStructuredToolHandler(s.handleResolve))
}

func (s *Server) handleCreateSession(ctx context.Context, _ mcp.CallToolRequest, args CreateSessionArgs) (SessionSummary, error) {
	sess, err := s.engine.CreateSession(ctx, args.SessionID, args.InitialState)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("create session failed: %w", err)
	}
	return SessionSummary{SessionID: sess.SessionID, Status: string(sess.Status), State: sess.SharedState}, nil
}

func (s *Server) handleListSessions(ctx context.Context, _ mcp.CallToolRequest, _ struct{}) (SessionList, error) {
	ids, err := s.engine.ListSessions(ctx)
	if err != nil {
		return SessionList{}, fmt.Errorf("list sessions failed: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return SessionList{Sessions: ids}, nil
}

func (s *Server) handleDeleteSession(ctx context.Context, _ mcp.CallToolRequest, args SessionArgs) (Outcome, error) {
	if err := s.engine.DeleteSession(ctx, args.SessionID); err != nil {
		return Outcome{}, fmt.Errorf("delete session failed: %w", err)
	}
	return Outcome{Success: true}, nil
}

func (s *Server) handleGetState(ctx context.Context, _ mcp.CallToolRequest, args SessionArgs) (domain.SharedState, error) {
	state, err := s.engine.GetSessionState(ctx, args.SessionID)
	if err != nil {
		return domain.SharedState{}, fmt.Errorf("get state failed: %w", err)
	}
	return state, nil
}

func (s *Server) handleJoin(ctx context.Context, _ mcp.CallToolRequest, args ParticipantArgs) (Outcome, error) {
	if args.UserID == "" {
		return Outcome{}, fmt.Errorf("%w: missing userId", domain.ErrInvalidUpdate)
	}
	ok, err := s.engine.JoinSession(ctx, args.SessionID, domain.Participant{UserID: args.UserID, Username: args.Username})
	return outcome(ok, err, domain.ErrSessionNotFound)
}

func (s *Server) handleLeave(ctx context.Context, _ mcp.CallToolRequest, args ParticipantArgs) (Outcome, error) {
	ok, err := s.engine.LeaveSession(ctx, args.SessionID, args.UserID)
	return outcome(ok, err, domain.ErrParticipantNotFound)
}

func (s *Server) handlePresence(ctx context.Context, _ mcp.CallToolRequest, args PresenceArgs) (Outcome, error) {
	u, err := args.Update()
	if err != nil {
		return Outcome{}, err
	}
	ok, err := s.engine.UpdateParticipantPresence(ctx, args.SessionID, args.UserID, u)
	return outcome(ok, err, domain.ErrParticipantNotFound)
}

func outcome(ok bool, err error, notFound error) (Outcome, error) {
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, notFound
	}
	return Outcome{Success: true}, nil
}

func (s *Server) handleParticipants(ctx context.Context, _ mcp.CallToolRequest, args SessionArgs) (ParticipantList, error) {
	ps, err := s.engine.GetActiveParticipants(ctx, args.SessionID)
	if err != nil {
		return ParticipantList{}, fmt.Errorf("list participants failed: %w", err)
	}
	return ParticipantList{Participants: ps}, nil
}

func (s *Server) handleSynchronize(ctx context.Context, _ mcp.CallToolRequest, args UpdatesArgs) (engine.Result, error) {
	res, err := s.engine.SynchronizeState(ctx, args.SessionID, args.Updates)
	if err != nil {
		return engine.Result{}, fmt.Errorf("synchronize failed: %w", err)
	}
	return *res, nil
}

func (s *Server) handleResolve(ctx context.Context, _ mcp.CallToolRequest, args UpdatesArgs) (domain.ConflictResolution, error) {
	res, err := s.engine.ResolveConflicts(ctx, args.SessionID, args.Updates, args.Strategy)
	if err != nil {
		return domain.ConflictResolution{}, fmt.Errorf("resolve failed: %w", err)
	}
	return res.ConflictResolution, nil
}

func (s *Server) registerResources() {
	// EXPOSE: concord://sessions
	s.mcpServer.AddResource(mcp.NewResource(sessionsURI, "Live Sessions",
		mcp.WithResourceDescription("IDs of all live collaboration sessions"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ids, err := s.engine.ListSessions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		jsonBytes, err := json.Marshal(SessionList{Sessions: ids})
		if err != nil {
			return nil, err
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      sessionsURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
