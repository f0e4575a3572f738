package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/tool_dispatch/internal/auth"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/chread"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/dispatch"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/registry"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/todo"
)

// Dispatcher runs one query through tool selection.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Outcome
}

// Executor runs a selected tool.
type Executor interface {
	Execute(ctx context.Context, toolName string, params map[string]any) (*todo.Result, error)
}

// EventLister reads dispatch events. *chread.Reader implements it.
type EventLister interface {
	ListEvents(ctx context.Context, params chread.ListEventsParams) ([]chread.EventRow, int, error)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Dispatcher Dispatcher
	Registry   registry.Snapshotter
	Executor   Executor    // nil when no todo store is configured
	Todos      todo.Store  // nil when no todo store is configured
	Reader     EventLister // nil if ClickHouse unavailable
	Auth       auth.Authenticator
	Logger     *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Auth == nil {
		deps.Auth = auth.AllowAll{}
	}

	mux := http.NewServeMux()

	// Natural-language dispatch (bearer auth when a key hash is configured)
	mux.HandleFunc("POST /api/ask", deps.authMiddleware(deps.handleAsk))
	mux.HandleFunc("GET /api/tools", deps.handleListTools)

	// Todo CRUD (writes need the key)
	mux.HandleFunc("GET /api/todos", deps.handleListTodos)
	mux.HandleFunc("POST /api/todos", deps.authMiddleware(deps.handleCreateTodo))
	mux.HandleFunc("PATCH /api/todos/{id}", deps.authMiddleware(deps.handleUpdateTodo))
	mux.HandleFunc("DELETE /api/todos/{id}", deps.authMiddleware(deps.handleDeleteTodo))
	mux.HandleFunc("POST /api/todos/batch/delete", deps.authMiddleware(deps.handleDeleteTodos))
	mux.HandleFunc("POST /api/todos/batch/complete", deps.authMiddleware(deps.handleCompleteTodos))

	// Dispatch events carry user queries
	mux.HandleFunc("GET /api/events", deps.authMiddleware(deps.handleListEvents))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
