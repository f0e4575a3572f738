package api

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/tool_dispatch/internal/todo"
)

func (d *Dependencies) requireTodos(w http.ResponseWriter) bool {
	if d.Todos == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Todo store not configured"})
		return false
	}
	return true
}

func (d *Dependencies) handleListTodos(w http.ResponseWriter, r *http.Request) {
	if !d.requireTodos(w) {
		return
	}
	todos, err := d.Todos.List(r.Context())
	if err != nil {
		d.Logger.Error("failed to list todos", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list todos"})
		return
	}
	writeJSON(w, http.StatusOK, todos)
}

func (d *Dependencies) handleCreateTodo(w http.ResponseWriter, r *http.Request) {
	if !d.requireTodos(w) {
		return
	}
	var req CreateTodoReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "text is required"})
		return
	}

	t, err := d.Todos.Create(r.Context(), req.Text)
	if err != nil {
		d.Logger.Error("failed to create todo", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create todo"})
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (d *Dependencies) handleUpdateTodo(w http.ResponseWriter, r *http.Request) {
	if !d.requireTodos(w) {
		return
	}
	var req UpdateTodoReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid request body"})
		return
	}

	t, err := d.Todos.Update(r.Context(), r.PathValue("id"), todo.UpdateParams{Text: req.Text, Completed: req.Completed})
	if errors.Is(err, todo.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Todo not found"})
		return
	}
	if err != nil {
		d.Logger.Error("failed to update todo", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update todo"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (d *Dependencies) handleDeleteTodo(w http.ResponseWriter, r *http.Request) {
	if !d.requireTodos(w) {
		return
	}
	err := d.Todos.Delete(r.Context(), r.PathValue("id"))
	if errors.Is(err, todo.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Todo not found"})
		return
	}
	if err != nil {
		d.Logger.Error("failed to delete todo", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete todo"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleDeleteTodos(w http.ResponseWriter, r *http.Request) {
	if !d.requireTodos(w) {
		return
	}
	var req BatchReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid request body"})
		return
	}
	ids, all, err := todo.ParseSelection(req.IDs)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: `ids must be a list of ids or "all"`})
		return
	}

	n, err := d.Todos.DeleteMany(r.Context(), ids, all)
	if err != nil {
		d.Logger.Error("failed to delete todos", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete todos"})
		return
	}
	writeJSON(w, http.StatusOK, BatchResp{Success: true, Affected: n})
}

func (d *Dependencies) handleCompleteTodos(w http.ResponseWriter, r *http.Request) {
	if !d.requireTodos(w) {
		return
	}
	var req BatchReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid request body"})
		return
	}
	ids, all, err := todo.ParseSelection(req.IDs)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: `ids must be a list of ids or "all"`})
		return
	}
	if req.Completed == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "completed is required"})
		return
	}

	n, err := d.Todos.CompleteMany(r.Context(), ids, all, *req.Completed)
	if err != nil {
		d.Logger.Error("failed to complete todos", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to complete todos"})
		return
	}
	writeJSON(w, http.StatusOK, BatchResp{Success: true, Affected: n})
}
