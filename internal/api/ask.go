package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/tool_dispatch/internal/dispatch"
)

// ExecutionFailedMessage is returned in executionError when a selected tool could not be run.
const ExecutionFailedMessage = "I understood your request, but I couldn't complete it. Please try again."

func (d *Dependencies) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid request body"})
		return
	}

	out := d.Dispatcher.Dispatch(r.Context(), dispatch.Request{Query: req.Query, Source: "http"})
	resp := newAskResp(out)

	if req.Execute && out.Success {
		if d.Executor == nil {
			resp.ExecutionError = "Tool execution is not available."
		} else if result, err := d.Executor.Execute(r.Context(), out.SelectedTool, out.Parameters); err != nil {
			d.Logger.Warn("tool execution failed",
				zap.String("request_id", out.RequestID),
				zap.String("tool", out.SelectedTool),
				zap.Error(err),
			)
			resp.ExecutionError = ExecutionFailedMessage
		} else {
			resp.Result = result
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ToolListResp{Tools: d.Registry.Snapshot().All()})
}
