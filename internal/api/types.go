package api

import (
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/chread"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/dispatch"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/todo"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/tool"
)

// ErrorResp is the body of every non-2xx response.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// --- Ask ---

type AskReq struct {
	Query string `json:"query"`
	// Execute runs the selected tool against the todo store on success.
	Execute bool `json:"execute"`
}

// AskResp is a dispatch outcome plus the optional execution result.
type AskResp struct {
	Response     string          `json:"response"`
	Success      bool            `json:"success"`
	SelectedTool string          `json:"selectedTool,omitempty"`
	Parameters   *map[string]any `json:"parameters,omitempty"`
	RequestID    string          `json:"requestId"`

	Result         *todo.Result `json:"result,omitempty"`
	ExecutionError string       `json:"executionError,omitempty"`
}

func newAskResp(out dispatch.Outcome) AskResp {
	resp := AskResp{Response: out.Response, Success: out.Success, RequestID: out.RequestID}
	if out.Success {
		resp.SelectedTool = out.SelectedTool
		params := out.Parameters
		if params == nil {
			params = map[string]any{}
		}
		resp.Parameters = &params
	}
	return resp
}

type ToolListResp struct {
	Tools []tool.Definition `json:"tools"`
}

// --- Todos ---

type CreateTodoReq struct {
	Text string `json:"text"`
}

type UpdateTodoReq struct {
	Text      *string `json:"text,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// BatchReq selects todos by id list or the string "all".
type BatchReq struct {
	IDs       any   `json:"ids"`
	Completed *bool `json:"completed,omitempty"`
}

type BatchResp struct {
	Success  bool `json:"success"`
	Affected int  `json:"affected"`
}

// --- Events ---

type EventListResp struct {
	Events   []chread.EventRow `json:"events"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
}
