package todo

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrUnsupportedTool is returned for a tool the executor has no operation for.
	ErrUnsupportedTool = errors.New("unsupported tool")
	// ErrInvalidParameters is returned when validated parameters still cannot be
	// converted to a store call (for example an ids string other than "all").
	ErrInvalidParameters = errors.New("invalid parameters")
)

// Result is what an executed tool produced. Only the fields relevant to the
// operation are set.
type Result struct {
	Tool     string `json:"tool"`
	Todos    []Todo `json:"todos,omitempty"`
	Todo     *Todo  `json:"todo,omitempty"`
	Affected *int   `json:"affected,omitempty"`
}

// Executor runs a selected tool against a Store.
type Executor struct {
	store  Store
	logger *zap.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(store Store, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{store: store, logger: logger}
}

// Execute runs the operation named by toolName with parameters that already
// passed validation against the registry.
func (e *Executor) Execute(ctx context.Context, toolName string, params map[string]any) (*Result, error) {
	res := &Result{Tool: toolName}
	switch toolName {
	case "listTodos":
		todos, err := e.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("Execute %s: %w", toolName, err)
		}
		res.Todos = todos

	case "createTodo":
		text, _ := params["text"].(string)
		if text == "" {
			return nil, fmt.Errorf("Execute %s: %w: text", toolName, ErrInvalidParameters)
		}
		t, err := e.store.Create(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("Execute %s: %w", toolName, err)
		}
		res.Todo = t

	case "updateTodo":
		id, _ := params["id"].(string)
		var up UpdateParams
		if v, ok := params["text"].(string); ok {
			up.Text = &v
		}
		if v, ok := params["completed"].(bool); ok {
			up.Completed = &v
		}
		t, err := e.store.Update(ctx, id, up)
		if err != nil {
			return nil, fmt.Errorf("Execute %s: %w", toolName, err)
		}
		res.Todo = t

	case "deleteTodo":
		id, _ := params["id"].(string)
		if err := e.store.Delete(ctx, id); err != nil {
			return nil, fmt.Errorf("Execute %s: %w", toolName, err)
		}
		n := 1
		res.Affected = &n

	case "deleteTodos":
		ids, all, err := ParseSelection(params["ids"])
		if err != nil {
			return nil, fmt.Errorf("Execute %s: %w", toolName, err)
		}
		n, err := e.store.DeleteMany(ctx, ids, all)
		if err != nil {
			return nil, fmt.Errorf("Execute %s: %w", toolName, err)
		}
		res.Affected = &n

	case "completeTodos":
		ids, all, err := ParseSelection(params["ids"])
		if err != nil {
			return nil, fmt.Errorf("Execute %s: %w", toolName, err)
		}
		completed, ok := params["completed"].(bool)
		if !ok {
			return nil, fmt.Errorf("Execute %s: %w: completed", toolName, ErrInvalidParameters)
		}
		n, err := e.store.CompleteMany(ctx, ids, all, completed)
		if err != nil {
			return nil, fmt.Errorf("Execute %s: %w", toolName, err)
		}
		res.Affected = &n

	default:
		return nil, fmt.Errorf("Execute %s: %w", toolName, ErrUnsupportedTool)
	}

	e.logger.Debug("tool executed", zap.String("tool", toolName))
	return res, nil
}

// ParseSelection reads an ids value: the string "all" or a list of id strings.
func ParseSelection(v any) ([]string, bool, error) {
	switch ids := v.(type) {
	case string:
		if ids == "all" {
			return nil, true, nil
		}
	case []string:
		return ids, false, nil
	case []any:
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			s, ok := id.(string)
			if !ok {
				return nil, false, fmt.Errorf("%w: ids", ErrInvalidParameters)
			}
			out = append(out, s)
		}
		return out, false, nil
	}
	return nil, false, fmt.Errorf("%w: ids", ErrInvalidParameters)
}
