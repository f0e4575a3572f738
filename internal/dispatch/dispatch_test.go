package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/tool_dispatch/internal/provider"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/registry"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/storage"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/tool"
)

// stubProvider returns a canned reply and records the last request.
type stubProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
	last  provider.Request
	block bool
	panic bool
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, req provider.Request) (string, error) {
	s.mu.Lock()
	s.calls++
	s.last = req
	s.mu.Unlock()
	if s.panic {
		panic("provider exploded")
	}
	if s.block {
		<-ctx.Done()
		return "", &provider.ProviderError{Provider: "stub", Op: "complete", Err: ctx.Err()}
	}
	return s.reply, s.err
}

// recordingWriter keeps every event.
type recordingWriter struct {
	mu     sync.Mutex
	events []*storage.DispatchEvent
}

func (w *recordingWriter) Write(e *storage.DispatchEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
}

func (w *recordingWriter) Close() {}

func todoRegistry(t testing.TB) *registry.Static {
	t.Helper()
	reg, err := registry.NewStatic([]tool.Definition{
		{
			Name:        "createTodo",
			Description: "Create a new todo",
			Parameters: tool.Schema{
				Type:       tool.TypeObject,
				Properties: map[string]tool.Property{"text": {Type: tool.TypeString, Description: "The todo text"}},
				Required:   []string{"text"},
			},
		},
		{
			Name:        "listTodos",
			Description: "List all todos",
			Parameters:  tool.Schema{Type: tool.TypeObject, Properties: map[string]tool.Property{}, Required: []string{}},
		},
		{
			Name:        "completeTodos",
			Description: "Mark multiple todos as complete",
			Parameters: tool.Schema{
				Type: tool.TypeObject,
				Properties: map[string]tool.Property{
					"ids": {OneOf: []tool.Property{
						{Type: tool.TypeArray, Items: &tool.Property{Type: tool.TypeString}},
						{Type: tool.TypeString, Enum: []string{"all"}},
					}},
					"completed": {Type: tool.TypeBoolean},
				},
				Required: []string{"ids", "completed"},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func newDispatcher(t testing.TB, p provider.Provider, w storage.EventWriter) *Dispatcher {
	return New(Config{
		Registry: todoRegistry(t),
		Provider: p,
		Events:   w,
		Logger:   zap.NewNop(),
		Timeout:  time.Second,
		Model:    "test-model",
	})
}

func TestDispatch_CreateTodoSucceeds(t *testing.T) {
	p := &stubProvider{reply: `{"tool":{"name":"createTodo","parameters":{"text":"apple"}},"explanation":"Adding apple to your list"}`}
	out := newDispatcher(t, p, nil).Dispatch(context.Background(), Request{Query: "Add an apple"})

	if !out.Success || out.State != StateSucceeded {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.SelectedTool != "createTodo" {
		t.Fatalf("unexpected tool %q", out.SelectedTool)
	}
	if !reflect.DeepEqual(out.Parameters, map[string]any{"text": "apple"}) {
		t.Fatalf("unexpected parameters %v", out.Parameters)
	}
	if out.Response != "Adding apple to your list" {
		t.Fatalf("unexpected response %q", out.Response)
	}
	if p.last.User != "Add an apple" || len(p.last.Tools) != 3 {
		t.Fatalf("unexpected provider request %+v", p.last)
	}
	if !strings.Contains(p.last.System, "createTodo") {
		t.Fatal("expected the tool catalogue in the system prompt")
	}
}

func TestDispatch_CompleteAllSucceeds(t *testing.T) {
	p := &stubProvider{reply: `{"tool":{"name":"completeTodos","parameters":{"ids":"all","completed":true}},"explanation":"Marking all todos as done"}`}
	out := newDispatcher(t, p, nil).Dispatch(context.Background(), Request{Query: "mark all as done"})

	if !out.Success || out.SelectedTool != "completeTodos" {
		t.Fatalf("expected completeTodos success, got %+v", out)
	}
	want := map[string]any{"ids": "all", "completed": true}
	if !reflect.DeepEqual(out.Parameters, want) {
		t.Fatalf("unexpected parameters %v", out.Parameters)
	}
}

func TestDispatch_ExplanationOnly(t *testing.T) {
	p := &stubProvider{reply: `{"tool":null,"explanation":"X"}`}
	out := newDispatcher(t, p, nil).Dispatch(context.Background(), Request{Query: "what's the weather"})

	if out.Success || out.Response != "X" {
		t.Fatalf("expected {success:false, response:X}, got %+v", out)
	}
	if out.SelectedTool != "" || out.Parameters != nil {
		t.Fatal("explanation-only outcome must not carry a tool")
	}
	if out.Failure != FailureExplanationOnly {
		t.Fatalf("unexpected failure kind %q", out.Failure)
	}
}

func TestDispatch_UnknownToolDoesNotLeakDetail(t *testing.T) {
	p := &stubProvider{reply: `{"tool":{"name":"dropAllTables","parameters":{}},"explanation":"Dropping"}`}
	out := newDispatcher(t, p, nil).Dispatch(context.Background(), Request{Query: "drop everything"})

	if out.Success {
		t.Fatal("expected failure")
	}
	if out.Failure != FailureUnknownTool {
		t.Fatalf("unexpected failure kind %q", out.Failure)
	}
	for _, leak := range []string{"dropAllTables", "unknown_tool", "UnknownTool", "Dropping"} {
		if strings.Contains(out.Response, leak) {
			t.Fatalf("response leaks %q: %q", leak, out.Response)
		}
	}
}

func TestDispatch_MissingRequiredParameter(t *testing.T) {
	p := &stubProvider{reply: `{"tool":{"name":"createTodo","parameters":{}},"explanation":"Adding"}`}
	out := newDispatcher(t, p, nil).Dispatch(context.Background(), Request{Query: "add something"})

	if out.Success || out.Failure != FailureMissingParameter {
		t.Fatalf("expected missing parameter failure, got %+v", out)
	}
	if out.SelectedTool != "" || out.Parameters != nil {
		t.Fatal("rejected outcome must not carry a tool")
	}
}

func TestDispatch_UnknownParameterDoesNotEchoKey(t *testing.T) {
	p := &stubProvider{reply: `{"tool":{"name":"createTodo","parameters":{"text":"a","__proto__":"x"}},"explanation":"Adding"}`}
	out := newDispatcher(t, p, nil).Dispatch(context.Background(), Request{Query: "add a"})

	if out.Success || out.Failure != FailureUnknownParameter {
		t.Fatalf("expected unknown parameter failure, got %+v", out)
	}
	if strings.Contains(out.Response, "__proto__") {
		t.Fatal("model-supplied key echoed to user")
	}
}

func TestDispatch_TypeMismatch(t *testing.T) {
	p := &stubProvider{reply: `{"tool":{"name":"completeTodos","parameters":{"ids":"all","completed":"yes"}},"explanation":"ok"}`}
	out := newDispatcher(t, p, nil).Dispatch(context.Background(), Request{Query: "complete all"})

	if out.Success || out.Failure != FailureTypeMismatch {
		t.Fatalf("expected type mismatch failure, got %+v", out)
	}
}

func TestDispatch_EnumViolationRejected(t *testing.T) {
	p := &stubProvider{reply: `{"tool":{"name":"completeTodos","parameters":{"ids":"everything","completed":true}},"explanation":"ok"}`}
	out := newDispatcher(t, p, nil).Dispatch(context.Background(), Request{Query: "complete everything"})

	if out.Success || out.Failure != FailureTypeMismatch || out.SelectedTool != "" {
		t.Fatalf("expected value outside the enum to be rejected, got %+v", out)
	}
}

func TestDispatch_InvalidJSON(t *testing.T) {
	p := &stubProvider{reply: "Invalid JSON"}
	out := newDispatcher(t, p, nil).Dispatch(context.Background(), Request{Query: "hello"})

	if out.Success || out.Response != ParseFailureMessage {
		t.Fatalf("expected fixed rephrase message, got %+v", out)
	}
}

func TestDispatch_ProviderError(t *testing.T) {
	p := &stubProvider{err: &provider.ProviderError{Provider: "stub", Op: "complete", StatusCode: 503, Err: errors.New("secret upstream detail")}}
	out := newDispatcher(t, p, nil).Dispatch(context.Background(), Request{Query: "Add an apple"})

	if out.Success || out.Response != ProviderFailureMessage {
		t.Fatalf("expected provider trouble message, got %+v", out)
	}
	if strings.Contains(out.Response, "secret") || strings.Contains(out.Response, "503") {
		t.Fatal("provider detail leaked")
	}
	if p.calls != 1 {
		t.Fatalf("expected no retries, got %d calls", p.calls)
	}
}

func TestDispatch_TimeoutIsProviderFailure(t *testing.T) {
	p := &stubProvider{block: true}
	d := New(Config{Registry: todoRegistry(t), Provider: p, Timeout: 20 * time.Millisecond})

	start := time.Now()
	out := d.Dispatch(context.Background(), Request{Query: "Add an apple"})
	if out.Success || out.Failure != FailureProvider {
		t.Fatalf("expected provider failure on timeout, got %+v", out)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout was not enforced")
	}
}

func TestDispatch_PanicBecomesRejected(t *testing.T) {
	w := &recordingWriter{}
	out := newDispatcher(t, &stubProvider{panic: true}, w).Dispatch(context.Background(), Request{Query: "boom"})
	if out.Success || out.Failure != FailureInternal || out.Response != ProviderFailureMessage {
		t.Fatalf("expected internal rejection, got %+v", out)
	}
	if len(w.events) != 1 {
		t.Fatalf("expected an event even after a panic, got %d", len(w.events))
	}
}

func TestDispatch_EmptyQuerySkipsProvider(t *testing.T) {
	p := &stubProvider{}
	out := newDispatcher(t, p, nil).Dispatch(context.Background(), Request{Query: "   "})
	if out.Success || out.Failure != FailureEmptyQuery {
		t.Fatalf("expected empty query rejection, got %+v", out)
	}
	if p.calls != 0 {
		t.Fatal("provider must not be called for an empty query")
	}
}

func TestDispatch_EmptyExplanationsGetDefaults(t *testing.T) {
	p := &stubProvider{reply: `{"tool":{"name":"listTodos","parameters":{}},"explanation":""}`}
	out := newDispatcher(t, p, nil).Dispatch(context.Background(), Request{Query: "show my todos"})
	if !out.Success || out.Response != DefaultSuccessMessage {
		t.Fatalf("expected default success message, got %+v", out)
	}

	p = &stubProvider{reply: `{"tool":null,"explanation":" "}`}
	out = newDispatcher(t, p, nil).Dispatch(context.Background(), Request{Query: "?"})
	if out.Success || out.Response != NoActionMessage {
		t.Fatalf("expected no-action message, got %+v", out)
	}
}

func TestDispatch_EmitsEvent(t *testing.T) {
	w := &recordingWriter{}
	p := &stubProvider{reply: `{"tool":{"name":"createTodo","parameters":{"text":"apple"}},"explanation":"ok"}`}
	out := newDispatcher(t, p, w).Dispatch(context.Background(), Request{Query: "Add an apple", Source: "http", RequestID: "req-1"})

	if out.RequestID != "req-1" {
		t.Fatalf("expected request id to be kept, got %q", out.RequestID)
	}
	if len(w.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(w.events))
	}
	e := w.events[0]
	if e.RequestID != "req-1" || e.State != "succeeded" || !e.Success || e.SelectedTool != "createTodo" {
		t.Fatalf("unexpected event %+v", e)
	}
	if e.ParametersJSON != `{"text":"apple"}` || e.Source != "http" || e.Provider != "stub" || e.Model != "test-model" {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestDispatch_GeneratesRequestID(t *testing.T) {
	p := &stubProvider{reply: `{"tool":null,"explanation":"x"}`}
	out := newDispatcher(t, p, nil).Dispatch(context.Background(), Request{Query: "x"})
	if len(out.RequestID) != 36 {
		t.Fatalf("expected a generated uuid, got %q", out.RequestID)
	}
}

// swapSource serves defs[0] on the first load and defs[1] afterwards.
type swapSource struct {
	loads int
	defs  [2][]tool.Definition
}

func (s *swapSource) String() string { return "swap" }

func (s *swapSource) Load(_ context.Context) ([]tool.Definition, error) {
	s.loads++
	if s.loads == 1 {
		return s.defs[0], nil
	}
	return s.defs[1], nil
}

func TestDispatch_UsesRegistrySnapshot(t *testing.T) {
	src := &swapSource{defs: [2][]tool.Definition{
		todoRegistry(t).All(),
		{{
			Name:       "archiveTodos",
			Parameters: tool.Schema{Type: tool.TypeObject, Properties: map[string]tool.Property{}, Required: []string{}},
		}},
	}}
	r, err := registry.NewReloader(context.Background(), registry.ReloaderConfig{Source: src})
	if err != nil {
		t.Fatal(err)
	}
	p := &stubProvider{reply: `{"tool":{"name":"archiveTodos","parameters":{}},"explanation":"ok"}`}
	d := New(Config{Registry: r, Provider: p})

	if out := d.Dispatch(context.Background(), Request{Query: "archive"}); out.Success {
		t.Fatal("expected archiveTodos to be unknown before the reload")
	}
	if err := r.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if out := d.Dispatch(context.Background(), Request{Query: "archive"}); !out.Success {
		t.Fatalf("expected archiveTodos after the reload, got %+v", out)
	}
}

func TestDispatch_ConcurrentDispatchesAreIndependent(t *testing.T) {
	p := &stubProvider{reply: `{"tool":{"name":"createTodo","parameters":{"text":"apple"}},"explanation":"ok"}`}
	d := newDispatcher(t, p, &recordingWriter{})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if out := d.Dispatch(context.Background(), Request{Query: "Add an apple"}); !out.Success {
				t.Errorf("unexpected failure %+v", out)
			}
		}()
	}
	wg.Wait()
}

func TestOutcome_MarshalJSON(t *testing.T) {
	ok := Outcome{Response: "done", Success: true, SelectedTool: "listTodos", Parameters: nil, Failure: FailureNone}
	b, err := json.Marshal(ok)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"response":"done","success":true,"selectedTool":"listTodos","parameters":{}}` {
		t.Fatalf("unexpected JSON %s", b)
	}

	rej := Outcome{Response: "no", SelectedTool: "createTodo", Parameters: map[string]any{"x": 1}, State: StateRejected}
	b, err = json.Marshal(rej)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"response":"no","success":false}` {
		t.Fatalf("rejected outcome must omit tool fields, got %s", b)
	}
}

func BenchmarkDispatch(b *testing.B) {
	p := &stubProvider{reply: `{"tool":{"name":"createTodo","parameters":{"text":"apple"}},"explanation":"ok"}`}
	d := newDispatcher(b, p, nil)
	ctx := context.Background()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		d.Dispatch(ctx, Request{Query: "Add an apple"})
	}
}
