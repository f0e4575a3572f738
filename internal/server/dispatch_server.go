// Package server exposes the dispatcher over gRPC.
//
// Messages are google.protobuf.Struct values so the service needs no generated
// code: Ask takes {"query": string, "execute"?: bool} and returns
// {"response", "success", "requestId", "selectedTool"?, "parameters"?, "result"?, "executionError"?}.
package server

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/triage-ai/palisade/services/tool_dispatch/internal/auth"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/dispatch"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/todo"
)

const (
	ServiceName   = "palisade.tool_dispatch.v1.DispatchService"
	askMethod     = "/" + ServiceName + "/Ask"
	executionFail = "I understood your request, but I couldn't complete it. Please try again."
)

// Dispatcher runs one query through tool selection.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Outcome
}

// Executor runs a selected tool.
type Executor interface {
	Execute(ctx context.Context, toolName string, params map[string]any) (*todo.Result, error)
}

// DispatchServiceServer is the server API for DispatchService.
type DispatchServiceServer interface {
	Ask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// DispatchServer implements DispatchService.
type DispatchServer struct {
	dispatcher Dispatcher
	executor   Executor
	auth       auth.Authenticator
	logger     *zap.Logger
}

// NewDispatchServer creates a DispatchServer. executor may be nil.
func NewDispatchServer(
	dispatcher Dispatcher,
	executor Executor,
	authenticator auth.Authenticator,
	logger *zap.Logger,
) *DispatchServer {
	if authenticator == nil {
		authenticator = auth.AllowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchServer{
		dispatcher: dispatcher,
		executor:   executor,
		auth:       authenticator,
		logger:     logger,
	}
}

// Ask implements the DispatchService.Ask RPC.
func (s *DispatchServer) Ask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	// 1. Authenticate
	if _, open := s.auth.(auth.AllowAll); !open {
		key, err := auth.FromMetadata(ctx)
		if err == nil {
			err = s.auth.Verify(ctx, key)
		}
		if err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "authentication failed: %v", err)
		}
	}

	// 2. Decode request
	fields := req.GetFields()
	query := ""
	if v, ok := fields["query"]; ok {
		sv, isString := v.GetKind().(*structpb.Value_StringValue)
		if !isString {
			return nil, status.Error(codes.InvalidArgument, "query must be a string")
		}
		query = sv.StringValue
	}
	execute := fields["execute"].GetBoolValue()

	// 3. Dispatch
	out := s.dispatcher.Dispatch(ctx, dispatch.Request{Query: query, Source: "grpc"})

	resp := map[string]any{
		"response":  out.Response,
		"success":   out.Success,
		"requestId": out.RequestID,
	}
	if out.Success {
		resp["selectedTool"] = out.SelectedTool
		params, err := plain(out.Parameters)
		if err != nil || params == nil {
			params = map[string]any{}
		}
		resp["parameters"] = params
	}

	// 4. Optional execution
	if execute && out.Success {
		s.execute(ctx, out, resp)
	}

	st, err := structpb.NewStruct(resp)
	if err != nil {
		s.logger.Error("failed to encode ask response", zap.String("request_id", out.RequestID), zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return st, nil
}

func (s *DispatchServer) execute(ctx context.Context, out dispatch.Outcome, resp map[string]any) {
	if s.executor == nil {
		resp["executionError"] = "Tool execution is not available."
		return
	}
	result, err := s.executor.Execute(ctx, out.SelectedTool, out.Parameters)
	if err != nil {
		s.logger.Warn("tool execution failed",
			zap.String("request_id", out.RequestID),
			zap.String("tool", out.SelectedTool),
			zap.Error(err),
		)
		resp["executionError"] = executionFail
		return
	}
	if r, err := plain(result); err == nil {
		resp["result"] = r
	}
}

// plain converts v to the map/slice/float64 shape structpb accepts.
func plain(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func askHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServiceServer).Ask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: askMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DispatchServiceServer).Ask(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes DispatchService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DispatchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ask", Handler: askHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tool_dispatch/v1/tool_dispatch.proto",
}

// RegisterDispatchServiceServer registers srv on s.
func RegisterDispatchServiceServer(s grpc.ServiceRegistrar, srv DispatchServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls DispatchService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Ask sends a query and returns the raw response struct.
func (c *Client) Ask(ctx context.Context, query string, execute bool, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"query": query, "execute": execute})
	if err != nil {
		return nil, fmt.Errorf("Ask: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, askMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
