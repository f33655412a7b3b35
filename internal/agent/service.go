package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Full method names of agentlink.v1.AgentService.
const (
	AgentService_StreamEvents_FullMethodName         = "/agentlink.v1.AgentService/StreamEvents"
	AgentService_StreamExecutionState_FullMethodName = "/agentlink.v1.AgentService/StreamExecutionState"
	AgentService_SendResponse_FullMethodName         = "/agentlink.v1.AgentService/SendResponse"
)

// AgentServiceServer is the server API of agentlink.v1.AgentService.
// Messages carry the JSON form of the request and response types in this
// package.
type AgentServiceServer interface {
	StreamEvents(*wrapperspb.BytesValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
	StreamExecutionState(*wrapperspb.BytesValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
	SendResponse(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// RegisterAgentServiceServer registers srv on s.
func RegisterAgentServiceServer(s grpc.ServiceRegistrar, srv AgentServiceServer) {
	s.RegisterService(&AgentService_ServiceDesc, srv)
}

func _AgentService_StreamEvents_Handler(srv any, stream grpc.ServerStream) error {
	m := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(AgentServiceServer).StreamEvents(m, &grpc.GenericServerStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ServerStream: stream})
}

func _AgentService_StreamExecutionState_Handler(srv any, stream grpc.ServerStream) error {
	m := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(AgentServiceServer).StreamExecutionState(m, &grpc.GenericServerStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ServerStream: stream})
}

func _AgentService_SendResponse_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).SendResponse(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: AgentService_SendResponse_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServiceServer).SendResponse(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// AgentService_ServiceDesc describes agentlink.v1.AgentService.
var AgentService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "agentlink.v1.AgentService",
	HandlerType: (*AgentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendResponse",
			Handler:    _AgentService_SendResponse_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       _AgentService_StreamEvents_Handler,
			ServerStreams: true,
		},
		{
			StreamName:    "StreamExecutionState",
			Handler:       _AgentService_StreamExecutionState_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "agentlink/v1/agent.proto",
}

// Server exposes a Client over gRPC. It lets an in-process agent, or another
// transport, be served to agentlink clients.
type Server struct {
	backend Client
	logger  *slog.Logger
}

// NewServer creates a Server that delegates to backend.
func NewServer(backend Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{backend: backend, logger: logger}
}

// Ensure Server implements AgentServiceServer.
var _ AgentServiceServer = (*Server)(nil)

// StreamEvents serves event batches.
func (s *Server) StreamEvents(in *wrapperspb.BytesValue, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	var req StreamEventsRequest
	if err := fromMessage(in, &req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if req.AgentID == "" {
		return status.Error(codes.InvalidArgument, "agentId is required")
	}
	for batch, err := range s.backend.StreamEvents(stream.Context(), req.AgentID, req.FromPosition) {
		if err != nil {
			return toStatus(stream.Context(), err)
		}
		msg, err := toMessage(batch)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// StreamExecutionState serves execution state snapshots.
func (s *Server) StreamExecutionState(in *wrapperspb.BytesValue, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	var req StreamExecutionStateRequest
	if err := fromMessage(in, &req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if req.AgentID == "" {
		return status.Error(codes.InvalidArgument, "agentId is required")
	}
	for st, err := range s.backend.StreamExecutionState(stream.Context(), req.AgentID) {
		if err != nil {
			return toStatus(stream.Context(), err)
		}
		msg, err := toMessage(st)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// SendResponse forwards a question response.
func (s *Server) SendResponse(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	var req SendResponseRequest
	if err := fromMessage(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.AgentID == "" || req.Response.RequestID == "" {
		return nil, status.Error(codes.InvalidArgument, "agentId and response.requestId are required")
	}
	if err := s.backend.SendResponse(ctx, req.AgentID, req.Response); err != nil {
		s.logger.Warn("SendResponse failed", "agent_id", req.AgentID, "request_id", req.Response.RequestID, "error", err)
		return nil, toStatus(ctx, err)
	}
	return toMessage(Ack{OK: true})
}

func toStatus(ctx context.Context, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Unavailable, fmt.Sprintf("backend: %v", err))
}
