package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ashureev/agentlink/internal/domain"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errResponseRejected         = errors.New("response not acknowledged")
)

// GrpcClient provides a gRPC client to the agent service.
type GrpcClient struct {
	conn   *grpc.ClientConn
	addr   string
	cfg    GrpcClientConfig
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient creates a new gRPC client to the agent service. Extra dial
// options are appended after the defaults.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	// Streams are long lived, so keepalive pings are allowed while they are open.
	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent service at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad agent endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("agent service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to agent service", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		addr:   cfg.Address,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Address returns the agent service address.
func (c *GrpcClient) Address() string {
	return c.addr
}

// StreamEvents opens the event stream of agentID after from.
func (c *GrpcClient) StreamEvents(ctx context.Context, agentID string, from domain.Cursor) iter.Seq2[*domain.Batch, error] {
	return func(yield func(*domain.Batch, error) bool) {
		req := StreamEventsRequest{AgentID: agentID, FromPosition: from}
		for msg, err := range c.serverStream(ctx, 0, AgentService_StreamEvents_FullMethodName, req) {
			if err != nil {
				yield(nil, fmt.Errorf("event stream error: %w", err))
				return
			}
			batch := &domain.Batch{}
			if err := fromMessage(msg, batch); err != nil {
				yield(nil, err)
				return
			}
			if !yield(batch, nil) {
				return
			}
		}
	}
}

// StreamExecutionState opens the execution state stream of agentID.
func (c *GrpcClient) StreamExecutionState(ctx context.Context, agentID string) iter.Seq2[*domain.ExecutionState, error] {
	return func(yield func(*domain.ExecutionState, error) bool) {
		req := StreamExecutionStateRequest{AgentID: agentID}
		for msg, err := range c.serverStream(ctx, 1, AgentService_StreamExecutionState_FullMethodName, req) {
			if err != nil {
				yield(nil, fmt.Errorf("execution state stream error: %w", err))
				return
			}
			st := &domain.ExecutionState{}
			if err := fromMessage(msg, st); err != nil {
				yield(nil, err)
				return
			}
			if !yield(st, nil) {
				return
			}
		}
	}
}

// serverStream runs one server-streaming call and yields raw messages until
// the server closes the stream.
func (c *GrpcClient) serverStream(ctx context.Context, desc int, method string, req any) iter.Seq2[*wrapperspb.BytesValue, error] {
	return func(yield func(*wrapperspb.BytesValue, error) bool) {
		in, err := toMessage(req)
		if err != nil {
			yield(nil, err)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		cs, err := c.conn.NewStream(ctx, &AgentService_ServiceDesc.Streams[desc], method)
		if err != nil {
			yield(nil, err)
			return
		}
		stream := &grpc.GenericClientStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ClientStream: cs}
		if err := stream.SendMsg(in); err != nil {
			yield(nil, err)
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield(nil, err)
			return
		}

		for {
			msg, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// SendResponse delivers a question response to agentID.
func (c *GrpcClient) SendResponse(ctx context.Context, agentID string, resp domain.Response) error {
	in, err := toMessage(SendResponseRequest{AgentID: agentID, Response: resp})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, AgentService_SendResponse_FullMethodName, in, out); err != nil {
		c.logger.Warn("SendResponse failed", "error", err, "agent_id", agentID, "request_id", resp.RequestID)
		return fmt.Errorf("send response: %w", err)
	}

	var ack Ack
	if err := fromMessage(out, &ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("%w: %s", errResponseRejected, resp.RequestID)
	}
	return nil
}
