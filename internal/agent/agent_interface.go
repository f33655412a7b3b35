package agent

import (
	"context"
	"iter"

	"github.com/ashureev/agentlink/internal/domain"
)

// Client is the transport to remote agents.
type Client interface {
	// StreamEvents yields event batches for agentID starting after from.
	// The sequence ends when the call fails or the server closes it.
	StreamEvents(ctx context.Context, agentID string, from domain.Cursor) iter.Seq2[*domain.Batch, error]

	// StreamExecutionState yields execution state snapshots for agentID,
	// starting with the current one.
	StreamExecutionState(ctx context.Context, agentID string) iter.Seq2[*domain.ExecutionState, error]

	// SendResponse delivers a question response to agentID.
	SendResponse(ctx context.Context, agentID string, resp domain.Response) error

	// Close releases resources
	Close()
}

// Ensure GrpcClient implements Client.
var _ Client = (*GrpcClient)(nil)
