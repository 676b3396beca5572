package chainclient

import (
	"context"

	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
)

// API is the surface the rest of the relay depends on, satisfied by *Client
// and by test fakes.
type API interface {
	Broadcast(ctx context.Context, txBytes []byte) (*BroadcastResult, error)
	GetTxStatus(ctx context.Context, txid string) (*TxStatusResult, error)
	GetPossibleNextNonce(ctx context.Context, address string) (uint64, error)
	GetFeeEstimates(ctx context.Context) (relaymodel.FeeEstimates, error)
}

var _ API = (*Client)(nil)
