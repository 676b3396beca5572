package chainclient

import (
	"context"
	"sync"

	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
)

// Mock is a configurable chainclient.API used by tests across the relay's
// other packages (nonce coordinator, settlement engine, sponsor pipeline),
// the same call-recording fake shape as the teacher's rpc.MockRPCClient.
type Mock struct {
	mu sync.Mutex

	BroadcastFunc func(ctx context.Context, txBytes []byte) (*BroadcastResult, error)
	StatusFunc    func(ctx context.Context, txid string) (*TxStatusResult, error)
	NonceFunc     func(ctx context.Context, address string) (uint64, error)
	FeesFunc      func(ctx context.Context) (relaymodel.FeeEstimates, error)

	BroadcastCalls int
	StatusCalls    int
	NonceCalls     int
}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Broadcast(ctx context.Context, txBytes []byte) (*BroadcastResult, error) {
	m.mu.Lock()
	m.BroadcastCalls++
	m.mu.Unlock()
	if m.BroadcastFunc != nil {
		return m.BroadcastFunc(ctx, txBytes)
	}
	return &BroadcastResult{Txid: "0xMOCK"}, nil
}

func (m *Mock) GetTxStatus(ctx context.Context, txid string) (*TxStatusResult, error) {
	m.mu.Lock()
	m.StatusCalls++
	m.mu.Unlock()
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, txid)
	}
	return &TxStatusResult{Status: StatusPending}, nil
}

func (m *Mock) GetPossibleNextNonce(ctx context.Context, address string) (uint64, error) {
	m.mu.Lock()
	m.NonceCalls++
	m.mu.Unlock()
	if m.NonceFunc != nil {
		return m.NonceFunc(ctx, address)
	}
	return 0, nil
}

func (m *Mock) GetFeeEstimates(ctx context.Context) (relaymodel.FeeEstimates, error) {
	if m.FeesFunc != nil {
		return m.FeesFunc(ctx)
	}
	return relaymodel.FeeEstimates{
		relaymodel.TxTypeTokenTransfer: {relaymodel.FeeLow: 180, relaymodel.FeeMedium: 220, relaymodel.FeeHigh: 300},
		relaymodel.TxTypeContractCall:  {relaymodel.FeeLow: 220, relaymodel.FeeMedium: 280, relaymodel.FeeHigh: 400},
		relaymodel.TxTypeSmartContract: {relaymodel.FeeLow: 260, relaymodel.FeeMedium: 340, relaymodel.FeeHigh: 500},
	}, nil
}

var _ API = (*Mock)(nil)
