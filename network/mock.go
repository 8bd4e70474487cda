package network

import "context"

var _ BlockchainService = (*MockBlockchainService)(nil)

// MockBlockchainService is a test double for BlockchainService.
// All function fields must be set before the corresponding method is called.
type MockBlockchainService struct {
	ListUnspentFn        func(ctx context.Context, address string) ([]*UTXO, error)
	GetRawTxFn           func(ctx context.Context, txid string) ([]byte, error)
	BroadcastTxFn        func(ctx context.Context, rawTxHex string) (string, error)
	GetBalanceFn         func(ctx context.Context, address string) (uint64, error)
	GetTxStatusFn        func(ctx context.Context, txid string) (*TxStatus, error)
	GetBestBlockHeightFn func(ctx context.Context) (uint64, error)
}

func (m *MockBlockchainService) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	return m.ListUnspentFn(ctx, address)
}
func (m *MockBlockchainService) GetRawTx(ctx context.Context, txid string) ([]byte, error) {
	return m.GetRawTxFn(ctx, txid)
}
func (m *MockBlockchainService) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	return m.BroadcastTxFn(ctx, rawTxHex)
}
func (m *MockBlockchainService) GetBalance(ctx context.Context, address string) (uint64, error) {
	return m.GetBalanceFn(ctx, address)
}
func (m *MockBlockchainService) GetTxStatus(ctx context.Context, txid string) (*TxStatus, error) {
	return m.GetTxStatusFn(ctx, txid)
}
func (m *MockBlockchainService) GetBestBlockHeight(ctx context.Context) (uint64, error) {
	return m.GetBestBlockHeightFn(ctx)
}
