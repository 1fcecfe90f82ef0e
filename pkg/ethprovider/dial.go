package ethprovider

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// ethRPC adapts go-ethereum's *rpc.Client to RPCTransport.
type ethRPC struct {
	raw *rpc.Client
	eth *ethclient.Client
}

func (e *ethRPC) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return e.raw.CallContext(ctx, result, method, args...)
}

func (e *ethRPC) BlockNumber(ctx context.Context) (uint64, error) {
	return e.eth.BlockNumber(ctx)
}

func (e *ethRPC) Close() {
	e.eth.Close()
}

// DialEthereum is the production Dialer: it opens a go-ethereum JSON-RPC
// client (http/ws/ipc chosen by the URL scheme) and wraps it as an
// RPCTransport.
func DialEthereum(ctx context.Context, url string) (RPCTransport, error) {
	raw, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &ethRPC{raw: raw, eth: ethclient.NewClient(raw)}, nil
}
