package ethprovider

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshkernel/node/pkg/kmsg"
)

type fakeTransport struct {
	callErr error
	result  json.RawMessage
	closed  bool
}

func (f *fakeTransport) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if f.callErr != nil {
		return f.callErr
	}
	return json.Unmarshal(f.result, result)
}

func (f *fakeTransport) BlockNumber(ctx context.Context) (uint64, error) { return 100, nil }
func (f *fakeTransport) Close()                                         { f.closed = true }

func dialerFor(t *fakeTransport, err error) Dialer {
	return func(ctx context.Context, url string) (RPCTransport, error) {
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

func TestRequestSucceedsOnFirstUrlProvider(t *testing.T) {
	pool := NewPool(1, "alice", nil)
	tr := &fakeTransport{result: json.RawMessage(`"0x1"`)}
	pool.AddURLProvider(NewUrlProvider("primary", "ws://primary", dialerFor(tr, nil)))

	result, err := pool.Request(context.Background(), "alice", "eth_blockNumber", nil)
	require.NoError(t, err)
	require.JSONEq(t, `"0x1"`, string(result))
}

func TestRequestFailsOverToSecondUrlProvider(t *testing.T) {
	pool := NewPool(1, "alice", nil)
	bad := &fakeTransport{callErr: errBoom}
	good := &fakeTransport{result: json.RawMessage(`"0x2"`)}
	pool.AddURLProvider(NewUrlProvider("bad", "ws://bad", dialerFor(bad, nil)))
	pool.AddURLProvider(NewUrlProvider("good", "ws://good", dialerFor(good, nil)))

	result, err := pool.Request(context.Background(), "alice", "eth_blockNumber", nil)
	require.NoError(t, err)
	require.JSONEq(t, `"0x2"`, string(result))
}

func TestRequestReturnsNoRpcForChainWhenAllFail(t *testing.T) {
	pool := NewPool(1, "alice", nil)
	pool.AddURLProvider(NewUrlProvider("bad", "ws://bad", dialerFor(nil, errBoom)))

	_, err := pool.Request(context.Background(), "alice", "eth_blockNumber", nil)
	require.Error(t, err)

	var sendErr kmsg.SendError
	require.ErrorAs(t, err, &sendErr)
	require.Equal(t, string(kmsg.EthErrNoRpcForChain), sendErr.Reason)
}

func TestSettingsAdmit(t *testing.T) {
	s := Settings{Public: false, Allow: map[string]bool{"bob": true}, Deny: map[string]bool{"mallory": true}}
	require.True(t, s.Admit("bob"))
	require.False(t, s.Admit("carol"))
	require.False(t, s.Admit("mallory"))

	public := Settings{Public: true, Deny: map[string]bool{"mallory": true}}
	require.True(t, public.Admit("carol"))
	require.False(t, public.Admit("mallory"))
}

func TestSendRawTransactionFailureSetsCooldown(t *testing.T) {
	pool := NewPool(1, "alice", nil)
	tr := &fakeTransport{callErr: errBoom}
	up := NewUrlProvider("primary", "ws://primary", dialerFor(tr, nil))
	pool.AddURLProvider(up)

	_, err := pool.Request(context.Background(), "alice", "eth_sendRawTransaction", nil)
	require.Error(t, err)
	require.True(t, up.health.hasMethodFailure("eth_sendRawTransaction"))

	// allow the cooldown goroutine to register itself
	time.Sleep(10 * time.Millisecond)
}

var errBoom = context.DeadlineExceeded
