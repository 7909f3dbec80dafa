package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MtkN1/pybybit/auth"
	"github.com/MtkN1/pybybit/datastore"
)

// fakeExchange answers the initialization endpoints with canned bodies.
type fakeExchange struct {
	*httptest.Server
	mu    sync.Mutex
	paths []string
	auth  []string
	coins []string
}

func newFakeExchange(t *testing.T, bodies map[string]string) *fakeExchange {
	t.Helper()
	f := &fakeExchange{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.paths = append(f.paths, r.URL.Path)
		f.auth = append(f.auth, r.URL.Query().Get("sign"))
		if r.URL.Path == pathWalletBalance {
			f.coins = append(f.coins, r.URL.Query().Get("coin"))
		}
		f.mu.Unlock()
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(f.Close)
	return f
}

func testSigner() *auth.Signer {
	return &auth.Signer{Key: "key", Secret: "secret", Now: func() time.Time { return time.UnixMilli(1600000000000) }}
}

func newTestClient(f *fakeExchange, signer *auth.Signer) *Client {
	return NewClient(true, signer, Options{BaseURL: f.URL, RequestsPerSecond: 1000, Burst: 10})
}

func TestInitializeInverseFeedsDataStore(t *testing.T) {
	f := newFakeExchange(t, map[string]string{
		pathInverseOrderList:     `{"ret_code":0,"result":{"data":[{"order_id":"o1","symbol":"BTCUSD","order_status":"New"}]}}`,
		pathInverseStopOrderList: `{"ret_code":0,"result":{"data":[{"stop_order_id":"s1","symbol":"BTCUSD","stop_order_status":"Untriggered"}]}}`,
		pathInversePositionList:  `{"ret_code":0,"result":{"symbol":"BTCUSD","position_idx":0,"size":10}}`,
		pathWalletBalance:        `{"ret_code":0,"result":{"BTC":{"wallet_balance":0.5}}}`,
	})
	ds := datastore.New()
	c := newTestClient(f, testSigner())
	c.AddCallback(ds.OnResponse)

	resps, err := c.InitializeInverse(context.Background(), "BTCUSD")
	require.NoError(t, err)
	require.Len(t, resps, 4)

	assert.Equal(t, []string{pathInverseOrderList, pathInverseStopOrderList, pathInversePositionList, pathWalletBalance}, f.paths)
	for _, sign := range f.auth {
		assert.Len(t, sign, 64)
	}
	assert.Equal(t, 1, ds.Order.Len())
	assert.Equal(t, 1, ds.StopOrder.Len())
	_, ok := ds.Position.Get("BTCUSD", 0)
	assert.True(t, ok)
	_, ok = ds.Wallet.Coin("BTC")
	assert.True(t, ok)
}

func TestInitializeInverseDerivesWalletCoinFromDatedContract(t *testing.T) {
	bodies := map[string]string{
		pathInverseOrderList:     `{"ret_code":0,"result":{"data":[]}}`,
		pathInverseStopOrderList: `{"ret_code":0,"result":{"data":[]}}`,
		pathInversePositionList:  `{"ret_code":0,"result":{"symbol":"BTCUSDM21","position_idx":0,"size":0}}`,
		pathWalletBalance:        `{"ret_code":0,"result":{"BTC":{"wallet_balance":1}}}`,
	}
	f := newFakeExchange(t, bodies)
	c := newTestClient(f, testSigner())

	_, err := c.InitializeInverse(context.Background(), "BTCUSDM21")
	require.NoError(t, err)
	_, err = c.InitializeInverse(context.Background(), "BTCPERP")
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", ""}, f.coins)
}

func TestInitializeLinearUsesLinearPathsAndUSDTWallet(t *testing.T) {
	f := newFakeExchange(t, map[string]string{
		pathLinearOrderList:     `{"ret_code":0,"result":{"data":[]}}`,
		pathLinearStopOrderList: `{"ret_code":0,"result":{"data":[]}}`,
		pathLinearPositionList:  `{"ret_code":0,"result":[{"symbol":"BTCUSDT","side":"Buy"},{"symbol":"BTCUSDT","side":"Sell"}]}`,
		pathWalletBalance:       `{"ret_code":0,"result":{"USDT":{"wallet_balance":100}}}`,
	})
	ds := datastore.New()
	c := newTestClient(f, testSigner())
	c.AddCallback(ds.OnResponse)

	resps, err := c.InitializeLinear(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Contains(t, resps[0].Path, "order_status=New&")
	assert.Contains(t, resps[3].Path, "coin=USDT")
	assert.Equal(t, 2, ds.Position.Linear.Len())
	_, ok := ds.Wallet.Coin("USDT")
	assert.True(t, ok)
}

func TestRejectedResponsesReachCallbacksButNotTheMirror(t *testing.T) {
	f := newFakeExchange(t, map[string]string{
		pathWalletBalance: `{"ret_code":10003,"ret_msg":"invalid api_key","result":null}`,
	})
	ds := datastore.New()
	var seen []*datastore.Response
	c := newTestClient(f, testSigner())
	c.AddCallback(func(r *datastore.Response) { seen = append(seen, r) })
	c.AddCallback(ds.OnResponse)

	resp, err := c.WalletBalance(context.Background(), "BTC")
	require.NoError(t, err)
	assert.False(t, resp.OK())
	require.Len(t, seen, 1)
	assert.Equal(t, 0, ds.Wallet.Len())
}

func TestNonJSONBodyStillDelivered(t *testing.T) {
	f := newFakeExchange(t, map[string]string{})
	c := newTestClient(f, testSigner())

	resp, err := c.InversePositionList(context.Background(), "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Nil(t, resp.Body)
}

func TestPrivateCallWithoutCredentialsFails(t *testing.T) {
	f := newFakeExchange(t, map[string]string{})
	c := newTestClient(f, nil)

	_, err := c.WalletBalance(context.Background(), "BTC")
	require.Error(t, err)
	assert.Empty(t, f.paths)
}

func TestTransportErrorStopsInitialize(t *testing.T) {
	c := NewClient(false, testSigner(), Options{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})

	resps, err := c.InitializeInverse(context.Background(), "BTCUSD")
	require.Error(t, err)
	assert.Empty(t, resps)
	assert.Contains(t, err.Error(), "initialize BTCUSD")
}

func TestCancelledContextStopsAtLimiter(t *testing.T) {
	f := newFakeExchange(t, map[string]string{})
	c := NewClient(false, testSigner(), Options{BaseURL: f.URL, RequestsPerSecond: 0.001, Burst: 1})

	_, _ = c.InversePositionList(context.Background(), "BTCUSD")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.InversePositionList(ctx, "BTCUSD")
	require.Error(t, err)
	assert.Len(t, f.paths, 1)
}

func TestDefaultBaseURL(t *testing.T) {
	assert.Equal(t, MainnetURL, NewClient(false, nil, Options{}).base)
	assert.Equal(t, TestnetURL, NewClient(true, nil, Options{}).base)
}
