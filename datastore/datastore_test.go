package datastore

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MtkN1/pybybit/store"
)

func push(t *testing.T, ds *DataStore, raw string) {
	t.Helper()
	ds.OnMessage([]byte(raw))
}

func response(t *testing.T, status int, path, body string) *Response {
	t.Helper()
	decoded, err := DecodeBody([]byte(body))
	require.NoError(t, err)
	return &Response{Status: status, Path: path, Body: decoded}
}

func TestOrderBookSnapshotAndDelta(t *testing.T) {
	ds := New()
	push(t, ds, `{"topic":"orderBookL2_25.BTCUSD","type":"snapshot","data":[
		{"price":"9000.00","symbol":"BTCUSD","id":90000000,"side":"Buy","size":10},
		{"price":"9000.50","symbol":"BTCUSD","id":90005000,"side":"Sell","size":3},
		{"price":"9001.00","symbol":"BTCUSD","id":90010000,"side":"Sell","size":1}
	]}`)
	require.Equal(t, 3, ds.OrderBook.Len())

	push(t, ds, `{"topic":"orderBookL2_25.BTCUSD","type":"delta","data":{
		"delete":[{"price":"9000.50","symbol":"BTCUSD","id":90005000,"side":"Sell"}],
		"update":[{"price":"9000.00","symbol":"BTCUSD","id":90000000,"side":"Buy","size":12}],
		"insert":[{"price":"8999.50","symbol":"BTCUSD","id":89995000,"side":"Buy","size":4}]
	}}`)

	book := ds.OrderBook.Book("BTCUSD")
	require.Len(t, book.Sell, 1)
	require.Len(t, book.Buy, 2)
	assert.Equal(t, "9001.00", book.Sell[0]["price"])
	assert.Equal(t, "9000.00", book.Buy[0]["price"])
	assert.Equal(t, "12", book.Buy[0].String("size"))

	best := ds.OrderBook.Best("BTCUSD")
	require.NotNil(t, best.Sell)
	require.NotNil(t, best.Buy)
	assert.Equal(t, "9001", best.Sell.String())
	assert.Equal(t, "9000", best.Buy.String())
}

func TestOrderBook200SnapshotUnderOrderBookKey(t *testing.T) {
	ds := New()
	push(t, ds, `{"topic":"orderBook_200.100ms.BTCUSDT","type":"snapshot","data":{"order_book":[
		{"price":"30000","symbol":"BTCUSDT","id":"300000000","side":"Buy","size":1}
	]}}`)
	assert.Equal(t, 1, ds.OrderBook.Len())
}

func TestOrderBookDeleteThenReinsertInOneDeltaEndsPresent(t *testing.T) {
	ds := New()
	push(t, ds, `{"topic":"orderBookL2_25.BTCUSD","type":"snapshot","data":[
		{"price":"4","symbol":"BTCUSD","id":1,"side":"Sell","size":1}
	]}`)
	push(t, ds, `{"topic":"orderBookL2_25.BTCUSD","type":"delta","data":{
		"delete":[{"symbol":"BTCUSD","id":1,"side":"Sell"}],
		"update":[],
		"insert":[{"price":"5","symbol":"BTCUSD","id":1,"side":"Sell","size":2}]
	}}`)

	got, ok := ds.OrderBook.Get(store.Item{"symbol": "BTCUSD", "id": 1, "side": "Sell"})
	require.True(t, ok)
	assert.Equal(t, "5", got["price"])
}

func TestOrderBookTopicIsNotMistakenForOrder(t *testing.T) {
	ds := New()
	push(t, ds, `{"topic":"orderBookL2_25.BTCUSD","type":"snapshot","data":[
		{"price":"1","symbol":"BTCUSD","id":1,"side":"Sell","order_id":"x"}
	]}`)
	assert.Equal(t, 1, ds.OrderBook.Len())
	assert.Equal(t, 0, ds.Order.Len())
}

func TestOrderNewThenFilledIsRemoved(t *testing.T) {
	ds := New()
	push(t, ds, `{"topic":"order","data":[{"order_id":"abc","symbol":"BTCUSD","order_status":"New","qty":1}]}`)
	require.Len(t, ds.Order.Active("BTCUSD"), 1)

	push(t, ds, `{"topic":"order","data":[{"order_id":"abc","symbol":"BTCUSD","order_status":"Filled","qty":1}]}`)
	assert.Empty(t, ds.Order.List(nil))
}

func TestStopOrderFieldsAreRenamedBeforeKeying(t *testing.T) {
	ds := New()
	push(t, ds, `{"topic":"stop_order","data":[{"order_id":"s1","symbol":"BTCUSD","order_status":"Untriggered"}]}`)

	got, ok := ds.StopOrder.Get(store.Item{"stop_order_id": "s1"})
	require.True(t, ok)
	assert.Equal(t, "Untriggered", got["stop_order_status"])
	assert.NotContains(t, got, "order_id")

	push(t, ds, `{"topic":"stop_order","data":[{"order_id":"s1","symbol":"BTCUSD","order_status":"Triggered"}]}`)
	assert.Equal(t, 0, ds.StopOrder.Len())
}

func TestStopOrderTerminalForUnseenKeyIsNoop(t *testing.T) {
	ds := New()
	push(t, ds, `{"topic":"stop_order","data":[{"order_id":"keep","order_status":"Untriggered"}]}`)
	push(t, ds, `{"topic":"stop_order","data":[{"order_id":"ghost","order_status":"Cancelled"}]}`)

	assert.Equal(t, 1, ds.StopOrder.Len())
	_, ok := ds.StopOrder.Get(store.Item{"stop_order_id": "keep"})
	assert.True(t, ok)
}

func TestPositionEmptyBatchIsNoop(t *testing.T) {
	ds := New()
	ch := ds.Changed()
	push(t, ds, `{"topic":"position","data":[]}`)

	assert.Equal(t, 0, ds.Position.Inverse.Len())
	assert.Equal(t, 0, ds.Position.Linear.Len())
	select {
	case <-ch:
		t.Fatal("empty position batch must not touch any store")
	default:
	}
}

func TestInversePositionDerivesWallet(t *testing.T) {
	ds := New()
	push(t, ds, `{"topic":"position","data":[
		{"symbol":"BTCUSD","position_idx":0,"side":"Buy","size":10,"wallet_balance":"1.5","available_balance":"1.2"},
		{"symbol":"BTCUSDM21","position_idx":0,"side":"Sell","size":5,"wallet_balance":"1.6"}
	]}`)

	pos, ok := ds.Position.Get("BTCUSD", PositionOneWay)
	require.True(t, ok)
	assert.Equal(t, "Buy", pos["side"])
	assert.Equal(t, 2, ds.Position.Inverse.Len())

	w, ok := ds.Wallet.Coin("BTC")
	require.True(t, ok)
	// BTCUSDM21 came last in the batch and wins the shared BTC wallet.
	assert.Equal(t, "1.6", w["wallet_balance"])
	assert.Equal(t, "1.2", w["available_balance"])
	assert.Equal(t, 1, ds.Wallet.Len())
}

func TestLinearPositionDerivesNoWallet(t *testing.T) {
	ds := New()
	push(t, ds, `{"topic":"position","data":[
		{"symbol":"BTCUSDT","side":"Buy","size":0.5},
		{"symbol":"BTCUSDT","side":"Sell","size":0}
	]}`)

	both := ds.Position.Both("BTCUSDT")
	require.NotNil(t, both.Buy)
	require.NotNil(t, both.Sell)
	assert.Equal(t, 0, ds.Position.Inverse.Len())
	assert.Equal(t, 0, ds.Wallet.Len())
}

func TestLinearWalletPushDefaultsToUSDT(t *testing.T) {
	ds := New()
	push(t, ds, `{"topic":"wallet","data":[{"wallet_balance":429.8,"available_balance":429.8}]}`)

	w, ok := ds.Wallet.Coin("USDT")
	require.True(t, ok)
	assert.Equal(t, "429.8", w.String("wallet_balance"))
}

func TestKlineSymbolInjectedFromTopic(t *testing.T) {
	ds := New()
	push(t, ds, `{"topic":"klineV2.1.BTCUSD","data":[{"start":1572425640,"end":1572425700,"close":9200,"confirm":false}]}`)
	push(t, ds, `{"topic":"candle.1.BTCUSDT","data":[{"start":1572425640,"close":9300}]}`)

	bar, ok := ds.Kline.Bar("BTCUSD", 1572425640)
	require.True(t, ok)
	assert.Equal(t, "9200", bar.String("close"))

	_, ok = ds.Kline.Bar("BTCUSDT", "1572425640")
	assert.True(t, ok)
	assert.Equal(t, 2, ds.Kline.Len())
}

func TestInstrumentSnapshotThenDelta(t *testing.T) {
	ds := New()
	push(t, ds, `{"topic":"instrument_info.100ms.BTCUSD","type":"snapshot","data":{"symbol":"BTCUSD","last_price_e4":81165000,"mark_price":"8116.5"}}`)
	push(t, ds, `{"topic":"instrument_info.100ms.BTCUSD","type":"delta","data":{"delete":[],"update":[{"symbol":"BTCUSD","mark_price":"8120"}],"insert":[]}}`)

	got, ok := ds.Instrument.Symbol("BTCUSD")
	require.True(t, ok)
	assert.Equal(t, "8120", got["mark_price"])
	assert.Equal(t, "81165000", got.String("last_price_e4"))
}

func TestTradeExecutionAndInsurancePushes(t *testing.T) {
	ds := New()
	push(t, ds, `{"topic":"trade.BTCUSD","data":[{"symbol":"BTCUSD","trade_id":"t1","price":9000}]}`)
	push(t, ds, `{"topic":"execution","data":[{"symbol":"BTCUSD","exec_id":"e1","exec_qty":1}]}`)
	push(t, ds, `{"topic":"insurance.BTC","data":[{"currency":"BTC","wallet_balance":1}]}`)

	assert.Len(t, ds.Trade.BySymbol("BTCUSD"), 1)
	assert.Len(t, ds.Execution.BySymbol("BTCUSD"), 1)
	assert.Equal(t, 1, ds.Insurance.Len())
}

func TestMalformedAndUnknownFramesAreDropped(t *testing.T) {
	ds := New()
	push(t, ds, `not json`)
	push(t, ds, `{"success":true,"ret_msg":"","request":{"op":"subscribe","args":["order"]}}`)
	push(t, ds, `{"success":false,"ret_msg":"error:topic","request":{"op":"subscribe","args":["nope"]}}`)
	push(t, ds, `{"topic":"liquidation.BTCUSD","data":[{"symbol":"BTCUSD"}]}`)

	for name, s := range ds.Stores() {
		assert.Zero(t, s.Len(), name)
	}
}

func TestRejectedResponseIsNotApplied(t *testing.T) {
	ds := New()
	ds.OnResponse(response(t, http.StatusOK, "/open-api/order/list?symbol=BTCUSD",
		`{"ret_code":10003,"ret_msg":"invalid api_key","result":{"data":[{"order_id":"a","order_status":"New"}]}}`))
	ds.OnResponse(response(t, http.StatusForbidden, "/open-api/order/list",
		`{"ret_code":0,"result":{"data":[{"order_id":"b","order_status":"New"}]}}`))
	ds.OnResponse(&Response{Status: http.StatusOK, Path: "/open-api/order/list"})

	assert.Equal(t, 0, ds.Order.Len())
}

func TestResponsesRouteByPath(t *testing.T) {
	ds := New()
	ds.OnResponse(response(t, http.StatusOK, "/private/linear/order/list?symbol=BTCUSDT&order_status=New",
		`{"ret_code":0,"result":{"data":[{"order_id":"o1","symbol":"BTCUSDT","order_status":"New"}]}}`))
	ds.OnResponse(response(t, http.StatusOK, "/open-api/stop-order/list?symbol=BTCUSD",
		`{"ret_code":0,"result":{"data":[{"stop_order_id":"s1","symbol":"BTCUSD","stop_order_status":"Untriggered"}]}}`))
	ds.OnResponse(response(t, http.StatusOK, "/v2/private/position/list?symbol=BTCUSD",
		`{"ret_code":0,"result":{"symbol":"BTCUSD","position_idx":0,"size":1}}`))
	ds.OnResponse(response(t, http.StatusOK, "/private/linear/position/list?symbol=BTCUSDT",
		`{"ret_code":0,"result":[{"symbol":"BTCUSDT","side":"Buy","size":0},{"symbol":"BTCUSDT","side":"Sell","size":0}]}`))
	ds.OnResponse(response(t, http.StatusOK, "/v2/private/wallet/balance?coin=BTC",
		`{"ret_code":0,"result":{"BTC":{"equity":1,"wallet_balance":1}}}`))
	ds.OnResponse(response(t, http.StatusOK, "/v2/public/tickers",
		`{"ret_code":0,"result":[{"symbol":"BTCUSD"}]}`))

	assert.Equal(t, 1, ds.Order.Len())
	assert.Equal(t, 1, ds.StopOrder.Len())
	assert.Equal(t, 1, ds.Position.Inverse.Len())
	assert.Equal(t, 2, ds.Position.Linear.Len())
	_, ok := ds.Wallet.Coin("BTC")
	assert.True(t, ok)
}

func TestOrderListResponsesKeepOnlyLiveEntries(t *testing.T) {
	ds := New()
	ds.OnResponse(response(t, http.StatusOK, "/open-api/order/list?symbol=BTCUSD",
		`{"ret_code":0,"result":{"data":[
			{"order_id":"a","symbol":"BTCUSD","order_status":"Filled"},
			{"order_id":"b","symbol":"BTCUSD","order_status":"Cancelled"},
			{"order_id":"c","symbol":"BTCUSD","order_status":"New"}
		]}}`))
	ds.OnResponse(response(t, http.StatusOK, "/open-api/stop-order/list?symbol=BTCUSD",
		`{"ret_code":0,"result":{"data":[
			{"stop_order_id":"s","symbol":"BTCUSD","stop_order_status":"Triggered"},
			{"stop_order_id":"u","symbol":"BTCUSD","stop_order_status":"Untriggered"}
		]}}`))

	active := ds.Order.Active("BTCUSD")
	require.Len(t, active, 1)
	assert.Equal(t, "c", active[0].String("order_id"))

	stops := ds.StopOrder.Active("BTCUSD")
	require.Len(t, stops, 1)
	assert.Equal(t, "u", stops[0].String("stop_order_id"))
}

func TestResponseAcceptsCamelCaseReturnCode(t *testing.T) {
	ds := New()
	ds.OnResponse(response(t, http.StatusOK, "/private/linear/order/list",
		`{"retCode":0,"result":{"data":[{"order_id":"o1","order_status":"New"}]}}`))
	assert.Equal(t, 1, ds.Order.Len())
}

func TestPositionResponseUnwrapsValidityEnvelope(t *testing.T) {
	ds := New()
	ds.OnResponse(response(t, http.StatusOK, "/v2/private/position/list",
		`{"ret_code":0,"result":[{"data":{"symbol":"BTCUSD","position_idx":0,"size":3},"is_valid":true}]}`))

	pos, ok := ds.Position.Get("BTCUSD", 0)
	require.True(t, ok)
	assert.Equal(t, "3", pos.String("size"))
}

func TestWaitWakesOnAnyEntityChange(t *testing.T) {
	ds := New()
	done := make(chan error, 1)
	ch := ds.Changed()
	go func() {
		<-ch
		done <- nil
	}()

	push(t, ds, `{"topic":"wallet","data":[{"coin":"BTC","wallet_balance":1}]}`)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("aggregate waiter not woken")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ds.Wait(ctx), context.DeadlineExceeded)
}

func TestCapacitiesOverrideDefaults(t *testing.T) {
	ds := NewWithCapacities(Capacities{Trade: 2})
	push(t, ds, `{"topic":"trade.BTCUSD","data":[
		{"symbol":"BTCUSD","trade_id":"1"},{"symbol":"BTCUSD","trade_id":"2"},{"symbol":"BTCUSD","trade_id":"3"}
	]}`)
	assert.Equal(t, 2, ds.Trade.Len())
	assert.Equal(t, orderCapacity, ds.Order.Capacity())
	assert.Equal(t, 500000, New().Trade.Capacity())
}

func TestCoinFromSymbol(t *testing.T) {
	cases := map[string]struct {
		coin string
		ok   bool
	}{
		"BTCUSD":    {"BTC", true},
		"ETHUSD":    {"ETH", true},
		"BTCUSDM21": {"BTC", true},
		"BTCUSDZ22": {"BTC", true},
		"BTCUSDT":   {"", false},
		"USD":       {"", false},
		"BTCEUR":    {"", false},
	}
	for symbol, want := range cases {
		coin, ok := CoinFromSymbol(symbol)
		assert.Equal(t, want.ok, ok, symbol)
		if want.ok {
			assert.Equal(t, want.coin, coin, symbol)
		}
	}
}
