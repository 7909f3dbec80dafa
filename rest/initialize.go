package rest

import (
	"context"

	"github.com/pkg/errors"

	"github.com/MtkN1/pybybit/datastore"
)

const (
	pathInverseOrderList     = "/open-api/order/list"
	pathInverseStopOrderList = "/open-api/stop-order/list"
	pathInversePositionList  = "/v2/private/position/list"
	pathLinearOrderList      = "/private/linear/order/list"
	pathLinearStopOrderList  = "/private/linear/stop-order/list"
	pathLinearPositionList   = "/private/linear/position/list"
	pathWalletBalance        = "/v2/private/wallet/balance"
)

// InverseOrderList lists active inverse orders in status (comma separated).
func (c *Client) InverseOrderList(ctx context.Context, symbol, status string) (*datastore.Response, error) {
	return c.Get(ctx, pathInverseOrderList, params("symbol", symbol, "order_status", status), true)
}

// InverseStopOrderList lists inverse conditional orders in status.
func (c *Client) InverseStopOrderList(ctx context.Context, symbol, status string) (*datastore.Response, error) {
	return c.Get(ctx, pathInverseStopOrderList, params("symbol", symbol, "stop_order_status", status), true)
}

// InversePositionList returns the inverse position of symbol.
func (c *Client) InversePositionList(ctx context.Context, symbol string) (*datastore.Response, error) {
	return c.Get(ctx, pathInversePositionList, params("symbol", symbol), true)
}

// LinearOrderList lists active USDT orders in status.
func (c *Client) LinearOrderList(ctx context.Context, symbol, status string) (*datastore.Response, error) {
	return c.Get(ctx, pathLinearOrderList, params("symbol", symbol, "order_status", status), true)
}

// LinearStopOrderList lists USDT conditional orders in status.
func (c *Client) LinearStopOrderList(ctx context.Context, symbol, status string) (*datastore.Response, error) {
	return c.Get(ctx, pathLinearStopOrderList, params("symbol", symbol, "stop_order_status", status), true)
}

// LinearPositionList returns both legs of a USDT position.
func (c *Client) LinearPositionList(ctx context.Context, symbol string) (*datastore.Response, error) {
	return c.Get(ctx, pathLinearPositionList, params("symbol", symbol), true)
}

// WalletBalance returns the balance of coin, or of every coin when empty.
func (c *Client) WalletBalance(ctx context.Context, coin string) (*datastore.Response, error) {
	return c.Get(ctx, pathWalletBalance, params("coin", coin), true)
}

// InitializeInverse fetches live orders, stop orders, the position and the
// margin coin balance of an inverse symbol. Every coin is fetched when the
// symbol does not name one.
func (c *Client) InitializeInverse(ctx context.Context, symbol string) ([]*datastore.Response, error) {
	return c.initialize(ctx, symbol,
		func(ctx context.Context) (*datastore.Response, error) {
			return c.InverseOrderList(ctx, symbol, "New,PartiallyFilled")
		},
		func(ctx context.Context) (*datastore.Response, error) {
			return c.InverseStopOrderList(ctx, symbol, "Untriggered")
		},
		func(ctx context.Context) (*datastore.Response, error) {
			return c.InversePositionList(ctx, symbol)
		},
		func(ctx context.Context) (*datastore.Response, error) {
			coin, _ := datastore.CoinFromSymbol(symbol)
			return c.WalletBalance(ctx, coin)
		},
	)
}

// InitializeLinear fetches live orders, stop orders, both position legs and
// the USDT balance of a linear symbol.
func (c *Client) InitializeLinear(ctx context.Context, symbol string) ([]*datastore.Response, error) {
	return c.initialize(ctx, symbol,
		func(ctx context.Context) (*datastore.Response, error) {
			return c.LinearOrderList(ctx, symbol, "New")
		},
		func(ctx context.Context) (*datastore.Response, error) {
			return c.LinearStopOrderList(ctx, symbol, "Untriggered")
		},
		func(ctx context.Context) (*datastore.Response, error) {
			return c.LinearPositionList(ctx, symbol)
		},
		func(ctx context.Context) (*datastore.Response, error) {
			return c.WalletBalance(ctx, "USDT")
		},
	)
}

type call func(context.Context) (*datastore.Response, error)

// initialize runs calls in order and stops at the first transport error.
func (c *Client) initialize(ctx context.Context, symbol string, calls ...call) ([]*datastore.Response, error) {
	out := make([]*datastore.Response, 0, len(calls))
	for _, fn := range calls {
		resp, err := fn(ctx)
		if err != nil {
			return out, errors.Wrapf(err, "initialize %s", symbol)
		}
		out = append(out, resp)
	}
	return out, nil
}

func params(kv ...string) map[string]any {
	out := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			out[kv[i]] = kv[i+1]
		}
	}
	return out
}
