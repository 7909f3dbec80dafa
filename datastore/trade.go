package datastore

import "github.com/MtkN1/pybybit/store"

const tradeCapacity = 500000

// Trade keeps the most recent public trades, oldest evicted first.
type Trade struct {
	*store.Store
}

func newTrade(capacity int, parent *store.Notifier) *Trade {
	if capacity <= 0 {
		capacity = tradeCapacity
	}
	return &Trade{Store: store.New([]string{"symbol", "trade_id"}, capacity, parent)}
}

// OnMessage appends pushed trades.
func (t *Trade) OnMessage(msg Message) {
	t.Update(items(msg.Data)...)
}

// BySymbol returns the trades of symbol in arrival order.
func (t *Trade) BySymbol(symbol string) []store.Item {
	return t.List(store.Item{"symbol": symbol})
}
