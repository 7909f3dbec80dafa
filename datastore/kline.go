package datastore

import (
	"strings"

	"github.com/MtkN1/pybybit/store"
)

const klineCapacity = 5000

// Kline mirrors klineV2 / candle buckets keyed by (symbol, start).
type Kline struct {
	*store.Store
}

func newKline(capacity int, parent *store.Notifier) *Kline {
	if capacity <= 0 {
		capacity = klineCapacity
	}
	return &Kline{Store: store.New([]string{"symbol", "start"}, capacity, parent)}
}

// OnMessage injects the symbol taken from the topic's last segment; a symbol
// already present in the payload wins.
func (k *Kline) OnMessage(msg Message) {
	symbol := topicSymbol(msg.Topic)
	batch := items(msg.Data)
	out := make([]store.Item, 0, len(batch))
	for _, it := range batch {
		bar := make(store.Item, len(it)+1)
		bar["symbol"] = symbol
		for f, v := range it {
			bar[f] = v
		}
		out = append(out, bar)
	}
	k.Update(out...)
}

// Bar returns the bucket of symbol starting at start.
func (k *Kline) Bar(symbol string, start any) (store.Item, bool) {
	return k.Get(store.Item{"symbol": symbol, "start": start})
}

func topicSymbol(topic string) string {
	if i := strings.LastIndexByte(topic, '.'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
