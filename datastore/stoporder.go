package datastore

import "github.com/MtkN1/pybybit/store"

const stopOrderCapacity = 5000

var liveStopOrderStatus = map[string]struct{}{
	"Untriggered": {},
	"Active":      {},
	"Created":     {},
	"New":         {},
}

// StopOrder mirrors live conditional orders keyed by stop_order_id.
type StopOrder struct {
	*store.Store
}

func newStopOrder(capacity int, parent *store.Notifier) *StopOrder {
	if capacity <= 0 {
		capacity = stopOrderCapacity
	}
	return &StopOrder{Store: store.New([]string{"stop_order_id"}, capacity, parent)}
}

// OnResponse merges the untriggered entries of a stop-order list result.
func (s *StopOrder) OnResponse(result any) {
	batch := renameStopFields(items(field(result, "data")))
	s.Update(liveItems(batch, "stop_order_status", liveStopOrderStatus)...)
}

func (s *StopOrder) OnMessage(msg Message) {
	s.Apply(lifecycleOps(renameStopFields(items(msg.Data)), "stop_order_status", liveStopOrderStatus)...)
}

// Active returns the live stop orders of symbol.
func (s *StopOrder) Active(symbol string) []store.Item {
	return s.List(store.Item{"symbol": symbol})
}

// renameStopFields maps the generic order_id/order_status names used by the
// stop_order topic onto stop_order_id/stop_order_status. Inputs are copied;
// a destination field already present is left untouched.
func renameStopFields(batch []store.Item) []store.Item {
	out := make([]store.Item, 0, len(batch))
	for _, it := range batch {
		it = it.Clone()
		renameField(it, "order_id", "stop_order_id")
		renameField(it, "order_status", "stop_order_status")
		out = append(out, it)
	}
	return out
}

func renameField(it store.Item, from, to string) {
	v, ok := it[from]
	if !ok {
		return
	}
	if _, exists := it[to]; exists {
		return
	}
	it[to] = v
	delete(it, from)
}
