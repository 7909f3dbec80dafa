package datastore

import "github.com/MtkN1/pybybit/store"

const orderCapacity = 5000

var liveOrderStatus = map[string]struct{}{
	"Created":         {},
	"New":             {},
	"PartiallyFilled": {},
	"PendingCancel":   {},
}

// Order mirrors the account's live active orders keyed by order_id. Orders
// reaching a terminal status are removed.
type Order struct {
	*store.Store
}

func newOrder(capacity int, parent *store.Notifier) *Order {
	if capacity <= 0 {
		capacity = orderCapacity
	}
	return &Order{Store: store.New([]string{"order_id"}, capacity, parent)}
}

// OnResponse merges the live orders of a list result ({"data": [...]}).
// Terminal entries are skipped.
func (o *Order) OnResponse(result any) {
	o.Update(liveItems(items(field(result, "data")), "order_status", liveOrderStatus)...)
}

func (o *Order) OnMessage(msg Message) {
	o.Apply(lifecycleOps(items(msg.Data), "order_status", liveOrderStatus)...)
}

// Active returns the live orders of symbol.
func (o *Order) Active(symbol string) []store.Item {
	return o.List(store.Item{"symbol": symbol})
}

// lifecycleOps turns a batch into ordered update/remove steps: items in a
// live (or unknown-absent) status are updated, the rest removed.
func lifecycleOps(batch []store.Item, statusField string, live map[string]struct{}) []store.Op {
	ops := make([]store.Op, 0, len(batch))
	for _, it := range batch {
		if isLive(it, statusField, live) {
			ops = append(ops, store.UpdateOp(it))
		} else {
			ops = append(ops, store.RemoveOp(it))
		}
	}
	return ops
}

func liveItems(batch []store.Item, statusField string, live map[string]struct{}) []store.Item {
	out := make([]store.Item, 0, len(batch))
	for _, it := range batch {
		if isLive(it, statusField, live) {
			out = append(out, it)
		}
	}
	return out
}

func isLive(it store.Item, statusField string, live map[string]struct{}) bool {
	if !it.Has(statusField) {
		return true
	}
	_, ok := live[it.String(statusField)]
	return ok
}
