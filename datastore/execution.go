package datastore

import "github.com/MtkN1/pybybit/store"

const executionCapacity = 5000

// Execution keeps recent private fills keyed by exec_id.
type Execution struct {
	*store.Store
}

func newExecution(capacity int, parent *store.Notifier) *Execution {
	if capacity <= 0 {
		capacity = executionCapacity
	}
	return &Execution{Store: store.New([]string{"exec_id"}, capacity, parent)}
}

func (e *Execution) OnMessage(msg Message) {
	e.Update(items(msg.Data)...)
}

// BySymbol returns the fills of symbol in arrival order.
func (e *Execution) BySymbol(symbol string) []store.Item {
	return e.List(store.Item{"symbol": symbol})
}
