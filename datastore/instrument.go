package datastore

import "github.com/MtkN1/pybybit/store"

// Instrument mirrors instrument_info keyed by symbol.
type Instrument struct {
	*store.Store
}

func newInstrument(parent *store.Notifier) *Instrument {
	return &Instrument{Store: store.New([]string{"symbol"}, 0, parent)}
}

// OnMessage seeds from a snapshot object; deltas carry only an update list.
func (i *Instrument) OnMessage(msg Message) {
	switch msg.Type {
	case TypeSnapshot:
		i.Update(items(msg.Data)...)
	case TypeDelta:
		i.Update(items(field(msg.Data, "update"))...)
	}
}

// Symbol returns the instrument record for symbol.
func (i *Instrument) Symbol(symbol string) (store.Item, bool) {
	return i.Get(store.Item{"symbol": symbol})
}
