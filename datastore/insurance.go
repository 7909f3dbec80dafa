package datastore

import "github.com/MtkN1/pybybit/store"

// Insurance mirrors the insurance fund balance per currency.
type Insurance struct {
	*store.Store
}

func newInsurance(parent *store.Notifier) *Insurance {
	return &Insurance{Store: store.New([]string{"currency"}, 0, parent)}
}

func (i *Insurance) OnMessage(msg Message) {
	i.Update(items(msg.Data)...)
}
