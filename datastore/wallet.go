package datastore

import (
	"sort"

	"github.com/MtkN1/pybybit/store"
)

// defaultWalletCoin is the coin of the linear "wallet" topic, whose pushes do
// not name it.
const defaultWalletCoin = "USDT"

// Wallet mirrors balances keyed by coin.
type Wallet struct {
	*store.Store
}

func newWallet(parent *store.Notifier) *Wallet {
	return &Wallet{Store: store.New([]string{"coin"}, 0, parent)}
}

// OnResponse merges a wallet balance result of the form {"BTC": {...}, ...}.
func (w *Wallet) OnResponse(result any) {
	m, ok := asItem(result)
	if !ok {
		return
	}
	coins := make([]string, 0, len(m))
	for coin := range m {
		coins = append(coins, coin)
	}
	sort.Strings(coins)

	batch := make([]store.Item, 0, len(m))
	for _, coin := range coins {
		bal, ok := asItem(m[coin])
		if !ok {
			continue
		}
		it := bal.Clone()
		it["coin"] = coin
		batch = append(batch, it)
	}
	w.Update(batch...)
}

func (w *Wallet) OnMessage(msg Message) {
	batch := items(msg.Data)
	out := make([]store.Item, 0, len(batch))
	for _, it := range batch {
		if !it.Has("coin") {
			it = it.Clone()
			it["coin"] = defaultWalletCoin
		}
		out = append(out, it)
	}
	w.Update(out...)
}

// Coin returns the balance record of coin.
func (w *Wallet) Coin(coin string) (store.Item, bool) {
	return w.Get(store.Item{"coin": coin})
}
