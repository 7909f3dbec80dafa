package datastore

import (
	"strings"

	"github.com/MtkN1/pybybit/logger"
	"github.com/MtkN1/pybybit/store"
)

// Position index values of inverse contracts.
const (
	PositionOneWay    = 0
	PositionBuyHedge  = 1
	PositionSellHedge = 2
)

// balanceFields are the wallet figures embedded in inverse position pushes.
var balanceFields = []string{"wallet_balance", "available_balance"}

// Position mirrors open positions. Inverse contracts are keyed by
// (symbol, position_idx), linear USDT contracts by (symbol, side). Each batch
// is routed by the settlement suffix of its first symbol.
type Position struct {
	Inverse *store.Store
	Linear  *store.Store

	wallet *Wallet
	log    *logger.Entry
}

func newPosition(wallet *Wallet, parent *store.Notifier) *Position {
	return &Position{
		Inverse: store.New([]string{"symbol", "position_idx"}, 0, parent),
		Linear:  store.New([]string{"symbol", "side"}, 0, parent),
		wallet:  wallet,
		log:     logger.GetLogger().WithComponent("position"),
	}
}

// OnResponse merges a position list result: a single object, a list, or a
// list of {"data": {...}, "is_valid": true} wrappers.
func (p *Position) OnResponse(result any) {
	p.update(unwrapPositions(items(result)))
}

// OnMessage merges a position push. Inverse pushes also carry the account
// balance, which is copied into the wallet.
func (p *Position) OnMessage(msg Message) {
	batch := items(msg.Data)
	if p.update(batch) {
		p.deriveWallet(batch)
	}
}

func (p *Position) update(batch []store.Item) bool {
	if len(batch) == 0 {
		return false
	}
	target := p.Inverse
	if isLinear(batch[0].String("symbol")) {
		target = p.Linear
	}
	target.Update(batch...)
	return true
}

func (p *Position) deriveWallet(batch []store.Item) {
	if p.wallet == nil {
		return
	}
	var derived []store.Item
	for _, it := range batch {
		if !it.Has("position_idx") {
			continue
		}
		coin, ok := CoinFromSymbol(it.String("symbol"))
		if !ok {
			p.log.WithFields(logger.Fields{"symbol": it.String("symbol")}).Debug("cannot derive wallet coin from symbol")
			continue
		}
		w := store.Item{"coin": coin}
		for _, f := range balanceFields {
			if v, ok := it[f]; ok {
				w[f] = v
			}
		}
		if len(w) > 1 {
			derived = append(derived, w)
		}
	}
	if len(derived) > 0 {
		p.wallet.Update(derived...)
	}
}

// Get returns the inverse position of symbol at idx.
func (p *Position) Get(symbol string, idx int) (store.Item, bool) {
	return p.Inverse.Get(store.Item{"symbol": symbol, "position_idx": idx})
}

// Sides holds both legs of a linear position; a missing leg is nil.
type Sides struct {
	Sell store.Item
	Buy  store.Item
}

// Both returns the Buy and Sell legs of a linear symbol.
func (p *Position) Both(symbol string) Sides {
	var s Sides
	s.Sell, _ = p.Linear.Get(store.Item{"symbol": symbol, "side": SideSell})
	s.Buy, _ = p.Linear.Get(store.Item{"symbol": symbol, "side": SideBuy})
	return s
}

// List returns inverse positions followed by linear positions.
func (p *Position) List(filter store.Item) []store.Item {
	return append(p.Inverse.List(filter), p.Linear.List(filter)...)
}

func isLinear(symbol string) bool {
	return strings.HasSuffix(symbol, "USDT")
}

// CoinFromSymbol derives the margin coin of an inverse contract: BTCUSD and
// the dated BTCUSDM21 both give BTC. Other naming schemes are not guessed.
func CoinFromSymbol(symbol string) (string, bool) {
	if strings.HasSuffix(symbol, "USD") {
		return strings.TrimSuffix(symbol, "USD"), len(symbol) > 3
	}
	if n := len(symbol); n > 6 && symbol[n-6:n-3] == "USD" && !strings.HasSuffix(symbol, "USDT") {
		return symbol[:n-6], true
	}
	return "", false
}

func unwrapPositions(batch []store.Item) []store.Item {
	out := make([]store.Item, 0, len(batch))
	for _, it := range batch {
		if inner, ok := asItem(it["data"]); ok {
			if _, wrapped := it["is_valid"]; wrapped {
				out = append(out, inner)
				continue
			}
		}
		out = append(out, it)
	}
	return out
}
