package datastore

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/MtkN1/pybybit/store"
)

// Sides as they appear on the wire.
const (
	SideSell = "Sell"
	SideBuy  = "Buy"
)

// OrderBook mirrors orderBookL2_25 / orderBook_200 levels keyed by
// (symbol, id, side).
type OrderBook struct {
	*store.Store
}

func newOrderBook(parent *store.Notifier) *OrderBook {
	return &OrderBook{Store: store.New([]string{"symbol", "id", "side"}, 0, parent)}
}

// Best holds the best price on each side; a nil side is empty.
type Best struct {
	Sell *decimal.Decimal
	Buy  *decimal.Decimal
}

// Book holds full depth: Sell ascending by price, Buy descending.
type Book struct {
	Sell []store.Item
	Buy  []store.Item
}

// OnMessage folds a snapshot or delta frame into the book. A delta applies
// delete, update and insert in that order as one atomic batch.
func (b *OrderBook) OnMessage(msg Message) {
	switch msg.Type {
	case TypeSnapshot:
		data := msg.Data
		if levels := field(data, "order_book"); levels != nil {
			data = levels
		}
		b.Update(items(data)...)
	case TypeDelta:
		b.Apply(
			store.RemoveOp(items(field(msg.Data, "delete"))...),
			store.UpdateOp(items(field(msg.Data, "update"))...),
			store.UpdateOp(items(field(msg.Data, "insert"))...),
		)
	}
}

// Best returns the lowest ask and highest bid for symbol.
func (b *OrderBook) Best(symbol string) Best {
	var best Best
	for _, it := range b.List(store.Item{"symbol": symbol}) {
		p, ok := price(it)
		if !ok {
			continue
		}
		switch it.String("side") {
		case SideSell:
			if best.Sell == nil || p.LessThan(*best.Sell) {
				v := p
				best.Sell = &v
			}
		case SideBuy:
			if best.Buy == nil || p.GreaterThan(*best.Buy) {
				v := p
				best.Buy = &v
			}
		}
	}
	return best
}

// Book returns every level for symbol split by side and sorted for depth
// display.
func (b *OrderBook) Book(symbol string) Book {
	var book Book
	for _, it := range b.List(store.Item{"symbol": symbol}) {
		switch it.String("side") {
		case SideSell:
			book.Sell = append(book.Sell, it)
		case SideBuy:
			book.Buy = append(book.Buy, it)
		}
	}
	sortByPrice(book.Sell, false)
	sortByPrice(book.Buy, true)
	return book
}

func price(it store.Item) (decimal.Decimal, bool) {
	raw := it.String("price")
	if raw == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// sortByPrice orders levels by price; unparsable prices go last.
func sortByPrice(levels []store.Item, desc bool) {
	sort.SliceStable(levels, func(i, j int) bool {
		pi, oki := price(levels[i])
		pj, okj := price(levels[j])
		switch {
		case oki && okj:
			if desc {
				return pi.GreaterThan(pj)
			}
			return pi.LessThan(pj)
		default:
			return oki && !okj
		}
	})
}
