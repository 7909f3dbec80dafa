// Package datastore mirrors Bybit trading state in memory. A DataStore owns
// one store per entity, routes REST responses by request path and WebSocket
// frames by topic, and exposes a broadcast wait for consumers.
package datastore

import (
	"context"
	"strings"

	"github.com/MtkN1/pybybit/internal/metrics"
	"github.com/MtkN1/pybybit/logger"
	"github.com/MtkN1/pybybit/store"
)

// MessageHandler folds a decoded frame into an entity.
type MessageHandler interface {
	OnMessage(Message)
}

// ResponseHandler folds the "result" of a successful REST response into an
// entity.
type ResponseHandler interface {
	OnResponse(result any)
}

// Capacities bounds the record count of the capacity limited entities. Zero
// values select the defaults.
type Capacities struct {
	Trade     int
	Kline     int
	Execution int
	Order     int
	StopOrder int
}

type route[H any] struct {
	name     string
	prefixes []string
	handler  H
}

// DataStore is the aggregate of every mirrored entity.
type DataStore struct {
	OrderBook  *OrderBook
	Trade      *Trade
	Insurance  *Insurance
	Instrument *Instrument
	Kline      *Kline
	Position   *Position
	Execution  *Execution
	Order      *Order
	StopOrder  *StopOrder
	Wallet     *Wallet

	notifier *store.Notifier
	topics   []route[MessageHandler]
	paths    []route[ResponseHandler]
	log      *logger.Log
}

// New creates a DataStore with default capacities.
func New() *DataStore {
	return NewWithCapacities(Capacities{})
}

// NewWithCapacities creates a DataStore with the given entity bounds.
func NewWithCapacities(c Capacities) *DataStore {
	n := store.NewNotifier()
	wallet := newWallet(n)
	ds := &DataStore{
		OrderBook:  newOrderBook(n),
		Trade:      newTrade(c.Trade, n),
		Insurance:  newInsurance(n),
		Instrument: newInstrument(n),
		Kline:      newKline(c.Kline, n),
		Position:   newPosition(wallet, n),
		Execution:  newExecution(c.Execution, n),
		Order:      newOrder(c.Order, n),
		StopOrder:  newStopOrder(c.StopOrder, n),
		Wallet:     wallet,
		notifier:   n,
		log:        logger.GetLogger(),
	}

	// First match wins; "orderBook" must precede "order".
	ds.topics = []route[MessageHandler]{
		{"orderbook", []string{"orderBookL2_25", "orderBook_200"}, ds.OrderBook},
		{"trade", []string{"trade"}, ds.Trade},
		{"insurance", []string{"insurance"}, ds.Insurance},
		{"instrument", []string{"instrument_info"}, ds.Instrument},
		{"kline", []string{"klineV2", "candle"}, ds.Kline},
		{"position", []string{"position"}, ds.Position},
		{"execution", []string{"execution"}, ds.Execution},
		{"order", []string{"order"}, ds.Order},
		{"stoporder", []string{"stop_order"}, ds.StopOrder},
		{"wallet", []string{"wallet"}, ds.Wallet},
	}
	ds.paths = []route[ResponseHandler]{
		{"order", []string{"/open-api/order/list", "/private/linear/order/list"}, ds.Order},
		{"stoporder", []string{"/open-api/stop-order/list", "/private/linear/stop-order/list"}, ds.StopOrder},
		{"position", []string{"/v2/private/position/list", "/private/linear/position/list"}, ds.Position},
		{"wallet", []string{"/v2/private/wallet/balance"}, ds.Wallet},
	}
	return ds
}

// OnResponse applies a successful REST response to the entity its path
// belongs to. Rejected responses and unknown paths leave the mirror as is.
func (ds *DataStore) OnResponse(resp *Response) {
	if resp == nil {
		return
	}
	r, ok := match(ds.paths, resp.Path)
	if !ok {
		return
	}
	if !resp.OK() {
		metrics.ResponsesRejected.WithLabelValues(r.name).Inc()
		ds.log.WithComponent("datastore").WithFields(logger.Fields{
			"path":    resp.Path,
			"status":  resp.Status,
			"ret_msg": resp.Body["ret_msg"],
		}).Warn("rest response rejected; keeping last known state")
		return
	}
	r.handler.OnResponse(resp.Result())
	metrics.ResponsesApplied.WithLabelValues(r.name).Inc()
}

// OnMessage decodes a raw frame and applies it. Malformed frames, command
// acknowledgements and unknown topics are dropped.
func (ds *DataStore) OnMessage(raw []byte) {
	f, err := decodeFrame(raw)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		ds.log.WithComponent("datastore").WithError(err).Debug("dropping undecodable frame")
		return
	}
	if f.Topic == "" {
		ds.onCommandReply(f)
		return
	}
	ds.Dispatch(Message{Topic: f.Topic, Type: f.Type, Data: f.Data})
}

// Dispatch applies an already decoded message.
func (ds *DataStore) Dispatch(msg Message) {
	r, ok := match(ds.topics, msg.Topic)
	if !ok {
		metrics.FramesDropped.WithLabelValues("unknown_topic").Inc()
		return
	}
	r.handler.OnMessage(msg)
	metrics.FramesApplied.WithLabelValues(r.name).Inc()
}

func (ds *DataStore) onCommandReply(f frame) {
	if f.Success != nil && !*f.Success {
		ds.log.WithComponent("datastore").WithFields(logger.Fields{
			"ret_msg": f.RetMsg,
			"request": f.Request,
		}).Warn("command rejected by exchange")
		return
	}
	metrics.FramesDropped.WithLabelValues("untyped").Inc()
}

// Wait blocks until any entity changes or ctx is done.
func (ds *DataStore) Wait(ctx context.Context) error {
	return ds.notifier.Wait(ctx)
}

// Changed returns a channel closed by the next change of any entity.
func (ds *DataStore) Changed() <-chan struct{} {
	return ds.notifier.Changed()
}

// Stores lists every underlying store by name.
func (ds *DataStore) Stores() map[string]*store.Store {
	return map[string]*store.Store{
		"orderbook":        ds.OrderBook.Store,
		"trade":            ds.Trade.Store,
		"insurance":        ds.Insurance.Store,
		"instrument":       ds.Instrument.Store,
		"kline":            ds.Kline.Store,
		"position_inverse": ds.Position.Inverse,
		"position_linear":  ds.Position.Linear,
		"execution":        ds.Execution.Store,
		"order":            ds.Order.Store,
		"stoporder":        ds.StopOrder.Store,
		"wallet":           ds.Wallet.Store,
	}
}

func match[H any](routes []route[H], s string) (route[H], bool) {
	for _, r := range routes {
		for _, p := range r.prefixes {
			if strings.HasPrefix(s, p) {
				return r, true
			}
		}
	}
	return route[H]{}, false
}
