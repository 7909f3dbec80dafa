package stream

import "strings"

// Endpoint is one of Bybit's legacy WebSocket gateways.
type Endpoint int

const (
	// Inverse serves public and private topics of inverse contracts.
	Inverse Endpoint = iota
	// LinearPublic serves public topics of USDT contracts.
	LinearPublic
	// LinearPrivate serves private topics of USDT contracts.
	LinearPrivate
)

func (e Endpoint) String() string {
	switch e {
	case Inverse:
		return "inverse"
	case LinearPublic:
		return "linear_public"
	case LinearPrivate:
		return "linear_private"
	}
	return "unknown"
}

func (e Endpoint) path() string {
	switch e {
	case LinearPublic:
		return "/realtime_public"
	case LinearPrivate:
		return "/realtime_private"
	}
	return "/realtime"
}

// URL returns the gateway address on production or testnet.
func (e Endpoint) URL(testnet bool) string {
	host := "wss://stream.bybit.com"
	if testnet {
		host = "wss://stream-testnet.bybit.com"
	}
	return host + e.path()
}

var privateTopics = map[string]struct{}{
	"position":   {},
	"execution":  {},
	"order":      {},
	"stop_order": {},
	"wallet":     {},
}

// IsPrivate reports whether topic needs an authenticated connection. Only
// the part before the first '.' is considered.
func IsPrivate(topic string) bool {
	if i := strings.IndexByte(topic, '.'); i >= 0 {
		topic = topic[:i]
	}
	_, ok := privateTopics[topic]
	return ok
}

// HasPrivate reports whether any topic is private.
func HasPrivate(topics []string) bool {
	for _, t := range topics {
		if IsPrivate(t) {
			return true
		}
	}
	return false
}
