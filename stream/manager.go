package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/MtkN1/pybybit/auth"
	"github.com/MtkN1/pybybit/logger"
)

// Status describes one managed connection.
type Status struct {
	Name     string   `json:"name"`
	Endpoint string   `json:"endpoint"`
	URL      string   `json:"url"`
	Topics   []string `json:"topics"`
	State    string   `json:"state"`
	Attempts int64    `json:"attempts"`
}

// Manager runs one Connection per topic group, each in its own goroutine,
// all feeding the same handler.
type Manager struct {
	testnet bool
	signer  *auth.Signer
	handler Handler
	opts    Options
	log     *logger.Log

	mu        sync.Mutex
	urls      map[Endpoint]string
	conns     []*Connection
	endpoints []Endpoint
	wg        sync.WaitGroup
}

// NewManager creates a Manager for production or testnet. signer may be nil
// when only public topics are used.
func NewManager(testnet bool, signer *auth.Signer, handler Handler, opts Options) *Manager {
	return &Manager{
		testnet: testnet,
		signer:  signer,
		handler: handler,
		opts:    opts,
		log:     logger.GetLogger(),
		urls:    make(map[Endpoint]string),
	}
}

// SetURL overrides the gateway address of an endpoint.
func (m *Manager) SetURL(ep Endpoint, url string) {
	m.mu.Lock()
	m.urls[ep] = url
	m.mu.Unlock()
}

// RunInverse streams topics from the inverse gateway.
func (m *Manager) RunInverse(ctx context.Context, topics ...string) *Connection {
	return m.Run(ctx, Inverse, topics)
}

// RunLinearPublic streams public USDT topics.
func (m *Manager) RunLinearPublic(ctx context.Context, topics ...string) *Connection {
	return m.Run(ctx, LinearPublic, topics)
}

// RunLinearPrivate streams private USDT topics.
func (m *Manager) RunLinearPrivate(ctx context.Context, topics ...string) *Connection {
	return m.Run(ctx, LinearPrivate, topics)
}

// Run starts a connection for topics on ep and returns immediately. The
// connection stops when ctx is done.
func (m *Manager) Run(ctx context.Context, ep Endpoint, topics []string) *Connection {
	m.mu.Lock()
	url, ok := m.urls[ep]
	if !ok {
		url = ep.URL(m.testnet)
	}
	name := ep.String()
	if n := m.countLocked(ep); n > 0 {
		name = fmt.Sprintf("%s-%d", name, n+1)
	}
	conn := NewConnection(name, url, topics, m.signer, m.handler, m.opts)
	m.conns = append(m.conns, conn)
	m.endpoints = append(m.endpoints, ep)
	m.mu.Unlock()

	m.log.WithComponent("stream").WithFields(logger.Fields{
		"connection": name,
		"url":        url,
		"topics":     topics,
	}).Info("starting websocket connection")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		conn.Run(ctx)
	}()
	return conn
}

func (m *Manager) countLocked(ep Endpoint) int {
	n := 0
	for _, e := range m.endpoints {
		if e == ep {
			n++
		}
	}
	return n
}

// Connections reports the status of every started connection.
func (m *Manager) Connections() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.conns))
	for i, c := range m.conns {
		out = append(out, Status{
			Name:     c.Name(),
			Endpoint: m.endpoints[i].String(),
			URL:      c.URL(),
			Topics:   c.Topics(),
			State:    c.State().String(),
			Attempts: c.Attempts(),
		})
	}
	return out
}

// Wait blocks until every connection has stopped.
func (m *Manager) Wait() {
	m.wg.Wait()
}
