package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MtkN1/pybybit/logger"
)

// Metric is one structured event such as a connection transition or a REST
// rate limit reading.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

type MetricHandler func(Metric)

// MetricHandlerID identifies a registered handler. Zero is never issued.
type MetricHandlerID uint64

type registeredHandler struct {
	id MetricHandlerID
	fn MetricHandler
}

// handlers is replaced, never mutated, so dispatch can iterate a snapshot
// without holding the lock.
var (
	handlersMu sync.Mutex
	handlers   []registeredHandler
	lastID     MetricHandlerID
)

var MetricEvents = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "metric_events_total",
	Help:      "Structured metric events emitted per component and name",
}, []string{"component", "name"})

// RegisterMetricHandler adds handler behind every handler registered before
// it. A nil handler yields the zero id.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}

	handlersMu.Lock()
	defer handlersMu.Unlock()

	lastID++
	next := make([]registeredHandler, len(handlers), len(handlers)+1)
	copy(next, handlers)
	handlers = append(next, registeredHandler{id: lastID, fn: handler})
	return lastID
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}

	handlersMu.Lock()
	defer handlersMu.Unlock()

	next := make([]registeredHandler, 0, len(handlers))
	for _, h := range handlers {
		if h.id != id {
			next = append(next, h)
		}
	}
	handlers = next
}

// EmitMetric logs the event through log (CloudWatch picks up numeric values
// when configured), counts it in metric_events_total and hands it to the
// registered handlers in registration order. An empty type means "counter";
// events without a name are dropped.
func EmitMetric(log *logger.Log, component string, name string, value interface{}, metricType string, fields logger.Fields) {
	if name == "" {
		return
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	fields = cloneFields(fields)
	log.LogMetric(component, name, value, metricType, fields)
	MetricEvents.WithLabelValues(component, name).Inc()

	m := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    fields,
	}
	handlersMu.Lock()
	snapshot := handlers
	handlersMu.Unlock()
	for _, h := range snapshot {
		h.fn(m)
	}
}

func cloneFields(fields logger.Fields) logger.Fields {
	copied := make(logger.Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}
