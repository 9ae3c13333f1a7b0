package metrics

import (
	"sort"
	"sync"
	"time"

	"marketpulse/logger"
)

// Metric types accepted on the bus. An empty type is recorded as a counter.
const (
	TypeCounter = "counter"
	TypeGauge   = "gauge"
	TypeTiming  = "timing"
)

// Metric is one event on the in-process metric bus. The dashboard keeps the
// most recent ones for /api/metrics.
type Metric struct {
	Timestamp time.Time     `json:"timestamp"`
	Component string        `json:"component"`
	Name      string        `json:"name"`
	Value     interface{}   `json:"value"`
	Type      string        `json:"type"`
	Fields    logger.Fields `json:"fields,omitempty"`
}

// MetricHandler receives every emitted metric. Handlers run synchronously on
// the emitting goroutine and must not block.
type MetricHandler func(Metric)

// MetricHandlerID identifies a registration. Zero is never issued.
type MetricHandlerID uint64

// Bus fans metric events out to registered handlers in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[MetricHandlerID]MetricHandler
	nextID   MetricHandlerID
	now      func() time.Time
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[MetricHandlerID]MetricHandler), now: time.Now}
}

var defaultBus = NewBus()

// Register returns zero for a nil handler.
func (b *Bus) Register(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[b.nextID] = handler
	return b.nextID
}

func (b *Bus) Unregister(id MetricHandlerID) {
	if id == 0 {
		return
	}
	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
}

// Emit logs the metric through log (the shared logger when nil), which also
// forwards numeric values to CloudWatch, then dispatches it. Events without
// a name are dropped and reported as not emitted.
func (b *Bus) Emit(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = TypeCounter
	}
	if log == nil {
		log = logger.GetLogger()
	}

	m := Metric{
		Timestamp: b.now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    cloneFields(fields),
	}
	log.WithComponent(component).LogMetric(component, name, value, metricType, cloneFields(m.Fields))

	for _, h := range b.snapshot() {
		h(m)
	}
	return m, true
}

// snapshot copies the handlers so none runs under the lock.
func (b *Bus) snapshot() []MetricHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.handlers) == 0 {
		return nil
	}
	ids := make([]MetricHandlerID, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]MetricHandler, len(ids))
	for i, id := range ids {
		out[i] = b.handlers[id]
	}
	return out
}

func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	return defaultBus.Register(handler)
}

func UnregisterMetricHandler(id MetricHandlerID) {
	defaultBus.Unregister(id)
}

// EmitMetric publishes on the process-wide bus.
func EmitMetric(log *logger.Log, component string, name string, value interface{}, metricType string, fields logger.Fields) {
	defaultBus.Emit(log, component, name, value, metricType, fields)
}

func cloneFields(fields logger.Fields) logger.Fields {
	copied := make(logger.Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}
