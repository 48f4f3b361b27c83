package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"cryptostream/logger"
)

// Metric is one structured metric event. The status API and CloudWatch
// publisher both consume it.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

type MetricHandler func(Metric)

// MetricHandlerID is returned by RegisterMetricHandler. Zero is never a
// valid id.
type MetricHandlerID uint64

type registeredHandler struct {
	id MetricHandlerID
	fn MetricHandler
}

// handlerRegistry swaps in a new handler slice on every change so that
// dispatch, which runs on hot stream paths, never takes the lock.
type handlerRegistry struct {
	mu      sync.Mutex
	nextID  MetricHandlerID
	current atomic.Pointer[[]registeredHandler]
}

var handlers handlerRegistry

func (r *handlerRegistry) add(fn MetricHandler) MetricHandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	next := append(r.load(), registeredHandler{id: r.nextID, fn: fn})
	r.current.Store(&next)
	return r.nextID
}

func (r *handlerRegistry) remove(id MetricHandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.load()
	next := make([]registeredHandler, 0, len(old))
	for _, h := range old {
		if h.id != id {
			next = append(next, h)
		}
	}
	r.current.Store(&next)
}

// load returns a copy safe to append to.
func (r *handlerRegistry) load() []registeredHandler {
	p := r.current.Load()
	if p == nil {
		return nil
	}
	return append([]registeredHandler(nil), (*p)...)
}

func (r *handlerRegistry) reset() {
	r.mu.Lock()
	r.nextID = 0
	r.current.Store(nil)
	r.mu.Unlock()
}

// dispatch calls the handlers in registration order.
func (r *handlerRegistry) dispatch(m Metric) {
	p := r.current.Load()
	if p == nil {
		return
	}
	for _, h := range *p {
		h.fn(m)
	}
}

func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	return handlers.add(handler)
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id != 0 {
		handlers.remove(id)
	}
}

// recordMetric logs the metric at debug level and dispatches it. Unnamed
// metrics and metrics of a disabled feature are dropped.
func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if feature, ok := featureForMetric(name); ok && !IsFeatureEnabled(feature) {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	m := Metric{
		Timestamp: timeNow(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    logger.Fields{},
	}
	for k, v := range fields {
		m.Fields[k] = v
	}

	log.WithComponent(component).WithFields(m.Fields).WithFields(logger.Fields{
		"metric":      name,
		"metric_type": metricType,
		"value":       value,
	}).Debug("metric")

	handlers.dispatch(m)
	return m, true
}
