package notifications

import (
	"expvar"
	"sync"

	events "github.com/docker/go-events"
	"github.com/docker/go-metrics"

	prometheus "github.com/eventmosaic/gdelt/metrics"
)

var (
	// eventsCounter counts events flowing through the queue by outcome
	eventsCounter = prometheus.NotificationsNamespace.NewLabeledCounter("events", "The number of total events", "type")
	// pendingGauge measures the pending queue size
	pendingGauge = prometheus.NotificationsNamespace.NewGauge("pending", "The gauge of pending events in queue", metrics.Total)
	// publishCounter counts publish attempts handed to the bus by outcome
	publishCounter = prometheus.NotificationsNamespace.NewLabeledCounter("publish", "The number of publish attempts", "type")
)

// ListenerMetrics track what the listener did with the events it consumed.
// Exported via expvar under collector.notifications.
type ListenerMetrics struct {
	Pending          int // events pending in queue
	Events           int // total events ingressed
	Dropped          int // events dropped on a full queue
	Unclassified     int // events dropped for an unknown archive type
	Registrations    int // send-status records registered
	RegisterFailures int // registration attempts that errored
	Publishes        int // sends handed to the publisher
	PublishFailures  int // sends the publisher refused
	Acks             int // broker acknowledgments observed
}

// safeMetrics guards the metrics implementation with a lock and provides a
// safe update function.
type safeMetrics struct {
	ListenerMetrics
	sync.Mutex
}

// newSafeMetrics returns safeMetrics ready for concurrent updates.
func newSafeMetrics() *safeMetrics {
	return &safeMetrics{}
}

// ReadInto copies a consistent snapshot of the counters into lm.
func (sm *safeMetrics) ReadInto(lm *ListenerMetrics) {
	sm.Lock()
	defer sm.Unlock()
	*lm = sm.ListenerMetrics
}

// eventQueueListener returns a listener that maintains queue related
// counters.
func (sm *safeMetrics) eventQueueListener() eventQueueListener {
	return &metricsEventQueueListener{safeMetrics: sm}
}

type metricsEventQueueListener struct {
	*safeMetrics
}

func (mql *metricsEventQueueListener) ingress(event events.Event) {
	mql.Lock()
	defer mql.Unlock()
	mql.Events++
	mql.Pending++

	eventsCounter.WithValues("Events").Inc()
	pendingGauge.Inc(1)
}

func (mql *metricsEventQueueListener) egress(event events.Event) {
	mql.Lock()
	defer mql.Unlock()
	mql.Pending--

	pendingGauge.Dec(1)
}

func (mql *metricsEventQueueListener) dropped(event events.Event) {
	mql.Lock()
	defer mql.Unlock()
	mql.Dropped++

	eventsCounter.WithValues("Dropped").Inc()
}

func (sm *safeMetrics) unclassified() {
	sm.Lock()
	defer sm.Unlock()
	sm.Unclassified++

	eventsCounter.WithValues("Unclassified").Inc()
}

func (sm *safeMetrics) registered(err error) {
	sm.Lock()
	defer sm.Unlock()
	if err != nil {
		sm.RegisterFailures++
		return
	}
	sm.Registrations++
}

func (sm *safeMetrics) published(err error) {
	sm.Lock()
	defer sm.Unlock()
	if err != nil {
		sm.PublishFailures++
		publishCounter.WithValues("Failures").Inc()
		return
	}
	sm.Publishes++
	publishCounter.WithValues("Attempts").Inc()
}

func (sm *safeMetrics) acked() {
	sm.Lock()
	defer sm.Unlock()
	sm.Acks++

	publishCounter.WithValues("Acks").Inc()
}

// listeners is the global registry of listener metrics reported to expvar.
var listeners struct {
	registered []*safeMetrics
	mu         sync.Mutex
}

// register places the listener's metrics into expvar so that stats are
// tracked.
func register(sm *safeMetrics) {
	listeners.mu.Lock()
	defer listeners.mu.Unlock()

	listeners.registered = append(listeners.registered, sm)
}

func init() {
	// NOTE: Setup collector metrics structure to report to expvar.
	// Realtime queue depth is the piece logs cannot give us.

	collector := expvar.Get("collector")
	if collector == nil {
		collector = expvar.NewMap("collector")
	}

	var notifications expvar.Map
	notifications.Init()
	notifications.Set("listeners", expvar.Func(func() interface{} {
		listeners.mu.Lock()
		defer listeners.mu.Unlock()

		var stats []interface{}
		for _, sm := range listeners.registered {
			var lm ListenerMetrics
			sm.ReadInto(&lm)
			stats = append(stats, lm)
		}
		return stats
	}))

	collector.(*expvar.Map).Set("notifications", &notifications)

	// register prometheus metrics
	metrics.Register(prometheus.NotificationsNamespace)
}
