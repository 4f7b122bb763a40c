package server

import (
	"log"
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var monitor *Monitor

var (
	itemsHandledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_server_delta_items_total",
		Help: "Number of delta items added to the revision log",
	})

	requestsServedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_server_requests_total",
		Help: "Number of served requests by endpoint and result",
	}, []string{"endpoint", "result"})

	deltaWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatsync_server_delta_wait_duration_seconds",
		Help:    "Long-poll wait duration of delta requests",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
	})
)

// Monitor keeps ChatService stats.
type Monitor struct {
	sync.Mutex
	itemsHandled  int
	deltasHandled int
	fullUpdates   int
	historyPages  int
	deltaReqDur   *movingaverage.MovingAverage
	stopCh        chan struct{}
}

// ItemsHandled increments the delta items added metric.
func (m *Monitor) ItemsHandled(count int) {
	m.Lock()
	defer m.Unlock()

	m.itemsHandled += count
	itemsHandledTotal.Add(float64(count))
}

// DeltaRequestServed updates the delta request handling duration metric.
func (m *Monitor) DeltaRequestServed(result string, dur time.Duration) {
	m.Lock()
	defer m.Unlock()

	m.deltaReqDur.Add(float64(dur/time.Microsecond) / 1000.0)
	switch result {
	case "full_update":
		m.fullUpdates++
	default:
		m.deltasHandled++
	}
	requestsServedTotal.WithLabelValues("delta", result).Inc()
	deltaWaitDuration.Observe(dur.Seconds())
}

// HistoryRequestServed increments the history pages metric.
func (m *Monitor) HistoryRequestServed() {
	m.Lock()
	defer m.Unlock()

	m.historyPages++
	requestsServedTotal.WithLabelValues("history", "ok").Inc()
}

// RequestFailed registers a rejected request.
func (m *Monitor) RequestFailed(endpoint string) {
	requestsServedTotal.WithLabelValues(endpoint, "failed").Inc()
}

// Start starts the Monitor worker.
func (m *Monitor) Start() {
	m.Lock()
	defer m.Unlock()

	if m.stopCh != nil {
		return
	}

	m.stopCh = make(chan struct{})
	go m.worker(m.stopCh)
}

// Stop stops the Monitor worker.
func (m *Monitor) Stop() {
	m.Lock()
	defer m.Unlock()

	if m.stopCh == nil {
		return
	}

	close(m.stopCh)
	m.stopCh = nil
}

// worker does the actual job.
func (m *Monitor) worker(stopCh <-chan struct{}) {
	const period = 5 * time.Second

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			// Stop the monitor
			return
		case <-ticker.C:
			// Print the report
			m.Lock()

			itemsPerSec := float64(m.itemsHandled) / (float64(period) / float64(time.Second))
			deltasPerSec := float64(m.deltasHandled) / (float64(period) / float64(time.Second))
			log.Printf("Monitor:")
			log.Printf("  - Delta items / s:         %.2f", itemsPerSec)
			log.Printf("  - Delta requests / s:      %.2f", deltasPerSec)
			log.Printf("  - Full updates:            %d", m.fullUpdates)
			log.Printf("  - History pages:           %d", m.historyPages)
			log.Printf("  - Delta request dur [ms]:  %.2f", m.deltaReqDur.Avg())
			m.itemsHandled = 0
			m.deltasHandled = 0
			m.fullUpdates = 0
			m.historyPages = 0

			m.Unlock()
		}
	}
}

func init() {
	monitor = &Monitor{
		deltaReqDur: movingaverage.New(5),
	}
}
