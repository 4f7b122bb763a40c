package client

import (
	"log"
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var monitor *Monitor

var (
	syncCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_client_sync_cycles_total",
		Help: "Number of sync cycles by result",
	}, []string{"result"})

	syncItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_client_delta_items_total",
		Help: "Number of delta items received by result",
	}, []string{"result"})

	syncCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatsync_client_sync_cycle_duration_seconds",
		Help:    "Duration of committed sync cycles (long-poll wait included)",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
	})

	historyPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_client_history_pages_total",
		Help: "Number of history page requests by result",
	}, []string{"result"})

	consistencyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatsync_client_consistency_duration_seconds",
		Help:    "Time between sending a message and receiving it with a delta",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
	})
)

// Monitor keeps Session stats.
type Monitor struct {
	sync.Mutex
	syncDur          *movingaverage.MovingAverage
	historyDur       *movingaverage.MovingAverage
	consistencyDur   *movingaverage.MovingAverage
	syncCycles       int
	itemsApplied     int
	itemsSkipped     int
	historyMsgs      int
	bytesReceived    uint64
	consistencyReset time.Time
	users            int
	stopCh           chan struct{}
}

// SyncCommitted registers a committed sync cycle.
func (m *Monitor) SyncCommitted(applied, skipped, rawSize int, reset bool, dur time.Duration) {
	m.Lock()
	defer m.Unlock()

	m.syncCycles++
	m.itemsApplied += applied
	m.itemsSkipped += skipped
	m.bytesReceived += uint64(rawSize)
	m.syncDur.Add(float64(dur/time.Microsecond) / 1000.0)

	result := "delta"
	if reset {
		result = "full_update"
	}
	syncCyclesTotal.WithLabelValues(result).Inc()
	syncItemsTotal.WithLabelValues("applied").Add(float64(applied))
	syncItemsTotal.WithLabelValues("skipped").Add(float64(skipped))
	syncCycleDuration.Observe(dur.Seconds())
}

// SyncFailed registers an abandoned sync cycle.
func (m *Monitor) SyncFailed(reason string) {
	syncCyclesTotal.WithLabelValues(reason).Inc()
}

// HistoryReceived registers a history page.
func (m *Monitor) HistoryReceived(count int, dur time.Duration) {
	m.Lock()
	defer m.Unlock()

	m.historyMsgs += count
	m.historyDur.Add(float64(dur/time.Microsecond) / 1000.0)
	historyPagesTotal.WithLabelValues("ok").Inc()
}

// HistoryFailed registers a failed history page request.
func (m *Monitor) HistoryFailed() {
	historyPagesTotal.WithLabelValues("failed").Inc()
}

// ConsistencyReset marks the moment the first pending message has been sent.
func (m *Monitor) ConsistencyReset(ts time.Time) {
	m.Lock()
	defer m.Unlock()

	m.consistencyReset = ts
}

// ConsistencyAchieved marks the moment all pending messages have been received back.
func (m *Monitor) ConsistencyAchieved(ts time.Time) {
	m.Lock()
	defer m.Unlock()

	dur := ts.Sub(m.consistencyReset)
	m.consistencyDur.Add(float64(dur/time.Microsecond) / 1000.0)
	consistencyDuration.Observe(dur.Seconds())
}

// Start starts the Monitor worker (shared by all sessions of the process).
func (m *Monitor) Start() {
	m.Lock()
	defer m.Unlock()

	m.users++
	if m.stopCh != nil {
		return
	}

	m.stopCh = make(chan struct{})
	go m.worker(m.stopCh)
}

// Stop stops the Monitor worker once the last user is gone.
func (m *Monitor) Stop() {
	m.Lock()
	defer m.Unlock()

	if m.stopCh == nil {
		return
	}
	m.users--
	if m.users > 0 {
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

			syncPerSec := float64(m.syncCycles) / (float64(period) / float64(time.Second))
			log.Printf("Monitor:")
			log.Printf("  - Sync cycles / s:         %.2f", syncPerSec)
			log.Printf("  - Items applied / skipped: %d / %d", m.itemsApplied, m.itemsSkipped)
			log.Printf("  - Received:                %s", humanize.Bytes(m.bytesReceived))
			log.Printf("  - History messages:        %d", m.historyMsgs)
			log.Printf("  - Sync cycle dur [ms]:     %.2f", m.syncDur.Avg())
			log.Printf("  - History page dur [ms]:   %.2f", m.historyDur.Avg())
			log.Printf("  - Consistency dur [ms]:    %.2f", m.consistencyDur.Avg())
			m.syncCycles = 0
			m.itemsApplied = 0
			m.itemsSkipped = 0
			m.historyMsgs = 0
			m.bytesReceived = 0

			m.Unlock()
		}
	}
}

func init() {
	monitor = &Monitor{
		syncDur:        movingaverage.New(3),
		historyDur:     movingaverage.New(3),
		consistencyDur: movingaverage.New(3),
	}
}
