package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tablebook"

var (
	once sync.Once

	reservationOutcome = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_requests_total",
			Help:      "Count of reservation requests by outcome.",
		},
		[]string{"outcome"},
	)

	reservationCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_cancelled_total",
			Help:      "Count of reservations cancelled by reason.",
		},
		[]string{"reason"},
	)

	poolIdle = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_idle_resources",
			Help:      "Idle resources held by the pool.",
		},
		[]string{"pool"},
	)

	poolInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_in_use_resources",
			Help:      "Resources currently checked out.",
		},
		[]string{"pool"},
	)

	poolClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_closed_total",
			Help:      "Physical connections closed by the pool, by reason.",
		},
		[]string{"pool", "reason"},
	)

	poolDialErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_dial_errors_total",
			Help:      "Failed attempts to open a new connection.",
		},
		[]string{"pool"},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of lifecycle sweeps.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	sweepErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Lifecycle sweeps that ended with an error.",
		},
		[]string{"sweep"},
	)

	sweepEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_events_total",
			Help:      "Transitions and notices emitted by lifecycle sweeps.",
		},
		[]string{"sweep"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and result.",
		},
		[]string{"channel", "result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route pattern and status code.",
		},
		[]string{"route", "code"},
	)

	slotCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_cache_total",
			Help:      "Slot cache lookups by result.",
		},
		[]string{"result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			reservationOutcome,
			reservationCancelled,
			poolIdle,
			poolInUse,
			poolClosed,
			poolDialErrors,
			sweepDuration,
			sweepErrors,
			sweepEvents,
			notifications,
			slotCache,
			httpRequests,
		)
	})
}

func IncReservation(outcome string) {
	reservationOutcome.WithLabelValues(outcome).Inc()
}

func IncCancelled(reason string) {
	reservationCancelled.WithLabelValues(reason).Inc()
}

func SetPoolSize(pool string, idle, inUse int) {
	poolIdle.WithLabelValues(pool).Set(float64(idle))
	poolInUse.WithLabelValues(pool).Set(float64(inUse))
}

func IncPoolClosed(pool, reason string) {
	poolClosed.WithLabelValues(pool, reason).Inc()
}

func IncPoolDialError(pool string) {
	poolDialErrors.WithLabelValues(pool).Inc()
}

func ObserveSweep(sweep string, d time.Duration, events int, err error) {
	sweepDuration.WithLabelValues(sweep).Observe(d.Seconds())
	if events > 0 {
		sweepEvents.WithLabelValues(sweep).Add(float64(events))
	}
	if err != nil {
		sweepErrors.WithLabelValues(sweep).Inc()
	}
}

func IncNotification(channel, result string) {
	notifications.WithLabelValues(channel, result).Inc()
}

func IncSlotCache(result string) {
	slotCache.WithLabelValues(result).Inc()
}

func IncHTTP(route string, status int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
