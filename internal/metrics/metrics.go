package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "parkhub"

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_created_total",
			Help:      "Count of booking create attempts by result.",
		},
		[]string{"result"},
	)

	bookingCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_cancelled_total",
			Help:      "Count of bookings cancelled by actor (owner or admin).",
		},
		[]string{"actor"},
	)

	bookingTransition = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transition_total",
			Help:      "Count of asynchronous booking status transitions.",
		},
		[]string{"status"},
	)

	reservation = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_total",
			Help:      "Count of inventory reservation outcomes.",
		},
		[]string{"result"},
	)

	eventPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_published_total",
			Help:      "Count of outbox publish attempts by topic and result.",
		},
		[]string{"topic", "result"},
	)

	eventConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_consumed_total",
			Help:      "Count of consumed events by topic and result.",
		},
		[]string{"topic", "result"},
	)

	outboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending",
			Help:      "Outbox messages waiting to be published.",
		},
	)

	reconcileRequeued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_requeued_total",
			Help:      "Count of events re-enqueued by the reconciliation sweep.",
		},
		[]string{"topic"},
	)

	notificationSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_sent_total",
			Help:      "Count of notifications broadcast by type.",
		},
		[]string{"type"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests by route and status class.",
		},
		[]string{"route", "status"},
	)

	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket clients.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingCreated,
			bookingCancelled,
			bookingTransition,
			reservation,
			eventPublished,
			eventConsumed,
			outboxPending,
			reconcileRequeued,
			notificationSent,
			httpRequests,
			wsClients,
		)
	})
}

func IncBookingCreated(result string) {
	bookingCreated.WithLabelValues(result).Inc()
}

func IncBookingCancelled(actor string) {
	bookingCancelled.WithLabelValues(actor).Inc()
}

func IncBookingTransition(status string) {
	bookingTransition.WithLabelValues(status).Inc()
}

func IncReservation(result string) {
	reservation.WithLabelValues(result).Inc()
}

func IncEventPublished(topic, result string) {
	eventPublished.WithLabelValues(topic, result).Inc()
}

func IncEventConsumed(topic, result string) {
	eventConsumed.WithLabelValues(topic, result).Inc()
}

func SetOutboxPending(n int) {
	outboxPending.Set(float64(n))
}

func IncReconcileRequeued(topic string) {
	reconcileRequeued.WithLabelValues(topic).Inc()
}

func IncNotificationSent(kind string) {
	notificationSent.WithLabelValues(kind).Inc()
}

func SetWebsocketClients(n int) {
	wsClients.Set(float64(n))
}

func IncHTTP(route string, status int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(status/100)+"xx").Inc()
}
