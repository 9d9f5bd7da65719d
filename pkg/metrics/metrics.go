package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	// ── 业务指标 ──

	DespachoTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "despacho_transitions_total",
			Help: "Dispatch lifecycle operations by transition and result.",
		},
		[]string{"transition", "result"},
	)

	SyncMigratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "despacho_sync_migrated_total",
			Help: "Dispatch rows moved from the operational to the archival store.",
		},
	)

	SyncFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "despacho_sync_failures_total",
			Help: "Per-row sync failures by stage.",
		},
		[]string{"stage"},
	)

	NotificationsArchivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_archived_total",
			Help: "Notifications copied to the archival store.",
		},
	)

	LoginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	RealtimeClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_clients",
			Help: "Connected realtime websocket clients.",
		},
	)
)

func MustRegister(serviceName string) {
	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(prometheus.Labels{"service": serviceName}).(*prometheus.HistogramVec)

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		DespachoTransitionsTotal,
		SyncMigratedTotal,
		SyncFailuresTotal,
		NotificationsArchivedTotal,
		LoginAttemptsTotal,
		RealtimeClients,
	)
}

// Handler 指标暴露端点
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result 将错误折叠为 ok / error 标签值
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
