package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindcare_http_requests_total",
			Help: "Total number of HTTP requests processed by the realtime service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mindcare_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mindcare_ws_active_sessions",
			Help: "Number of joined websocket sessions.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindcare_ws_events_total",
			Help: "Total number of websocket lifecycle and inbound events.",
		},
		[]string{"kind", "event"},
	)
	fanoutDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindcare_fanout_deliveries_total",
			Help: "Per-target broadcast deliveries by result.",
		},
		[]string{"result"},
	)
	fanoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mindcare_fanout_duration_seconds",
			Help:    "Time to deliver one broadcast to every member of a group.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2.5},
		},
	)
	eventPublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindcare_event_publish_errors_total",
			Help: "Total number of failed publishes by stage.",
		},
		[]string{"stage"},
	)
	rateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindcare_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter.",
		},
		[]string{"scope"},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindcare_notifications_total",
			Help: "Notification dispatch outcomes.",
		},
		[]string{"type", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveSessions,
		wsEventsTotal,
		fanoutDeliveriesTotal,
		fanoutDuration,
		eventPublishErrorsTotal,
		rateLimitRejectionsTotal,
		notificationsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive(kind string) {
	wsActiveSessions.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveSessions.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

// ObserveFanout records one broadcast: how many targets got it, how many were dropped.
func ObserveFanout(delivered, dropped int, took time.Duration) {
	fanoutDeliveriesTotal.WithLabelValues("delivered").Add(float64(delivered))
	fanoutDeliveriesTotal.WithLabelValues("dropped").Add(float64(dropped))
	fanoutDuration.Observe(took.Seconds())
}

// IncPublishError counts a failed publish. Stage is one of broadcast, bus, bridge, email.
func IncPublishError(stage string) {
	eventPublishErrorsTotal.WithLabelValues(stage).Inc()
}

func IncRateLimitRejection(scope string) {
	rateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

// IncNotification counts a dispatch outcome: created, suppressed or failed.
func IncNotification(typeName, outcome string) {
	notificationsTotal.WithLabelValues(typeName, outcome).Inc()
}
