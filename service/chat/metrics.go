package chat

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ppfeed_ws_active_connections",
		Help: "Active websocket connections",
	})
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ppfeed_ws_online_users",
		Help: "Users with at least one live connection",
	})
	InboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppfeed_ws_inbound_events_total",
		Help: "Inbound socket events by name and result",
	}, []string{"event", "result"})
	OutboundFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppfeed_ws_outbound_frames_total",
		Help: "Outbound frames by event type",
	}, []string{"type"})
	DroppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ppfeed_ws_dropped_frames_total",
		Help: "Frames dropped because a send queue was full",
	})
	AuthFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ppfeed_ws_auth_failures_total",
		Help: "Rejected websocket handshakes",
	})
)

var registerOnce sync.Once

// InitMetrics 注册到默认 registry，可重复调用
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(Connections, OnlineUsers, InboundEvents, OutboundFrames, DroppedFrames, AuthFailures)
	})
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
