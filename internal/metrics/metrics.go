package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 预占结果标签值。
const (
	ReserveOK        = "ok"
	ReserveSoldOut   = "sold_out"
	ReserveNotActive = "not_active"
	ReserveNotFound  = "not_found"
	ReserveLimited   = "limited"
	ReserveError     = "error"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flash_mall_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flash_mall_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 秒杀预占结果分布（ok / sold_out / not_active / ...）
	ReserveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flash_mall_reserve_total",
			Help: "Flash sale reservation attempts by outcome",
		},
		[]string{"result"},
	)

	// 配额释放次数（含幂等去重后的实际回补）
	ReleaseTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flash_mall_release_total",
			Help: "Flash sale stock releases applied",
		},
	)
)
