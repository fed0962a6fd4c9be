// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。
// 同时实现网关的 UsageObserver 与索引层的 IndexObserver。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 后端调用指标
	backendCallsTotal  *prometheus.CounterVec
	backendTokensTotal *prometheus.CounterVec

	// 索引指标
	indexCacheHits   prometheus.Counter
	indexCacheMisses prometheus.Counter
	indexBuildsTotal *prometheus.CounterVec
	indexSegments    prometheus.Histogram

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 后端调用指标
	c.backendCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Total number of generation backend calls",
		},
		[]string{"backend", "outcome"}, // outcome: success, error, degraded
	)

	c.backendTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_tokens_total",
			Help:      "Total number of tokens consumed per backend",
		},
		[]string{"backend"},
	)

	// 索引指标
	c.indexCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_cache_hits_total",
			Help:      "Total number of document index cache hits",
		},
	)

	c.indexCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_cache_misses_total",
			Help:      "Total number of document index cache misses",
		},
	)

	c.indexBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_builds_total",
			Help:      "Total number of document indexes built",
		},
		[]string{"doc_type"},
	)

	c.indexSegments = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_segments",
			Help:      "Number of segments per built document index",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🤖 后端调用指标记录
// =============================================================================

// ObserveBackendCall 记录一次后端调用及其结局
func (c *Collector) ObserveBackendCall(backend, outcome string) {
	c.backendCallsTotal.WithLabelValues(backend, outcome).Inc()
}

// ObserveTokens 记录后端消耗的令牌数
func (c *Collector) ObserveTokens(backend string, tokens int) {
	if tokens <= 0 {
		return
	}
	c.backendTokensTotal.WithLabelValues(backend).Add(float64(tokens))
}

// =============================================================================
// 💾 索引指标记录
// =============================================================================

// ObserveIndexCache 记录索引缓存命中或未命中
func (c *Collector) ObserveIndexCache(hit bool) {
	if hit {
		c.indexCacheHits.Inc()
		return
	}
	c.indexCacheMisses.Inc()
}

// ObserveIndexBuild 记录一次索引构建
func (c *Collector) ObserveIndexBuild(docType string, segments int) {
	c.indexBuildsTotal.WithLabelValues(docType).Inc()
	c.indexSegments.Observe(float64(segments))
}
