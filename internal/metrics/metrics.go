// Package metrics содержит сбор и публикацию метрик Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector собирает метрики сервиса: доменные счётчики заявок и
// статистику HTTP-запросов.
type Collector struct {
	claimsSubmitted prometheus.Counter
	claimsReviewed  *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    prometheus.Histogram
}

// NewCollector создаёт Collector и регистрирует метрики в указанном реестре.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		claimsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "expenses_claims_submitted_total",
			Help: "Total number of submitted expense claims.",
		}),
		claimsReviewed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expenses_claims_reviewed_total",
			Help: "Total number of reviewed expense claims by decision.",
		}, []string{"decision"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expenses_http_requests_total",
			Help: "Total number of HTTP responses by status code.",
		}, []string{"code"}),
		httpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "expenses_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.claimsSubmitted,
		c.claimsReviewed,
		c.httpRequests,
		c.httpDuration,
	)

	return c
}

// RecordClaimSubmitted учитывает подачу новой заявки.
func (c *Collector) RecordClaimSubmitted() {
	c.claimsSubmitted.Inc()
}

// RecordClaimReviewed учитывает рассмотрение заявки с указанным решением.
func (c *Collector) RecordClaimReviewed(decision string) {
	c.claimsReviewed.WithLabelValues(decision).Inc()
}

// RecordHTTPRequest учитывает один обработанный HTTP-запрос.
func (c *Collector) RecordHTTPRequest(statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.httpDuration.Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// Middleware учитывает статус и длительность каждого запроса.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		c.RecordHTTPRequest(rec.statusCode, time.Since(start))
	})
}

// Handler возвращает HTTP-обработчик для скрейпа Prometheus.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
