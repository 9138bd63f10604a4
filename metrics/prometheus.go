package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zuul_build"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	requests     *prom.CounterVec
	requestTime  *prom.HistogramVec
	retries      *prom.CounterVec
	decodeErrors prom.Counter
	duplicates   prom.Counter
	builds       *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them on reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		requests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "zuul-web requests by endpoint and result",
		}, []string{"endpoint", "result"}),
		requestTime: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of zuul-web requests",
			Buckets:   prom.DefBuckets,
		}, []string{"endpoint"}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried zuul-web requests",
		}, []string{"endpoint"}),
		decodeErrors: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Builds skipped because they could not be decoded",
		}),
		duplicates: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_builds_total",
			Help:      "Builds skipped because a page slid between requests",
		}),
		builds: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Builds yielded by streams, by build result",
		}, []string{"result"}),
	}
	reg.MustRegister(pr.requests, pr.requestTime, pr.retries, pr.decodeErrors, pr.duplicates, pr.builds)
	return pr
}

func (p *PrometheusRecorder) ObserveRequest(endpoint string, result RequestResult, d time.Duration) {
	if p == nil {
		return
	}
	p.requests.WithLabelValues(endpoint, string(result)).Inc()
	p.requestTime.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRetry(endpoint string) {
	if p == nil {
		return
	}
	p.retries.WithLabelValues(endpoint).Inc()
}

func (p *PrometheusRecorder) IncDecodeError() {
	if p == nil {
		return
	}
	p.decodeErrors.Inc()
}

func (p *PrometheusRecorder) IncDuplicate() {
	if p == nil {
		return
	}
	p.duplicates.Inc()
}

func (p *PrometheusRecorder) IncBuild(result string) {
	if p == nil {
		return
	}
	p.builds.WithLabelValues(result).Inc()
}

// HTTPHandler serves the metrics gathered by g.
func HTTPHandler(g prom.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
