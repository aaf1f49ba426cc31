package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SalesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "counter_sales_total",
		Help: "Total number of sale rows recorded",
	}, []string{"payment_method"})

	RefillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "counter_refills_total",
		Help: "Total number of refills recorded",
	}, []string{"payment_method"})

	BasketFinishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "counter_basket_finish_total",
		Help: "Basket commits by outcome",
	}, []string{"outcome"})

	ClickErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "counter_click_errors_total",
		Help: "Rejected click actions by error kind",
	}, []string{"kind"})

	CounterLoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "counter_logins_total",
		Help: "Barman login attempts by outcome",
	}, []string{"outcome"})

	BankCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eboutic_bank_callbacks_total",
		Help: "Bank callbacks by outcome",
	}, []string{"outcome"})

	DeletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "counter_operation_deletions_total",
		Help: "Deleted sales and refills",
	}, []string{"kind"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument records latency and count of every request, labelled with the
// matched route pattern.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(rec.status)
		HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}
