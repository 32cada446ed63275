package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	PromRegistry      = prometheus.NewRegistry()
	WebshipRegisterer = prometheus.WrapRegistererWithPrefix("webship_", PromRegistry)
	DeploymentsTotal  = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployments_total",
			Help: "Total number of deployment runs by terminal state",
		},
		[]string{"environment", "state"},
	)
	DeploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deployment_duration_seconds",
			Help:    "Duration of deployment runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 4, 12),
		},
		[]string{"environment"},
	)
	ObjectsUploadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objects_uploaded_total",
			Help: "Total number of objects uploaded to origin stores",
		},
	)
	BytesUploadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bytes_uploaded_total",
			Help: "Total raw bytes uploaded to origin stores",
		},
	)
	HttpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"code", "method", "path"},
	)
	HttpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"code", "method", "path"},
	)
)

func init() {
	// register collectors
	WebshipRegisterer.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	WebshipRegisterer.MustRegister(collectors.NewGoCollector())
	// register universal metrics
	WebshipRegisterer.MustRegister(DeploymentsTotal)
	WebshipRegisterer.MustRegister(DeploymentDuration)
	WebshipRegisterer.MustRegister(ObjectsUploadedTotal)
	WebshipRegisterer.MustRegister(BytesUploadedTotal)
	WebshipRegisterer.MustRegister(HttpRequestsTotal)
	WebshipRegisterer.MustRegister(HttpRequestDuration)
}

// PrometheusMiddleware is a Gin middleware that instruments HTTP requests.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		statusCode := c.Writer.Status()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		duration := time.Since(startTime).Seconds()

		HttpRequestsTotal.With(prometheus.Labels{
			"code":   strconv.Itoa(statusCode),
			"method": method,
			"path":   path,
		}).Inc()

		HttpRequestDuration.With(prometheus.Labels{
			"code":   strconv.Itoa(statusCode),
			"method": method,
			"path":   path,
		}).Observe(duration)
	}
}
