package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	extractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_extractions_total",
			Help: "Total number of document extractions by file type, strategy and outcome",
		},
		[]string{"file_type", "strategy", "outcome"},
	)
	extractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "document_extraction_duration_seconds",
			Help:    "Duration of document extractions",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"strategy"},
	)
	extractionCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "document_extraction_cache_hits_total",
			Help: "Uploads served from the extraction cache",
		},
	)
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_questions_total",
			Help: "Total number of questions by outcome",
		},
		[]string{"outcome"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "document_sessions_active",
			Help: "Number of sessions currently held in memory",
		},
	)
)

func init() {
	prometheus.MustRegister(extractionsTotal)
	prometheus.MustRegister(extractionDuration)
	prometheus.MustRegister(extractionCacheHits)
	prometheus.MustRegister(questionsTotal)
	prometheus.MustRegister(activeSessions)
}

func ObserveExtraction(fileType, strategy, outcome string, d time.Duration) {
	if strategy == "" {
		strategy = "none"
	}
	extractionsTotal.WithLabelValues(fileType, strategy, outcome).Inc()
	extractionDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

func ObserveCacheHit() {
	extractionCacheHits.Inc()
}

func ObserveQuestion(outcome string) {
	questionsTotal.WithLabelValues(outcome).Inc()
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
