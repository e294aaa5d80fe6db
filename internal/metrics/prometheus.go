package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manual_qa_runs_total",
			Help: "Total evaluation runs by terminal status",
		},
		[]string{"status"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "manual_qa_run_duration_seconds",
			Help:    "Evaluation run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	HitRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "manual_qa_hit_rate",
			Help: "Last completed run hit rate by method and cutoff",
		},
		[]string{"method", "k"},
	)

	FalsePositiveAnswers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "manual_qa_false_positive_answers",
			Help: "Last completed run false positive answer count by method",
		},
		[]string{"method"},
	)

	VectorQueryErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "manual_qa_vector_query_errors_total",
			Help: "Total per-question vector retrieval failures",
		},
	)

	QuestionsEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "manual_qa_questions_evaluated_total",
			Help: "Total questions evaluated across runs",
		},
	)

	ParagraphsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "manual_qa_paragraphs_ingested_total",
			Help: "Total paragraphs ingested into the evidence store",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manual_qa_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manual_qa_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(HitRate)
	prometheus.MustRegister(FalsePositiveAnswers)
	prometheus.MustRegister(VectorQueryErrors)
	prometheus.MustRegister(QuestionsEvaluated)
	prometheus.MustRegister(ParagraphsIngested)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
