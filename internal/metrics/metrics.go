// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"adaptive-assessment-service/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements app.Recorder on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	quizzesGenerated *prometheus.CounterVec
	quizScores       prometheus.Histogram
	gradingFallbacks *prometheus.CounterVec
	judgeUnavailable prometheus.Counter
	questsGenerated  prometheus.Counter
	questsCompleted  prometheus.Counter
	questsExpired    prometheus.Counter
	rewards          *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		quizzesGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assessment_quizzes_generated_total",
				Help: "Total number of generated quizzes",
			},
			[]string{"short"}, // short: true when the pool could not fill the request
		),
		quizScores: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "assessment_quiz_score",
				Help:    "Distribution of submitted quiz scores",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		gradingFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assessment_grading_fallbacks_total",
				Help: "Answers graded with the fallback metric",
			},
			[]string{"mode"},
		),
		judgeUnavailable: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assessment_judge_unavailable_total",
				Help: "Inference calls that failed or timed out",
			},
		),
		questsGenerated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assessment_quests_generated_total",
				Help: "Total number of generated quests",
			},
		),
		questsCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assessment_quests_completed_total",
				Help: "Total number of completed quests",
			},
		),
		questsExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assessment_quests_expired_total",
				Help: "Total number of expired quests",
			},
		),
		rewards: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assessment_reward_deliveries_total",
				Help: "Reward deliveries to the currency ledger",
			},
			[]string{"status"}, // status: success/failure
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assessment_http_request_duration_seconds",
				Help:    "Time spent serving HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "status"},
		),
	}
}

func (m *Metrics) QuizGenerated(short bool) {
	m.quizzesGenerated.WithLabelValues(strconv.FormatBool(short)).Inc()
}

func (m *Metrics) QuizSubmitted(score float64) { m.quizScores.Observe(score) }

func (m *Metrics) GradingFallback(mode domain.MatchMode) {
	m.gradingFallbacks.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) JudgmentUnavailable() { m.judgeUnavailable.Inc() }

func (m *Metrics) QuestsGenerated(n int) { m.questsGenerated.Add(float64(n)) }

func (m *Metrics) QuestCompleted() { m.questsCompleted.Inc() }

func (m *Metrics) QuestsExpired(n int) { m.questsExpired.Add(float64(n)) }

func (m *Metrics) RewardDelivered() { m.rewards.WithLabelValues("success").Inc() }

func (m *Metrics) RewardFailed() { m.rewards.WithLabelValues("failure").Inc() }

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.requestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests and for registering extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
