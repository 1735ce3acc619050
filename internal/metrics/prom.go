package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromRecorder records routing events in Prometheus metrics.
type PromRecorder struct {
	decisions   *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	relaxations *prometheus.CounterVec
	degraded    *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	eliminated  prometheus.Counter
	dropped     prometheus.Counter
	gatherer    prometheus.Gatherer
}

// NewPromRecorder registers routing metrics on the default Prometheus registry.
func NewPromRecorder() (*PromRecorder, error) {
	return NewPromRecorderWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewPromRecorderWithRegistry registers metrics on reg and serves them from gatherer.
// Collectors already registered on reg are reused.
func NewPromRecorderWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) (*PromRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := &PromRecorder{gatherer: gatherer}
	var err error

	if r.decisions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routing_decisions_total",
		Help: "Total number of routing decisions by result",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if r.latency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "routing_decision_latency_seconds",
		Help:    "Time spent producing a routing decision",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if r.relaxations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routing_relaxations_total",
		Help: "Decisions that relaxed an exclusion to keep a candidate",
	}, []string{"stage"})); err != nil {
		return nil, err
	}
	if r.degraded, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routing_degraded_engines_total",
		Help: "Engine contributions replaced by neutral defaults",
	}, []string{"engine"})); err != nil {
		return nil, err
	}
	if r.outcomes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routing_outcomes_total",
		Help: "Outcome events applied to routing state",
	}, []string{"success"})); err != nil {
		return nil, err
	}
	if r.eliminated, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "routing_eliminations_total",
		Help: "Connectors moved into elimination",
	})); err != nil {
		return nil, err
	}
	if r.dropped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "routing_feedback_dropped_total",
		Help: "Outcome events dropped because the feedback queue was full",
	})); err != nil {
		return nil, err
	}

	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveDecision counts a decision and records its latency
func (r *PromRecorder) ObserveDecision(result string, latency time.Duration) {
	r.decisions.WithLabelValues(result).Inc()
	r.latency.WithLabelValues(result).Observe(latency.Seconds())
}

func (r *PromRecorder) IncRelaxation(stage string) {
	r.relaxations.WithLabelValues(stage).Inc()
}

func (r *PromRecorder) IncDegraded(engine string) {
	r.degraded.WithLabelValues(engine).Inc()
}

func (r *PromRecorder) IncOutcome(success bool) {
	r.outcomes.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (r *PromRecorder) IncElimination() {
	r.eliminated.Inc()
}

func (r *PromRecorder) IncFeedbackDropped() {
	r.dropped.Inc()
}

// Handler serves the recorder's registry in the Prometheus exposition format
func (r *PromRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

var _ Recorder = (*PromRecorder)(nil)
