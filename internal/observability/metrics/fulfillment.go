package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics captures benefit fulfillment health signals.
type FulfillmentMetrics struct {
	taskRuns     *prometheus.CounterVec
	taskOutcomes *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	deadLetters  *prometheus.CounterVec
	lockWait     prometheus.Histogram
}

var (
	fulfillmentOnce    sync.Once
	fulfillmentMetrics *FulfillmentMetrics
)

// Fulfillment returns the singleton fulfillment metrics registry.
func Fulfillment() *FulfillmentMetrics {
	fulfillmentOnce.Do(func() {
		fulfillmentMetrics = newFulfillmentMetrics(prometheus.DefaultRegisterer)
	})
	return fulfillmentMetrics
}

func newFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	m := &FulfillmentMetrics{
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitled_task_runs_total",
			Help: "Benefit task executions by kind and benefit type.",
		}, []string{"kind", "benefit_type"}),
		taskOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitled_task_outcomes_total",
			Help: "Benefit task outcomes by class.",
		}, []string{"kind", "benefit_type", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "entitled_task_duration_seconds",
			Help:    "Benefit task execution duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "benefit_type"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitled_task_dead_letters_total",
			Help: "Benefit tasks that exhausted their retry budget.",
		}, []string{"kind", "benefit_type"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "entitled_lock_wait_seconds",
			Help:    "Time spent acquiring named fulfillment locks.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2},
		}),
	}

	for _, c := range []prometheus.Collector{
		m.taskRuns, m.taskOutcomes, m.taskDuration, m.deadLetters, m.lockWait,
	} {
		if err := reg.Register(c); err != nil {
			// Re-registration happens when tests build the singleton more
			// than once; anything else is a programming error.
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			panic(err)
		}
	}
	return m
}

func (m *FulfillmentMetrics) IncTaskRun(kind, benefitType string) {
	m.taskRuns.WithLabelValues(kind, benefitType).Inc()
}

func (m *FulfillmentMetrics) IncOutcome(kind, benefitType, outcome string) {
	m.taskOutcomes.WithLabelValues(kind, benefitType, outcome).Inc()
}

func (m *FulfillmentMetrics) ObserveTaskDuration(kind, benefitType string, d time.Duration) {
	m.taskDuration.WithLabelValues(kind, benefitType).Observe(d.Seconds())
}

func (m *FulfillmentMetrics) IncDeadLetter(kind, benefitType string) {
	m.deadLetters.WithLabelValues(kind, benefitType).Inc()
}

func (m *FulfillmentMetrics) ObserveLockWait(d time.Duration) {
	m.lockWait.Observe(d.Seconds())
}
