// Package metrics records routing decisions and outcome feedback.
package metrics

import "time"

// Relaxation stages applied by the orchestrator fallback
const (
	RelaxElimination = "elimination"
	RelaxStatic      = "static"
)

// Recorder receives routing events. Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveDecision(result string, latency time.Duration)
	IncRelaxation(stage string)
	IncDegraded(engine string)
	IncOutcome(success bool)
	IncElimination()
	IncFeedbackDropped()
}

// Noop discards every event
type Noop struct{}

func (Noop) ObserveDecision(string, time.Duration) {}
func (Noop) IncRelaxation(string)                  {}
func (Noop) IncDegraded(string)                    {}
func (Noop) IncOutcome(bool)                       {}
func (Noop) IncElimination()                       {}
func (Noop) IncFeedbackDropped()                   {}

var _ Recorder = Noop{}
