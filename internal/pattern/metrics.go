package pattern

import (
	"errors"
	"math"
	"time"
)

// Metrics errors.
var (
	ErrNegativeCount      = errors.New("metric counts cannot be negative")
	ErrInconsistentCounts = errors.New("applications must equal successes plus failures")
	ErrInvalidSuccessRate = errors.New("success rate must be between 0 and 100")
)

// Metrics tracks how often a pattern has been applied and how it fared.
//
// Invariants: Applications == Successes + Failures, and SuccessRate is
// round(Successes/Applications*100, 2) whenever Applications > 0.
type Metrics struct {
	SuccessRate    float64    `json:"successRate"`
	Applications   int        `json:"applications"`
	Successes      int        `json:"successes"`
	Failures       int        `json:"failures"`
	LastUsed       *time.Time `json:"lastUsed,omitempty"`
	LastSuccessful *time.Time `json:"lastSuccessful,omitempty"`
}

// NewMetrics returns zeroed metrics.
func NewMetrics() Metrics {
	return Metrics{}
}

// Record applies one application outcome.
//
// LastUsed is stamped on every call; LastSuccessful only on success and is
// otherwise preserved.
func (m *Metrics) Record(success bool, now time.Time) {
	t := now.UTC()
	m.Applications++
	if success {
		m.Successes++
		m.LastSuccessful = &t
	} else {
		m.Failures++
	}
	m.SuccessRate = roundRate(m.Successes, m.Applications)
	m.LastUsed = &t
}

// Validate checks the metric invariants.
func (m *Metrics) Validate() error {
	if m.Applications < 0 || m.Successes < 0 || m.Failures < 0 {
		return ErrNegativeCount
	}
	if m.Applications != m.Successes+m.Failures {
		return ErrInconsistentCounts
	}
	if m.SuccessRate < 0 || m.SuccessRate > 100 {
		return ErrInvalidSuccessRate
	}
	return nil
}

// roundRate computes a success percentage rounded to two decimal places.
func roundRate(successes, applications int) float64 {
	if applications == 0 {
		return 0
	}
	return math.Round(float64(successes)/float64(applications)*10000) / 100
}
