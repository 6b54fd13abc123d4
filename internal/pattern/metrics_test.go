package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	t.Run("accumulates successes and failures", func(t *testing.T) {
		m := NewMetrics()
		now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

		for i := 0; i < 3; i++ {
			m.Record(true, now.Add(time.Duration(i)*time.Minute))
		}
		for i := 0; i < 2; i++ {
			m.Record(false, now.Add(time.Hour))
		}

		assert.Equal(t, 5, m.Applications)
		assert.Equal(t, 3, m.Successes)
		assert.Equal(t, 2, m.Failures)
		assert.InDelta(t, 60.0, m.SuccessRate, 0.001)
		require.NoError(t, m.Validate())
	})

	t.Run("rounds rate to two decimal places", func(t *testing.T) {
		m := NewMetrics()
		now := time.Now()

		// 1 success, 2 failures: 33.333... -> 33.33
		m.Record(true, now)
		m.Record(false, now)
		m.Record(false, now)

		assert.Equal(t, 33.33, m.SuccessRate)
	})

	t.Run("stamps lastUsed on every call", func(t *testing.T) {
		m := NewMetrics()
		first := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		second := first.Add(time.Hour)

		m.Record(false, first)
		require.NotNil(t, m.LastUsed)
		assert.True(t, m.LastUsed.Equal(first))

		m.Record(false, second)
		assert.True(t, m.LastUsed.Equal(second))
	})

	t.Run("preserves lastSuccessful on failure", func(t *testing.T) {
		m := NewMetrics()
		first := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		second := first.Add(time.Hour)

		m.Record(true, first)
		require.NotNil(t, m.LastSuccessful)

		m.Record(false, second)
		assert.True(t, m.LastSuccessful.Equal(first))
		assert.True(t, m.LastUsed.Equal(second))
	})

	t.Run("lastSuccessful nil until first success", func(t *testing.T) {
		m := NewMetrics()
		m.Record(false, time.Now())
		assert.Nil(t, m.LastSuccessful)
	})
}

func TestMetrics_Validate(t *testing.T) {
	tests := []struct {
		name    string
		metrics Metrics
		wantErr error
	}{
		{"zeroed metrics", NewMetrics(), nil},
		{"negative count", Metrics{Applications: -1, Failures: -1}, ErrNegativeCount},
		{"inconsistent counts", Metrics{Applications: 3, Successes: 1, Failures: 1}, ErrInconsistentCounts},
		{"rate out of range", Metrics{Applications: 1, Successes: 1, SuccessRate: 120}, ErrInvalidSuccessRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.metrics.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
