package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthlyRule_NextRun(t *testing.T) {
	rule := MonthlyRule{Weekday: time.Monday, Hour: 3, Minute: 0}

	t.Run("BeforeFirstMonday", func(t *testing.T) {
		// June 2025: the 1st is a Sunday, so the first Monday is the 2nd.
		after := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
		next := rule.NextRun(after)
		assert.Equal(t, time.Date(2025, time.June, 2, 3, 0, 0, 0, time.UTC), next)
	})

	t.Run("AfterFirstMondayRollsToNextMonth", func(t *testing.T) {
		after := time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)
		next := rule.NextRun(after)
		// July 2025: first Monday is the 7th.
		assert.Equal(t, time.Date(2025, time.July, 7, 3, 0, 0, 0, time.UTC), next)
	})

	t.Run("MonthStartingOnRuleWeekday", func(t *testing.T) {
		// September 2025 starts on a Monday.
		after := time.Date(2025, time.August, 20, 0, 0, 0, 0, time.UTC)
		next := rule.NextRun(after)
		assert.Equal(t, time.Date(2025, time.September, 1, 3, 0, 0, 0, time.UTC), next)
	})

	t.Run("YearBoundary", func(t *testing.T) {
		after := time.Date(2025, time.December, 20, 0, 0, 0, 0, time.UTC)
		next := rule.NextRun(after)
		// January 2026: first Monday is the 5th.
		assert.Equal(t, time.Date(2026, time.January, 5, 3, 0, 0, 0, time.UTC), next)
	})

	t.Run("ExactFireTimeIsNotAfter", func(t *testing.T) {
		at := time.Date(2025, time.June, 2, 3, 0, 0, 0, time.UTC)
		next := rule.NextRun(at)
		assert.Equal(t, time.Date(2025, time.July, 7, 3, 0, 0, 0, time.UTC), next)
	})
}

func TestMonthlyRule_Due(t *testing.T) {
	rule := MonthlyRule{Weekday: time.Monday, Hour: 3, Minute: 0}

	fireTime := time.Date(2025, time.June, 2, 3, 0, 0, 0, time.UTC)

	t.Run("WithinWindow", func(t *testing.T) {
		assert.True(t, rule.Due(fireTime.Add(10*time.Second), time.Time{}))
	})

	t.Run("BeforeWindow", func(t *testing.T) {
		assert.False(t, rule.Due(fireTime.Add(-time.Second), time.Time{}))
	})

	t.Run("AfterWindow", func(t *testing.T) {
		assert.False(t, rule.Due(fireTime.Add(time.Minute), time.Time{}))
	})

	t.Run("AlreadyFiredThisMonth", func(t *testing.T) {
		lastFired := time.Date(2025, time.June, 2, 3, 0, 5, 0, time.UTC)
		assert.False(t, rule.Due(fireTime.Add(30*time.Second), lastFired))
	})

	t.Run("FiredPreviousMonth", func(t *testing.T) {
		lastFired := time.Date(2025, time.May, 5, 3, 0, 0, 0, time.UTC)
		assert.True(t, rule.Due(fireTime.Add(30*time.Second), lastFired))
	})
}

func TestValidateMonthlyRule(t *testing.T) {
	require.NoError(t, ValidateMonthlyRule(MonthlyRule{Weekday: time.Monday, Hour: 3}))

	assert.Error(t, ValidateMonthlyRule(MonthlyRule{Weekday: time.Monday, Hour: 24}))
	assert.Error(t, ValidateMonthlyRule(MonthlyRule{Weekday: time.Monday, Minute: 60}))
	assert.Error(t, ValidateMonthlyRule(MonthlyRule{Weekday: 7}))
}
