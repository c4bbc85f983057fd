package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/dbsbm/svcmaster/pkg/logging"
	"github.com/dbsbm/svcmaster/pkg/metrics"
)

// MonthlyRule describes a once-a-month maintenance window: the first
// occurrence of Weekday in each month, at Hour:Minute local time.
type MonthlyRule struct {
	Weekday time.Weekday `yaml:"weekday"`
	Hour    int          `yaml:"hour"`
	Minute  int          `yaml:"minute"`
}

// ValidateMonthlyRule checks rule fields are within range.
func ValidateMonthlyRule(rule MonthlyRule) error {
	if rule.Weekday < time.Sunday || rule.Weekday > time.Saturday {
		return fmt.Errorf("invalid weekday: %d", rule.Weekday)
	}
	if rule.Hour < 0 || rule.Hour > 23 {
		return fmt.Errorf("invalid hour: %d", rule.Hour)
	}
	if rule.Minute < 0 || rule.Minute > 59 {
		return fmt.Errorf("invalid minute: %d", rule.Minute)
	}
	return nil
}

// firstWeekday returns the rule's fire time within the month containing
// the given year and month.
func (r MonthlyRule) firstWeekday(year int, month time.Month, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, r.Hour, r.Minute, 0, 0, loc)
	offset := (int(r.Weekday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset)
}

// NextRun returns the next fire time strictly after the given instant.
func (r MonthlyRule) NextRun(after time.Time) time.Time {
	candidate := r.firstWeekday(after.Year(), after.Month(), after.Location())
	if candidate.After(after) {
		return candidate
	}
	next := after.AddDate(0, 1, -after.Day()+1) // first day of the following month
	return r.firstWeekday(next.Year(), next.Month(), after.Location())
}

// Due reports whether the rule's window is currently active: now falls
// within the rule's minute and the rule has not fired during this
// calendar month yet. lastFired may be the zero time.
func (r MonthlyRule) Due(now, lastFired time.Time) bool {
	fireTime := r.firstWeekday(now.Year(), now.Month(), now.Location())
	if now.Before(fireTime) || now.Sub(fireTime) >= time.Minute {
		return false
	}
	if !lastFired.IsZero() && lastFired.Year() == now.Year() && lastFired.Month() == now.Month() {
		return false
	}
	return true
}

// FireFunc is invoked when the scheduled window arrives.
type FireFunc func()

// Scheduler fires a MonthlyRule at most once per calendar month. The
// check granularity is one minute, matching the rule's resolution.
type Scheduler struct {
	rule   MonthlyRule
	fire   FireFunc
	logger logging.Logger

	lastFired time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mutex     sync.Mutex
}

// NewScheduler creates a scheduler for the given rule. lastFired seeds
// the once-per-month guard across restarts of the manager itself.
func NewScheduler(rule MonthlyRule, lastFired time.Time, fire FireFunc, logger logging.Logger) *Scheduler {
	return &Scheduler{
		rule:      rule,
		fire:      fire,
		logger:    logger,
		lastFired: lastFired,
		stopChan:  make(chan struct{}),
	}
}

func (s *Scheduler) Start() error {
	if err := ValidateMonthlyRule(s.rule); err != nil {
		return err
	}

	s.logger.Infof("Monthly schedule active, next run: %s",
		s.rule.NextRun(time.Now()).Format("2006-01-02 15:04"))

	s.wg.Add(1)
	go s.loop()
	return nil
}

func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// LastFired returns when the rule last fired, or the zero time.
func (s *Scheduler) LastFired() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastFired
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.check(now)
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) check(now time.Time) {
	s.mutex.Lock()
	due := s.rule.Due(now, s.lastFired)
	if due {
		s.lastFired = now
	}
	s.mutex.Unlock()

	if !due {
		return
	}

	s.logger.Infof("Monthly maintenance window reached, firing scheduled restart")
	metrics.MonthlyRestarts.Inc()
	s.fire()
}
