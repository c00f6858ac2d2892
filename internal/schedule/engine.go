// Package schedule implements branch assignment and home-visit day assignment
// for patient intakes. Both decisions key off the free-text locality; the
// weekday tables, branch tables and holiday list come from an external rules
// file.
package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/alia-labs/lab-intake-platform/pkg/logging"
)

// maxCandidateDays bounds the capacity-rollover scan. Two full months of
// candidates is far beyond any realistic backlog.
const maxCandidateDays = 62

// ErrWindowExhausted is returned when no under-capacity date exists within the
// candidate window.
var ErrWindowExhausted = errors.New("schedule: no assignable home-visit date within the candidate window")

// RosterCounter reports how many home visits are already registered for a
// date. The records store implements it.
type RosterCounter interface {
	CountHomeVisits(ctx context.Context, date time.Time) (int, error)
}

// Branch is a resolved walk-in location.
type Branch struct {
	Code    string
	Address string
}

// HomeVisit is a resolved at-home appointment date.
type HomeVisit struct {
	Date    time.Time
	Weekday time.Weekday
}

// DayNameFor returns the Spanish weekday name of the visit.
func (v HomeVisit) DayNameFor() string {
	return DayName(v.Weekday)
}

// Engine resolves scheduling decisions against the rules and the roster.
type Engine struct {
	rules  *Rules
	roster RosterCounter
	logger *logging.Logger
	now    func() time.Time
}

// NewEngine creates a scheduling engine. roster may be nil, in which case
// capacity is not enforced.
func NewEngine(rules *Rules, roster RosterCounter, logger *logging.Logger) *Engine {
	if rules == nil {
		panic("schedule: rules cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{rules: rules, roster: roster, logger: logger, now: time.Now}
}

// BranchFor maps a locality to its walk-in branch. Unmatched or empty
// localities resolve to the default branch rather than failing.
func (e *Engine) BranchFor(locality string) Branch {
	br, ok := e.rules.branchFor(locality)
	if !ok {
		// Rules with no branches at all; keep the conversation moving.
		return Branch{Code: "GENERAL"}
	}
	return Branch{Code: br.Code, Address: br.Address}
}

// NextHomeVisit computes the first date on or after tomorrow whose weekday is
// allowed for the locality, skipping Sundays and holidays, and rolling past
// dates whose roster already holds the capacity ceiling.
func (e *Engine) NextHomeVisit(ctx context.Context, locality string) (HomeVisit, error) {
	allowed := e.rules.weekdaysFor(locality)
	allowedSet := make(map[time.Weekday]struct{}, len(allowed))
	for _, wd := range allowed {
		allowedSet[wd] = struct{}{}
	}

	day := e.now().AddDate(0, 0, 1)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())

	for i := 0; i < maxCandidateDays; i++ {
		candidate := day.AddDate(0, 0, i)
		if candidate.Weekday() == time.Sunday {
			continue
		}
		if _, ok := allowedSet[candidate.Weekday()]; !ok {
			continue
		}
		if e.rules.IsHoliday(candidate) {
			continue
		}
		if !e.underCapacity(ctx, candidate) {
			continue
		}
		return HomeVisit{Date: candidate, Weekday: candidate.Weekday()}, nil
	}
	return HomeVisit{}, ErrWindowExhausted
}

func (e *Engine) underCapacity(ctx context.Context, date time.Time) bool {
	if e.roster == nil {
		return true
	}
	count, err := e.roster.CountHomeVisits(ctx, date)
	if err != nil {
		// Roster reads are best-effort; a storage hiccup must not block the
		// intake conversation.
		e.logger.Warn("schedule: roster count failed, assuming capacity",
			"date", date.Format("2006-01-02"), "error", err)
		return true
	}
	return count < e.rules.HomeVisitCapacity
}
