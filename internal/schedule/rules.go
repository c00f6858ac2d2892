package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// dayNames maps the Spanish weekday tokens used in the rules file.
var dayNames = map[string]time.Weekday{
	"domingo":   time.Sunday,
	"lunes":     time.Monday,
	"martes":    time.Tuesday,
	"miercoles": time.Wednesday,
	"jueves":    time.Thursday,
	"viernes":   time.Friday,
	"sabado":    time.Saturday,
}

var spanishDayNames = map[time.Weekday]string{
	time.Sunday:    "Domingo",
	time.Monday:    "Lunes",
	time.Tuesday:   "Martes",
	time.Wednesday: "Miércoles",
	time.Thursday:  "Jueves",
	time.Friday:    "Viernes",
	time.Saturday:  "Sábado",
}

// DayName returns the Spanish name for a weekday, for user-facing replies.
func DayName(d time.Weekday) string {
	return spanishDayNames[d]
}

// DayRule maps a set of localities to their allowed home-visit weekdays.
type DayRule struct {
	Localities []string `json:"localities"`
	Weekdays   []string `json:"weekdays"`
}

// BranchRule maps a set of localities to a walk-in branch.
type BranchRule struct {
	Localities []string `json:"localities"`
	Code       string   `json:"code"`
	Address    string   `json:"address"`
}

// Rules is the externally supplied scheduling configuration. The weekday
// tables and holiday list are data, not code.
type Rules struct {
	DayRules          []DayRule    `json:"day_rules"`
	Branches          []BranchRule `json:"branches"`
	Holidays          []string     `json:"holidays"`
	DefaultWeekdays   []string     `json:"default_weekdays"`
	DefaultBranchCode string       `json:"default_branch_code"`
	HomeVisitCapacity int          `json:"home_visit_capacity"`

	days     map[string][]time.Weekday
	branches map[string]BranchRule
	byCode   map[string]BranchRule
	holidays map[string]struct{}
	fallback []time.Weekday
}

// LoadRules reads and compiles a rules file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schedule: read rules: %w", err)
	}
	var r Rules
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("schedule: decode rules: %w", err)
	}
	if err := r.compile(); err != nil {
		return nil, err
	}
	return &r, nil
}

// NewRules compiles an in-memory rules value (used by tests and defaults).
func NewRules(r Rules) (*Rules, error) {
	if err := r.compile(); err != nil {
		return nil, err
	}
	return &r, nil
}

func parseWeekdays(tokens []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(tokens))
	for _, tok := range tokens {
		wd, ok := dayNames[Canonical(tok)]
		if !ok {
			return nil, fmt.Errorf("schedule: unknown weekday %q", tok)
		}
		out = append(out, wd)
	}
	return out, nil
}

func (r *Rules) compile() error {
	if r.HomeVisitCapacity <= 0 {
		r.HomeVisitCapacity = 12
	}

	r.days = make(map[string][]time.Weekday)
	for _, dr := range r.DayRules {
		wds, err := parseWeekdays(dr.Weekdays)
		if err != nil {
			return err
		}
		for _, loc := range dr.Localities {
			r.days[Canonical(loc)] = wds
		}
	}

	r.branches = make(map[string]BranchRule)
	r.byCode = make(map[string]BranchRule)
	for _, br := range r.Branches {
		r.byCode[br.Code] = br
		for _, loc := range br.Localities {
			r.branches[Canonical(loc)] = br
		}
	}

	r.holidays = make(map[string]struct{}, len(r.Holidays))
	for _, h := range r.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("schedule: bad holiday date %q: %w", h, err)
		}
		r.holidays[h] = struct{}{}
	}

	if len(r.DefaultWeekdays) == 0 {
		r.DefaultWeekdays = []string{"lunes"}
	}
	fallback, err := parseWeekdays(r.DefaultWeekdays)
	if err != nil {
		return err
	}
	r.fallback = fallback

	if r.DefaultBranchCode == "" && len(r.Branches) > 0 {
		r.DefaultBranchCode = r.Branches[0].Code
	}
	return nil
}

// IsHoliday reports whether the date is in the static holiday list.
func (r *Rules) IsHoliday(t time.Time) bool {
	_, ok := r.holidays[t.Format("2006-01-02")]
	return ok
}

func (r *Rules) weekdaysFor(locality string) []time.Weekday {
	loc := Canonical(locality)
	for key, wds := range r.days {
		if key != "" && containsWord(loc, key) {
			return wds
		}
	}
	return r.fallback
}

func (r *Rules) branchFor(locality string) (BranchRule, bool) {
	loc := Canonical(locality)
	for key, br := range r.branches {
		if key != "" && containsWord(loc, key) {
			return br, true
		}
	}
	br, ok := r.byCode[r.DefaultBranchCode]
	return br, ok
}

// containsWord matches the table key anywhere in the user-supplied locality,
// so "San Antonio de Padua" still resolves via the "padua" entry.
func containsWord(haystack, needle string) bool {
	return needle != "" && strings.Contains(haystack, needle)
}
