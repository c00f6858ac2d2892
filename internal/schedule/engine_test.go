package schedule

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRoster struct {
	counts map[string]int
	err    error
}

func (f *fakeRoster) CountHomeVisits(_ context.Context, date time.Time) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[date.Format("2006-01-02")], nil
}

func testEngine(t *testing.T, roster RosterCounter, now time.Time, holidays ...string) *Engine {
	t.Helper()
	rules := Rules{
		DayRules: []DayRule{
			{Localities: []string{"ituzaingo"}, Weekdays: []string{"lunes"}},
			{Localities: []string{"merlo", "padua"}, Weekdays: []string{"martes", "viernes"}},
			{Localities: []string{"tesei", "hurlingham"}, Weekdays: []string{"miercoles", "sabado"}},
			{Localities: []string{"castelar"}, Weekdays: []string{"jueves"}},
		},
		Branches: []BranchRule{
			{Localities: []string{"ituzaingo", "castelar"}, Code: "CASTELAR", Address: "Arias 2530, Castelar"},
			{Localities: []string{"merlo", "padua"}, Code: "MERLO", Address: "Jujuy 845, Merlo"},
		},
		Holidays:          holidays,
		DefaultWeekdays:   []string{"lunes"},
		DefaultBranchCode: "CASTELAR",
		HomeVisitCapacity: 2,
	}
	compiled, err := NewRules(rules)
	if err != nil {
		t.Fatalf("compile rules: %v", err)
	}
	e := NewEngine(compiled, roster, nil)
	e.now = func() time.Time { return now }
	return e
}

func TestCanonical(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Ituzaingó", "ituzaingo"},
		{"  CASTELAR ", "castelar"},
		{"Miércoles", "miercoles"},
		{"villa tesei", "villa tesei"},
	}
	for _, tt := range tests {
		if got := Canonical(tt.in); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBranchAssignment(t *testing.T) {
	e := testEngine(t, nil, time.Now())

	tests := []struct {
		locality string
		wantCode string
	}{
		{"Ituzaingó", "CASTELAR"},
		{"ituzaingo centro", "CASTELAR"},
		{"San Antonio de Padua", "MERLO"},
		{"Moreno", "CASTELAR"}, // unmatched falls back to default
		{"", "CASTELAR"},
	}
	for _, tt := range tests {
		if got := e.BranchFor(tt.locality); got.Code != tt.wantCode {
			t.Errorf("BranchFor(%q) = %s, want %s", tt.locality, got.Code, tt.wantCode)
		}
	}
}

func TestNextHomeVisitMerloOnThursday(t *testing.T) {
	// Thursday 2026-08-27: Merlo allows Tuesday/Friday, so the next valid
	// date is Friday the 28th.
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	e := testEngine(t, nil, now)

	visit, err := e.NextHomeVisit(context.Background(), "Merlo")
	if err != nil {
		t.Fatalf("NextHomeVisit: %v", err)
	}
	if visit.Weekday != time.Friday || visit.Date.Day() != 28 {
		t.Fatalf("expected Friday the 28th, got %s %s", visit.DayNameFor(), visit.Date)
	}
}

func TestNextHomeVisitSkipsHoliday(t *testing.T) {
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	// Friday the 28th is a holiday; next allowed day for Merlo is Tuesday
	// September 1st.
	e := testEngine(t, nil, now, "2026-08-28")

	visit, err := e.NextHomeVisit(context.Background(), "merlo")
	if err != nil {
		t.Fatalf("NextHomeVisit: %v", err)
	}
	want := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if !visit.Date.Equal(want) {
		t.Fatalf("expected %s, got %s", want, visit.Date)
	}
}

func TestNextHomeVisitNeverSunday(t *testing.T) {
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	e := testEngine(t, nil, now)
	// Force an allowed-set containing Sunday through a bespoke rules table.
	rules, err := NewRules(Rules{
		DayRules:        []DayRule{{Localities: []string{"moreno"}, Weekdays: []string{"domingo"}}},
		DefaultWeekdays: []string{"domingo"},
	})
	if err != nil {
		t.Fatalf("compile rules: %v", err)
	}
	e.rules = rules

	if _, err := e.NextHomeVisit(context.Background(), "moreno"); !errors.Is(err, ErrWindowExhausted) {
		t.Fatalf("Sunday-only rules must exhaust the window, got %v", err)
	}
}

func TestNextHomeVisitCapacityRollover(t *testing.T) {
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	roster := &fakeRoster{counts: map[string]int{
		"2026-08-28": 2, // Friday full (capacity 2)
	}}
	e := testEngine(t, roster, now)

	visit, err := e.NextHomeVisit(context.Background(), "merlo")
	if err != nil {
		t.Fatalf("NextHomeVisit: %v", err)
	}
	want := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC) // next Tuesday
	if !visit.Date.Equal(want) {
		t.Fatalf("expected rollover to %s, got %s", want, visit.Date)
	}
}

func TestNextHomeVisitRosterErrorDoesNotBlock(t *testing.T) {
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	roster := &fakeRoster{err: errors.New("db down")}
	e := testEngine(t, roster, now)

	visit, err := e.NextHomeVisit(context.Background(), "merlo")
	if err != nil {
		t.Fatalf("roster failure must not fail assignment: %v", err)
	}
	if visit.Weekday != time.Friday {
		t.Fatalf("expected Friday, got %s", visit.DayNameFor())
	}
}

func TestDefaultLocalityUsesMondayCycle(t *testing.T) {
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC) // Thursday
	e := testEngine(t, nil, now)

	visit, err := e.NextHomeVisit(context.Background(), "")
	if err != nil {
		t.Fatalf("NextHomeVisit: %v", err)
	}
	if visit.Weekday != time.Monday {
		t.Fatalf("empty locality should use Monday cycle, got %s", visit.DayNameFor())
	}
}

func TestLoadRulesFromFile(t *testing.T) {
	rules, err := LoadRules("../../configs/scheduling.json")
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if rules.HomeVisitCapacity != 12 {
		t.Errorf("expected capacity 12, got %d", rules.HomeVisitCapacity)
	}
	if !rules.IsHoliday(time.Date(2026, 7, 9, 0, 0, 0, 0, time.UTC)) {
		t.Error("expected 2026-07-09 to be a holiday")
	}
}
