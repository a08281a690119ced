package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
	"github.com/example/coaching-scheduler/internal/testfixtures"
)

func newTestAvailability(t *testing.T) *AvailabilityService {
	t.Helper()
	harness := testfixtures.NewMemoryHarness(t)
	return NewAvailabilityService(harness.Store, harness.IDs.NextFunc(), harness.Clock.NowFunc(), time.UTC)
}

func weekdayRules(days []time.Weekday, startMinute, endMinute int) SetRuleGroupParams {
	return SetRuleGroupParams{
		Principal:   coach(),
		CoachID:     "coach-1",
		Weekdays:    days,
		StartMinute: startMinute,
		EndMinute:   endMinute,
	}
}

func TestAvailabilityService_SetAndListRuleGroups(t *testing.T) {
	t.Parallel()

	service := newTestAvailability(t)
	ctx := context.Background()

	group, err := service.SetRuleGroup(ctx, weekdayRules([]time.Weekday{time.Wednesday, time.Monday, time.Monday}, 540, 1020))
	if err != nil {
		t.Fatalf("SetRuleGroup returned error: %v", err)
	}
	if len(group.Weekdays) != 2 || group.Weekdays[0] != time.Monday || group.Weekdays[1] != time.Wednesday {
		t.Fatalf("expected deduplicated sorted weekdays, got %v", group.Weekdays)
	}
	if group.Timezone != "UTC" || group.Key.Scope != persistence.ScopeAlways {
		t.Fatalf("expected always scoped UTC group, got %+v", group)
	}

	evening := weekdayRules([]time.Weekday{time.Friday}, 1080, 1200)
	if _, err := service.SetRuleGroup(ctx, evening); err != nil {
		t.Fatalf("SetRuleGroup returned error: %v", err)
	}

	groups, err := service.ListRuleGroups(ctx, "coach-1")
	if err != nil || len(groups) != 2 {
		t.Fatalf("expected two groups, got %+v (%v)", groups, err)
	}
	if groups[0].Key.StartMinute != 540 || groups[1].Key.StartMinute != 1080 {
		t.Fatalf("expected groups ordered by window, got %+v", groups)
	}

	replacement := weekdayRules([]time.Weekday{time.Tuesday}, 600, 960)
	previous := group.Key
	replacement.Previous = &previous
	if _, err := service.SetRuleGroup(ctx, replacement); err != nil {
		t.Fatalf("SetRuleGroup returned error: %v", err)
	}
	groups, err = service.ListRuleGroups(ctx, "coach-1")
	if err != nil || len(groups) != 2 {
		t.Fatalf("expected the replaced group to be gone, got %+v (%v)", groups, err)
	}
	if groups[0].Key.StartMinute != 600 || groups[0].Weekdays[0] != time.Tuesday {
		t.Fatalf("expected the replacement group first, got %+v", groups[0])
	}
}

func TestAvailabilityService_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*SetRuleGroupParams)
		field  string
	}{
		{name: "no weekdays", mutate: func(p *SetRuleGroupParams) { p.Weekdays = nil }, field: "weekdays"},
		{name: "weekday out of range", mutate: func(p *SetRuleGroupParams) { p.Weekdays = []time.Weekday{7} }, field: "weekdays"},
		{name: "inverted window", mutate: func(p *SetRuleGroupParams) { p.StartMinute, p.EndMinute = 600, 540 }, field: "time"},
		{name: "past midnight", mutate: func(p *SetRuleGroupParams) { p.EndMinute = 24*60 + 1 }, field: "end"},
		{name: "month without year", mutate: func(p *SetRuleGroupParams) { p.Scope, p.Month = persistence.ScopeMonth, time.March }, field: "year"},
		{name: "unknown scope", mutate: func(p *SetRuleGroupParams) { p.Scope = "weekly" }, field: "scope"},
		{name: "unknown timezone", mutate: func(p *SetRuleGroupParams) { p.Timezone = "Mars/Olympus" }, field: "timezone"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			params := weekdayRules([]time.Weekday{time.Monday}, 540, 1020)
			tc.mutate(&params)
			_, err := newTestAvailability(t).SetRuleGroup(context.Background(), params)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, ok := vErr.FieldErrors[tc.field]; !ok {
				t.Fatalf("expected %s error, got %v", tc.field, vErr.FieldErrors)
			}
		})
	}
}

func TestAvailabilityService_DeleteRuleGroup(t *testing.T) {
	t.Parallel()

	service := newTestAvailability(t)
	ctx := context.Background()
	group, err := service.SetRuleGroup(ctx, weekdayRules([]time.Weekday{time.Monday, time.Thursday}, 540, 1020))
	if err != nil {
		t.Fatalf("SetRuleGroup returned error: %v", err)
	}

	if err := service.DeleteRuleGroup(ctx, as("coach-2"), "coach-1", group.Key); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected other coaches to be refused, got %v", err)
	}
	if err := service.DeleteRuleGroup(ctx, coach(), "coach-1", group.Key); err != nil {
		t.Fatalf("DeleteRuleGroup returned error: %v", err)
	}
	if err := service.DeleteRuleGroup(ctx, coach(), "coach-1", group.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to be not found, got %v", err)
	}
	groups, _ := service.ListRuleGroups(ctx, "coach-1")
	if len(groups) != 0 {
		t.Fatalf("expected no groups left, got %+v", groups)
	}
}

func TestAvailabilityService_OutsideAvailability(t *testing.T) {
	t.Parallel()

	service := newTestAvailability(t)
	ctx := context.Background()

	outside, err := service.outsideAvailability(ctx, "coach-1", tomorrowAt(3, 0), tomorrowAt(4, 0))
	if err != nil || outside {
		t.Fatalf("expected coaches without rules never to be outside, got %v (%v)", outside, err)
	}

	if _, err := service.SetRuleGroup(ctx, weekdayRules([]time.Weekday{time.Tuesday}, 540, 1020)); err != nil {
		t.Fatalf("SetRuleGroup returned error: %v", err)
	}
	april := weekdayRules([]time.Weekday{time.Tuesday}, 720, 840)
	april.Scope, april.Year, april.Month = persistence.ScopeMonth, 2026, time.April
	if _, err := service.SetRuleGroup(ctx, april); err != nil {
		t.Fatalf("SetRuleGroup returned error: %v", err)
	}

	cases := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{name: "inside window", start: tomorrowAt(9, 0), end: tomorrowAt(17, 0), want: false},
		{name: "overruns window", start: tomorrowAt(16, 30), end: tomorrowAt(17, 30), want: true},
		{name: "before window", start: tomorrowAt(8, 30), end: tomorrowAt(9, 30), want: true},
		{name: "other weekday", start: tomorrowAt(10, 0).AddDate(0, 0, 1), end: tomorrowAt(11, 0).AddDate(0, 0, 1), want: true},
		{name: "month rule replaces always rule", start: time.Date(2026, time.April, 7, 10, 0, 0, 0, time.UTC), end: time.Date(2026, time.April, 7, 11, 0, 0, 0, time.UTC), want: true},
		{name: "inside month rule", start: time.Date(2026, time.April, 7, 12, 0, 0, 0, time.UTC), end: time.Date(2026, time.April, 7, 14, 0, 0, 0, time.UTC), want: false},
	}
	for _, tc := range cases {
		got, err := service.outsideAvailability(ctx, "coach-1", tc.start, tc.end)
		if err != nil {
			t.Fatalf("%s: outsideAvailability returned error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: outsideAvailability = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestAvailabilityService_RuleTimezone(t *testing.T) {
	t.Parallel()

	if _, err := time.LoadLocation("Europe/Berlin"); err != nil {
		t.Skip("timezone database unavailable")
	}

	service := newTestAvailability(t)
	ctx := context.Background()
	params := weekdayRules([]time.Weekday{time.Tuesday}, 540, 1020)
	params.Timezone = "Europe/Berlin"
	if _, err := service.SetRuleGroup(ctx, params); err != nil {
		t.Fatalf("SetRuleGroup returned error: %v", err)
	}

	// 08:30 UTC is 09:30 in Berlin during winter time.
	outside, err := service.outsideAvailability(ctx, "coach-1", tomorrowAt(8, 30), tomorrowAt(9, 30))
	if err != nil || outside {
		t.Fatalf("expected the rule to apply in its own zone, got %v (%v)", outside, err)
	}
	outside, err = service.outsideAvailability(ctx, "coach-1", tomorrowAt(16, 0), tomorrowAt(17, 0))
	if err != nil || !outside {
		t.Fatalf("expected 17:00 Berlin to be past the window, got %v (%v)", outside, err)
	}
}

func TestWithinRule_EndOfDay(t *testing.T) {
	t.Parallel()

	rule := persistence.AvailabilityRule{Weekday: time.Tuesday, StartMinute: 1200, EndMinute: 24 * 60}
	if !withinRule(rule, tomorrowAt(23, 0), tomorrowAt(0, 0).AddDate(0, 0, 1)) {
		t.Fatalf("expected an end at the following midnight to fit")
	}
	if withinRule(rule, tomorrowAt(23, 0), tomorrowAt(0, 30).AddDate(0, 0, 1)) {
		t.Fatalf("expected intervals crossing midnight not to fit")
	}
	if withinRule(rule, tomorrowAt(19, 30), tomorrowAt(20, 30)) {
		t.Fatalf("expected a window starting before the rule not to fit")
	}
}

func TestRuleGroupKeyRoundTrip(t *testing.T) {
	t.Parallel()

	keys := []persistence.RuleGroupKey{
		{Scope: persistence.ScopeAlways, StartMinute: 540, EndMinute: 1020},
		{Scope: persistence.ScopeMonth, Year: 2026, Month: time.March, StartMinute: 0, EndMinute: 60},
	}
	for _, key := range keys {
		formatted := FormatRuleGroupKey(key)
		parsed, err := ParseRuleGroupKey(formatted)
		if err != nil || parsed != key {
			t.Fatalf("ParseRuleGroupKey(%q) = %+v, %v; want %+v", formatted, parsed, err, key)
		}
	}

	for _, malformed := range []string{"", "always-540", "month-2026-3-x-60", "weekly-1-2"} {
		_, err := ParseRuleGroupKey(malformed)
		assertKind(t, err, "validation")
	}
}
