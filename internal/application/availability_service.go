package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
)

// AvailabilityService manages a coach's weekly availability rule groups and
// answers whether an interval falls inside them.
type AvailabilityService struct {
	rules       persistence.AvailabilityRepository
	idGenerator func() string
	now         func() time.Time
	location    *time.Location
	logger      *slog.Logger
}

// NewAvailabilityService wires the rule store. location is the reference zone
// used when a rule's timezone label cannot be loaded.
func NewAvailabilityService(rules persistence.AvailabilityRepository, idGenerator func() string, now func() time.Time, location *time.Location) *AvailabilityService {
	return NewAvailabilityServiceWithLogger(rules, idGenerator, now, location, nil)
}

// NewAvailabilityServiceWithLogger wires the rule store with a specified logger.
func NewAvailabilityServiceWithLogger(rules persistence.AvailabilityRepository, idGenerator func() string, now func() time.Time, location *time.Location, logger *slog.Logger) *AvailabilityService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if location == nil {
		location = time.UTC
	}
	return &AvailabilityService{
		rules:       rules,
		idGenerator: idGenerator,
		now:         now,
		location:    location,
		logger:      defaultLogger(logger),
	}
}

func (s *AvailabilityService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AvailabilityService", operation, attrs...)
}

// SetRuleGroup creates a rule group, or replaces params.Previous with it. The
// group is expanded into one row per weekday and written by delete+reinsert.
func (s *AvailabilityService) SetRuleGroup(ctx context.Context, params SetRuleGroupParams) (group RuleGroup, err error) {
	if s == nil {
		err = fmt.Errorf("AvailabilityService is nil")
		return
	}
	if s.rules == nil {
		err = fmt.Errorf("availability repository not configured")
		return
	}

	logger := s.loggerWith(ctx, "SetRuleGroup", "coach_id", params.CoachID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "availability update failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "availability updated", "group", FormatRuleGroupKey(group.Key), "weekdays", len(group.Weekdays))
	}()

	if !canManageCoach(params.Principal, params.CoachID) {
		err = ErrUnauthorized
		return
	}

	if params.Scope == "" {
		params.Scope = persistence.ScopeAlways
	}
	if strings.TrimSpace(params.Timezone) == "" {
		params.Timezone = s.location.String()
	}

	if vErr := validateRuleGroup(params); vErr.HasErrors() {
		err = vErr
		return
	}

	weekdays := uniqueWeekdays(params.Weekdays)
	createdAt := s.now()
	rules := make([]persistence.AvailabilityRule, 0, len(weekdays))
	for _, day := range weekdays {
		rule := persistence.AvailabilityRule{
			ID:          s.idGenerator(),
			CoachID:     params.CoachID,
			Weekday:     day,
			StartMinute: params.StartMinute,
			EndMinute:   params.EndMinute,
			Scope:       params.Scope,
			Timezone:    params.Timezone,
			CreatedAt:   createdAt,
		}
		if params.Scope == persistence.ScopeMonth {
			rule.Year = params.Year
			rule.Month = params.Month
		}
		rules = append(rules, rule)
	}

	if err = s.rules.ReplaceAvailabilityGroup(ctx, params.CoachID, params.Previous, rules); err != nil {
		err = mapRepoError("replace availability group", err)
		return
	}

	group = RuleGroup{Key: rules[0].GroupKey(), Weekdays: weekdays, Timezone: params.Timezone}
	return
}

// DeleteRuleGroup removes every weekday row of a group.
func (s *AvailabilityService) DeleteRuleGroup(ctx context.Context, principal Principal, coachID string, key persistence.RuleGroupKey) error {
	if s == nil || s.rules == nil {
		return fmt.Errorf("availability repository not configured")
	}
	if !canManageCoach(principal, coachID) {
		return ErrUnauthorized
	}

	removed, err := s.rules.DeleteAvailabilityGroup(ctx, coachID, key)
	if err != nil {
		return mapRepoError("delete availability group", err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	s.loggerWith(ctx, "DeleteRuleGroup", "coach_id", coachID).
		InfoContext(ctx, "availability group deleted", "group", FormatRuleGroupKey(key), "rows", removed)
	return nil
}

// ListRuleGroups folds a coach's weekday rows back into groups.
func (s *AvailabilityService) ListRuleGroups(ctx context.Context, coachID string) ([]RuleGroup, error) {
	if s == nil || s.rules == nil {
		return nil, nil
	}
	rules, err := s.rules.ListAvailabilityRules(ctx, coachID)
	if err != nil {
		return nil, mapRepoError("list availability rules", err)
	}
	return groupRules(rules), nil
}

// outsideAvailability reports whether [start, end) misses every applicable rule
// window. Coaches without rules are never reported.
func (s *AvailabilityService) outsideAvailability(ctx context.Context, coachID string, start, end time.Time) (bool, error) {
	if s == nil || s.rules == nil {
		return false, nil
	}
	rules, err := s.rules.ListAvailabilityRules(ctx, coachID)
	if err != nil {
		return false, mapRepoError("list availability rules", err)
	}
	if len(rules) == 0 {
		return false, nil
	}

	byZone := make(map[string][]persistence.AvailabilityRule)
	for _, rule := range rules {
		byZone[rule.Timezone] = append(byZone[rule.Timezone], rule)
	}
	for zone, zoneRules := range byZone {
		loc := s.zoneLocation(zone)
		localStart := start.In(loc)
		localEnd := end.In(loc)
		for _, rule := range applicableRules(zoneRules, localStart.Year(), localStart.Month()) {
			if withinRule(rule, localStart, localEnd) {
				return false, nil
			}
		}
	}
	return true, nil
}

// applicableRules returns the rules in force for a month. Month scoped rules
// replace the always rules for their month.
func applicableRules(rules []persistence.AvailabilityRule, year int, month time.Month) []persistence.AvailabilityRule {
	var monthRules, alwaysRules []persistence.AvailabilityRule
	for _, rule := range rules {
		switch {
		case rule.Scope == persistence.ScopeMonth && rule.Year == year && rule.Month == month:
			monthRules = append(monthRules, rule)
		case rule.Scope == persistence.ScopeAlways:
			alwaysRules = append(alwaysRules, rule)
		}
	}
	if len(monthRules) > 0 {
		return monthRules
	}
	return alwaysRules
}

func (s *AvailabilityService) zoneLocation(zone string) *time.Location {
	if zone == "" {
		return s.location
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return s.location
	}
	return loc
}

func withinRule(rule persistence.AvailabilityRule, start, end time.Time) bool {
	if start.Weekday() != rule.Weekday {
		return false
	}
	startMinute := start.Hour()*60 + start.Minute()
	endMinute := end.Hour()*60 + end.Minute()
	sameDay := start.YearDay() == end.YearDay() && start.Year() == end.Year()
	if !sameDay {
		// Only an end at exactly the following midnight stays within the day.
		next := time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, start.Location())
		if !end.Equal(next) {
			return false
		}
		endMinute = 24 * 60
	}
	if end.Second() != 0 || end.Nanosecond() != 0 {
		endMinute++
	}
	return startMinute >= rule.StartMinute && endMinute <= rule.EndMinute
}

func validateRuleGroup(params SetRuleGroupParams) *ValidationError {
	vErr := &ValidationError{}
	if strings.TrimSpace(params.CoachID) == "" {
		vErr.add("coach_id", "coach is required")
	}
	if len(params.Weekdays) == 0 {
		vErr.add("weekdays", "at least one weekday is required")
	}
	for _, day := range params.Weekdays {
		if day < time.Sunday || day > time.Saturday {
			vErr.add("weekdays", "weekday must be between 0 and 6")
			break
		}
	}
	if params.StartMinute < 0 || params.StartMinute >= 24*60 {
		vErr.add("start", "must be within the day")
	}
	if params.EndMinute <= 0 || params.EndMinute > 24*60 {
		vErr.add("end", "must be within the day")
	}
	if params.StartMinute >= params.EndMinute {
		vErr.add("time", "start must be before end")
	}
	switch params.Scope {
	case persistence.ScopeAlways:
	case persistence.ScopeMonth:
		if params.Year < 1970 {
			vErr.add("year", "year is required for month scoped rules")
		}
		if params.Month < time.January || params.Month > time.December {
			vErr.add("month", "month must be between 1 and 12")
		}
	default:
		vErr.add("scope", "scope must be always or month")
	}
	if _, err := time.LoadLocation(params.Timezone); err != nil {
		vErr.add("timezone", "unknown timezone")
	}
	if params.Previous != nil && params.Previous.StartMinute >= params.Previous.EndMinute {
		vErr.add("previous", "previous group is invalid")
	}
	return vErr
}

func groupRules(rules []persistence.AvailabilityRule) []RuleGroup {
	index := make(map[persistence.RuleGroupKey]int)
	groups := make([]RuleGroup, 0)
	for _, rule := range rules {
		key := rule.GroupKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, RuleGroup{Key: key, Timezone: rule.Timezone})
		}
		groups[i].Weekdays = append(groups[i].Weekdays, rule.Weekday)
	}
	for i := range groups {
		groups[i].Weekdays = uniqueWeekdays(groups[i].Weekdays)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].Key, groups[j].Key
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		if a.Year != b.Year || a.Month != b.Month {
			return a.Year*12+int(a.Month) < b.Year*12+int(b.Month)
		}
		if a.StartMinute != b.StartMinute {
			return a.StartMinute < b.StartMinute
		}
		return a.EndMinute < b.EndMinute
	})
	return groups
}

func uniqueWeekdays(days []time.Weekday) []time.Weekday {
	seen := make(map[time.Weekday]struct{}, len(days))
	out := make([]time.Weekday, 0, len(days))
	for _, day := range days {
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FormatRuleGroupKey renders a key as "always-540-1020" or "month-2026-3-540-1020".
func FormatRuleGroupKey(key persistence.RuleGroupKey) string {
	if key.Scope == persistence.ScopeMonth {
		return fmt.Sprintf("month-%d-%d-%d-%d", key.Year, int(key.Month), key.StartMinute, key.EndMinute)
	}
	return fmt.Sprintf("%s-%d-%d", key.Scope, key.StartMinute, key.EndMinute)
}

// ParseRuleGroupKey is the inverse of FormatRuleGroupKey.
func ParseRuleGroupKey(value string) (persistence.RuleGroupKey, error) {
	parts := strings.Split(value, "-")
	numbers := func(fields []string) ([]int, error) {
		out := make([]int, len(fields))
		for i, field := range fields {
			n, err := strconv.Atoi(field)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}

	switch {
	case len(parts) == 3 && parts[0] == string(persistence.ScopeAlways):
		n, err := numbers(parts[1:])
		if err != nil {
			break
		}
		return persistence.RuleGroupKey{Scope: persistence.ScopeAlways, StartMinute: n[0], EndMinute: n[1]}, nil
	case len(parts) == 5 && parts[0] == string(persistence.ScopeMonth):
		n, err := numbers(parts[1:])
		if err != nil {
			break
		}
		return persistence.RuleGroupKey{
			Scope:       persistence.ScopeMonth,
			Year:        n[0],
			Month:       time.Month(n[1]),
			StartMinute: n[2],
			EndMinute:   n[3],
		}, nil
	}
	return persistence.RuleGroupKey{}, newValidationError("group", "malformed rule group key")
}

func canManageCoach(principal Principal, coachID string) bool {
	return principal.IsAdmin || (principal.UserID != "" && principal.UserID == coachID)
}
