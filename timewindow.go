package authcore

import (
	"slices"
	"sync"
	"time"
)

// TimeCondition restricts a permission to a window of wall-clock time.
// Every populated field must pass. Start and End are both inclusive.
type TimeCondition struct {
	Start    time.Time `json:"start,omitempty" yaml:"start,omitempty"`
	End      time.Time `json:"end,omitempty" yaml:"end,omitempty"`
	Weekdays []int     `json:"weekdays,omitempty" yaml:"weekdays,omitempty"` // 0 = Sunday
	Hours    []int     `json:"hours,omitempty" yaml:"hours,omitempty"`       // 0-23
	Timezone string    `json:"timezone,omitempty" yaml:"timezone,omitempty"` // IANA name; empty = time's own zone
}

func (tc *TimeCondition) Clone() *TimeCondition {
	dup := *tc
	dup.Weekdays = slices.Clone(tc.Weekdays)
	dup.Hours = slices.Clone(tc.Hours)
	return &dup
}

// Validate checks ranges and that the timezone can be loaded.
func (tc *TimeCondition) Validate() error {
	if !tc.Start.IsZero() && !tc.End.IsZero() && tc.End.Before(tc.Start) {
		return ErrValidationFailed.WithMessage("time condition: end precedes start")
	}
	for _, d := range tc.Weekdays {
		if d < 0 || d > 6 {
			return ErrValidationFailed.WithMessagef("time condition: weekday %d out of range 0-6", d)
		}
	}
	for _, h := range tc.Hours {
		if h < 0 || h > 23 {
			return ErrValidationFailed.WithMessagef("time condition: hour %d out of range 0-23", h)
		}
	}
	if tc.Timezone != "" {
		if _, err := loadLocation(tc.Timezone); err != nil {
			return ErrValidationFailed.WithMessagef("time condition: unknown timezone %q", tc.Timezone)
		}
	}
	return nil
}

// Allows reports whether now falls inside the window. A timezone that
// cannot be loaded fails closed.
func (tc *TimeCondition) Allows(now time.Time) bool {
	if tc.Timezone != "" {
		loc, err := loadLocation(tc.Timezone)
		if err != nil {
			return false
		}
		now = now.In(loc)
	}
	if !tc.Start.IsZero() && now.Before(tc.Start) {
		return false
	}
	if !tc.End.IsZero() && now.After(tc.End) {
		return false
	}
	if len(tc.Weekdays) > 0 && !slices.Contains(tc.Weekdays, int(now.Weekday())) {
		return false
	}
	if len(tc.Hours) > 0 && !slices.Contains(tc.Hours, now.Hour()) {
		return false
	}
	return true
}

var locations sync.Map // map[string]*time.Location

func loadLocation(name string) (*time.Location, error) {
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	locations.Store(name, loc)
	return loc, nil
}
