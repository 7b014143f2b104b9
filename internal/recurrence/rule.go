package recurrence

import (
	"errors"
	"time"
)

// Type selects the recurrence scheme. The monthly and yearly sub-schemes are
// mutually exclusive variants chosen at construction time, not re-derived per
// occurrence.
type Type int

const (
	TypeNone Type = iota
	TypeDaily
	TypeWeekly
	TypeMonthlyDate        // same day-of-month as the series start
	TypeMonthlyWeekday     // nth weekday of the month (nth taken from start)
	TypeMonthlyLastWeekday // last such weekday of the month
	TypeYearlyDate         // same month and day each year
	TypeYearlyDay          // same day-of-year each year
	TypeYearlyWeekday      // nth weekday of the start's month each year
)

var typeNames = map[Type]string{
	TypeNone:               "none",
	TypeDaily:              "daily",
	TypeWeekly:             "weekly",
	TypeMonthlyDate:        "monthly-date",
	TypeMonthlyWeekday:     "monthly-weekday",
	TypeMonthlyLastWeekday: "monthly-last-weekday",
	TypeYearlyDate:         "yearly-date",
	TypeYearlyDay:          "yearly-day",
	TypeYearlyWeekday:      "yearly-weekday",
}

func (t Type) String() string { return typeNames[t] }

// ErrUnsupportedShape is returned when a rule cannot be expressed in the
// requested wire dialect.
var ErrUnsupportedShape = errors.New("recurrence rule shape not supported by target format")

// DayMask is a bitmask of weekdays, bit 0 = Sunday.
type DayMask int

// MaskOf builds a mask from the given weekdays.
func MaskOf(days ...time.Weekday) DayMask {
	var m DayMask
	for _, d := range days {
		m |= 1 << uint(d)
	}
	return m
}

// Has reports whether the weekday is set.
func (m DayMask) Has(d time.Weekday) bool { return m&(1<<uint(d)) != 0 }

// Days lists the set weekdays Sunday through Saturday.
func (m DayMask) Days() []time.Weekday {
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if m.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Rule describes how an event recurs and which dates are excepted from or
// completed in the series.
type Rule struct {
	Type     Type
	Interval int
	// Days applies to weekly rules only. Empty defaults to the weekday of
	// the series start.
	Days DayMask

	// Termination: at most one of Count or Until. Count is the number of
	// occurrences; Until is the inclusive last possible date. Neither set
	// means open-ended.
	Count int
	Until *time.Time

	// Exceptions holds dates whose normal occurrence is suppressed or
	// replaced by a bound exception event.
	Exceptions DateSet
	// Completions holds dates marked done, orthogonal to exceptions.
	Completions DateSet
}

// NewRule constructs a rule of the given type with interval 1 and empty sets.
func NewRule(t Type) *Rule {
	return &Rule{
		Type:        t,
		Interval:    1,
		Exceptions:  make(DateSet),
		Completions: make(DateSet),
	}
}

// Active reports whether the rule describes actual recurrence.
func (r *Rule) Active() bool { return r != nil && r.Type != TypeNone }

// AddException suppresses the occurrence on the given date. Adding a date
// already present is a no-op; the set never holds duplicates.
func (r *Rule) AddException(year int, month time.Month, day int) {
	if r.Exceptions == nil {
		r.Exceptions = make(DateSet)
	}
	r.Exceptions.Add(Date{Year: year, Month: month, Day: day})
}

// HasException reports whether the date is excepted.
func (r *Rule) HasException(year int, month time.Month, day int) bool {
	return r.Exceptions.Has(Date{Year: year, Month: month, Day: day})
}

// DeleteException restores the occurrence on the given date.
func (r *Rule) DeleteException(year int, month time.Month, day int) bool {
	return r.Exceptions.Delete(Date{Year: year, Month: month, Day: day})
}

// AddCompletion marks the occurrence on the given date done.
func (r *Rule) AddCompletion(year int, month time.Month, day int) {
	if r.Completions == nil {
		r.Completions = make(DateSet)
	}
	r.Completions.Add(Date{Year: year, Month: month, Day: day})
}

// HasCompletion reports whether the date is marked done.
func (r *Rule) HasCompletion(year int, month time.Month, day int) bool {
	return r.Completions.Has(Date{Year: year, Month: month, Day: day})
}

// DeleteCompletion clears the done mark for the given date.
func (r *Rule) DeleteCompletion(year int, month time.Month, day int) bool {
	return r.Completions.Delete(Date{Year: year, Month: month, Day: day})
}

// Equal reports whether two rules describe the same series shape. Exception
// and completion dates are ignored: a peer re-sending an unchanged rule must
// not look like a series change, or its exceptions would be wiped.
func (r *Rule) Equal(o *Rule) bool {
	if r == nil || o == nil {
		return r.Active() == o.Active()
	}
	if r.Type != o.Type || r.Interval != o.Interval || r.Days != o.Days || r.Count != o.Count {
		return false
	}
	if (r.Until == nil) != (o.Until == nil) {
		return false
	}
	if r.Until != nil && !sameDay(*r.Until, *o.Until) {
		return false
	}
	return true
}

// Clone returns a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	out := *r
	if r.Until != nil {
		u := *r.Until
		out.Until = &u
	}
	out.Exceptions = r.Exceptions.Clone()
	out.Completions = r.Completions.Clone()
	return &out
}

func sameDay(a, b time.Time) bool {
	return DateOf(a) == DateOf(b)
}
