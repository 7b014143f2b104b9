package mobilesync

import (
	"fmt"
	"time"

	"github.com/dstephens/calwire/internal/recurrence"
)

// Peer recurrence type vocabulary.
const (
	recurDaily          = 0
	recurWeekly         = 1
	recurMonthlyDate    = 2
	recurMonthlyWeekday = 3
	recurYearlyDate     = 5
	recurYearlyWeekday  = 6
)

const lastWeekOfMonth = 5

// toSyncRecurrence renders a rule in the peer's recurrence shape. Rules
// keyed on a day-of-year have no peer equivalent.
func toSyncRecurrence(r *recurrence.Rule, start time.Time) (*Recurrence, error) {
	sr := &Recurrence{Interval: r.Interval}

	nth := (start.Day()-1)/7 + 1
	weekdayBit := 1 << int(start.Weekday())

	switch r.Type {
	case recurrence.TypeDaily:
		sr.Type = recurDaily
	case recurrence.TypeWeekly:
		sr.Type = recurWeekly
		sr.DayOfWeek = int(r.Days)
		if sr.DayOfWeek == 0 {
			sr.DayOfWeek = weekdayBit
		}
	case recurrence.TypeMonthlyDate:
		sr.Type = recurMonthlyDate
		sr.DayOfMonth = start.Day()
	case recurrence.TypeMonthlyWeekday:
		sr.Type = recurMonthlyWeekday
		sr.WeekOfMonth = nth
		sr.DayOfWeek = weekdayBit
	case recurrence.TypeMonthlyLastWeekday:
		sr.Type = recurMonthlyWeekday
		sr.WeekOfMonth = lastWeekOfMonth
		sr.DayOfWeek = weekdayBit
	case recurrence.TypeYearlyDate:
		sr.Type = recurYearlyDate
		sr.MonthOfYear = int(start.Month())
		sr.DayOfMonth = start.Day()
	case recurrence.TypeYearlyWeekday:
		sr.Type = recurYearlyWeekday
		sr.MonthOfYear = int(start.Month())
		sr.WeekOfMonth = nth
		sr.DayOfWeek = weekdayBit
	default:
		return nil, recurrence.ErrUnsupportedShape
	}

	if r.Count > 0 {
		sr.Occurrences = r.Count
	}
	if r.Until != nil {
		u := *r.Until
		sr.Until = &u
	}
	return sr, nil
}

// fromSyncRecurrence builds a rule from the peer's recurrence shape. The
// series start disambiguates shapes the peer keys on week-of-month, since
// the rule derives those from the start itself.
func fromSyncRecurrence(sr *Recurrence, start time.Time) (*recurrence.Rule, error) {
	var t recurrence.Type
	switch sr.Type {
	case recurDaily:
		t = recurrence.TypeDaily
	case recurWeekly:
		t = recurrence.TypeWeekly
	case recurMonthlyDate:
		t = recurrence.TypeMonthlyDate
	case recurMonthlyWeekday:
		if sr.WeekOfMonth == lastWeekOfMonth {
			t = recurrence.TypeMonthlyLastWeekday
		} else {
			t = recurrence.TypeMonthlyWeekday
		}
	case recurYearlyDate:
		t = recurrence.TypeYearlyDate
	case recurYearlyWeekday:
		t = recurrence.TypeYearlyWeekday
	default:
		return nil, fmt.Errorf("recurrence type %d: %w", sr.Type, recurrence.ErrUnsupportedShape)
	}

	r := recurrence.NewRule(t)
	if sr.Interval > 1 {
		r.Interval = sr.Interval
	}
	if t == recurrence.TypeWeekly && sr.DayOfWeek > 0 {
		r.Days = recurrence.DayMask(sr.DayOfWeek)
	}
	if sr.Occurrences > 0 {
		r.Count = sr.Occurrences
	}
	if sr.Until != nil {
		d := recurrence.DateOf(sr.Until.In(start.Location()))
		u := d.At(0, 0, 0, start.Location())
		r.Until = &u
	}
	return r, nil
}
