package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Bridge between Rule and RFC 5545 RRULE text. The iteration engine stays in
// next.go; rrule-go is used only as the wire vocabulary so that encoded rules
// are canonical and decoded rules tolerate the full RRULE grammar.

var toRRuleDay = map[time.Weekday]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// rrule-go numbers weekdays from Monday.
var fromRRuleDay = [7]time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// RRuleString renders the rule as an RFC 5545 RRULE value anchored at the
// series start. Shapes outside the RRULE grammar return ErrUnsupportedShape.
func (r *Rule) RRuleString(start time.Time) (string, error) {
	opt, err := r.rruleOption(start)
	if err != nil {
		return "", err
	}
	if _, err := rrule.NewRRule(*opt); err != nil {
		return "", fmt.Errorf("build rrule: %w", err)
	}
	// RRuleString omits the DTSTART line; the property value is the bare rule.
	return opt.RRuleString(), nil
}

func (r *Rule) rruleOption(start time.Time) (*rrule.ROption, error) {
	opt := &rrule.ROption{Interval: r.Interval, Dtstart: start}

	nth := (start.Day()-1)/7 + 1
	weekday := toRRuleDay[start.Weekday()]

	switch r.Type {
	case TypeDaily:
		opt.Freq = rrule.DAILY
	case TypeWeekly:
		opt.Freq = rrule.WEEKLY
		for _, d := range r.Days.Days() {
			opt.Byweekday = append(opt.Byweekday, toRRuleDay[d])
		}
	case TypeMonthlyDate:
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = []int{start.Day()}
	case TypeMonthlyWeekday:
		opt.Freq = rrule.MONTHLY
		opt.Byweekday = []rrule.Weekday{weekday.Nth(nth)}
	case TypeMonthlyLastWeekday:
		opt.Freq = rrule.MONTHLY
		opt.Byweekday = []rrule.Weekday{weekday.Nth(-1)}
	case TypeYearlyDate:
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{int(start.Month())}
		opt.Bymonthday = []int{start.Day()}
	case TypeYearlyDay:
		opt.Freq = rrule.YEARLY
		opt.Byyearday = []int{start.YearDay()}
	case TypeYearlyWeekday:
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{int(start.Month())}
		opt.Byweekday = []rrule.Weekday{weekday.Nth(nth)}
	default:
		return nil, ErrUnsupportedShape
	}

	if r.Count > 0 {
		opt.Count = r.Count
	}
	if r.Until != nil {
		d := DateOf(*r.Until)
		opt.Until = time.Date(d.Year, d.Month, d.Day, 23, 59, 59, 0, time.UTC)
	}
	return opt, nil
}

// ParseRRule builds a Rule from an RFC 5545 RRULE value. Combinations that
// have no scheme in the internal model return ErrUnsupportedShape.
func ParseRRule(value string, start time.Time) (*Rule, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "RRULE:")
	opt, err := rrule.StrToROption(value)
	if err != nil {
		return nil, fmt.Errorf("parse rrule %q: %w", value, err)
	}

	r := NewRule(TypeNone)
	if opt.Interval > 0 {
		r.Interval = opt.Interval
	}
	if opt.Count > 0 {
		r.Count = opt.Count
	}
	if !opt.Until.IsZero() {
		d := DateOf(opt.Until)
		u := d.At(0, 0, 0, start.Location())
		r.Until = &u
	}

	switch opt.Freq {
	case rrule.DAILY:
		r.Type = TypeDaily

	case rrule.WEEKLY:
		r.Type = TypeWeekly
		for _, wd := range opt.Byweekday {
			r.Days |= MaskOf(fromRRuleDay[wd.Day()])
		}

	case rrule.MONTHLY:
		switch {
		case len(opt.Byweekday) == 1:
			n := opt.Byweekday[0].N()
			if n == 0 && len(opt.Bysetpos) == 1 {
				n = opt.Bysetpos[0]
			}
			switch {
			case n == -1:
				r.Type = TypeMonthlyLastWeekday
			case n >= 1:
				r.Type = TypeMonthlyWeekday
			default:
				return nil, ErrUnsupportedShape
			}
		case len(opt.Byweekday) == 0:
			r.Type = TypeMonthlyDate
		default:
			return nil, ErrUnsupportedShape
		}

	case rrule.YEARLY:
		switch {
		case len(opt.Byyearday) == 1:
			r.Type = TypeYearlyDay
		case len(opt.Byweekday) == 1:
			r.Type = TypeYearlyWeekday
		case len(opt.Byweekday) == 0:
			r.Type = TypeYearlyDate
		default:
			return nil, ErrUnsupportedShape
		}

	default:
		return nil, ErrUnsupportedShape
	}

	return r, nil
}
