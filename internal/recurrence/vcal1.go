package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// vCalendar 1.0 uses its own compact recurrence grammar ("D1 #0",
// "W1 MO WE #10", "MP1 2+ TU #0", ...) which no maintained library speaks,
// so the bridge is hand-rolled here alongside the RRULE one.

var vcal1DayAbbrev = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

var vcal1DayNames = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

// Vcal1String renders the rule in vCalendar 1.0 recurrence syntax.
// YearlyWeekday has no vCalendar 1.0 form and returns ErrUnsupportedShape.
func (r *Rule) Vcal1String(start time.Time) (string, error) {
	var parts []string

	switch r.Type {
	case TypeDaily:
		parts = append(parts, fmt.Sprintf("D%d", r.Interval))
	case TypeWeekly:
		parts = append(parts, fmt.Sprintf("W%d", r.Interval))
		mask := r.Days
		if mask == 0 {
			mask = MaskOf(start.Weekday())
		}
		for _, d := range mask.Days() {
			parts = append(parts, vcal1DayAbbrev[d])
		}
	case TypeMonthlyDate:
		parts = append(parts, fmt.Sprintf("MD%d", r.Interval), strconv.Itoa(start.Day()))
	case TypeMonthlyWeekday:
		nth := (start.Day()-1)/7 + 1
		parts = append(parts, fmt.Sprintf("MP%d", r.Interval),
			fmt.Sprintf("%d+", nth), vcal1DayAbbrev[start.Weekday()])
	case TypeMonthlyLastWeekday:
		parts = append(parts, fmt.Sprintf("MP%d", r.Interval),
			"1-", vcal1DayAbbrev[start.Weekday()])
	case TypeYearlyDate:
		parts = append(parts, fmt.Sprintf("YM%d", r.Interval), strconv.Itoa(int(start.Month())))
	case TypeYearlyDay:
		parts = append(parts, fmt.Sprintf("YD%d", r.Interval), strconv.Itoa(start.YearDay()))
	default:
		return "", ErrUnsupportedShape
	}

	switch {
	case r.Until != nil:
		parts = append(parts, r.Until.UTC().Format("20060102T150405Z"))
	case r.Count > 0:
		parts = append(parts, fmt.Sprintf("#%d", r.Count))
	default:
		// "#0" means the series never ends.
		parts = append(parts, "#0")
	}

	return strings.Join(parts, " "), nil
}

// ParseVcal1 builds a Rule from vCalendar 1.0 recurrence syntax.
func ParseVcal1(value string, start time.Time) (*Rule, error) {
	fields := strings.Fields(strings.TrimSpace(value))
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty vCalendar recurrence value")
	}

	head := fields[0]
	rest := fields[1:]

	prefix := ""
	for _, p := range []string{"MD", "MP", "YM", "YD", "D", "W"} {
		if strings.HasPrefix(head, p) {
			prefix = p
			break
		}
	}
	if prefix == "" {
		return nil, fmt.Errorf("unknown vCalendar recurrence %q", head)
	}

	interval, err := strconv.Atoi(head[len(prefix):])
	if err != nil || interval < 1 {
		return nil, fmt.Errorf("invalid interval in %q", head)
	}

	r := NewRule(TypeNone)
	r.Interval = interval

	// Peel the terminator off the tail: "#n" or an end date.
	if n := len(rest); n > 0 {
		tail := rest[n-1]
		if strings.HasPrefix(tail, "#") {
			count, err := strconv.Atoi(tail[1:])
			if err != nil {
				return nil, fmt.Errorf("invalid count %q", tail)
			}
			r.Count = count // #0 stays 0: open-ended
			rest = rest[:n-1]
		} else if t, err := parseVcal1Time(tail); err == nil {
			u := t
			r.Until = &u
			rest = rest[:n-1]
		}
	}

	switch prefix {
	case "D":
		r.Type = TypeDaily
	case "W":
		r.Type = TypeWeekly
		for _, f := range rest {
			wd, ok := vcal1DayNames[f]
			if !ok {
				return nil, fmt.Errorf("unknown weekday %q", f)
			}
			r.Days |= MaskOf(wd)
		}
	case "MD":
		r.Type = TypeMonthlyDate
	case "MP":
		r.Type = TypeMonthlyWeekday
		for _, f := range rest {
			if strings.HasSuffix(f, "-") {
				r.Type = TypeMonthlyLastWeekday
			}
		}
	case "YM":
		r.Type = TypeYearlyDate
	case "YD":
		r.Type = TypeYearlyDay
	}

	return r, nil
}

func parseVcal1Time(v string) (time.Time, error) {
	if t, err := time.Parse("20060102T150405Z", v); err == nil {
		return t, nil
	}
	return time.Parse("20060102", v)
}
