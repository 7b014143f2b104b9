package icalendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

const (
	layoutDate     = "20060102"
	layoutDateTime = "20060102T150405"
	layoutUTC      = "20060102T150405Z"
)

// setDate fills a property with a date-only value.
func setDate(p *ical.Prop, t time.Time) {
	p.Params.Set(ical.ParamValue, "DATE")
	p.Value = t.Format(layoutDate)
}

// setDateTime fills a property with a date-time value. A named zone is
// carried as a TZID parameter; UTC uses the Z suffix; floating times carry
// neither.
func setDateTime(p *ical.Prop, t time.Time, tzid string) {
	switch {
	case tzid != "":
		p.Params.Set(ical.PropTimezoneID, tzid)
		p.Value = t.Format(layoutDateTime)
	case t.Location() == time.UTC:
		p.Value = t.Format(layoutUTC)
	default:
		p.Value = t.Format(layoutDateTime)
	}
}

// parseTime reads a DATE or DATE-TIME property value, honoring the VALUE and
// TZID parameters. The returned bool reports whether the value was date-only.
func parseTime(p *ical.Prop) (time.Time, bool, error) {
	value := strings.TrimSpace(p.Value)
	if value == "" {
		return time.Time{}, false, fmt.Errorf("empty date value")
	}

	dateOnly := strings.EqualFold(p.Params.Get(ical.ParamValue), "DATE") ||
		!strings.Contains(value, "T")
	if dateOnly {
		t, err := time.ParseInLocation(layoutDate, value, time.Local)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse date %q: %w", value, err)
		}
		return t, true, nil
	}

	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse(layoutUTC, value)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse utc time %q: %w", value, err)
		}
		return t, false, nil
	}

	loc := time.Local
	if tzid := p.Params.Get(ical.PropTimezoneID); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(layoutDateTime, value, loc)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse time %q: %w", value, err)
	}
	return t, false, nil
}

// formatDuration renders minutes-before as an iCalendar duration trigger.
func formatDuration(minutes int) string {
	return fmt.Sprintf("-PT%dM", minutes)
}

// parseDuration reads a basic ISO 8601 duration ("[+-]P[nW][nD][T[nH][nM][nS]]").
func parseDuration(value string) (time.Duration, error) {
	s := strings.TrimSpace(strings.ToUpper(value))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if len(s) == 0 || s[0] != 'P' {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	s = s[1:]

	var d time.Duration
	inTime := false
	n := 0
	haveDigits := false
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			n = n*10 + int(c-'0')
			haveDigits = true
		case c == 'T':
			inTime = true
		case c == 'W':
			d += time.Duration(n) * 7 * 24 * time.Hour
			n, haveDigits = 0, false
		case c == 'D':
			d += time.Duration(n) * 24 * time.Hour
			n, haveDigits = 0, false
		case c == 'H':
			d += time.Duration(n) * time.Hour
			n, haveDigits = 0, false
		case c == 'M':
			if !inTime {
				return 0, fmt.Errorf("months not supported in duration %q", value)
			}
			d += time.Duration(n) * time.Minute
			n, haveDigits = 0, false
		case c == 'S':
			d += time.Duration(n) * time.Second
			n, haveDigits = 0, false
		default:
			return 0, fmt.Errorf("invalid duration %q", value)
		}
	}
	if haveDigits {
		return 0, fmt.Errorf("trailing number in duration %q", value)
	}
	if negative {
		d = -d
	}
	return d, nil
}

// timezoneComponent builds a minimal VTIMEZONE definition for the zone in
// effect at the given instant. Strict readers want a definition before any
// component that references the TZID.
func timezoneComponent(tzid string, at time.Time) *ical.Component {
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		loc = time.UTC
	}

	local := at.In(loc)
	abbrev := local.Format("MST")
	_, offset := local.Zone()

	tz := ical.NewComponent(ical.CompTimezone)
	tz.Props.SetText(ical.PropTimezoneID, tzid)

	standard := ical.NewComponent("STANDARD")
	standard.Props.SetText("DTSTART", "19700101T000000")
	standard.Props.SetText("TZOFFSETFROM", formatUTCOffset(offset))
	standard.Props.SetText("TZOFFSETTO", formatUTCOffset(offset))
	standard.Props.SetText("TZNAME", abbrev)
	tz.Children = append(tz.Children, standard)

	return tz
}

func formatUTCOffset(seconds int) string {
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("%s%02d%02d", sign, seconds/3600, (seconds%3600)/60)
}
