package recurrence

import "time"

// Safety limit to prevent runaway iteration on degenerate rules.
const maxIterations = 10000

// NextOccurrence returns the next occurrence start strictly after the given
// instant, or false if the series has ended. seriesStart anchors the
// time-of-day, location, and scheme parameters (day-of-month, weekday, nth).
// Dates in the exception set are skipped but still consume a COUNT slot: an
// exception replaces its occurrence, it does not shift the series.
func (r *Rule) NextOccurrence(seriesStart, after time.Time) (time.Time, bool) {
	if !r.Active() {
		return time.Time{}, false
	}

	it := newIterator(r, seriesStart)
	position := 0

	for i := 0; i < maxIterations; i++ {
		occ, ok := it.next()
		if !ok {
			return time.Time{}, false
		}

		position++
		if r.Count > 0 && position > r.Count {
			return time.Time{}, false
		}
		if r.Until != nil && DateOf(*r.Until).Before(DateOf(occ)) {
			return time.Time{}, false
		}

		if r.Exceptions.Has(DateOf(occ)) {
			continue
		}
		if occ.After(after) {
			return occ, true
		}
	}
	return time.Time{}, false
}

type iterator struct {
	rule    *Rule
	base    time.Time
	current time.Time
	started bool
	// weekly-by-day state
	week   time.Time
	dayIdx int
	days   []time.Weekday
}

func newIterator(r *Rule, start time.Time) *iterator {
	it := &iterator{rule: r, base: start, current: start}
	if r.Type == TypeWeekly {
		mask := r.Days
		if mask == 0 {
			mask = MaskOf(start.Weekday())
		}
		it.days = mask.Days()
		it.week = weekStart(start)
	}
	return it
}

func (it *iterator) interval() int {
	if it.rule.Interval < 1 {
		return 1
	}
	return it.rule.Interval
}

func (it *iterator) next() (time.Time, bool) {
	switch it.rule.Type {
	case TypeDaily:
		return it.nextDaily(), true
	case TypeWeekly:
		return it.nextWeekly()
	case TypeMonthlyDate:
		return it.nextMonthlyDate(), true
	case TypeMonthlyWeekday:
		return it.nextMonthlyWeekday(false), true
	case TypeMonthlyLastWeekday:
		return it.nextMonthlyWeekday(true), true
	case TypeYearlyDate:
		return it.nextYearlyDate(), true
	case TypeYearlyDay:
		return it.nextYearlyDay(), true
	case TypeYearlyWeekday:
		return it.nextYearlyWeekday(), true
	}
	return time.Time{}, false
}

func (it *iterator) nextDaily() time.Time {
	if !it.started {
		it.started = true
		return it.current
	}
	it.current = it.current.AddDate(0, 0, it.interval())
	return it.current
}

func (it *iterator) nextWeekly() (time.Time, bool) {
	for i := 0; i < maxIterations; i++ {
		if it.dayIdx >= len(it.days) {
			it.week = it.week.AddDate(0, 0, 7*it.interval())
			it.dayIdx = 0
		}
		day := it.days[it.dayIdx]
		it.dayIdx++

		candidate := it.atClock(it.week.AddDate(0, 0, int(day)))
		if !candidate.Before(it.base) {
			return candidate, true
		}
	}
	return time.Time{}, false
}

func (it *iterator) nextMonthlyDate() time.Time {
	if !it.started {
		it.started = true
		return it.current
	}
	day := it.base.Day()
	next := it.current
	for {
		next = time.Date(next.Year(), next.Month(), 1, 0, 0, 0, 0, next.Location()).AddDate(0, it.interval(), 0)
		if day <= daysInMonth(next.Year(), next.Month()) {
			break
		}
		// Months without this day are skipped entirely.
	}
	it.current = it.atClock(time.Date(next.Year(), next.Month(), day, 0, 0, 0, 0, next.Location()))
	return it.current
}

func (it *iterator) nextMonthlyWeekday(last bool) time.Time {
	if !it.started {
		it.started = true
		return it.current
	}
	weekday := it.base.Weekday()
	nth := (it.base.Day()-1)/7 + 1

	next := it.current
	for {
		next = time.Date(next.Year(), next.Month(), 1, 0, 0, 0, 0, next.Location()).AddDate(0, it.interval(), 0)
		var day int
		if last {
			day = lastWeekdayOfMonth(next.Year(), next.Month(), weekday)
		} else {
			day = nthWeekdayOfMonth(next.Year(), next.Month(), weekday, nth)
		}
		if day > 0 {
			it.current = it.atClock(time.Date(next.Year(), next.Month(), day, 0, 0, 0, 0, next.Location()))
			return it.current
		}
		// No nth weekday in this month (nth = 5); skip it.
	}
}

func (it *iterator) nextYearlyDate() time.Time {
	if !it.started {
		it.started = true
		return it.current
	}
	month, day := it.base.Month(), it.base.Day()
	year := it.current.Year()
	for {
		year += it.interval()
		if day <= daysInMonth(year, month) {
			break
		}
		// Feb 29 only lands on leap years.
	}
	it.current = it.atClock(time.Date(year, month, day, 0, 0, 0, 0, it.base.Location()))
	return it.current
}

func (it *iterator) nextYearlyDay() time.Time {
	if !it.started {
		it.started = true
		return it.current
	}
	yearDay := it.base.YearDay()
	year := it.current.Year()
	for {
		year += it.interval()
		if yearDay <= daysInYear(year) {
			break
		}
	}
	jan1 := time.Date(year, time.January, 1, 0, 0, 0, 0, it.base.Location())
	it.current = it.atClock(jan1.AddDate(0, 0, yearDay-1))
	return it.current
}

func (it *iterator) nextYearlyWeekday() time.Time {
	if !it.started {
		it.started = true
		return it.current
	}
	weekday := it.base.Weekday()
	nth := (it.base.Day()-1)/7 + 1
	month := it.base.Month()

	year := it.current.Year()
	for {
		year += it.interval()
		day := nthWeekdayOfMonth(year, month, weekday, nth)
		if day > 0 {
			it.current = it.atClock(time.Date(year, month, day, 0, 0, 0, 0, it.base.Location()))
			return it.current
		}
	}
}

// atClock stamps the series start's time-of-day onto the candidate date.
func (it *iterator) atClock(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(),
		it.base.Hour(), it.base.Minute(), it.base.Second(), 0, it.base.Location())
}

// weekStart returns midnight of the Sunday beginning t's week.
func weekStart(t time.Time) time.Time {
	sunday := t.AddDate(0, 0, -int(t.Weekday()))
	return time.Date(sunday.Year(), sunday.Month(), sunday.Day(), 0, 0, 0, 0, t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func daysInYear(year int) int {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay()
}

// nthWeekdayOfMonth returns the day-of-month of the nth given weekday, or 0
// if the month has no nth occurrence.
func nthWeekdayOfMonth(year int, month time.Month, weekday time.Weekday, nth int) int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	day := 1 + offset + (nth-1)*7
	if day > daysInMonth(year, month) {
		return 0
	}
	return day
}

// lastWeekdayOfMonth returns the day-of-month of the last given weekday.
func lastWeekdayOfMonth(year int, month time.Month, weekday time.Weekday) int {
	lastDay := daysInMonth(year, month)
	last := time.Date(year, month, lastDay, 0, 0, 0, 0, time.UTC)
	offset := (int(last.Weekday()) - int(weekday) + 7) % 7
	return lastDay - offset
}
