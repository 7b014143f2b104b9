package icalendar

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/dstephens/calwire/internal/model"
	"github.com/dstephens/calwire/internal/recurrence"
)

// Encode renders the event as one or more components. For a recurring master
// with exceptions, the bound exception events follow as sibling components
// carrying the master's UID and a RECURRENCE-ID; exception dates with no
// replacement become EXDATE properties on the master. In the 2.0 dialect a
// VTIMEZONE definition precedes any component referencing a named zone.
func (c *Codec) Encode(ctx context.Context, ev *model.Event, dialect Dialect, env model.Env) ([]*ical.Component, error) {
	var comps []*ical.Component

	if dialect == DialectV2 && ev.Timezone != "" {
		comps = append(comps, timezoneComponent(ev.Timezone, ev.Start))
	}

	master, err := c.encodeEvent(ctx, ev, dialect, env)
	if err != nil {
		return nil, err
	}
	comps = append(comps, master)

	if ev.Recurs() && c.Reconciler != nil {
		bound, deletions, err := c.Reconciler.MaterializeExceptionList(ev)
		if err != nil {
			return nil, fmt.Errorf("materialize exceptions: %w", err)
		}
		for _, d := range deletions {
			master.Props.Add(exDateProp(d, ev, dialect))
		}
		for _, b := range bound {
			comp, err := c.encodeEvent(ctx, b, dialect, env)
			if err != nil {
				return nil, fmt.Errorf("encode exception %s: %w", b.UID, err)
			}
			// An override shares the series UID and points at the instance
			// it replaces.
			comp.Props.SetText(ical.PropUID, ev.UID)
			comp.Props.Add(recurrenceIDProp(b.ExceptionDate, ev, dialect))
			comps = append(comps, comp)
		}
	}

	return comps, nil
}

// EncodeCalendar wraps the encoded components of all events in a calendar
// envelope ready for serialization.
func (c *Codec) EncodeCalendar(ctx context.Context, events []*model.Event, dialect Dialect, env model.Env) (*ical.Calendar, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, dialect.Version())
	cal.Props.SetText(ical.PropProductID, prodID)

	seenTZ := make(map[string]bool)
	for _, ev := range events {
		comps, err := c.Encode(ctx, ev, dialect, env)
		if err != nil {
			return nil, err
		}
		for _, comp := range comps {
			if comp.Name == ical.CompTimezone {
				tzid := ""
				if p := comp.Props.Get(ical.PropTimezoneID); p != nil {
					tzid = p.Value
				}
				if seenTZ[tzid] {
					continue
				}
				seenTZ[tzid] = true
			}
			cal.Children = append(cal.Children, comp)
		}
	}
	return cal, nil
}

// Export serializes events to calendar text on w.
func (c *Codec) Export(ctx context.Context, w io.Writer, events []*model.Event, dialect Dialect, env model.Env) error {
	cal, err := c.EncodeCalendar(ctx, events, dialect, env)
	if err != nil {
		return err
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("write calendar: %w", err)
	}
	return nil
}

func (c *Codec) encodeEvent(ctx context.Context, ev *model.Event, dialect Dialect, env model.Env) (*ical.Component, error) {
	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, ev.UID)

	stamp := ical.NewProp(ical.PropDateTimeStamp)
	stamp.Value = env.Now.UTC().Format(layoutUTC)
	comp.Props.Add(stamp)

	// Content rendering is suppressed until an import operation has run.
	if ev.Initialized {
		if ev.Title != "" {
			comp.Props.SetText(ical.PropSummary, ev.Title)
		}
		if ev.Description != "" {
			comp.Props.SetText(ical.PropDescription, ev.Description)
		}
	}
	if ev.Location != "" {
		comp.Props.SetText(ical.PropLocation, ev.Location)
	}
	if ev.URL != "" {
		comp.Props.SetText(ical.PropURL, ev.URL)
	}
	if ev.Private {
		comp.Props.SetText(ical.PropClass, "PRIVATE")
	}
	if ev.Sequence > 0 {
		seq := ical.NewProp(ical.PropSequence)
		seq.Value = strconv.Itoa(ev.Sequence)
		comp.Props.Add(seq)
	}
	if ev.Geo != nil {
		geo := ical.NewProp(ical.PropGeo)
		geo.Value = fmt.Sprintf("%g;%g", ev.Geo.Latitude, ev.Geo.Longitude)
		comp.Props.Add(geo)
	}
	if status, transp := statusValues(ev.Status, dialect); status != "" {
		comp.Props.SetText(ical.PropStatus, status)
		comp.Props.SetText(propTransp, transp)
	}

	c.encodeTimes(comp, ev, dialect)
	c.encodeAttendees(comp, ev, dialect)
	c.encodeResources(comp, ev)
	c.encodeRecurrence(comp, ev, dialect)
	c.encodeAlarm(comp, ev, dialect)
	if err := c.encodeAttachments(ctx, comp, ev); err != nil {
		return nil, err
	}

	if ev.OrganizerEmail != "" {
		org := ical.NewProp(ical.PropOrganizer)
		org.Value = "mailto:" + ev.OrganizerEmail
		comp.Props.Add(org)
	}

	// Unmodeled properties round-trip verbatim.
	for _, attr := range ev.Other {
		p := ical.NewProp(attr.Name)
		p.Value = attr.Value
		for name, values := range attr.Params {
			for _, v := range values {
				p.Params.Add(name, v)
			}
		}
		comp.Props.Add(p)
	}

	return comp, nil
}

func (c *Codec) encodeTimes(comp *ical.Component, ev *model.Event, dialect Dialect) {
	start := ical.NewProp(ical.PropDateTimeStart)
	end := ical.NewProp(ical.PropDateTimeEnd)

	if ev.AllDay {
		setDate(start, ev.Start)
		setDate(end, allDayEnd(ev.End))
	} else if dialect == DialectV1 {
		// vCalendar 1.0 has no timezone references; times travel in UTC.
		start.Value = ev.Start.UTC().Format(layoutUTC)
		end.Value = ev.End.UTC().Format(layoutUTC)
	} else {
		setDateTime(start, ev.Start.In(ev.TimeLocation()), ev.Timezone)
		setDateTime(end, ev.End.In(ev.TimeLocation()), ev.Timezone)
	}

	comp.Props.Add(start)
	comp.Props.Add(end)
}

// allDayEnd converts the stored end into the exclusive end date the wire
// format wants. An end on the 23:59 convention rolls forward to midnight.
func allDayEnd(end time.Time) time.Time {
	if end.Hour() == 0 && end.Minute() == 0 && end.Second() == 0 {
		return end
	}
	return time.Date(end.Year(), end.Month(), end.Day()+1, 0, 0, 0, 0, end.Location())
}

func (c *Codec) encodeAttendees(comp *ical.Component, ev *model.Event, dialect Dialect) {
	for _, a := range ev.Attendees {
		var p *ical.Prop
		if a.Internal() {
			p = ical.NewProp(propInternalAttendee)
			p.Value = a.AccountID
		} else {
			p = ical.NewProp(ical.PropAttendee)
			p.Value = "mailto:" + a.Email
		}
		if a.Name != "" {
			p.Params.Set(paramCN, a.Name)
		}

		partstat, rsvp := responseValues(a.Response, dialect)
		if dialect == DialectV1 {
			p.Params.Set(paramExpect, roleValue(a.Role, dialect))
			p.Params.Set(paramStatus, partstat)
		} else {
			p.Params.Set(paramRole, roleValue(a.Role, dialect))
			p.Params.Set(paramPartStat, partstat)
		}
		if rsvp != "" {
			p.Params.Set(paramRSVP, rsvp)
		}
		comp.Props.Add(p)
	}
}

func (c *Codec) encodeResources(comp *ical.Component, ev *model.Event) {
	if len(ev.Resources) == 0 {
		return
	}
	names := make([]string, 0, len(ev.Resources))
	for _, r := range ev.Resources {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	comp.Props.SetText(propResources, strings.Join(names, ","))
}

func (c *Codec) encodeRecurrence(comp *ical.Component, ev *model.Event, dialect Dialect) {
	if !ev.Recurs() {
		return
	}

	var (
		value string
		err   error
	)
	if dialect == DialectV1 {
		value, err = ev.Rule.Vcal1String(ev.Start.In(ev.TimeLocation()))
	} else {
		value, err = ev.Rule.RRuleString(ev.Start.In(ev.TimeLocation()))
	}
	if err != nil {
		// A rule shape the dialect cannot express exports as a one-off
		// rather than failing the whole calendar.
		if errors.Is(err, recurrence.ErrUnsupportedShape) {
			c.Log.Warn("recurrence shape not expressible in dialect",
				"uid", ev.UID, "dialect", dialect.Version())
			return
		}
		c.Log.Warn("encode recurrence", "uid", ev.UID, "error", err)
		return
	}

	p := ical.NewProp(propRRule)
	p.Value = value
	comp.Props.Add(p)
}

func (c *Codec) encodeAlarm(comp *ical.Component, ev *model.Event, dialect Dialect) {
	if ev.AlarmOffset <= 0 {
		return
	}

	if dialect == DialectV1 {
		// vCalendar 1.0 alarms are absolute run times.
		p := ical.NewProp(propAAlarm)
		at := ev.Start.Add(-time.Duration(ev.AlarmOffset) * time.Minute)
		p.Value = at.UTC().Format(layoutUTC)
		comp.Props.Add(p)
		return
	}

	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = formatDuration(ev.AlarmOffset)
	alarm.Props.Add(trigger)
	comp.Children = append(comp.Children, alarm)
}

func (c *Codec) encodeAttachments(ctx context.Context, comp *ical.Component, ev *model.Event) error {
	if c.Attachments == nil {
		return nil
	}

	infos, err := c.Attachments.List(ctx, attachDir(ev))
	if err != nil {
		return fmt.Errorf("list attachments: %w", err)
	}
	for _, info := range infos {
		data, err := c.Attachments.Read(ctx, attachDir(ev), info.Name)
		if err != nil {
			return fmt.Errorf("read attachment %s: %w", info.Name, err)
		}
		p := ical.NewProp(ical.PropAttach)
		p.Params.Set(ical.ParamValue, "BINARY")
		p.Params.Set(paramEncoding, "BASE64")
		p.Params.Set(paramFilename, info.Name)
		if info.ContentType != "" {
			p.Params.Set(paramFmtType, info.ContentType)
		}
		p.Value = base64.StdEncoding.EncodeToString(data)
		comp.Props.Add(p)
	}
	return nil
}

func attachDir(ev *model.Event) string {
	return ev.CalendarID + "/" + ev.UID
}

// exDateProp marks one occurrence as deleted without replacement. Dates are
// deliberately not batched into one property; one marker per date survives
// more consumer implementations.
func exDateProp(d recurrence.Date, master *model.Event, dialect Dialect) *ical.Prop {
	p := ical.NewProp(propExDate)
	fillInstanceRef(p, d, master, dialect)
	return p
}

// recurrenceIDProp points an override at the original instance it replaces.
func recurrenceIDProp(d recurrence.Date, master *model.Event, dialect Dialect) *ical.Prop {
	p := ical.NewProp(propRecurrenceID)
	fillInstanceRef(p, d, master, dialect)
	return p
}

// fillInstanceRef renders an instance reference: date-only for all-day
// series, otherwise the master's time of day on that date.
func fillInstanceRef(p *ical.Prop, d recurrence.Date, master *model.Event, dialect Dialect) {
	loc := master.TimeLocation()
	h, m, s := master.Start.In(loc).Clock()
	at := d.At(h, m, s, loc)

	switch {
	case master.AllDay:
		setDate(p, at)
	case dialect == DialectV1:
		p.Value = at.UTC().Format(layoutUTC)
	default:
		setDateTime(p, at, master.Timezone)
	}
}
