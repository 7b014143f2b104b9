package icalendar

import (
	"context"
	"encoding/base64"
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

// knownProps are handled natively; everything else is preserved verbatim for
// re-encoding.
var knownProps = map[string]bool{
	ical.PropUID:           true,
	ical.PropDateTimeStamp: true,
	ical.PropSummary:       true,
	ical.PropDescription:   true,
	ical.PropLocation:      true,
	ical.PropURL:           true,
	ical.PropClass:         true,
	ical.PropSequence:      true,
	ical.PropGeo:           true,
	ical.PropStatus:        true,
	ical.PropDateTimeStart: true,
	ical.PropDateTimeEnd:   true,
	ical.PropDuration:      true,
	ical.PropAttendee:      true,
	ical.PropOrganizer:     true,
	ical.PropAttach:        true,
	propTransp:             true,
	propRRule:              true,
	propExDate:             true,
	propRecurrenceID:       true,
	propResources:          true,
	propAAlarm:             true,
	propInternalAttendee:   true,
}

// Decode builds an event from a single component. UID and DTSTART are
// required; failures on any other property are logged and skipped, so one bad
// property never loses the event. Decoding counts as the event's import
// operation.
//
// A component carrying RECURRENCE-ID decodes as an exception: its UID moves
// to BaseUID, the referenced master (which must exist in storage) gains the
// instance date in its exception set, and the caller is expected to save the
// returned event as the bound replacement.
func (c *Codec) Decode(ctx context.Context, comp *ical.Component, dialect Dialect, calendarID string, env model.Env) (*model.Event, error) {
	uid := textOf(comp, ical.PropUID)
	if uid == "" {
		return nil, fmt.Errorf("%w: missing UID", ErrMalformedInput)
	}
	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return nil, fmt.Errorf("%w: missing DTSTART", ErrMalformedInput)
	}

	ev := model.New(calendarID)
	ev.UID = uid

	if err := c.decodeTimes(ev, comp, startProp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	ev.Title = textOf(comp, ical.PropSummary)
	ev.Description = textOf(comp, ical.PropDescription)
	ev.Location = textOf(comp, ical.PropLocation)
	ev.URL = textOf(comp, ical.PropURL)
	ev.Private = strings.EqualFold(textOf(comp, ical.PropClass), "PRIVATE")
	ev.Status = parseStatus(textOf(comp, ical.PropStatus))

	if v := textOf(comp, ical.PropSequence); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			ev.Sequence = n
		}
	}
	if v := textOf(comp, ical.PropOrganizer); v != "" {
		ev.OrganizerEmail = strings.TrimPrefix(strings.TrimPrefix(v, "mailto:"), "MAILTO:")
	}
	if v := textOf(comp, ical.PropGeo); v != "" {
		c.decodeGeo(ev, v)
	}
	if v := textOf(comp, propResources); v != "" {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				ev.BookResource(name, model.Resource{Name: name, CalendarID: calendarID})
			}
		}
	}

	c.decodeAttendees(ev, comp)
	c.decodeRecurrence(ev, comp, dialect)
	c.decodeAlarm(ev, comp, dialect)
	if err := c.decodeAttachments(ctx, ev, comp); err != nil {
		return nil, err
	}
	c.decodePassthrough(ev, comp)

	if rid := comp.Props.Get(propRecurrenceID); rid != nil {
		if err := c.decodeExceptionRef(ev, rid); err != nil {
			return nil, err
		}
	}

	ev.Initialized = true
	return ev, nil
}

// DecodeCalendar decodes every event component of a parsed calendar and
// persists the result. Masters are decoded and saved before exception
// components so each exception finds its series in storage.
func (c *Codec) DecodeCalendar(ctx context.Context, cal *ical.Calendar, calendarID string, env model.Env) ([]*model.Event, error) {
	dialect := DetectDialect(cal)

	var masters, exceptions []*ical.Component
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		if child.Props.Get(propRecurrenceID) != nil {
			exceptions = append(exceptions, child)
		} else {
			masters = append(masters, child)
		}
	}

	var events []*model.Event
	for _, comp := range masters {
		ev, err := c.Decode(ctx, comp, dialect, calendarID, env)
		if err != nil {
			return events, err
		}
		if _, err := c.Store.Save(ev); err != nil {
			return events, fmt.Errorf("save event %s: %w", ev.UID, err)
		}
		events = append(events, ev)
	}
	for _, comp := range exceptions {
		ev, err := c.Decode(ctx, comp, dialect, calendarID, env)
		if err != nil {
			return events, err
		}
		ev.EnsureUID()
		if _, err := c.Store.Save(ev); err != nil {
			return events, fmt.Errorf("save exception event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Import parses calendar text from r and persists the events it describes.
func (c *Codec) Import(ctx context.Context, r io.Reader, calendarID string, env model.Env) ([]*model.Event, error) {
	cal, err := ical.NewDecoder(r).Decode()
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}
	return c.DecodeCalendar(ctx, cal, calendarID, env)
}

func (c *Codec) decodeTimes(ev *model.Event, comp *ical.Component, startProp *ical.Prop) error {
	start, dateOnly, err := parseTime(startProp)
	if err != nil {
		return err
	}
	ev.Start = start
	ev.AllDay = dateOnly
	if tzid := startProp.Params.Get(ical.PropTimezoneID); tzid != "" {
		if _, err := time.LoadLocation(tzid); err == nil {
			ev.Timezone = tzid
		}
	}

	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		end, _, err := parseTime(endProp)
		if err == nil {
			ev.End = end
			return nil
		}
		c.Log.Warn("bad DTEND, deriving end", "uid", ev.UID, "error", err)
	}
	if durProp := comp.Props.Get(ical.PropDuration); durProp != nil {
		if d, err := parseDuration(durProp.Value); err == nil {
			ev.End = start.Add(d)
			return nil
		}
	}
	if dateOnly {
		ev.End = start.AddDate(0, 0, 1)
	} else {
		ev.End = start.Add(time.Hour)
	}
	return nil
}

func (c *Codec) decodeGeo(ev *model.Event, value string) {
	parts := strings.SplitN(value, ";", 2)
	if len(parts) != 2 {
		return
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLat != nil || errLon != nil {
		c.Log.Warn("bad GEO value", "uid", ev.UID, "value", value)
		return
	}
	ev.Geo = &model.GeoLocation{Latitude: lat, Longitude: lon}
}

func (c *Codec) decodeAttendees(ev *model.Event, comp *ical.Component) {
	for _, p := range comp.Props.Values(ical.PropAttendee) {
		a := model.Attendee{
			Email: strings.TrimPrefix(strings.TrimPrefix(p.Value, "mailto:"), "MAILTO:"),
			Name:  p.Params.Get(paramCN),
		}
		a.Role = parseRole(firstParam(p, paramRole, paramExpect))
		a.Response = parseResponse(firstParam(p, paramPartStat, paramStatus))
		ev.AddAttendee(a)
	}
	for _, p := range comp.Props.Values(propInternalAttendee) {
		a := model.Attendee{
			AccountID: p.Value,
			Name:      p.Params.Get(paramCN),
		}
		a.Role = parseRole(firstParam(p, paramRole, paramExpect))
		a.Response = parseResponse(firstParam(p, paramPartStat, paramStatus))
		ev.AddAttendee(a)
	}
}

func firstParam(p ical.Prop, names ...string) string {
	for _, name := range names {
		if v := p.Params.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func (c *Codec) decodeRecurrence(ev *model.Event, comp *ical.Component, dialect Dialect) {
	p := comp.Props.Get(propRRule)
	if p != nil {
		var (
			rule *recurrence.Rule
			err  error
		)
		if dialect == DialectV1 {
			rule, err = recurrence.ParseVcal1(p.Value, ev.Start)
		} else {
			rule, err = recurrence.ParseRRule(p.Value, ev.Start)
		}
		if err != nil {
			c.Log.Warn("unsupported recurrence, importing as one-off",
				"uid", ev.UID, "rule", p.Value, "error", err)
		} else {
			ev.Rule = rule
		}
	}

	if ev.Rule == nil {
		return
	}
	for _, p := range comp.Props.Values(propExDate) {
		for _, part := range strings.Split(p.Value, ",") {
			single := *ical.NewProp(propExDate)
			single.Params = p.Params
			single.Value = strings.TrimSpace(part)
			t, _, err := parseTime(&single)
			if err != nil {
				c.Log.Warn("bad EXDATE value", "uid", ev.UID, "value", part)
				continue
			}
			d := recurrence.DateOf(t)
			ev.Rule.AddException(d.Year, d.Month, d.Day)
		}
	}
}

func (c *Codec) decodeAlarm(ev *model.Event, comp *ical.Component, dialect Dialect) {
	if dialect == DialectV1 {
		p := comp.Props.Get(propAAlarm)
		if p == nil {
			return
		}
		// AALARM is runTime;snoozeTime;repeatCount;audioContent.
		runTime := strings.SplitN(p.Value, ";", 2)[0]
		if runTime == "" {
			return
		}
		ref := ical.NewProp(propAAlarm)
		ref.Value = runTime
		at, _, err := parseTime(ref)
		if err != nil {
			c.Log.Warn("bad AALARM value", "uid", ev.UID, "value", runTime)
			return
		}
		ev.AlarmOffset = minutesBefore(ev.Start, at)
		return
	}

	for _, child := range comp.Children {
		if child.Name != ical.CompAlarm {
			continue
		}
		trigger := child.Props.Get(ical.PropTrigger)
		if trigger == nil {
			ev.AlarmOffset = 1
			return
		}

		if strings.EqualFold(trigger.Params.Get(ical.ParamValue), "DATE-TIME") {
			at, _, err := parseTime(trigger)
			if err != nil {
				ev.AlarmOffset = 1
				return
			}
			ev.AlarmOffset = minutesBefore(ev.Start, at)
			return
		}

		d, err := parseDuration(trigger.Value)
		if err != nil {
			ev.AlarmOffset = 1
			return
		}
		base := ev.Start
		if strings.EqualFold(trigger.Params.Get(paramRelated), "END") {
			base = ev.End
		}
		ev.AlarmOffset = minutesBefore(ev.Start, base.Add(d))
		return
	}
}

// minutesBefore converts an absolute alarm time into minutes before start.
// An alarm at or after start clamps to one minute before.
func minutesBefore(start, at time.Time) int {
	m := int(start.Sub(at) / time.Minute)
	if m <= 0 {
		return 1
	}
	return m
}

func (c *Codec) decodeAttachments(ctx context.Context, ev *model.Event, comp *ical.Component) error {
	for _, p := range comp.Props.Values(ical.PropAttach) {
		name := p.Params.Get(paramFilename)
		isBinary := strings.EqualFold(p.Params.Get(paramEncoding), "BASE64")
		if !isBinary || name == "" || c.Attachments == nil {
			// URI attachments and unnamed blobs travel as passthrough.
			ev.AddOther(ical.PropAttach, p.Value, cloneParams(p.Params))
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.Value)
		if err != nil {
			c.Log.Warn("bad attachment encoding", "uid", ev.UID, "name", name)
			continue
		}
		if err := c.Attachments.Write(ctx, attachDir(ev), name, data, p.Params.Get(paramFmtType)); err != nil {
			return fmt.Errorf("store attachment %s: %w", name, err)
		}
	}
	return nil
}

func (c *Codec) decodePassthrough(ev *model.Event, comp *ical.Component) {
	names := make([]string, 0, len(comp.Props))
	for name := range comp.Props {
		if !knownProps[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		for _, p := range comp.Props.Values(name) {
			ev.AddOther(p.Name, p.Value, cloneParams(p.Params))
		}
	}
}

func cloneParams(params ical.Params) map[string][]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string][]string, len(params))
	for name, values := range params {
		out[name] = append([]string(nil), values...)
	}
	return out
}

// decodeExceptionRef rebinds an exception component: the component's UID is
// the series UID, so it moves to BaseUID and the event gets its own identity
// later. The master must already exist in storage; its exception set gains
// the instance date.
func (c *Codec) decodeExceptionRef(ev *model.Event, rid *ical.Prop) error {
	t, _, err := parseTime(rid)
	if err != nil {
		return fmt.Errorf("%w: bad RECURRENCE-ID: %v", ErrMalformedInput, err)
	}

	ev.RecurrenceID = rid.Value
	ev.BaseUID = ev.UID
	ev.UID = ""
	d := recurrence.DateOf(t)
	ev.ExceptionDate = d

	if c.Store == nil {
		return nil
	}
	master, err := c.Store.GetByUID(ev.BaseUID)
	if err != nil {
		return fmt.Errorf("load master %s: %w", ev.BaseUID, err)
	}
	if master == nil {
		return fmt.Errorf("%w: %s", ErrMasterNotFound, ev.BaseUID)
	}
	if master.Rule != nil && !master.Rule.HasException(d.Year, d.Month, d.Day) {
		master.Rule.AddException(d.Year, d.Month, d.Day)
		if _, err := c.Store.Save(master); err != nil {
			return fmt.Errorf("save master %s: %w", master.UID, err)
		}
	}
	return nil
}

func textOf(comp *ical.Component, name string) string {
	p := comp.Props.Get(name)
	if p == nil {
		return ""
	}
	if s, err := p.Text(); err == nil {
		return s
	}
	return p.Value
}
