package mobilesync

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dstephens/calwire/internal/model"
	"github.com/dstephens/calwire/internal/reconcile"
	"github.com/dstephens/calwire/internal/recurrence"
	"github.com/dstephens/calwire/internal/store"
)

const instanceLayout = "20060102T150405Z"

// Codec converts between events and appointment messages.
type Codec struct {
	Store      store.Store
	Reconciler *reconcile.Reconciler
	Log        *slog.Logger
}

func NewCodec(st store.Store, rec *reconcile.Reconciler, log *slog.Logger) *Codec {
	if log == nil {
		log = slog.Default()
	}
	return &Codec{Store: st, Reconciler: rec, Log: log}
}

// Decode applies an inbound appointment to an event. Ghosted (nil) fields
// leave the event untouched, so the same path serves create and update.
// Decoding counts as the event's import operation.
func (c *Codec) Decode(appt *Appointment, ev *model.Event, version Version) error {
	if appt.UID != "" {
		ev.UID = appt.UID
	}

	if appt.Subject != nil {
		ev.Title = *appt.Subject
	}
	if appt.Body != nil {
		ev.Description = *appt.Body
	}
	if appt.Location != nil {
		ev.Location = *appt.Location
	}
	if appt.Timezone != nil {
		if _, err := time.LoadLocation(*appt.Timezone); err == nil {
			ev.Timezone = *appt.Timezone
		} else {
			c.Log.Warn("unknown timezone from peer", "uid", ev.UID, "tz", *appt.Timezone)
		}
	}
	if appt.AllDayEvent != nil {
		ev.AllDay = *appt.AllDayEvent
	}

	c.decodeTimes(appt, ev, version)

	if appt.Sensitivity != nil {
		ev.Private = *appt.Sensitivity >= sensitivityPrivate
	}
	if appt.Reminder != nil {
		// Peers send 0 for "at time of event"; internally 0 means no alarm.
		if *appt.Reminder == 0 {
			ev.AlarmOffset = 1
		} else if *appt.Reminder > 0 {
			ev.AlarmOffset = *appt.Reminder
		}
	}
	if appt.MeetingStatus != nil {
		// Busy-status never decodes back into a status; cancellation is the
		// only inbound status signal.
		if *appt.MeetingStatus&meetingCancelled != 0 {
			ev.Status = model.StatusCancelled
		} else if ev.Status == model.StatusCancelled {
			ev.Status = model.StatusConfirmed
		}
	}

	if err := c.decodeRecurrence(appt, ev, version); err != nil {
		return err
	}

	ev.Initialized = true

	if appt.Exceptions != nil && version < V160 && ev.Recurs() && c.Reconciler != nil {
		entries := make([]reconcile.Entry, 0, len(appt.Exceptions))
		for _, exc := range appt.Exceptions {
			entries = append(entries, c.exceptionEntry(exc, ev))
		}
		if err := c.Reconciler.ReconcileLegacy(ev, entries); err != nil {
			return fmt.Errorf("reconcile exception list: %w", err)
		}
	}
	return nil
}

// decodeTimes applies start and end. At 16.0 all-day updates arrive with
// date-only values and either side may be ghosted; the surviving side keeps
// the existing date parts, which nil-skip already guarantees. Non-ghosted
// all-day values normalize to midnight in the event's zone.
func (c *Codec) decodeTimes(appt *Appointment, ev *model.Event, version Version) {
	allDay := ev.AllDay
	if appt.AllDayEvent != nil {
		allDay = *appt.AllDayEvent
	}
	loc := ev.TimeLocation()

	if appt.StartTime != nil {
		ev.Start = *appt.StartTime
		if version >= V160 && allDay {
			ev.Start = midnightOf(ev.Start.In(loc))
		}
	}
	if appt.EndTime != nil {
		ev.End = *appt.EndTime
		if version >= V160 && allDay {
			ev.End = midnightOf(ev.End.In(loc))
		}
	}
}

func midnightOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// decodeRecurrence replaces the event's rule only when the incoming shape
// actually differs, so a peer re-sending the same rule never wipes the
// exception sets. At 16.0 a real rule change disconnects the bound
// exceptions first; below that the full exception list that follows rebuilds
// them anyway.
func (c *Codec) decodeRecurrence(appt *Appointment, ev *model.Event, version Version) error {
	if appt.Recurrence == nil {
		return nil
	}

	incoming, err := fromSyncRecurrence(appt.Recurrence, ev.Start)
	if err != nil {
		c.Log.Warn("unsupported recurrence from peer, keeping existing rule",
			"uid", ev.UID, "type", appt.Recurrence.Type, "error", err)
		return nil
	}

	if ev.Rule != nil && ev.Rule.Equal(incoming) {
		return nil
	}

	if version >= V160 && ev.Rule != nil && c.Reconciler != nil {
		if err := c.Reconciler.DisconnectExceptions(ev, true); err != nil {
			return fmt.Errorf("disconnect exceptions for rule change: %w", err)
		}
	}
	ev.Rule = incoming
	return nil
}

func (c *Codec) exceptionEntry(exc Exception, master *model.Event) reconcile.Entry {
	entry := reconcile.Entry{
		Date:    recurrence.DateOf(exc.InstanceDate.In(master.TimeLocation())),
		Deleted: exc.Deleted,
	}
	if exc.Deleted || exc.Appointment == nil {
		entry.Deleted = true
		return entry
	}

	a := exc.Appointment
	entry.Start = master.Start
	entry.End = master.End
	if a.StartTime != nil {
		entry.Start = *a.StartTime
	}
	if a.EndTime != nil {
		entry.End = *a.EndTime
	}
	if a.AllDayEvent != nil {
		entry.AllDay = *a.AllDayEvent
	}
	if a.Subject != nil {
		entry.Title = *a.Subject
	}
	if a.Body != nil {
		entry.Description = *a.Body
	}
	if a.Location != nil {
		entry.Location = *a.Location
	}
	if a.Reminder != nil {
		if *a.Reminder == 0 {
			entry.AlarmOffset = 1
		} else if *a.Reminder > 0 {
			entry.AlarmOffset = *a.Reminder
		}
	}
	if a.MeetingStatus != nil && *a.MeetingStatus&meetingCancelled != 0 {
		entry.Status = model.StatusCancelled
	}
	return entry
}

// ApplyOrphan routes a v16 orphan-instance message: an independent
// appointment correlated to one occurrence of a stored series by its
// instance identifier.
func (c *Codec) ApplyOrphan(appt *Appointment) error {
	if c.Store == nil || c.Reconciler == nil {
		return fmt.Errorf("orphan routing requires storage")
	}
	master, err := c.Store.GetByUID(appt.UID)
	if err != nil {
		return fmt.Errorf("load master %s: %w", appt.UID, err)
	}
	if master == nil {
		return fmt.Errorf("master series %s not found", appt.UID)
	}

	at, err := time.Parse(instanceLayout, appt.InstanceID)
	if err != nil {
		return fmt.Errorf("parse instance id %q: %w", appt.InstanceID, err)
	}
	date := recurrence.DateOf(at.In(master.TimeLocation()))

	if appt.Deleted {
		return c.Reconciler.ReconcileOrphan(master, date, nil)
	}
	entry := c.exceptionEntry(Exception{InstanceDate: at, Appointment: appt}, master)
	return c.Reconciler.ReconcileOrphan(master, date, &entry)
}

// Encode renders an event as an outbound appointment. Outbound messages
// ghost nothing; every modeled field is present.
func (c *Codec) Encode(ev *model.Event, version Version) (*Appointment, error) {
	if !ev.Initialized {
		return nil, model.ErrNotInitialized
	}

	appt := &Appointment{
		UID:         ev.UID,
		Subject:     ptr(ev.Title),
		Body:        ptr(ev.Description),
		Location:    ptr(ev.Location),
		StartTime:   ptr(ev.Start),
		EndTime:     ptr(ev.End),
		AllDayEvent: ptr(ev.AllDay),
		BusyStatus:  ptr(busyStatusOf(ev.Status)),
	}
	if ev.Timezone != "" {
		appt.Timezone = ptr(ev.Timezone)
	}

	sensitivity := 0
	if ev.Private {
		sensitivity = sensitivityPrivate
	}
	appt.Sensitivity = ptr(sensitivity)

	if ev.AlarmOffset > 0 {
		appt.Reminder = ptr(ev.AlarmOffset)
	}

	meeting := 0
	if ev.Status == model.StatusCancelled {
		meeting = meetingCancelled
	}
	appt.MeetingStatus = ptr(meeting)

	if ev.Recurs() {
		sr, err := toSyncRecurrence(ev.Rule, ev.Start.In(ev.TimeLocation()))
		if err != nil {
			return nil, fmt.Errorf("encode recurrence: %w", err)
		}
		appt.Recurrence = sr

		if c.Reconciler != nil {
			exceptions, err := c.encodeExceptions(ev, version)
			if err != nil {
				return nil, err
			}
			appt.Exceptions = exceptions
		}
	}

	return appt, nil
}

// encodeExceptions mirrors the materialized exception list: bound events
// become inline replacement entries; exception dates with no bound event
// become deletion entries carrying a date-time synthesized from the master's
// time of day.
func (c *Codec) encodeExceptions(ev *model.Event, version Version) ([]Exception, error) {
	bound, deletions, err := c.Reconciler.MaterializeExceptionList(ev)
	if err != nil {
		return nil, fmt.Errorf("materialize exceptions: %w", err)
	}

	var out []Exception
	for _, b := range bound {
		sub, err := c.Encode(b, version)
		if err != nil {
			return nil, fmt.Errorf("encode exception %s: %w", b.UID, err)
		}
		out = append(out, Exception{
			InstanceDate: instanceStart(ev, b.ExceptionDate),
			Appointment:  sub,
		})
	}
	for _, d := range deletions {
		out = append(out, Exception{
			InstanceDate: instanceStart(ev, d),
			Deleted:      true,
		})
	}
	return out, nil
}

func instanceStart(master *model.Event, d recurrence.Date) time.Time {
	loc := master.TimeLocation()
	h, m, s := master.Start.In(loc).Clock()
	return d.At(h, m, s, loc)
}

// busyStatusOf is the lossy one-way projection into the peer vocabulary.
// Cancelled time is free time from the peer's point of view.
func busyStatusOf(s model.Status) BusyStatus {
	switch s {
	case model.StatusTentative:
		return BusyTentative
	case model.StatusConfirmed:
		return BusyBusy
	}
	return BusyFree
}

func ptr[T any](v T) *T { return &v }
