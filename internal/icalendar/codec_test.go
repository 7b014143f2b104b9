package icalendar

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"

	"github.com/dstephens/calwire/internal/database"
	"github.com/dstephens/calwire/internal/model"
	"github.com/dstephens/calwire/internal/reconcile"
	"github.com/dstephens/calwire/internal/recurrence"
	"github.com/dstephens/calwire/internal/store"
)

func setupCodec(t *testing.T) (*Codec, *store.EventStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.NewEventStore(db)
	return NewCodec(st, reconcile.New(st, nil), nil), st
}

func testEvent(uid string) *model.Event {
	ev := model.New("personal")
	ev.UID = uid
	ev.Title = "Team Meeting"
	ev.Description = "Weekly sync, bring notes"
	ev.Location = "Room 2"
	ev.Start = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	ev.End = time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC)
	ev.Status = model.StatusConfirmed
	ev.Initialized = true
	return ev
}

func propValue(t *testing.T, comp *ical.Component, name string) string {
	t.Helper()
	p := comp.Props.Get(name)
	if p == nil {
		t.Fatalf("missing property %s", name)
	}
	return p.Value
}

func TestEncodeBasicV2(t *testing.T) {
	c, _ := setupCodec(t)
	ev := testEvent("uid-1")
	ev.AlarmOffset = 15

	comps, err := c.Encode(context.Background(), ev, DialectV2, model.NewEnv("alice"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(comps) != 1 {
		t.Fatalf("components = %d, want 1", len(comps))
	}
	comp := comps[0]

	if got := propValue(t, comp, ical.PropUID); got != "uid-1" {
		t.Errorf("uid = %q", got)
	}
	if got := propValue(t, comp, ical.PropStatus); got != "CONFIRMED" {
		t.Errorf("status = %q", got)
	}
	if got := propValue(t, comp, propTransp); got != "OPAQUE" {
		t.Errorf("transp = %q", got)
	}
	if got := propValue(t, comp, ical.PropDateTimeStart); got != "20240304T100000Z" {
		t.Errorf("dtstart = %q", got)
	}

	if len(comp.Children) != 1 || comp.Children[0].Name != ical.CompAlarm {
		t.Fatalf("expected one VALARM child, got %+v", comp.Children)
	}
	if got := propValue(t, comp.Children[0], ical.PropTrigger); got != "-PT15M" {
		t.Errorf("trigger = %q", got)
	}
}

func TestEncodeStatusV1(t *testing.T) {
	c, _ := setupCodec(t)
	ev := testEvent("uid-1")
	ev.Status = model.StatusCancelled
	ev.AlarmOffset = 30

	comps, err := c.Encode(context.Background(), ev, DialectV1, model.NewEnv("alice"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	comp := comps[0]

	// vCalendar 1.0 has no CANCELLED status; it degrades to a declined,
	// transparent event.
	if got := propValue(t, comp, ical.PropStatus); got != "DECLINED" {
		t.Errorf("status = %q, want DECLINED", got)
	}
	if got := propValue(t, comp, propTransp); got != "1" {
		t.Errorf("transp = %q, want 1", got)
	}
	if got := propValue(t, comp, propAAlarm); got != "20240304T093000Z" {
		t.Errorf("aalarm = %q", got)
	}
	if len(comp.Children) != 0 {
		t.Error("v1 must not carry VALARM children")
	}
}

func TestEncodeRecurringWithExceptions(t *testing.T) {
	c, st := setupCodec(t)

	master := testEvent("series-uid")
	master.Rule = recurrence.NewRule(recurrence.TypeDaily)
	if _, err := st.Save(master); err != nil {
		t.Fatalf("save master: %v", err)
	}

	// One replaced instance, one deleted without replacement.
	if err := c.Reconciler.ReconcileOrphan(master, recurrence.Date{Year: 2024, Month: time.March, Day: 5}, &reconcile.Entry{
		Start: time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC),
		Title: "Team Meeting (moved)",
	}); err != nil {
		t.Fatalf("orphan: %v", err)
	}
	if err := c.Reconciler.ReconcileOrphan(master, recurrence.Date{Year: 2024, Month: time.March, Day: 6}, nil); err != nil {
		t.Fatalf("orphan delete: %v", err)
	}

	comps, err := c.Encode(context.Background(), master, DialectV2, model.NewEnv("alice"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(comps) != 2 {
		t.Fatalf("components = %d, want master + override", len(comps))
	}

	m := comps[0]
	if got := propValue(t, m, propRRule); !strings.Contains(got, "FREQ=DAILY") {
		t.Errorf("rrule = %q", got)
	}
	// The deleted instance is an EXDATE at the master's time of day; the
	// replaced one is not, since the override component covers it.
	if got := propValue(t, m, propExDate); got != "20240306T100000Z" {
		t.Errorf("exdate = %q", got)
	}

	override := comps[1]
	if got := propValue(t, override, ical.PropUID); got != "series-uid" {
		t.Errorf("override uid = %q, want series uid", got)
	}
	if got := propValue(t, override, propRecurrenceID); got != "20240305T100000Z" {
		t.Errorf("recurrence-id = %q", got)
	}
	if got := propValue(t, override, ical.PropSummary); got != "Team Meeting (moved)" {
		t.Errorf("override summary = %q", got)
	}
}

func TestDecodeRequiresUIDAndStart(t *testing.T) {
	c, _ := setupCodec(t)

	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropSummary, "no identity")
	if _, err := c.Decode(context.Background(), comp, DialectV2, "personal", model.NewEnv("a")); !errors.Is(err, ErrMalformedInput) {
		t.Errorf("missing uid: err = %v, want ErrMalformedInput", err)
	}

	comp.Props.SetText(ical.PropUID, "uid-1")
	if _, err := c.Decode(context.Background(), comp, DialectV2, "personal", model.NewEnv("a")); !errors.Is(err, ErrMalformedInput) {
		t.Errorf("missing dtstart: err = %v, want ErrMalformedInput", err)
	}
}

func TestDecodeSurvivesBadOptionalProperty(t *testing.T) {
	c, _ := setupCodec(t)

	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, "uid-1")
	comp.Props.SetText(ical.PropDateTimeStart, "20240304T100000Z")
	comp.Props.SetText(ical.PropGeo, "not-a-position")
	comp.Props.SetText(ical.PropSequence, "many")
	comp.Props.SetText(propRRule, "FREQ=NONSENSE")

	ev, err := c.Decode(context.Background(), comp, DialectV2, "personal", model.NewEnv("a"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Geo != nil || ev.Sequence != 0 || ev.Rule != nil {
		t.Errorf("bad optional properties leaked: geo=%v seq=%d rule=%v", ev.Geo, ev.Sequence, ev.Rule)
	}
	if !ev.Initialized {
		t.Error("decode must initialize the event")
	}
}

func TestDecodeAllDay(t *testing.T) {
	c, _ := setupCodec(t)

	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, "uid-1")
	start := ical.NewProp(ical.PropDateTimeStart)
	start.Params.Set(ical.ParamValue, "DATE")
	start.Value = "20240304"
	comp.Props.Add(start)

	ev, err := c.Decode(context.Background(), comp, DialectV2, "personal", model.NewEnv("a"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ev.AllDay {
		t.Error("VALUE=DATE start must mark the event all-day")
	}
	if got := ev.End.Sub(ev.Start); got != 24*time.Hour {
		t.Errorf("default all-day span = %v", got)
	}
}

func TestDecodeExceptionBindsToMaster(t *testing.T) {
	c, st := setupCodec(t)

	master := testEvent("series-uid")
	master.Rule = recurrence.NewRule(recurrence.TypeDaily)
	if _, err := st.Save(master); err != nil {
		t.Fatalf("save master: %v", err)
	}

	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, "series-uid")
	comp.Props.SetText(ical.PropDateTimeStart, "20240305T140000Z")
	comp.Props.SetText(ical.PropDateTimeEnd, "20240305T150000Z")
	comp.Props.SetText(ical.PropSummary, "moved")
	rid := ical.NewProp(propRecurrenceID)
	rid.Value = "20240305T100000Z"
	comp.Props.Add(rid)

	ev, err := c.Decode(context.Background(), comp, DialectV2, "personal", model.NewEnv("a"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.UID != "" || ev.BaseUID != "series-uid" {
		t.Errorf("uid = %q, base = %q", ev.UID, ev.BaseUID)
	}
	want := recurrence.Date{Year: 2024, Month: time.March, Day: 5}
	if ev.ExceptionDate != want {
		t.Errorf("exception date = %v", ev.ExceptionDate)
	}

	reloaded, err := st.GetByUID("series-uid")
	if err != nil {
		t.Fatalf("reload master: %v", err)
	}
	if !reloaded.Rule.HasException(2024, time.March, 5) {
		t.Error("decoding an exception must add its date to the master's set")
	}
}

func TestDecodeExceptionWithoutMaster(t *testing.T) {
	c, _ := setupCodec(t)

	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, "no-such-series")
	comp.Props.SetText(ical.PropDateTimeStart, "20240305T140000Z")
	rid := ical.NewProp(propRecurrenceID)
	rid.Value = "20240305T100000Z"
	comp.Props.Add(rid)

	if _, err := c.Decode(context.Background(), comp, DialectV2, "personal", model.NewEnv("a")); !errors.Is(err, ErrMasterNotFound) {
		t.Errorf("err = %v, want ErrMasterNotFound", err)
	}
}

func TestDecodeAlarmTriggerRelatedEnd(t *testing.T) {
	c, _ := setupCodec(t)

	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, "uid-1")
	comp.Props.SetText(ical.PropDateTimeStart, "20240304T100000Z")
	comp.Props.SetText(ical.PropDateTimeEnd, "20240304T110000Z")

	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Params.Set(paramRelated, "END")
	trigger.Value = "-PT90M"
	alarm.Props.Add(trigger)
	comp.Children = append(comp.Children, alarm)

	ev, err := c.Decode(context.Background(), comp, DialectV2, "personal", model.NewEnv("a"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 90 minutes before an end one hour after start is 30 minutes before start.
	if ev.AlarmOffset != 30 {
		t.Errorf("alarm offset = %d, want 30", ev.AlarmOffset)
	}
}

func TestDecodeAlarmZeroTriggerClamps(t *testing.T) {
	c, _ := setupCodec(t)

	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, "uid-1")
	comp.Props.SetText(ical.PropDateTimeStart, "20240304T100000Z")

	alarm := ical.NewComponent(ical.CompAlarm)
	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = "PT0M"
	alarm.Props.Add(trigger)
	comp.Children = append(comp.Children, alarm)

	ev, err := c.Decode(context.Background(), comp, DialectV2, "personal", model.NewEnv("a"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.AlarmOffset != 1 {
		t.Errorf("alarm offset = %d, want 1", ev.AlarmOffset)
	}
}

func TestDecodeAAlarmV1(t *testing.T) {
	c, _ := setupCodec(t)

	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, "uid-1")
	comp.Props.SetText(ical.PropDateTimeStart, "20240304T100000Z")
	comp.Props.SetText(propAAlarm, "20240304T093000Z;;;")

	ev, err := c.Decode(context.Background(), comp, DialectV1, "personal", model.NewEnv("a"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.AlarmOffset != 30 {
		t.Errorf("alarm offset = %d, want 30", ev.AlarmOffset)
	}
}

func TestPassthroughRoundTrip(t *testing.T) {
	c, _ := setupCodec(t)

	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, "uid-1")
	comp.Props.SetText(ical.PropDateTimeStart, "20240304T100000Z")
	custom := ical.NewProp("X-VENDOR-COLOR")
	custom.Params.Set("X-SHADE", "dark")
	custom.Value = "teal"
	comp.Props.Add(custom)

	ev, err := c.Decode(context.Background(), comp, DialectV2, "personal", model.NewEnv("a"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ev.Other) != 1 || ev.Other[0].Name != "X-VENDOR-COLOR" {
		t.Fatalf("other = %+v", ev.Other)
	}

	comps, err := c.Encode(context.Background(), ev, DialectV2, model.NewEnv("a"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p := comps[0].Props.Get("X-VENDOR-COLOR")
	if p == nil || p.Value != "teal" || p.Params.Get("X-SHADE") != "dark" {
		t.Errorf("passthrough lost: %+v", p)
	}
}

func TestAttendeeRoundTripV2(t *testing.T) {
	c, _ := setupCodec(t)

	ev := testEvent("uid-1")
	ev.AddAttendee(model.Attendee{Email: "bob@example.com", Name: "Bob", Role: model.RoleOptional, Response: model.ResponseNone})
	ev.AddAttendee(model.Attendee{AccountID: "carol", Name: "Carol", Role: model.RoleRequired, Response: model.ResponseAccepted})

	comps, err := c.Encode(context.Background(), ev, DialectV2, model.NewEnv("a"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	comp := comps[0]

	ext := comp.Props.Get(ical.PropAttendee)
	if ext == nil || ext.Value != "mailto:bob@example.com" {
		t.Fatalf("attendee = %+v", ext)
	}
	if ext.Params.Get(paramRole) != "OPT-PARTICIPANT" || ext.Params.Get(paramRSVP) != "TRUE" {
		t.Errorf("attendee params = %+v", ext.Params)
	}
	internal := comp.Props.Get(propInternalAttendee)
	if internal == nil || internal.Value != "carol" {
		t.Fatalf("internal attendee = %+v", internal)
	}
	if internal.Params.Get(paramPartStat) != "ACCEPTED" {
		t.Errorf("internal params = %+v", internal.Params)
	}

	got, err := c.Decode(context.Background(), comp, DialectV2, "personal", model.NewEnv("a"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Attendees) != 2 {
		t.Fatalf("attendees = %+v", got.Attendees)
	}
	if got.Attendees[0].Role != model.RoleOptional || got.Attendees[1].AccountID != "carol" {
		t.Errorf("attendees = %+v", got.Attendees)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	c, st := setupCodec(t)

	ev := testEvent("round-uid")
	ev.Rule = recurrence.NewRule(recurrence.TypeWeekly)
	ev.Rule.Days = recurrence.MaskOf(time.Monday, time.Thursday)
	ev.AlarmOffset = 10

	var buf bytes.Buffer
	if err := c.Export(context.Background(), &buf, []*model.Event{ev}, DialectV2, model.NewEnv("a")); err != nil {
		t.Fatalf("export: %v", err)
	}
	text := buf.String()
	if !strings.Contains(text, "BEGIN:VCALENDAR") || !strings.Contains(text, "VERSION:2.0") {
		t.Fatalf("envelope missing:\n%s", text)
	}

	// Import into a fresh calendar and compare what survived the wire.
	got, err := c.Import(context.Background(), strings.NewReader(text), "imported", model.NewEnv("a"))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("imported %d events", len(got))
	}
	in := got[0]
	if in.UID != "round-uid" || in.Title != ev.Title || in.Description != ev.Description {
		t.Errorf("content lost: %+v", in)
	}
	if !in.Start.Equal(ev.Start) || !in.End.Equal(ev.End) {
		t.Errorf("times = %v..%v", in.Start, in.End)
	}
	if in.Rule == nil || in.Rule.Type != recurrence.TypeWeekly || in.Rule.Days != ev.Rule.Days {
		t.Errorf("rule = %+v", in.Rule)
	}
	if in.AlarmOffset != 10 {
		t.Errorf("alarm offset = %d", in.AlarmOffset)
	}

	stored, err := st.GetByUID("round-uid")
	if err != nil || stored == nil {
		t.Fatalf("import must persist: %v %v", stored, err)
	}
}
