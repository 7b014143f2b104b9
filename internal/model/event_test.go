package model

import (
	"testing"
	"time"

	"github.com/dstephens/calwire/internal/recurrence"
)

func TestAddAttendeeReplacesByEmail(t *testing.T) {
	e := New("personal")
	e.AddAttendee(Attendee{Email: "ann@example.com", Name: "Ann", Role: RoleRequired})
	e.AddAttendee(Attendee{Email: "ANN@example.com", Role: RoleOptional, Response: ResponseAccepted})

	if len(e.Attendees) != 1 {
		t.Fatalf("attendees = %d, want 1", len(e.Attendees))
	}
	got := e.Attendees[0]
	if got.Role != RoleOptional || got.Response != ResponseAccepted {
		t.Errorf("role/response not replaced: %+v", got)
	}
	if got.Name != "Ann" {
		t.Errorf("name = %q, want preserved %q", got.Name, "Ann")
	}
}

func TestAddAttendeeKeepsOrder(t *testing.T) {
	e := New("personal")
	e.AddAttendee(Attendee{Email: "a@example.com"})
	e.AddAttendee(Attendee{Email: "b@example.com"})
	e.AddAttendee(Attendee{Email: "a@example.com", Response: ResponseDeclined})

	if len(e.Attendees) != 2 {
		t.Fatalf("attendees = %d, want 2", len(e.Attendees))
	}
	if e.Attendees[0].Email != "a@example.com" || e.Attendees[0].Response != ResponseDeclined {
		t.Errorf("first attendee = %+v", e.Attendees[0])
	}
}

func TestAddAttendeeInternalKeyedByAccount(t *testing.T) {
	e := New("personal")
	e.AddAttendee(Attendee{AccountID: "jdoe", Role: RoleRequired})
	e.AddAttendee(Attendee{AccountID: "jdoe", Response: ResponseTentative})
	e.AddAttendee(Attendee{AccountID: "msmith"})

	if len(e.Attendees) != 2 {
		t.Fatalf("attendees = %d, want 2", len(e.Attendees))
	}
	if e.Attendees[0].Response != ResponseTentative {
		t.Errorf("internal attendee not replaced: %+v", e.Attendees[0])
	}
}

func TestRecursExcludesExceptions(t *testing.T) {
	e := New("personal")
	e.Rule = recurrence.NewRule(recurrence.TypeWeekly)
	if !e.Recurs() {
		t.Error("master with weekly rule should recur")
	}

	// A rule value left over from copy construction must not make an
	// exception event report itself as recurring.
	e.BaseUID = "master-uid"
	if e.Recurs() {
		t.Error("exception event must never recur")
	}
}

func TestDeriveAllDay(t *testing.T) {
	cases := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{
			"midnight to next midnight",
			time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
			true,
		},
		{
			"midnight to 23:59 same day",
			time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC),
			true,
		},
		{
			"timed event",
			time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
			time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
			false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := New("personal")
			e.Start, e.End = tc.start, tc.end
			if got := e.DeriveAllDay(); got != tc.want {
				t.Errorf("DeriveAllDay() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCheckStorableRequiresInit(t *testing.T) {
	e := New("personal")
	e.UID = NewUID()
	if err := e.CheckStorable(); err != ErrNotInitialized {
		t.Errorf("err = %v, want ErrNotInitialized", err)
	}
	e.Initialized = true
	if err := e.CheckStorable(); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func TestLazyLoadOnce(t *testing.T) {
	var l Lazy[string]
	calls := 0
	load := func() (string, error) { calls++; return "creator", nil }

	v, err := l.Load(load)
	if err != nil || v != "creator" {
		t.Fatalf("load = %q, %v", v, err)
	}
	if _, err := l.Load(load); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("loader called %d times, want 1", calls)
	}
}
