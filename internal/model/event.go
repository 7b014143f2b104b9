package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dstephens/calwire/internal/recurrence"
)

// Status is the confirmation state of an event.
type Status int

const (
	StatusNone Status = iota
	StatusFree
	StatusTentative
	StatusConfirmed
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusNone:      "none",
	StatusFree:      "free",
	StatusTentative: "tentative",
	StatusConfirmed: "confirmed",
	StatusCancelled: "cancelled",
}

func (s Status) String() string { return statusNames[s] }

// ErrNotInitialized is returned when an operation requires a populated event.
// An event is populated by exactly one import path (storage, wire decode, or
// direct construction); until then Save and encode are refused.
var ErrNotInitialized = errors.New("event not initialized")

// GeoLocation is an optional map position attached to an event.
type GeoLocation struct {
	Latitude  float64
	Longitude float64
	Zoom      int
}

// OtherAttribute preserves a wire-format property that calwire does not model
// natively. The triple round-trips verbatim through decode and encode,
// including multiplicity and parameter order within a property.
type OtherAttribute struct {
	Name   string
	Value  string
	Params map[string][]string
}

// Event is a calendar event, possibly recurring, possibly an exception bound
// to a recurring master.
type Event struct {
	// Identity.
	ID       int64
	UID      string
	Sequence int
	// RecurrenceID holds the raw original-instance timestamp when this event
	// was decoded as an exception. Transient; never persisted.
	RecurrenceID string
	CalendarID   string

	// Scheduling. Timezone is an IANA name; empty means floating/local time.
	Start    time.Time
	End      time.Time
	Timezone string
	AllDay   bool

	// Content.
	Title          string
	Description    string
	Location       string
	URL            string
	OrganizerEmail string
	Status         Status
	Private        bool
	Geo            *GeoLocation

	Attendees []Attendee
	Resources map[string]Resource

	// Recurrence linkage. Rule is set on a master; BaseUID and ExceptionDate
	// are set only on an exception event bound to a master series.
	Rule          *recurrence.Rule
	BaseUID       string
	ExceptionDate recurrence.Date

	// Alarm. Offsets are minutes before start; 0 means no alarm.
	AlarmOffset  int
	SnoozeOffset int
	Methods      map[string]bool

	Other []OtherAttribute

	Initialized bool
	Stored      bool

	// Lazily resolved from backend collaborators.
	Creator Lazy[string]
	Tags    Lazy[[]string]

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New returns an empty, uninitialized event. Exactly one import operation
// must run before the event can be saved or encoded.
func New(calendarID string) *Event {
	return &Event{
		CalendarID: calendarID,
		Resources:  make(map[string]Resource),
		Methods:    make(map[string]bool),
	}
}

// NewUID generates a fresh globally unique identifier for an event.
func NewUID() string {
	return uuid.New().String()
}

// EnsureUID assigns a generated UID if the event does not carry one yet.
func (e *Event) EnsureUID() {
	if e.UID == "" {
		e.UID = NewUID()
	}
}

// Recurs reports whether this event defines a recurring series. An exception
// event never recurs, even if a rule value survived copy construction.
func (e *Event) Recurs() bool {
	return e.Rule != nil && e.Rule.Type != recurrence.TypeNone && e.BaseUID == ""
}

// Duration returns the span from start to end.
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// DeriveAllDay reports whether start/end follow an all-day convention:
// midnight to midnight, or midnight to 23:59 on the same or next day.
// Decoders set AllDay explicitly; this is a fallback, not the source of truth.
func (e *Event) DeriveAllDay() bool {
	if e.Start.Hour() != 0 || e.Start.Minute() != 0 || e.Start.Second() != 0 {
		return false
	}
	h, m, s := e.End.Clock()
	if h == 0 && m == 0 && s == 0 {
		return e.End.After(e.Start)
	}
	if h == 23 && m == 59 {
		days := e.End.YearDay() - e.Start.YearDay()
		return e.End.Year() == e.Start.Year() && (days == 0 || days == 1)
	}
	return false
}

// CheckStorable verifies the event may be handed to the storage collaborator.
func (e *Event) CheckStorable() error {
	if !e.Initialized {
		return ErrNotInitialized
	}
	if e.UID == "" {
		return errors.New("event has no uid")
	}
	return nil
}

// TimeLocation returns the time.Location for the event's timezone, falling back
// to local time for floating events or unknown zone names.
func (e *Event) TimeLocation() *time.Location {
	if e.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// AddAttendee adds an attendee, keeping the collection unique by email
// (case-insensitive). Adding an existing email updates role, response, and
// name in place instead of duplicating the entry. Internal attendees with no
// email are keyed by account id the same way.
func (e *Event) AddAttendee(a Attendee) {
	for i := range e.Attendees {
		if sameAttendee(e.Attendees[i], a) {
			e.Attendees[i].Role = a.Role
			e.Attendees[i].Response = a.Response
			if a.Name != "" {
				e.Attendees[i].Name = a.Name
			}
			return
		}
	}
	e.Attendees = append(e.Attendees, a)
}

// RemoveAttendee deletes the attendee with the given email, if present.
func (e *Event) RemoveAttendee(email string) {
	for i := range e.Attendees {
		if strings.EqualFold(e.Attendees[i].Email, email) {
			e.Attendees = append(e.Attendees[:i], e.Attendees[i+1:]...)
			return
		}
	}
}

func sameAttendee(a, b Attendee) bool {
	if a.Email != "" || b.Email != "" {
		return strings.EqualFold(a.Email, b.Email)
	}
	return a.AccountID != "" && a.AccountID == b.AccountID
}

// BookResource records a resource booking, replacing any previous booking
// for the same resource id.
func (e *Event) BookResource(id string, r Resource) {
	if e.Resources == nil {
		e.Resources = make(map[string]Resource)
	}
	e.Resources[id] = r
}

// AddOther appends a passthrough attribute.
func (e *Event) AddOther(name, value string, params map[string][]string) {
	e.Other = append(e.Other, OtherAttribute{Name: name, Value: value, Params: params})
}
