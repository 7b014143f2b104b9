package model

import "time"

// Env carries the ambient request context: who is acting, when, and with
// which display preferences. It is passed explicitly into every operation
// that timestamps, renders, or checks visibility; there is no process-wide
// current user or clock.
type Env struct {
	UserID         string
	Now            time.Time
	Location       *time.Location
	TwentyFourHour bool
}

// NewEnv builds an Env for the given user at the current instant.
func NewEnv(userID string) Env {
	return Env{UserID: userID, Now: time.Now(), Location: time.Local}
}

// In returns t converted to the env's display location.
func (e Env) In(t time.Time) time.Time {
	if e.Location == nil {
		return t
	}
	return t.In(e.Location)
}

// FormatTime renders a clock time per the user's 12/24-hour preference.
func (e Env) FormatTime(t time.Time) string {
	if e.TwentyFourHour {
		return e.In(t).Format("15:04")
	}
	return e.In(t).Format("3:04 PM")
}

// History resolves audit information for stored events.
type History interface {
	Creator(eventUID string) (string, error)
}

// Tagger resolves tags attached to an event.
type Tagger interface {
	Tags(eventUID string) ([]string, error)
}

// Permissioner answers access-control questions. Enforcement lives outside
// the core; codecs only consult it to suppress private details.
type Permissioner interface {
	HasPermission(userID, action string) bool
}

// LoadCreator resolves the event's creator through the history collaborator.
func (e *Event) LoadCreator(h History) (string, error) {
	return e.Creator.Load(func() (string, error) {
		return h.Creator(e.UID)
	})
}

// LoadTags resolves the event's tags through the tag backend.
func (e *Event) LoadTags(t Tagger) ([]string, error) {
	return e.Tags.Load(func() ([]string, error) {
		return t.Tags(e.UID)
	})
}
