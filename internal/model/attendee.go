package model

// Role is the participation requirement of an attendee or resource.
type Role int

const (
	RoleRequired Role = iota
	RoleOptional
	RoleNone
)

// Response is an attendee's reply to an invitation.
type Response int

const (
	ResponseNone Response = iota
	ResponseAccepted
	ResponseDeclined
	ResponseTentative
)

// Attendee is a person invited to an event. External attendees are identified
// by email; internal attendees (local accounts with no external address) are
// identified by AccountID and travel under a separate wire property.
type Attendee struct {
	Email     string
	Name      string
	AccountID string
	Role      Role
	Response  Response
}

// Internal reports whether the attendee is an account-identified internal user.
func (a Attendee) Internal() bool {
	return a.Email == "" && a.AccountID != ""
}

// Resource is a bookable resource (room, equipment) attached to an event.
// Resources are booked through their owning calendar, separately from the
// attendee list.
type Resource struct {
	Name       string
	CalendarID string
	Role       Role
	Response   Response
}
