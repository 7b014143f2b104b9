// Package mobilesync converts events to and from the appointment messages
// spoken by mobile sync peers. Inbound fields are pointers: nil means the
// peer ghosted the field ("unchanged, do not touch") and the existing value
// survives.
package mobilesync

import "time"

// Version is a peer protocol version. Each version implies all prior
// behavior unless overridden.
type Version int

const (
	V25  Version = 25
	V121 Version = 121
	V140 Version = 140
	V141 Version = 141
	V160 Version = 160
)

// BusyStatus is the peer's free/busy vocabulary. It is a lossy projection of
// the internal status and is never decoded back into one.
type BusyStatus int

const (
	BusyFree      BusyStatus = 0
	BusyTentative BusyStatus = 1
	BusyBusy      BusyStatus = 2
)

// Meeting status bit reported by the peer when an organizer cancels.
const meetingCancelled = 4

// Sensitivity values at or above sensitivityPrivate mark the event private.
const sensitivityPrivate = 2

// Recurrence is the peer's recurrence shape.
//
// Type vocabulary: 0 daily, 1 weekly, 2 monthly by date, 3 monthly by nth
// weekday, 5 yearly by date, 6 yearly by nth weekday. WeekOfMonth 5 means
// the last week of the month. DayOfWeek is a bitmask with Sunday at bit 0.
type Recurrence struct {
	Type        int
	Interval    int
	DayOfWeek   int
	DayOfMonth  int
	WeekOfMonth int
	MonthOfYear int
	Occurrences int
	Until       *time.Time
}

// Exception is one entry of a pre-16 full exception list.
type Exception struct {
	// InstanceDate is the original start of the occurrence being excepted.
	InstanceDate time.Time
	Deleted      bool
	// Appointment carries the replacement fields; nil for a pure deletion.
	Appointment *Appointment
}

// Appointment is the wire message for one event. Nil pointers on inbound
// messages are ghosted fields.
type Appointment struct {
	UID string

	Subject     *string
	Body        *string
	Location    *string
	StartTime   *time.Time
	EndTime     *time.Time
	AllDayEvent *bool
	Timezone    *string

	BusyStatus    *BusyStatus
	Sensitivity   *int
	Reminder      *int
	MeetingStatus *int

	Recurrence *Recurrence
	Exceptions []Exception

	// Deleted and InstanceID carry v16 orphan-instance routing: an
	// independent message updating or deleting one occurrence of a series.
	Deleted    bool
	InstanceID string
}
