// Package alarm derives the next alarm to fire for an event.
package alarm

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dstephens/calwire/internal/model"
)

// Descriptor is a fully resolved alarm for one occurrence of an event.
type Descriptor struct {
	UID  string
	User string

	// Trigger is the instant the alarm fires; End is when the occurrence
	// it announces is over.
	Trigger time.Time
	End     time.Time

	// Methods are the enabled notification method names, sorted.
	Methods []string

	Title string
	Body  string

	// InstanceToken identifies one occurrence of a recurring series stably
	// across recomputations; for a one-off event it identifies the event.
	InstanceToken string
}

// Compute returns the next alarm for the event after env.Now, or nil when
// the event has no alarm, is cancelled, or its series has no further
// occurrence. Occurrences on exception dates carry no alarm here; their
// replacement events compute alarms of their own.
func Compute(ev *model.Event, env model.Env) *Descriptor {
	if ev.AlarmOffset == 0 || ev.Status == model.StatusCancelled {
		return nil
	}

	start := ev.Start
	end := ev.End
	if ev.Recurs() {
		occ, ok := ev.Rule.NextOccurrence(ev.Start, env.Now)
		if !ok {
			return nil
		}
		start = occ
		end = occ.Add(ev.Duration())
	}

	offset := ev.AlarmOffset
	if ev.SnoozeOffset > 0 && ev.SnoozeOffset < offset {
		offset = ev.SnoozeOffset
	}

	d := &Descriptor{
		UID:           ev.UID,
		User:          env.UserID,
		Trigger:       start.Add(-time.Duration(offset) * time.Minute),
		End:           end,
		Title:         ev.Title,
		InstanceToken: instanceToken(ev.UID, start),
	}
	d.Body = renderBody(ev, start, env)

	for method, enabled := range ev.Methods {
		if enabled {
			d.Methods = append(d.Methods, method)
		}
	}
	sort.Strings(d.Methods)

	return d
}

func renderBody(ev *model.Event, start time.Time, env model.Env) string {
	when := env.FormatTime(start)
	if ev.Location != "" {
		return fmt.Sprintf("%s at %s", when, ev.Location)
	}
	return when
}

// instanceToken is stable for a given uid and occurrence start, so repeated
// computations of the same instance dedupe downstream.
func instanceToken(uid string, start time.Time) string {
	name := uid + "|" + start.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
