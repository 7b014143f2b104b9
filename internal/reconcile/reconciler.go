package reconcile

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dstephens/calwire/internal/model"
	"github.com/dstephens/calwire/internal/recurrence"
	"github.com/dstephens/calwire/internal/store"
)

// Entry is one exception delivered by a sync peer: either a deleted
// occurrence (Deleted set, other fields ignored) or a replacement for the
// occurrence on Date.
type Entry struct {
	Date    recurrence.Date
	Deleted bool

	Start       time.Time
	End         time.Time
	AllDay      bool
	Title       string
	Description string
	Location    string
	Status      model.Status
	AlarmOffset int
}

// Reconciler keeps a master event's exception-date set consistent with the
// set of bound exception events in storage.
type Reconciler struct {
	store store.Store
	log   *slog.Logger
}

func New(st store.Store, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{store: st, log: log}
}

// MaterializeExceptionList resolves the master's exception dates against the
// bound exception events in storage. It returns the bound events and, for
// every exception date with no bound event, the date of the occurrence that
// was deleted without replacement. The master is not mutated.
func (r *Reconciler) MaterializeExceptionList(master *model.Event) ([]*model.Event, []recurrence.Date, error) {
	bound, err := r.store.Search(store.Predicate{BaseUID: master.UID})
	if err != nil {
		return nil, nil, fmt.Errorf("search bound exceptions: %w", err)
	}

	remaining := make(recurrence.DateSet)
	if master.Rule != nil {
		remaining = master.Rule.Exceptions.Clone()
	}
	for _, ev := range bound {
		remaining.Delete(ev.ExceptionDate)
	}

	return bound, remaining.Dates(), nil
}

// ReconcileLegacy applies a full-replace exception list (pre-v16 sync
// semantics). Every currently bound exception event is deleted first; the
// incoming list is then applied as the complete new set. Absence of a
// previously bound exception from the list means it is gone, since the
// protocol always transmits the entire current set.
func (r *Reconciler) ReconcileLegacy(master *model.Event, incoming []Entry) error {
	if master.Rule == nil {
		return fmt.Errorf("event %s has no recurrence rule", master.UID)
	}

	bound, err := r.store.Search(store.Predicate{BaseUID: master.UID})
	if err != nil {
		return fmt.Errorf("search bound exceptions: %w", err)
	}
	// Superseded events are removed before any replacement is persisted so
	// that no window exists with two events claiming the same instance date.
	for _, ev := range bound {
		if err := r.store.DeleteEvent(ev, true); err != nil {
			return fmt.Errorf("delete superseded exception: %w", err)
		}
	}
	for _, d := range master.Rule.Exceptions.Dates() {
		master.Rule.DeleteException(d.Year, d.Month, d.Day)
	}

	for _, entry := range incoming {
		master.Rule.AddException(entry.Date.Year, entry.Date.Month, entry.Date.Day)
		if entry.Deleted {
			continue
		}
		ev := r.newBoundEvent(master, entry)
		if _, err := r.store.Save(ev); err != nil {
			return fmt.Errorf("save exception event: %w", err)
		}
	}

	if _, err := r.store.Save(master); err != nil {
		return fmt.Errorf("save master: %w", err)
	}

	r.log.Debug("reconciled exception list", "uid", master.UID, "incoming", len(incoming))
	return nil
}

// ReconcileOrphan applies a single-instance update (v16+ sync semantics).
// Any bound exception event for instanceDate is replaced; other instances
// are untouched. A nil patch records the occurrence as deleted without
// replacement.
func (r *Reconciler) ReconcileOrphan(master *model.Event, instanceDate recurrence.Date, patch *Entry) error {
	if master.Rule == nil {
		return fmt.Errorf("event %s has no recurrence rule", master.UID)
	}

	bound, err := r.store.Search(store.Predicate{BaseUID: master.UID})
	if err != nil {
		return fmt.Errorf("search bound exceptions: %w", err)
	}
	for _, ev := range bound {
		if ev.ExceptionDate == instanceDate {
			if err := r.store.DeleteEvent(ev, true); err != nil {
				return fmt.Errorf("delete superseded exception: %w", err)
			}
		}
	}

	if !master.Rule.HasException(instanceDate.Year, instanceDate.Month, instanceDate.Day) {
		master.Rule.AddException(instanceDate.Year, instanceDate.Month, instanceDate.Day)
	}

	if patch != nil && !patch.Deleted {
		entry := *patch
		entry.Date = instanceDate
		ev := r.newBoundEvent(master, entry)
		if _, err := r.store.Save(ev); err != nil {
			return fmt.Errorf("save exception event: %w", err)
		}
	}

	if _, err := r.store.Save(master); err != nil {
		return fmt.Errorf("save master: %w", err)
	}
	return nil
}

// DisconnectExceptions detaches every bound exception event into a
// standalone event, clearing its link to the master and removing its date
// from the master's exception set. With del set, each event is deleted from
// storage after the detach has been persisted, so the deletion is recorded
// against a standalone event and the master's audit history is untouched.
func (r *Reconciler) DisconnectExceptions(master *model.Event, del bool) error {
	if master.Rule == nil {
		return nil
	}

	bound, err := r.store.Search(store.Predicate{BaseUID: master.UID})
	if err != nil {
		return fmt.Errorf("search bound exceptions: %w", err)
	}

	for _, ev := range bound {
		d := ev.ExceptionDate
		master.Rule.DeleteException(d.Year, d.Month, d.Day)

		ev.BaseUID = ""
		ev.ExceptionDate = recurrence.Date{}
		if _, err := r.store.Save(ev); err != nil {
			return fmt.Errorf("persist detach: %w", err)
		}
		if del {
			if err := r.store.DeleteEvent(ev, false); err != nil {
				return fmt.Errorf("delete detached exception: %w", err)
			}
		}
	}

	if _, err := r.store.Save(master); err != nil {
		return fmt.Errorf("save master: %w", err)
	}
	return nil
}

// newBoundEvent builds an exception event for the master from an entry. The
// reconciler is the only creator of bound events; they are initialized
// directly, never via an import operation.
func (r *Reconciler) newBoundEvent(master *model.Event, entry Entry) *model.Event {
	ev := model.New(master.CalendarID)
	ev.UID = model.NewUID()
	ev.BaseUID = master.UID
	ev.ExceptionDate = entry.Date
	ev.Timezone = master.Timezone

	ev.Start = entry.Start
	ev.End = entry.End
	ev.AllDay = entry.AllDay
	ev.Title = entry.Title
	ev.Description = entry.Description
	ev.Location = entry.Location
	ev.Status = entry.Status
	ev.AlarmOffset = entry.AlarmOffset

	if ev.Title == "" {
		ev.Title = master.Title
	}
	if ev.Status == model.StatusNone {
		ev.Status = master.Status
	}

	ev.Initialized = true
	return ev
}
