package reconcile

import (
	"testing"
	"time"

	"github.com/dstephens/calwire/internal/database"
	"github.com/dstephens/calwire/internal/model"
	"github.com/dstephens/calwire/internal/recurrence"
	"github.com/dstephens/calwire/internal/store"
)

func setupReconciler(t *testing.T) (*Reconciler, *store.EventStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.NewEventStore(db)
	return New(st, nil), st
}

func storedMaster(t *testing.T, st *store.EventStore) *model.Event {
	t.Helper()
	master := model.New("personal")
	master.UID = "master-uid"
	master.Title = "Standup"
	master.Start = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	master.End = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	master.Rule = recurrence.NewRule(recurrence.TypeDaily)
	master.Initialized = true
	if _, err := st.Save(master); err != nil {
		t.Fatalf("save master: %v", err)
	}
	return master
}

func date(y int, m time.Month, d int) recurrence.Date {
	return recurrence.Date{Year: y, Month: m, Day: d}
}

func TestMaterializeExceptionList(t *testing.T) {
	r, st := setupReconciler(t)
	master := storedMaster(t, st)
	master.Rule.AddException(2024, time.January, 1)
	master.Rule.AddException(2024, time.January, 8)

	err := r.ReconcileOrphan(master, date(2024, time.January, 1), &Entry{
		Start: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC),
		Title: "Standup (moved)",
	})
	if err != nil {
		t.Fatalf("reconcile orphan: %v", err)
	}

	bound, deletions, err := r.MaterializeExceptionList(master)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(bound) != 1 {
		t.Fatalf("bound = %d, want 1", len(bound))
	}
	if bound[0].ExceptionDate != date(2024, time.January, 1) {
		t.Errorf("bound date = %v", bound[0].ExceptionDate)
	}
	if len(deletions) != 1 || deletions[0] != date(2024, time.January, 8) {
		t.Errorf("pure deletions = %v, want [20240108]", deletions)
	}

	// The master's own exception set must not have been consumed.
	if len(master.Rule.Exceptions) != 2 {
		t.Errorf("master exceptions = %d, want 2", len(master.Rule.Exceptions))
	}
}

func TestReconcileLegacyIdempotent(t *testing.T) {
	r, st := setupReconciler(t)
	master := storedMaster(t, st)

	incoming := []Entry{
		{Date: date(2024, time.January, 2), Deleted: true},
		{
			Date:  date(2024, time.January, 3),
			Start: time.Date(2024, 1, 3, 11, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, 3, 11, 30, 0, 0, time.UTC),
			Title: "Standup (late)",
		},
	}

	for i := 0; i < 2; i++ {
		if err := r.ReconcileLegacy(master, incoming); err != nil {
			t.Fatalf("reconcile pass %d: %v", i+1, err)
		}
	}

	bound, deletions, err := r.MaterializeExceptionList(master)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(bound) != 1 {
		t.Fatalf("bound = %d, want 1 after two identical passes", len(bound))
	}
	if len(deletions) != 1 || deletions[0] != date(2024, time.January, 2) {
		t.Errorf("deletions = %v", deletions)
	}
	if len(master.Rule.Exceptions) != 2 {
		t.Errorf("exception dates = %d, want 2 (no duplicates)", len(master.Rule.Exceptions))
	}
}

func TestReconcileLegacyFullReplace(t *testing.T) {
	r, st := setupReconciler(t)
	master := storedMaster(t, st)

	first := []Entry{
		{Date: date(2024, time.January, 2), Title: "A", Start: master.Start.AddDate(0, 0, 1), End: master.End.AddDate(0, 0, 1)},
		{Date: date(2024, time.January, 3), Deleted: true},
	}
	if err := r.ReconcileLegacy(master, first); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	// The second list omits both previous entries: they are gone.
	second := []Entry{
		{Date: date(2024, time.January, 5), Deleted: true},
	}
	if err := r.ReconcileLegacy(master, second); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}

	bound, deletions, err := r.MaterializeExceptionList(master)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(bound) != 0 {
		t.Errorf("bound = %d, want 0", len(bound))
	}
	if len(deletions) != 1 || deletions[0] != date(2024, time.January, 5) {
		t.Errorf("deletions = %v, want [20240105]", deletions)
	}
}

func TestReconcileOrphanLeavesOtherDatesAlone(t *testing.T) {
	r, st := setupReconciler(t)
	master := storedMaster(t, st)

	if err := r.ReconcileOrphan(master, date(2024, time.January, 2), &Entry{
		Start: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC),
		Title: "moved A",
	}); err != nil {
		t.Fatalf("orphan A: %v", err)
	}

	bound, _, _ := r.MaterializeExceptionList(master)
	if len(bound) != 1 {
		t.Fatalf("bound = %d", len(bound))
	}
	firstUID := bound[0].UID

	if err := r.ReconcileOrphan(master, date(2024, time.January, 9), &Entry{
		Start: time.Date(2024, 1, 9, 12, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 9, 12, 30, 0, 0, time.UTC),
		Title: "moved B",
	}); err != nil {
		t.Fatalf("orphan B: %v", err)
	}

	bound, _, err := r.MaterializeExceptionList(master)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(bound) != 2 {
		t.Fatalf("bound = %d, want 2", len(bound))
	}
	for _, ev := range bound {
		if ev.ExceptionDate == date(2024, time.January, 2) && ev.UID != firstUID {
			t.Error("orphan update for a different date replaced an unrelated exception")
		}
	}
}

func TestReconcileOrphanReplacesSameDate(t *testing.T) {
	r, st := setupReconciler(t)
	master := storedMaster(t, st)
	d := date(2024, time.January, 2)

	for _, title := range []string{"first", "second"} {
		if err := r.ReconcileOrphan(master, d, &Entry{
			Start: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC),
			Title: title,
		}); err != nil {
			t.Fatalf("orphan %q: %v", title, err)
		}
	}

	bound, _, err := r.MaterializeExceptionList(master)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(bound) != 1 {
		t.Fatalf("bound = %d, want 1 (replaced, not duplicated)", len(bound))
	}
	if bound[0].Title != "second" {
		t.Errorf("title = %q, want %q", bound[0].Title, "second")
	}
	if len(master.Rule.Exceptions) != 1 {
		t.Errorf("exception dates = %d, want 1", len(master.Rule.Exceptions))
	}
}

func TestReconcileOrphanDeleteOnly(t *testing.T) {
	r, st := setupReconciler(t)
	master := storedMaster(t, st)
	d := date(2024, time.January, 2)

	if err := r.ReconcileOrphan(master, d, &Entry{Title: "moved", Start: master.Start, End: master.End}); err != nil {
		t.Fatalf("orphan create: %v", err)
	}
	if err := r.ReconcileOrphan(master, d, nil); err != nil {
		t.Fatalf("orphan delete: %v", err)
	}

	bound, deletions, err := r.MaterializeExceptionList(master)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(bound) != 0 {
		t.Errorf("bound = %d, want 0", len(bound))
	}
	if len(deletions) != 1 || deletions[0] != d {
		t.Errorf("deletions = %v", deletions)
	}
}

func TestDisconnectExceptionsDetach(t *testing.T) {
	r, st := setupReconciler(t)
	master := storedMaster(t, st)

	if err := r.ReconcileOrphan(master, date(2024, time.January, 2), &Entry{
		Title: "moved", Start: master.Start.AddDate(0, 0, 1), End: master.End.AddDate(0, 0, 1),
	}); err != nil {
		t.Fatalf("orphan: %v", err)
	}

	if err := r.DisconnectExceptions(master, false); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	if len(master.Rule.Exceptions) != 0 {
		t.Errorf("exception dates = %d, want 0", len(master.Rule.Exceptions))
	}
	bound, _ := st.Search(store.Predicate{BaseUID: master.UID})
	if len(bound) != 0 {
		t.Errorf("bound = %d, want 0 after detach", len(bound))
	}
	// The detached event survives as a standalone event.
	standalone, _ := st.Search(store.Predicate{CalendarID: "personal"})
	found := false
	for _, ev := range standalone {
		if ev.Title == "moved" && ev.BaseUID == "" {
			found = true
		}
	}
	if !found {
		t.Error("detached event missing from storage")
	}
}

func TestDisconnectExceptionsDelete(t *testing.T) {
	r, st := setupReconciler(t)
	master := storedMaster(t, st)

	if err := r.ReconcileOrphan(master, date(2024, time.January, 2), &Entry{
		Title: "moved", Start: master.Start.AddDate(0, 0, 1), End: master.End.AddDate(0, 0, 1),
	}); err != nil {
		t.Fatalf("orphan: %v", err)
	}

	if err := r.DisconnectExceptions(master, true); err != nil {
		t.Fatalf("disconnect delete: %v", err)
	}

	all, _ := st.Search(store.Predicate{CalendarID: "personal"})
	for _, ev := range all {
		if ev.Title == "moved" {
			t.Error("exception event should be deleted")
		}
	}
}
