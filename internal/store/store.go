package store

import "github.com/dstephens/calwire/internal/model"

// Predicate narrows a Search. Zero fields are not matched against.
type Predicate struct {
	UID        string
	BaseUID    string
	CalendarID string
}

// Store is the persistence collaborator for events. The core treats it as
// serializing writes per event uid; a found miss on GetByUID is (nil, nil),
// not an error.
type Store interface {
	Search(p Predicate) ([]*model.Event, error)
	GetByUID(uid string) (*model.Event, error)
	Save(ev *model.Event) (int64, error)
	DeleteEvent(ev *model.Event, force bool) error
	Exists(uid, calendarID string) (int64, error)
}
