package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dstephens/calwire/internal/model"
	"github.com/dstephens/calwire/internal/recurrence"
)

// EventStore is the SQLite implementation of Store.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

const eventColumns = `id, uid, calendar_id, sequence, title, description, location, url,
	organizer_email, status, private, start_time, end_time, timezone, all_day,
	rule, base_uid, exception_date, alarm_offset, snooze_offset,
	geo, attendees, resources, methods, other_attrs, created_at, updated_at`

// Save persists the event, inserting when it has no id yet. The event's ID
// and Stored flag are updated on success.
func (s *EventStore) Save(ev *model.Event) (int64, error) {
	if err := ev.CheckStorable(); err != nil {
		return 0, err
	}

	rule, err := marshalRule(ev.Rule)
	if err != nil {
		return 0, fmt.Errorf("marshal rule: %w", err)
	}
	geo, err := marshalJSON(ev.Geo)
	if err != nil {
		return 0, fmt.Errorf("marshal geo: %w", err)
	}
	attendees, err := marshalJSON(ev.Attendees)
	if err != nil {
		return 0, fmt.Errorf("marshal attendees: %w", err)
	}
	resources, err := marshalJSON(ev.Resources)
	if err != nil {
		return 0, fmt.Errorf("marshal resources: %w", err)
	}
	methods, err := marshalJSON(ev.Methods)
	if err != nil {
		return 0, fmt.Errorf("marshal methods: %w", err)
	}
	other, err := marshalJSON(ev.Other)
	if err != nil {
		return 0, fmt.Errorf("marshal other attributes: %w", err)
	}

	exceptionDate := ""
	if !ev.ExceptionDate.IsZero() {
		exceptionDate = ev.ExceptionDate.String()
	}

	args := []any{
		ev.UID, ev.CalendarID, ev.Sequence, ev.Title, ev.Description, ev.Location,
		ev.URL, ev.OrganizerEmail, int(ev.Status), boolInt(ev.Private),
		ev.Start.Format(time.RFC3339), ev.End.Format(time.RFC3339), ev.Timezone,
		boolInt(ev.AllDay), rule, ev.BaseUID, exceptionDate,
		ev.AlarmOffset, ev.SnoozeOffset, geo, attendees, resources, methods, other,
	}

	if ev.ID == 0 {
		result, err := s.db.Exec(
			`INSERT INTO events (uid, calendar_id, sequence, title, description, location,
			 url, organizer_email, status, private, start_time, end_time, timezone, all_day,
			 rule, base_uid, exception_date, alarm_offset, snooze_offset,
			 geo, attendees, resources, methods, other_attrs)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			args...,
		)
		if err != nil {
			return 0, fmt.Errorf("insert event: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("last insert id: %w", err)
		}
		ev.ID = id
	} else {
		args = append(args, ev.ID)
		if _, err := s.db.Exec(
			`UPDATE events SET uid = ?, calendar_id = ?, sequence = ?, title = ?,
			 description = ?, location = ?, url = ?, organizer_email = ?, status = ?,
			 private = ?, start_time = ?, end_time = ?, timezone = ?, all_day = ?,
			 rule = ?, base_uid = ?, exception_date = ?, alarm_offset = ?, snooze_offset = ?,
			 geo = ?, attendees = ?, resources = ?, methods = ?, other_attrs = ?,
			 updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			args...,
		); err != nil {
			return 0, fmt.Errorf("update event: %w", err)
		}
	}

	ev.Stored = true
	return ev.ID, nil
}

// GetByUID returns the event with the given uid, or nil when absent.
func (s *EventStore) GetByUID(uid string) (*model.Event, error) {
	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM events WHERE uid = ?`, uid)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query event by uid: %w", err)
	}
	return ev, nil
}

// Search returns events matching the predicate, ordered by start time.
func (s *EventStore) Search(p Predicate) ([]*model.Event, error) {
	var conds []string
	var args []any
	if p.UID != "" {
		conds = append(conds, "uid = ?")
		args = append(args, p.UID)
	}
	if p.BaseUID != "" {
		conds = append(conds, "base_uid = ?")
		args = append(args, p.BaseUID)
	}
	if p.CalendarID != "" {
		conds = append(conds, "calendar_id = ?")
		args = append(args, p.CalendarID)
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY start_time ASC, id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Exists returns the storage id of the event with the given uid in the given
// calendar, or 0 when absent.
func (s *EventStore) Exists(uid, calendarID string) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM events WHERE uid = ? AND calendar_id = ?`, uid, calendarID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query event exists: %w", err)
	}
	return id, nil
}

// DeleteEvent removes the event. Deleting a recurring master that still has
// bound exception events requires force, which removes them as well.
func (s *EventStore) DeleteEvent(ev *model.Event, force bool) error {
	if ev.Recurs() {
		bound, err := s.Search(Predicate{BaseUID: ev.UID})
		if err != nil {
			return err
		}
		if len(bound) > 0 {
			if !force {
				return fmt.Errorf("event %s has %d bound exceptions; delete requires force", ev.UID, len(bound))
			}
			for _, b := range bound {
				if _, err := s.db.Exec("DELETE FROM events WHERE id = ?", b.ID); err != nil {
					return fmt.Errorf("delete bound exception: %w", err)
				}
			}
		}
	}

	if _, err := s.db.Exec("DELETE FROM events WHERE id = ?", ev.ID); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	ev.Stored = false
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var (
		ev            model.Event
		private       int
		allDay        int
		startRaw      string
		endRaw        string
		status        int
		rule          sql.NullString
		exceptionDate string
		geo           sql.NullString
		attendees     sql.NullString
		resources     sql.NullString
		methods       sql.NullString
		other         sql.NullString
	)

	err := row.Scan(
		&ev.ID, &ev.UID, &ev.CalendarID, &ev.Sequence, &ev.Title, &ev.Description,
		&ev.Location, &ev.URL, &ev.OrganizerEmail, &status, &private,
		&startRaw, &endRaw, &ev.Timezone, &allDay,
		&rule, &ev.BaseUID, &exceptionDate, &ev.AlarmOffset, &ev.SnoozeOffset,
		&geo, &attendees, &resources, &methods, &other,
		&ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.Status = model.Status(status)
	ev.Private = private != 0
	ev.AllDay = allDay != 0

	loc := time.Local
	if ev.Timezone != "" {
		if l, err := time.LoadLocation(ev.Timezone); err == nil {
			loc = l
		}
	}
	if ev.Start, err = parseStoredTime(startRaw, loc); err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}
	if ev.End, err = parseStoredTime(endRaw, loc); err != nil {
		return nil, fmt.Errorf("parse end time: %w", err)
	}

	if rule.Valid && rule.String != "" {
		var r recurrence.Rule
		if err := json.Unmarshal([]byte(rule.String), &r); err != nil {
			return nil, fmt.Errorf("unmarshal rule: %w", err)
		}
		ev.Rule = &r
	}
	if exceptionDate != "" {
		d, err := recurrence.ParseDate(exceptionDate)
		if err != nil {
			return nil, fmt.Errorf("parse exception date: %w", err)
		}
		ev.ExceptionDate = d
	}

	if err := unmarshalInto(geo, &ev.Geo); err != nil {
		return nil, fmt.Errorf("unmarshal geo: %w", err)
	}
	if err := unmarshalInto(attendees, &ev.Attendees); err != nil {
		return nil, fmt.Errorf("unmarshal attendees: %w", err)
	}
	if err := unmarshalInto(resources, &ev.Resources); err != nil {
		return nil, fmt.Errorf("unmarshal resources: %w", err)
	}
	if err := unmarshalInto(methods, &ev.Methods); err != nil {
		return nil, fmt.Errorf("unmarshal methods: %w", err)
	}
	if err := unmarshalInto(other, &ev.Other); err != nil {
		return nil, fmt.Errorf("unmarshal other attributes: %w", err)
	}

	ev.Initialized = true
	ev.Stored = true
	return &ev, nil
}

func parseStoredTime(raw string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}

func marshalRule(r *recurrence.Rule) (sql.NullString, error) {
	if !r.Active() {
		return sql.NullString{}, nil
	}
	return marshalJSON(r)
}

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	s := string(b)
	if s == "null" || s == "{}" || s == "[]" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func unmarshalInto(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
