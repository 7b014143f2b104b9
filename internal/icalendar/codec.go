// Package icalendar converts events to and from calendar text, speaking both
// the RFC 5545 iCalendar 2.0 dialect and the legacy vCalendar 1.0 dialect.
package icalendar

import (
	"errors"
	"log/slog"

	"github.com/emersion/go-ical"

	"github.com/dstephens/calwire/internal/attach"
	"github.com/dstephens/calwire/internal/reconcile"
	"github.com/dstephens/calwire/internal/store"
)

// Dialect selects the calendar text grammar.
type Dialect int

const (
	// DialectV1 is vCalendar 1.0, still spoken by legacy sync peers.
	DialectV1 Dialect = iota + 1
	// DialectV2 is iCalendar 2.0 per RFC 5545.
	DialectV2
)

// Version returns the VERSION property value for the dialect.
func (d Dialect) Version() string {
	if d == DialectV1 {
		return "1.0"
	}
	return "2.0"
}

var (
	// ErrMalformedInput is returned when a component is missing a property
	// the grammar requires. Optional property failures never surface.
	ErrMalformedInput = errors.New("malformed calendar input")

	// ErrMasterNotFound is returned when an exception component references a
	// recurring series that is not in storage.
	ErrMasterNotFound = errors.New("master series not found")
)

const prodID = "-//dstephens//calwire//EN"

// Codec encodes and decodes events. Store and Reconciler are needed for
// recurrence exceptions; Attachments is optional and enables ATTACH handling.
type Codec struct {
	Store       store.Store
	Reconciler  *reconcile.Reconciler
	Attachments attach.Store
	Log         *slog.Logger
}

func NewCodec(st store.Store, rec *reconcile.Reconciler, log *slog.Logger) *Codec {
	if log == nil {
		log = slog.Default()
	}
	return &Codec{Store: st, Reconciler: rec, Log: log}
}

// DetectDialect inspects a parsed calendar's VERSION property.
func DetectDialect(cal *ical.Calendar) Dialect {
	if p := cal.Props.Get(ical.PropVersion); p != nil && p.Value == "1.0" {
		return DialectV1
	}
	return DialectV2
}
