package icalendar

import (
	"strings"

	"github.com/dstephens/calwire/internal/model"
)

// Property and parameter names that differ between the dialects or are not
// part of the go-ical vocabulary.
const (
	propTransp       = "TRANSP"
	propRRule        = "RRULE"
	propExDate       = "EXDATE"
	propRecurrenceID = "RECURRENCE-ID"
	propResources    = "RESOURCES"
	propAAlarm       = "AALARM"

	// Internal attendees have no routable address; they travel as an
	// extension property carrying the account id.
	propInternalAttendee = "X-CALWIRE-ATTENDEE"

	paramCN       = "CN"
	paramRole     = "ROLE"
	paramPartStat = "PARTSTAT"
	paramRSVP     = "RSVP"
	paramExpect   = "EXPECT"
	paramStatus   = "STATUS"
	paramRelated  = "RELATED"
	paramEncoding = "ENCODING"
	paramFmtType  = "FMTTYPE"
	paramFilename = "X-FILENAME"
)

// statusValues returns the STATUS and TRANSP values for a status in the given
// dialect. Empty strings mean the property is omitted.
func statusValues(s model.Status, d Dialect) (status, transp string) {
	if d == DialectV1 {
		switch s {
		case model.StatusFree:
			return "FREE", "1"
		case model.StatusTentative:
			return "TENTATIVE", "0"
		case model.StatusConfirmed:
			return "CONFIRMED", "0"
		case model.StatusCancelled:
			// vCalendar 1.0 has no CANCELLED status.
			return "DECLINED", "1"
		}
		return "", ""
	}
	switch s {
	case model.StatusFree:
		return "FREE", "TRANSPARENT"
	case model.StatusTentative:
		return "TENTATIVE", "OPAQUE"
	case model.StatusConfirmed:
		return "CONFIRMED", "OPAQUE"
	case model.StatusCancelled:
		return "CANCELLED", "TRANSPARENT"
	}
	return "", ""
}

// parseStatus maps a wire STATUS value back to a status. Unknown values map
// to none, which the encoder omits.
func parseStatus(value string) model.Status {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "FREE":
		return model.StatusFree
	case "TENTATIVE":
		return model.StatusTentative
	case "CONFIRMED":
		return model.StatusConfirmed
	case "CANCELLED", "DECLINED":
		return model.StatusCancelled
	}
	return model.StatusNone
}

func roleValue(r model.Role, d Dialect) string {
	if d == DialectV1 {
		switch r {
		case model.RoleRequired:
			return "REQUIRE"
		case model.RoleOptional:
			return "REQUEST"
		}
		return "FYI"
	}
	switch r {
	case model.RoleRequired:
		return "REQ-PARTICIPANT"
	case model.RoleOptional:
		return "OPT-PARTICIPANT"
	}
	return "NON-PARTICIPANT"
}

func parseRole(value string) model.Role {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "OPT-PARTICIPANT", "REQUEST":
		return model.RoleOptional
	case "NON-PARTICIPANT", "FYI":
		return model.RoleNone
	}
	// REQ-PARTICIPANT, REQUIRE, CHAIR, and anything unrecognized.
	return model.RoleRequired
}

// responseValues returns the participation-status value and, for an
// unanswered invitation, the RSVP request value.
func responseValues(r model.Response, d Dialect) (partstat, rsvp string) {
	if d == DialectV1 {
		switch r {
		case model.ResponseAccepted:
			return "ACCEPTED", ""
		case model.ResponseDeclined:
			return "DECLINED", ""
		case model.ResponseTentative:
			return "TENTATIVE", ""
		}
		return "NEEDS ACTION", "YES"
	}
	switch r {
	case model.ResponseAccepted:
		return "ACCEPTED", ""
	case model.ResponseDeclined:
		return "DECLINED", ""
	case model.ResponseTentative:
		return "TENTATIVE", ""
	}
	return "NEEDS-ACTION", "TRUE"
}

func parseResponse(value string) model.Response {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "ACCEPTED":
		return model.ResponseAccepted
	case "DECLINED":
		return model.ResponseDeclined
	case "TENTATIVE":
		return model.ResponseTentative
	}
	return model.ResponseNone
}
