package ics

import (
	"strings"

	"github.com/google/uuid"

	"visitical/internal/model"
)

var attendeeMarkers = []string{
	markerMailTo, markerTel, markerCardholder, markerCountryCode, markerCountryID,
	markerCompany, markerFirstName, markerLastName, markerMailID,
}

// parseAttendee rebuilds a visitor from an unfolded ATTENDEE line.
func parseAttendee(line string) model.Visitor {
	c := parseContentLine(line)
	v := model.Visitor{
		TypeOfVisitor:       c.Param("CUTYPE"),
		Role:                c.Param("ROLE"),
		ParticipationStatus: c.Param("PARSTAT"),
		ResponseRequired:    strings.EqualFold(strings.TrimSpace(c.Param("RSVP")), "TRUE"),
	}
	v.FirstName, v.LastName = splitDisplayName(c.Param("CN"))

	f := attendeeFields(c.Value)
	v.Email = f[markerMailTo]
	if mail := f[markerMailID]; mail != "" {
		v.Email = mail
	}
	v.MobileNumber = f[markerTel]
	v.CountryPrefix = f[markerCountryCode]
	v.CountryID = f[markerCountryID]
	v.Company = f[markerCompany]
	if id, err := uuid.Parse(f[markerCardholder]); err == nil {
		v.CardholderID = id.String()
	}
	// Explicit name sub-fields are exact; the CN split is a fallback.
	if ln := f[markerLastName]; ln != "" {
		v.FirstName, v.LastName = f[markerFirstName], ln
	}
	return v
}

// attendeeFields splits the ':'-separated tail of an attendee line into
// marker -> value. A token that is not a marker belongs to the value of the
// preceding marker, so values containing ':' survive.
func attendeeFields(value string) map[string]string {
	out := make(map[string]string, len(attendeeMarkers))
	current, started := "", false
	for _, tok := range strings.Split(value, ":") {
		if m, ok := lookupMarker(tok); ok {
			current, started = m, false
			continue
		}
		if current == "" {
			continue
		}
		if started {
			out[current] += ":" + tok
		} else {
			out[current] = tok
			started = true
		}
	}
	for k, v := range out {
		out[k] = strings.TrimSpace(v)
	}
	return out
}

func lookupMarker(tok string) (string, bool) {
	tok = strings.TrimSpace(tok)
	for _, m := range attendeeMarkers {
		if strings.EqualFold(tok, m) {
			return m, true
		}
	}
	return "", false
}

// hasAttendeeMarker reports whether any ':'-separated token of value would
// be read back as a sub-field marker.
func hasAttendeeMarker(value string) bool {
	for _, tok := range strings.Split(value, ":") {
		if _, ok := lookupMarker(tok); ok {
			return true
		}
	}
	return false
}

// splitDisplayName splits an attendee CN. Two tokens are first and last
// name; with more, the first two tokens form the first name; a single
// token is the last name.
func splitDisplayName(cn string) (first, last string) {
	tokens := strings.Fields(cn)
	switch len(tokens) {
	case 0:
		return "", ""
	case 1:
		return "", tokens[0]
	case 2:
		return tokens[0], tokens[1]
	default:
		return strings.Join(tokens[:2], " "), strings.Join(tokens[2:], " ")
	}
}

// splitOrganizerName treats the first token as the first name and the rest
// as the last name.
func splitOrganizerName(cn string) (first, last string) {
	tokens := strings.Fields(cn)
	switch len(tokens) {
	case 0:
		return "", ""
	case 1:
		return "", tokens[0]
	default:
		return tokens[0], strings.Join(tokens[1:], " ")
	}
}
