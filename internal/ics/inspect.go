package ics

import (
	"strings"

	ical "github.com/arran4/golang-ical"

	appLog "visitical/internal/log"
)

// Inspection summarizes a payload as read by a strict RFC 5545 parser. It is
// a cross-check of what generic calendar clients will see, independent of
// the tolerant Decoder.
type Inspection struct {
	ProdID     string   `json:"prod_id,omitempty"`
	Method     string   `json:"method,omitempty"`
	EventCount int      `json:"event_count"`
	UID        string   `json:"uid,omitempty"`
	TZID       string   `json:"tzid,omitempty"`
	Organizer  string   `json:"organizer,omitempty"`
	Attendees  []string `json:"attendees,omitempty"`
	Timezones  []string `json:"timezones,omitempty"`
}

// Inspect parses payload with github.com/arran4/golang-ical. Vendor
// parameters without a value (ACCESSPROFILEID) are dropped first because
// the strict grammar rejects them.
func Inspect(payload string) (*Inspection, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, validationError("payload", "is empty")
	}

	cal, err := ical.ParseCalendar(strings.NewReader(sanitizeForStrictParser(payload)))
	if err != nil {
		appLog.Error("ics strict parse failed", err)
		return nil, formatError("payload", "rejected by strict parser: %v", err)
	}

	out := &Inspection{}
	for _, p := range cal.CalendarProperties {
		switch p.IANAToken {
		case string(ical.PropertyProductId):
			out.ProdID = p.Value
		case string(ical.PropertyMethod):
			out.Method = p.Value
		}
	}

	for _, tz := range cal.Timezones() {
		if p := tz.GetProperty(ical.ComponentPropertyTzid); p != nil {
			out.Timezones = append(out.Timezones, p.Value)
		}
	}

	events := cal.Events()
	out.EventCount = len(events)
	if len(events) == 0 {
		return out, nil
	}

	ev := events[0]
	out.UID = ev.Id()
	if p := ev.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if tzs := p.ICalParameters[string(ical.ParameterTzid)]; len(tzs) > 0 {
			out.TZID = tzs[0]
		}
	}
	if p := ev.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
		out.Organizer = strings.TrimPrefix(p.Value, "mailto:")
	}
	for _, a := range ev.Attendees() {
		name := a.Email()
		if cn := a.ICalParameters[string(ical.ParameterCn)]; len(cn) > 0 && cn[0] != "" {
			name = cn[0]
		}
		out.Attendees = append(out.Attendees, name)
	}
	return out, nil
}

// sanitizeForStrictParser unfolds the payload and removes parameters that
// have no "=value" part.
func sanitizeForStrictParser(payload string) string {
	raw := splitLines(payload)
	lines := make([]string, 0, len(raw))
	for i := 0; i < len(raw); {
		logical, next := unfoldContinuations(raw, i)
		i = next
		if logical == "" {
			continue
		}
		lines = append(lines, dropBareParams(logical))
	}
	return strings.Join(lines, "\n") + "\n"
}

func dropBareParams(line string) string {
	j := indexUnquoted(line, ':')
	if j < 0 {
		return line
	}
	parts := splitUnquoted(line[:j], ';')
	if len(parts) == 1 {
		return line
	}
	kept := []string{parts[0]}
	for _, p := range parts[1:] {
		if strings.Contains(p, "=") {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ";") + line[j:]
}
