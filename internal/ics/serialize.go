package ics

import "strings"

// Serialize renders doc as the text payload. Lines end in "\n" only.
// Organizer, attendee, description, notes and special-instruction lines are
// folded at foldWidth characters.
func Serialize(doc *Calendar) (string, error) {
	if doc == nil || doc.Event == nil {
		return "", validationError("Event", "is required")
	}
	ev := doc.Event
	if len(ev.Attendees) == 0 {
		return "", validationError("Event.Attendees", "must not be empty")
	}
	if ev.Start.TZID == "" || ev.Start.Value == "" {
		return "", validationError("Event.Start", "must carry a TZID and a timestamp")
	}
	if ev.End.TZID == "" || ev.End.Value == "" {
		return "", validationError("Event.End", "must carry a TZID and a timestamp")
	}

	w := &payloadWriter{}
	w.line("BEGIN:VCALENDAR")
	w.prop("METHOD", doc.Method)
	w.prop("PRODID", doc.ProdID)
	w.prop("VERSION", doc.Version)

	if tz := doc.TimeZone; tz != nil {
		w.line("BEGIN:VTIMEZONE")
		w.prop("TZID", tz.TZID)
		w.zoneRule("STANDARD", tz.Standard)
		if tz.Daylight != nil {
			w.zoneRule("DAYLIGHT", *tz.Daylight)
		}
		w.line("END:VTIMEZONE")
	}

	w.line("BEGIN:VEVENT")
	w.line("DTSTART;TZID=" + ev.Start.TZID + ":" + ev.Start.Value)
	w.line("DTEND;TZID=" + ev.End.TZID + ":" + ev.End.Value)
	if ev.RRule != nil {
		w.prop("RRULE", ev.RRule.Value())
	}
	w.prop("DTSTAMP", ev.Stamp)
	w.folded(ev.Organizer.String())
	w.prop("UID", ev.UID)
	for _, a := range ev.Attendees {
		w.folded(a.String())
	}
	w.prop("CREATED", ev.Created)
	w.prop("LAST-MODIFIED", ev.LastModified)
	if ev.Description != "" {
		w.folded("DESCRIPTION:" + ev.Description)
	}
	w.prop("SUMMARY", ev.Summary)
	w.optional("LOCATION", ev.Location)
	w.optional("CLASS", ev.Class)
	w.prop("PRIORITY", ev.Priority)
	w.optional("TRANSP", ev.Transparency)
	w.optional("STATUS", ev.Status)
	w.prop("SEQUENCE", ev.Sequence)
	for _, p := range ev.AccessProfiles {
		w.line("X-KASTLE-ACCESSPROFILES;ACCESSPROFILEID:" + p)
	}
	w.prop("X-KASTLE-INSTITUTIONID", ev.InstitutionID)
	w.prop("X-KASTLE-IDENTITYTYPE", ev.IdentityType)
	w.optional("X-MICROSOFT-CDO-OWNERAPPTID", ev.OwnerApptID)
	w.optional("X-MICROSOFT-CDO-APPT-SEQUENCE", ev.ApptSequence)
	w.optional("X-MICROSOFT-CDO-BUSYSTATUS", ev.BusyStatus)
	w.optional("X-MICROSOFT-CDO-INTENDEDSTATUS", ev.IntendedStatus)
	w.optional("X-MICROSOFT-CDO-ALLDAYEVENT", ev.AllDayEvent)
	w.optional("X-MICROSOFT-CDO-IMPORTANCE", ev.Importance)
	w.optional("X-MICROSOFT-CDO-INSTTYPE", ev.InstType)
	w.optional("X-MICROSOFT-DONOTFORWARDMEETING", ev.DoNotForward)
	w.optional("X-MICROSOFT-DISALLOW-COUNTER", ev.DisallowCounter)
	w.optional("X-KASTLE-FANDFINFO", ev.FAndFInfo)
	w.optional("X-KASTLE-SUITE", ev.Suite)
	w.optional("X-KASTLE-NOTIFYONARRIVAL", ev.NotifyOnArrival)
	w.optional("X-KASTLE-SENDMAILTOVISITORS", ev.SendMailToVisitors)
	if ev.Notes != "" {
		w.folded("X-KASTLE-NOTES:" + ev.Notes)
	}
	if ev.SpecialInstructions != "" {
		w.folded("X-KASTLE-SPECIALINSTRUCTIONS:" + ev.SpecialInstructions)
	}
	w.prop("X-KASTLE-UTCARRIVALDATE", ev.UTCArrivalDate)
	w.prop("X-KASTLE-UTCARRIVALTIME", ev.UTCArrivalTime)
	w.prop("X-KASTLE-UTCDEPARTUREDATE", ev.UTCDepartureDate)
	w.prop("X-KASTLE-UTCDEPARTURETIME", ev.UTCDepartureTime)
	w.prop("X-KASTLE-FLOORID", ev.FloorID)
	w.line("END:VEVENT")

	if v := doc.Venue; v != nil {
		w.line("BEGIN:VVENUE")
		w.prop("UID", v.UID)
		w.optional("NAME", v.Name)
		w.optional("STREET-ADDRESS", v.StreetAddress)
		w.line("END:VVENUE")
	}

	w.line("END:VCALENDAR")
	return w.String(), nil
}

type payloadWriter struct {
	strings.Builder
}

func (w *payloadWriter) line(s string) {
	w.WriteString(s)
	w.WriteByte('\n')
}

func (w *payloadWriter) prop(name, value string) {
	w.line(name + ":" + value)
}

func (w *payloadWriter) optional(name, value string) {
	if value != "" {
		w.prop(name, value)
	}
}

func (w *payloadWriter) folded(s string) {
	for _, chunk := range foldLine(s) {
		w.line(chunk)
	}
}

func (w *payloadWriter) zoneRule(tag string, z ZoneRule) {
	w.line("BEGIN:" + tag)
	w.prop("DTSTART", z.DTStart)
	w.prop("TZOFFSETFROM", z.OffsetFrom)
	w.prop("TZOFFSETTO", z.OffsetTo)
	w.optional("TZNAME", z.Name)
	w.line("END:" + tag)
}
