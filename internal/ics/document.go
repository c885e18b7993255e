package ics

import "strings"

// Calendar is the document tree produced by Encoder.Build and consumed by
// Serialize. It mirrors the component nesting of the text payload.
type Calendar struct {
	Method  string
	ProdID  string
	Version string

	TimeZone *VTimezone
	Event    *VEvent
	Venue    *VVenue
}

// VTimezone is the optional timezone component. Daylight is nil for zones
// without daylight saving.
type VTimezone struct {
	TZID     string
	Standard ZoneRule
	Daylight *ZoneRule
}

// ZoneRule is one STANDARD or DAYLIGHT sub-block.
type ZoneRule struct {
	DTStart    string // YYYYMMDDTHHMMSS
	OffsetFrom string
	OffsetTo   string
	Name       string
}

// ZonedTime is a wall-clock timestamp qualified by a TZID parameter.
type ZonedTime struct {
	TZID  string
	Value string // YYYYMMDDTHHMMSS
}

// VEvent carries the visit itself. All values are already rendered to
// their textual form; empty optional values are not serialized.
type VEvent struct {
	Start ZonedTime
	End   ZonedTime
	RRule *RRule

	Stamp        string // YYYYMMDDTHHMMSSZ
	Created      string
	LastModified string

	Organizer Organizer
	UID       string
	Attendees []Attendee

	Description  string
	Summary      string
	Location     string
	Class        string
	Priority     string
	Transparency string
	Status       string
	Sequence     string

	AccessProfiles []string
	InstitutionID  string
	IdentityType   string

	OwnerApptID     string
	ApptSequence    string
	BusyStatus      string
	IntendedStatus  string
	AllDayEvent     string
	Importance      string
	InstType        string
	DoNotForward    string
	DisallowCounter string

	FAndFInfo           string
	Suite               string
	NotifyOnArrival     string
	SendMailToVisitors  string
	Notes               string
	SpecialInstructions string

	UTCArrivalDate   string // YYYY-MM-DD
	UTCArrivalTime   string // HH:mm
	UTCDepartureDate string
	UTCDepartureTime string
	FloorID          string
}

// Organizer is the ORGANIZER property. CN may be empty.
type Organizer struct {
	CN     string
	MailTo string
}

// String renders the unfolded content line.
func (o Organizer) String() string {
	var b strings.Builder
	b.WriteString("ORGANIZER")
	if o.CN != "" {
		b.WriteString(";CN=")
		b.WriteString(o.CN)
	}
	b.WriteString(":mailto:")
	b.WriteString(o.MailTo)
	return b.String()
}

// Attendee is one ATTENDEE property with its vendor sub-fields.
type Attendee struct {
	CUType   string
	Role     string
	PartStat string
	RSVP     string
	CN       string

	MailTo       string
	Tel          string
	CardholderID string
	CountryCode  string
	CountryID    string
	Company      string
	FirstName    string
	LastName     string
	MailID       string
}

// Attendee sub-field markers, in emission order after mailto.
const (
	markerMailTo      = "mailto"
	markerTel         = "Tel"
	markerCardholder  = "X-KASTLE-CARDHOLDERGUID"
	markerCountryCode = "X-KASTLE-COUNTRYCODE"
	markerCountryID   = "X-KASTLE-COUNTRYID"
	markerCompany     = "X-KASTLE-VISITORCOMPANY"
	markerFirstName   = "X-KASTLE-FN"
	markerLastName    = "X-KASTLE-LN"
	markerMailID      = "X-KASTLE-MAILID"
)

// String renders the unfolded content line. Empty sub-fields are omitted.
func (a Attendee) String() string {
	var b strings.Builder
	b.WriteString("ATTENDEE;CUTYPE=")
	b.WriteString(a.CUType)
	writeParam(&b, "ROLE", a.Role)
	writeParam(&b, "PARSTAT", a.PartStat)
	writeParam(&b, "RSVP", strings.ToUpper(a.RSVP))
	writeParam(&b, "CN", a.CN)

	writeMarker(&b, markerMailTo, a.MailTo)
	writeMarker(&b, markerTel, a.Tel)
	writeMarker(&b, markerCardholder, a.CardholderID)
	writeMarker(&b, markerCountryCode, a.CountryCode)
	writeMarker(&b, markerCountryID, a.CountryID)
	writeMarker(&b, markerCompany, a.Company)
	writeMarker(&b, markerFirstName, a.FirstName)
	writeMarker(&b, markerLastName, a.LastName)
	writeMarker(&b, markerMailID, a.MailID)
	return b.String()
}

// RRule holds the components of a recurrence rule as rendered text.
type RRule struct {
	Freq       string
	ByDay      string
	ByMonth    string
	Until      string
	Interval   string
	Count      string
	BySetPos   string
	ByMonthDay string
	WKST       string
}

// Value renders the rule without the "RRULE:" prefix, in the fixed
// component order.
func (r RRule) Value() string {
	parts := []string{"FREQ=" + r.Freq}
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("BYDAY", r.ByDay)
	add("BYMONTH", r.ByMonth)
	add("UNTIL", r.Until)
	add("INTERVAL", r.Interval)
	add("COUNT", r.Count)
	add("BYSETPOS", r.BySetPos)
	add("BYMONTHDAY", r.ByMonthDay)
	add("WKST", r.WKST)
	return strings.Join(parts, ";")
}

// VVenue is the visiting company block.
type VVenue struct {
	UID           string
	Name          string
	StreetAddress string
}

func writeParam(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	b.WriteByte(';')
	b.WriteString(name)
	b.WriteByte('=')
	b.WriteString(value)
}

func writeMarker(b *strings.Builder, marker, value string) {
	if value == "" {
		return
	}
	b.WriteByte(':')
	b.WriteString(marker)
	b.WriteByte(':')
	b.WriteString(value)
}
