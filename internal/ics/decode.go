package ics

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	appLog "visitical/internal/log"
	"visitical/internal/model"
)

// DefaultDecodeProdID is stamped on requests whose payload has no PRODID.
const DefaultDecodeProdID = "Microsoft Exchange server 2010"

type DecoderOptions struct {
	// ProdID is used when the payload carries no PRODID.
	ProdID string
	// Zones localizes a decoded UNTIL to the visit's timezone.
	Zones ZoneResolver
}

// Decoder rebuilds visit requests from text payloads. It is tolerant of
// missing optional fields but fails on values it cannot parse.
type Decoder struct {
	opts DecoderOptions
}

func NewDecoder(opts DecoderOptions) *Decoder {
	if opts.ProdID == "" {
		opts.ProdID = DefaultDecodeProdID
	}
	if opts.Zones == nil {
		opts.Zones = SystemZones
	}
	return &Decoder{opts: opts}
}

// Decode parses payload into a VisitRequest.
func (d *Decoder) Decode(payload string) (*model.VisitRequest, error) {
	req, err := d.decode(payload)
	if err != nil {
		appLog.Error("ics decode failed", err)
		return nil, err
	}
	appLog.Debug("ics decode completed", "visit_id", req.VisitID, "attendee_count", len(req.Visitors))
	return req, nil
}

func (d *Decoder) decode(payload string) (*model.VisitRequest, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, validationError("payload", "is empty")
	}
	event := extractBlock(payload, "VEVENT")
	if event == "" {
		return nil, validationError("VEVENT", "block not found")
	}

	req := &model.VisitRequest{ProdID: d.opts.ProdID}
	for _, l := range splitLines(payload) {
		if propertyName(l) == "PRODID" {
			if v := strings.TrimSpace(parseContentLine(l).Value); v != "" {
				req.ProdID = v
			}
			break
		}
	}

	if err := decodeEvent(req, splitLines(event)); err != nil {
		return nil, err
	}

	if block := extractBlock(payload, "VTIMEZONE"); block != "" {
		tz, err := decodeTimezone(block)
		if err != nil {
			return nil, err
		}
		req.TimeZone = tz
	}
	if block := extractBlock(payload, "VVENUE"); block != "" {
		req.Venue = decodeVenue(block)
	}

	for i := range req.Visitors {
		if req.Visitors[i].CardholderID == "" {
			req.Visitors[i].CardholderID = uuid.NewString()
		}
	}
	if rec := req.Recurrence; rec != nil && rec.Until != nil {
		d.localizeUntil(rec, req.Timezone, eventProperty(splitLines(event), "RRULE"))
	}
	return req, nil
}

// localizeUntil reduces UNTIL to a calendar date. A UTC value ("...Z") is
// read in the visit's zone; a date or floating value is taken as written.
func (d *Decoder) localizeUntil(rec *model.Recurrence, tz, rule string) {
	until := dateOnly(*rec.Until)
	if untilIsUTC(rule) && tz != "" {
		if loc, err := d.opts.Zones.Resolve(tz); err == nil {
			until = dateOnly(rec.Until.In(loc))
		}
	}
	rec.Until = &until
}

// eventProperty returns the unfolded value of the first name line.
func eventProperty(lines []string, name string) string {
	for i := range lines {
		if propertyName(lines[i]) == name {
			logical, _ := unfoldContinuations(lines, i)
			return parseContentLine(logical).Value
		}
	}
	return ""
}

// decodeEvent walks the event lines once. Multi-line vendor text and
// attendee groups extend to the next reserved property name; every other
// property spans its line plus RFC-style continuation lines.
func decodeEvent(req *model.VisitRequest, lines []string) error {
	for i := 0; i < len(lines); {
		switch name := propertyName(lines[i]); name {
		case "":
			i++
		case "BEGIN":
			i = skipComponent(lines, i)
		case "ORGANIZER", "DESCRIPTION", "X-KASTLE-NOTES", "X-KASTLE-SPECIALINSTRUCTIONS", "ATTENDEE":
			logical, next := collectFolded(lines, i)
			applyFolded(req, name, logical)
			i = next
		default:
			logical, next := unfoldContinuations(lines, i)
			if err := applyProperty(req, parseContentLine(logical)); err != nil {
				return err
			}
			i = next
		}
	}
	return nil
}

func applyFolded(req *model.VisitRequest, name, logical string) {
	c := parseContentLine(logical)
	switch name {
	case "ORGANIZER":
		req.UserFirstName, req.UserLastName = splitOrganizerName(c.Param("CN"))
		mail := strings.TrimSpace(c.Value)
		if len(mail) >= len("mailto:") && strings.EqualFold(mail[:len("mailto:")], "mailto:") {
			mail = mail[len("mailto:"):]
		}
		req.UserEmail = strings.TrimSpace(mail)
	case "DESCRIPTION":
		req.Description = c.Value
	case "X-KASTLE-NOTES":
		req.Notes = c.Value
	case "X-KASTLE-SPECIALINSTRUCTIONS":
		req.SpecialInstructions = c.Value
	case "ATTENDEE":
		req.Visitors = append(req.Visitors, parseAttendee(logical))
	}
}

func applyProperty(req *model.VisitRequest, c contentLine) error {
	v := strings.TrimSpace(c.Value)
	if c.Name == "UID" {
		// An identifier that does not parse is replaced, never rejected.
		if id, err := uuid.Parse(v); err == nil {
			req.VisitID = id.String()
		} else {
			req.VisitID = uuid.NewString()
		}
		return nil
	}
	if v == "" {
		return nil
	}

	switch c.Name {
	case "DTSTART":
		date, clk, err := parseZoned(c)
		if err != nil {
			return err
		}
		req.ArrivalDate, req.ArrivalTime = date, clk.String()
		req.Timezone = zoneOf(c)
	case "DTEND":
		date, clk, err := parseZoned(c)
		if err != nil {
			return err
		}
		req.DepartureDate, req.DepartureTime = date, clk.String()
		if req.Timezone == "" {
			req.Timezone = zoneOf(c)
		}
	case "RRULE":
		rec, err := parseRRule(v)
		if err != nil {
			return err
		}
		req.Recurrence = rec
	case "DTSTAMP", "CREATED", "LAST-MODIFIED":
		t, err := parseStamp(v)
		if err != nil {
			return formatError(c.Name, "unparseable timestamp %q", v)
		}
		switch c.Name {
		case "DTSTAMP":
			req.CreatedOn = &t
		case "CREATED":
			req.CreationDate = t
		default:
			req.LastModified = &t
		}
	case "SUMMARY":
		req.Summary = c.Value
	case "LOCATION":
		req.Location = c.Value
	case "PRIORITY", "SEQUENCE":
		n, err := strconv.Atoi(v)
		if err != nil {
			return formatError(c.Name, "must be an integer, got %q", v)
		}
		if c.Name == "PRIORITY" {
			req.Priority = strconv.Itoa(n)
		} else {
			req.Sequence = strconv.Itoa(n)
		}
	case "TRANSP":
		req.Transparency = v
	case "STATUS":
		req.MeetingStatus = v
	case "X-KASTLE-ACCESSPROFILES":
		req.AccessProfiles = append(req.AccessProfiles, v)
	case "X-KASTLE-INSTITUTIONID":
		req.InstitutionID = v
	case "X-KASTLE-IDENTITYTYPE":
		req.IdentityType = v
	case "X-MICROSOFT-CDO-OWNERAPPTID":
		req.OwnerAppointmentID = v
	case "X-MICROSOFT-CDO-INTENDEDSTATUS":
		req.IntendedStatus = v
	case "X-MICROSOFT-CDO-ALLDAYEVENT":
		b, err := parseBool(c.Name, v)
		if err != nil {
			return err
		}
		req.IsAllDayEvent = b
	case "X-KASTLE-FANDFINFO":
		community := v == "1"
		req.IsCommunityLevel = &community
	case "X-KASTLE-SUITE":
		req.SuiteInfo = v
	case "X-KASTLE-NOTIFYONARRIVAL":
		b, err := parseBool(c.Name, v)
		if err != nil {
			return err
		}
		req.NotifyOnArrival = &b
	case "X-KASTLE-SENDMAILTOVISITORS":
		b, err := parseBool(c.Name, v)
		if err != nil {
			return err
		}
		req.SendMailToVisitors = &b
	case "X-KASTLE-FLOORID":
		req.FloorID = v
	}
	return nil
}

// parseZoned reads a DTSTART/DTEND value. The time of day is re-chunked
// into two-digit groups ("093000" -> "09:30:00"); a date-only value means
// midnight.
func parseZoned(c contentLine) (time.Time, clock, error) {
	v := strings.TrimSpace(c.Value)
	datePart, timePart, _ := strings.Cut(v, "T")
	date, err := time.Parse("20060102", datePart)
	if err != nil {
		return time.Time{}, clock{}, formatError(c.Name, "unparseable date %q", v)
	}
	timePart = strings.TrimSuffix(strings.ToUpper(timePart), "Z")
	if timePart == "" {
		return date, clock{}, nil
	}
	groups := make([]string, 0, 3)
	for i := 0; i < len(timePart); i += 2 {
		groups = append(groups, timePart[i:min(i+2, len(timePart))])
	}
	clk, err := parseClock(c.Name, strings.Join(groups, ":"))
	if err != nil {
		return time.Time{}, clock{}, err
	}
	return date, clk, nil
}

// zoneOf returns the TZID parameter, or "UTC" for a Z-suffixed value.
func zoneOf(c contentLine) string {
	if tz := strings.TrimSpace(c.Param("TZID")); tz != "" {
		return tz
	}
	if strings.HasSuffix(strings.ToUpper(strings.TrimSpace(c.Value)), "Z") {
		return "UTC"
	}
	return ""
}

// parseStamp strips the T and Z markers and parses the compact form.
func parseStamp(v string) (time.Time, error) {
	s := strings.NewReplacer("T", "", "Z", "").Replace(strings.ToUpper(strings.TrimSpace(v)))
	t, err := time.Parse("20060102150405", s)
	if err != nil {
		return time.Parse("20060102", s)
	}
	return t, nil
}

func parseBool(field, v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, formatError(field, "must be True or False, got %q", v)
	}
	return b, nil
}

func decodeTimezone(block string) (*model.TimeZoneSpec, error) {
	tz := &model.TimeZoneSpec{}
	for _, l := range splitLines(block) {
		if propertyName(l) == "TZID" {
			tz.TZID = strings.TrimSpace(parseContentLine(l).Value)
			break
		}
	}
	if std := extractBlock(block, "STANDARD"); std != "" {
		z, err := decodeZoneRule("STANDARD", std)
		if err != nil {
			return nil, err
		}
		tz.Standard = z
	}
	if dl := extractBlock(block, "DAYLIGHT"); dl != "" {
		z, err := decodeZoneRule("DAYLIGHT", dl)
		if err != nil {
			return nil, err
		}
		tz.Daylight = &z
		tz.IsDaylightSaving = true
	}
	return tz, nil
}

func decodeZoneRule(tag, block string) (model.ZoneOffset, error) {
	var z model.ZoneOffset
	for _, l := range splitLines(block) {
		c := parseContentLine(l)
		v := strings.TrimSpace(c.Value)
		switch c.Name {
		case "DTSTART":
			t, err := parseStamp(v)
			if err != nil {
				return z, formatError(tag+".DTSTART", "unparseable timestamp %q", v)
			}
			z.Start = t
		case "TZOFFSETFROM":
			z.OffsetFrom = v
		case "TZOFFSETTO":
			z.OffsetTo = v
		case "TZNAME":
			z.Name = v
		}
	}
	return z, nil
}

func decodeVenue(block string) *model.Venue {
	venue := &model.Venue{}
	for _, l := range splitLines(block) {
		c := parseContentLine(l)
		switch c.Name {
		case "UID":
			venue.UID = strings.TrimSpace(c.Value)
		case "NAME":
			venue.Name = c.Value
		case "STREET-ADDRESS":
			venue.StreetAddress = c.Value
		}
	}
	return venue
}

// UID returns the event identifier of payload without decoding the rest.
func UID(payload string) (string, bool) {
	for _, l := range splitLines(extractBlock(payload, "VEVENT")) {
		if propertyName(l) == "UID" {
			v := strings.TrimSpace(parseContentLine(l).Value)
			return v, v != ""
		}
	}
	return "", false
}

// skipComponent returns the index after the END line matching the BEGIN at
// lines[i], or len(lines) when it is never closed.
func skipComponent(lines []string, i int) int {
	depth := 0
	for j := i; j < len(lines); j++ {
		switch propertyName(lines[j]) {
		case "BEGIN":
			depth++
		case "END":
			depth--
			if depth == 0 {
				return j + 1
			}
		}
	}
	return len(lines)
}

// unfoldContinuations joins lines[i] with following lines that begin with
// whitespace.
func unfoldContinuations(lines []string, i int) (string, int) {
	var b strings.Builder
	b.WriteString(lines[i])
	j := i + 1
	for ; j < len(lines) && lines[j] != "" && (lines[j][0] == ' ' || lines[j][0] == '\t'); j++ {
		b.WriteString(lines[j][1:])
	}
	return b.String(), j
}
