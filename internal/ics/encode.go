package ics

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	appLog "visitical/internal/log"
	"visitical/internal/model"
)

const (
	DefaultProdID            = "-//Kastle Systems//Visitor Management//EN"
	DefaultPlaceholderDomain = "Kastle.com"

	calendarMethod  = "REQUEST"
	calendarVersion = "2.0"

	defaultCUType         = "INDIVIDUAL"
	defaultRole           = "REQ-PARTICIPANT"
	defaultPartStat       = "NEEDS-ACTION"
	defaultIntendedStatus = "BUSY"
	defaultTransparency   = "OPAQUE"
	defaultMeetingStatus  = "CONFIRMED"
	defaultIdentityType   = "VISITOR"

	stampLayout    = "20060102T150405Z"
	localLayout    = "20060102T150405"
	utcDateLayout  = "2006-01-02"
	utcClockLayout = "15:04"
)

// Options configures an Encoder. Zero values fall back to package defaults.
type Options struct {
	// ProdID is used when a request carries none.
	ProdID string
	// PlaceholderDomain is the domain of synthesized visitor addresses.
	PlaceholderDomain string
	Match             MatchConfig
	Zones             ZoneResolver
	// Now supplies the current time for defaulted stamps.
	Now func() time.Time
}

// Encoder turns visit requests into document trees and payloads. It holds
// no per-call state and is safe for concurrent use when its ZoneResolver is.
type Encoder struct {
	opts      Options
	validator *requestValidator
}

func NewEncoder(opts Options) *Encoder {
	if opts.ProdID == "" {
		opts.ProdID = DefaultProdID
	}
	if opts.PlaceholderDomain == "" {
		opts.PlaceholderDomain = DefaultPlaceholderDomain
	}
	if opts.Zones == nil {
		opts.Zones = SystemZones
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Encoder{
		opts:      opts,
		validator: newRequestValidator(opts.Match),
	}
}

// Encode builds and serializes req. The returned visitors carry any
// synthesized emails and identifiers.
func (e *Encoder) Encode(req model.VisitRequest) (string, []model.Visitor, error) {
	doc, visitors, err := e.Build(req)
	if err != nil {
		return "", nil, err
	}
	out, err := Serialize(doc)
	if err != nil {
		appLog.Error("ics serialize failed", err, "visit_id", doc.Event.UID)
		return "", nil, err
	}
	return out, visitors, nil
}

// Build validates req and returns the document tree plus the visitor list
// with defaults applied. req itself is never modified. No tree is returned
// on failure.
func (e *Encoder) Build(req model.VisitRequest) (*Calendar, []model.Visitor, error) {
	doc, visitors, err := e.build(req)
	if err != nil {
		appLog.Error("ics build failed", err, "visit_id", req.VisitID)
		return nil, nil, err
	}
	appLog.Debug("ics build completed", "visit_id", doc.Event.UID, "attendee_count", len(visitors))
	return doc, visitors, nil
}

func (e *Encoder) build(req model.VisitRequest) (*Calendar, []model.Visitor, error) {
	arrival, err := parseClock("ArrivalTime", req.ArrivalTime)
	if err != nil {
		return nil, nil, err
	}
	departure, err := parseClock("DepartureTime", req.DepartureTime)
	if err != nil {
		return nil, nil, err
	}
	if err := checkOrdering(req.ArrivalDate, arrival, req.DepartureDate, departure); err != nil {
		return nil, nil, err
	}

	if err := e.validator.Validate(&req); err != nil {
		return nil, nil, err
	}

	organizer, err := buildOrganizer(req)
	if err != nil {
		return nil, nil, err
	}

	institution, _ := strconv.Atoi(strings.TrimSpace(req.InstitutionID))
	if institution == 0 {
		return nil, nil, validationError("InstitutionID", "must be non-zero")
	}
	priority, err := intField("Priority", orDefault(req.Priority, "0"), 0, 9)
	if err != nil {
		return nil, nil, err
	}
	sequence, err := intField("Sequence", orDefault(req.Sequence, "0"), 0, 1<<31-1)
	if err != nil {
		return nil, nil, err
	}
	floor, _ := strconv.Atoi(strings.TrimSpace(req.FloorID))

	tz := strings.TrimSpace(req.Timezone)
	loc, err := e.opts.Zones.Resolve(tz)
	if err != nil {
		return nil, nil, formatError("Timezone", "unknown timezone %q", tz)
	}
	start := arrival.on(req.ArrivalDate, loc)
	end := departure.on(req.DepartureDate, loc)

	now := e.opts.Now()
	ev := &VEvent{
		Start:        ZonedTime{TZID: tz, Value: start.Format(localLayout)},
		End:          ZonedTime{TZID: tz, Value: end.Format(localLayout)},
		Stamp:        stampOf(req.CreatedOn, now),
		Created:      stampOf(&req.CreationDate, now),
		LastModified: stampOf(req.LastModified, now),
		Organizer:    organizer,
		UID:          orDefault(req.VisitID, uuid.NewString()),

		Description:  req.Description,
		Summary:      req.Summary,
		Location:     req.Location,
		Priority:     priority,
		Transparency: orDefault(req.Transparency, defaultTransparency),
		Status:       orDefault(req.MeetingStatus, defaultMeetingStatus),
		Sequence:     sequence,

		InstitutionID:  strconv.Itoa(institution),
		IdentityType:   orDefault(req.IdentityType, defaultIdentityType),
		OwnerApptID:    strings.TrimSpace(req.OwnerAppointmentID),
		IntendedStatus: orDefault(req.IntendedStatus, defaultIntendedStatus),
		AllDayEvent:    formatBool(req.IsAllDayEvent),

		Suite:               strings.TrimSpace(req.SuiteInfo),
		NotifyOnArrival:     formatOptionalBool(req.NotifyOnArrival),
		SendMailToVisitors:  formatOptionalBool(req.SendMailToVisitors),
		Notes:               req.Notes,
		SpecialInstructions: req.SpecialInstructions,

		UTCArrivalDate:   start.UTC().Format(utcDateLayout),
		UTCArrivalTime:   start.UTC().Format(utcClockLayout),
		UTCDepartureDate: end.UTC().Format(utcDateLayout),
		UTCDepartureTime: end.UTC().Format(utcClockLayout),
		FloorID:          strconv.Itoa(floor),
	}
	for _, p := range req.AccessProfiles {
		if p = strings.TrimSpace(p); p != "" {
			ev.AccessProfiles = append(ev.AccessProfiles, p)
		}
	}
	if req.IsCommunityLevel != nil {
		ev.FAndFInfo = "0"
		if *req.IsCommunityLevel {
			ev.FAndFInfo = "1"
		}
	}

	if req.Recurrence != nil {
		if ev.RRule, err = buildRRule(req.Recurrence, start); err != nil {
			return nil, nil, err
		}
	}

	visitors := make([]model.Visitor, len(req.Visitors))
	copy(visitors, req.Visitors)
	ev.Attendees = make([]Attendee, 0, len(visitors))
	for i := range visitors {
		a, err := e.buildAttendee(i, &visitors[i])
		if err != nil {
			return nil, nil, err
		}
		ev.Attendees = append(ev.Attendees, a)
	}

	doc := &Calendar{
		Method:  calendarMethod,
		ProdID:  orDefault(req.ProdID, e.opts.ProdID),
		Version: calendarVersion,
		Event:   ev,
	}
	if req.TimeZone != nil {
		if doc.TimeZone, err = buildTimezone(req.TimeZone); err != nil {
			return nil, nil, err
		}
	}
	if req.Venue != nil {
		doc.Venue = &VVenue{
			UID:           orDefault(req.Venue.UID, uuid.NewString()),
			Name:          req.Venue.Name,
			StreetAddress: req.Venue.StreetAddress,
		}
	}
	return doc, visitors, nil
}

// buildOrganizer requires a last name whenever a first name is given. With
// no name at all the CN parameter is omitted.
func buildOrganizer(req model.VisitRequest) (Organizer, error) {
	first := strings.TrimSpace(req.UserFirstName)
	last := strings.TrimSpace(req.UserLastName)
	if first != "" && last == "" {
		return Organizer{}, validationError("UserLastName", "is required when UserFirstName is set")
	}
	return Organizer{
		CN:     strings.TrimSpace(first + " " + last),
		MailTo: strings.TrimSpace(req.UserEmail),
	}, nil
}

// buildAttendee fills visitor defaults in place and maps it to an Attendee.
func (e *Encoder) buildAttendee(i int, v *model.Visitor) (Attendee, error) {
	field := "Visitors[" + strconv.Itoa(i) + "]"

	if strings.TrimSpace(v.Email) == "" {
		v.Email = uuid.NewString() + "@" + e.opts.PlaceholderDomain
	}
	if v.CardholderID == "" {
		v.CardholderID = uuid.NewString()
	} else if _, err := uuid.Parse(v.CardholderID); err != nil {
		return Attendee{}, formatError(field+".CardholderID", "must be a UUID")
	}

	mobile := strings.TrimSpace(v.MobileNumber)
	if v.CountryPrefix == "" && strings.HasPrefix(mobile, "+") {
		if num, err := phonenumbers.Parse(mobile, ""); err == nil {
			v.CountryPrefix = "+" + strconv.Itoa(int(num.GetCountryCode()))
		}
	}

	first := strings.TrimSpace(v.FirstName)
	last := strings.TrimSpace(v.LastName)
	email := strings.TrimSpace(v.Email)
	return Attendee{
		CUType:       orDefault(v.TypeOfVisitor, defaultCUType),
		Role:         orDefault(v.Role, defaultRole),
		PartStat:     orDefault(v.ParticipationStatus, defaultPartStat),
		RSVP:         formatBool(v.ResponseRequired),
		CN:           strings.TrimSpace(first + " " + last),
		MailTo:       email,
		Tel:          mobile,
		CardholderID: v.CardholderID,
		CountryCode:  strings.TrimSpace(v.CountryPrefix),
		CountryID:    strings.TrimSpace(v.CountryID),
		Company:      strings.TrimSpace(v.Company),
		FirstName:    first,
		LastName:     last,
		MailID:       email,
	}, nil
}

func buildTimezone(spec *model.TimeZoneSpec) (*VTimezone, error) {
	if strings.TrimSpace(spec.TZID) == "" {
		return nil, validationError("TimeZone.TZID", "is required")
	}
	std, err := buildZoneRule("TimeZone.Standard", spec.Standard)
	if err != nil {
		return nil, err
	}
	tz := &VTimezone{TZID: strings.TrimSpace(spec.TZID), Standard: std}
	if !spec.IsDaylightSaving {
		return tz, nil
	}
	if spec.Daylight == nil {
		return nil, validationError("TimeZone.Daylight", "is required when daylight saving is observed")
	}
	dl, err := buildZoneRule("TimeZone.Daylight", *spec.Daylight)
	if err != nil {
		return nil, err
	}
	tz.Daylight = &dl
	return tz, nil
}

func buildZoneRule(field string, z model.ZoneOffset) (ZoneRule, error) {
	switch {
	case z.Start.IsZero():
		return ZoneRule{}, validationError(field+".Start", "is required")
	case strings.TrimSpace(z.OffsetFrom) == "":
		return ZoneRule{}, validationError(field+".OffsetFrom", "is required")
	case strings.TrimSpace(z.OffsetTo) == "":
		return ZoneRule{}, validationError(field+".OffsetTo", "is required")
	}
	return ZoneRule{
		DTStart:    z.Start.Format(localLayout),
		OffsetFrom: strings.TrimSpace(z.OffsetFrom),
		OffsetTo:   strings.TrimSpace(z.OffsetTo),
		Name:       strings.TrimSpace(z.Name),
	}, nil
}

// clock is a time of day.
type clock struct {
	hour, min, sec int
}

func (c clock) seconds() int {
	return c.hour*3600 + c.min*60 + c.sec
}

// on places c on the calendar date of d in loc.
func (c clock) on(d time.Time, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), c.hour, c.min, c.sec, 0, loc)
}

func (c clock) String() string {
	if c.sec != 0 {
		return time.Date(0, 1, 1, c.hour, c.min, c.sec, 0, time.UTC).Format("15:04:05")
	}
	return time.Date(0, 1, 1, c.hour, c.min, 0, 0, time.UTC).Format("15:04")
}

func parseClock(field, s string) (clock, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return clock{hour: t.Hour(), min: t.Minute(), sec: t.Second()}, nil
		}
	}
	return clock{}, formatError(field, "must be a time of day (HH:mm or HH:mm:ss), got %q", s)
}

func checkOrdering(arrDate time.Time, arr clock, depDate time.Time, dep clock) error {
	a, d := dateOnly(arrDate), dateOnly(depDate)
	switch {
	case d.Equal(a):
		if dep.seconds() <= arr.seconds() {
			return formatError("DepartureTime", "must be later than arrival time on the same day")
		}
	case d.After(a):
	default:
		return formatError("DepartureDate", "must not be before arrival date")
	}
	return nil
}

func stampOf(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return now.UTC().Format(stampLayout)
	}
	return t.UTC().Format(stampLayout)
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func formatOptionalBool(b *bool) string {
	if b == nil {
		return ""
	}
	return formatBool(*b)
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
