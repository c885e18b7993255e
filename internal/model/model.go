package model

import "time"

// VisitRequest is the structured form of a scheduled visit. It is the input
// of ics.Encoder.Build and the output of ics.Decoder.Decode.
//
// Numeric attributes (priority, sequence, floor and institution ids) are kept
// as strings because they arrive from loosely typed callers; the encoder
// rejects anything that does not parse as an integer.
type VisitRequest struct {
	// Organizer identity.
	UserFirstName    string `json:"user_first_name,omitempty" validate:"omitempty,max=40,visitname"`
	UserLastName     string `json:"user_last_name,omitempty" validate:"omitempty,max=40,visitname"`
	UserEmail        string `json:"user_email,omitempty" validate:"singleline"`
	UserCardholderID string `json:"user_cardholder_id,omitempty" validate:"singleline"`

	VisitID string `json:"visit_id,omitempty" validate:"singleline"`
	ProdID  string `json:"prod_id,omitempty" validate:"singleline"`

	// Timezone is the IANA name the arrival/departure wall-clock times are in.
	Timezone      string    `json:"timezone" validate:"required,singleline"`
	ArrivalDate   time.Time `json:"arrival_date"`
	ArrivalTime   string    `json:"arrival_time"`
	DepartureDate time.Time `json:"departure_date"`
	DepartureTime string    `json:"departure_time"`
	IsAllDayEvent bool      `json:"is_all_day_event,omitempty"`

	// CreatedOn maps to DTSTAMP, CreationDate to CREATED.
	CreatedOn    *time.Time `json:"created_on,omitempty"`
	CreationDate time.Time  `json:"creation_date,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`

	Summary        string `json:"summary,omitempty" validate:"singleline"`
	Description    string `json:"description,omitempty" validate:"singleline"`
	Location       string `json:"location,omitempty" validate:"singleline"`
	IntendedStatus string `json:"intended_status,omitempty" validate:"singleline"`
	Transparency   string `json:"transparency,omitempty" validate:"singleline"`
	MeetingStatus  string `json:"meeting_status,omitempty" validate:"singleline"`
	IdentityType   string `json:"identity_type,omitempty" validate:"singleline"`

	Priority      string `json:"priority,omitempty" validate:"omitempty,integer"`
	Sequence      string `json:"sequence,omitempty" validate:"omitempty,integer"`
	InstitutionID string `json:"institution_id" validate:"required,integer"`
	FloorID       string `json:"floor_id" validate:"required,integer"`

	OwnerAppointmentID  string   `json:"owner_appointment_id,omitempty" validate:"singleline"`
	AccessProfiles      []string `json:"access_profiles,omitempty" validate:"dive,singleline"`
	Notes               string   `json:"notes,omitempty" validate:"singleline"`
	SpecialInstructions string   `json:"special_instructions,omitempty" validate:"singleline"`
	SuiteInfo           string   `json:"suite_info,omitempty" validate:"singleline"`

	// Tri-state flags: nil means "not specified" and is not emitted.
	IsCommunityLevel   *bool `json:"is_community_level,omitempty"`
	NotifyOnArrival    *bool `json:"notify_on_arrival,omitempty"`
	SendMailToVisitors *bool `json:"send_mail_to_visitors,omitempty"`

	Visitors   []Visitor     `json:"visitors" validate:"required,min=1,dive"`
	Recurrence *Recurrence   `json:"recurrence,omitempty"`
	TimeZone   *TimeZoneSpec `json:"time_zone,omitempty"`
	Venue      *Venue        `json:"venue,omitempty"`
}

// Visitor is a single attendee of a visit.
type Visitor struct {
	FirstName     string `json:"first_name,omitempty" validate:"omitempty,visitname"`
	LastName      string `json:"last_name" validate:"required,visitname"`
	Email         string `json:"email,omitempty" validate:"singleline,nomarker"`
	MobileNumber  string `json:"mobile_number,omitempty" validate:"omitempty,mobile"`
	CountryPrefix string `json:"country_prefix,omitempty" validate:"singleline,nomarker"`
	CountryID     string `json:"country_id,omitempty" validate:"singleline,nomarker"`
	Company       string `json:"company,omitempty" validate:"singleline,nomarker"`
	CardholderID  string `json:"cardholder_id,omitempty"`

	TypeOfVisitor       string `json:"type_of_visitor,omitempty" validate:"singleline"`
	Role                string `json:"role,omitempty" validate:"singleline"`
	ParticipationStatus string `json:"participation_status,omitempty" validate:"singleline"`
	ResponseRequired    bool   `json:"response_required,omitempty"`
}

// Recurrence describes how a visit repeats.
type Recurrence struct {
	Frequency string   `json:"frequency"`
	Days      []string `json:"days,omitempty"`
	// DayNumberForMonth is the ordinal of the "nth weekday" form (e.g. "2", "-1").
	DayNumberForMonth string `json:"day_number_for_month,omitempty"`
	Month             string `json:"month,omitempty"`
	DayOfMonth        string `json:"day_of_month,omitempty"`
	RepeatEvery       string `json:"repeat_every,omitempty"`
	WeekStart         string `json:"week_start,omitempty"`
	SetPosition       string `json:"set_position,omitempty"`

	Until       *time.Time `json:"until,omitempty"`
	Occurrences string     `json:"occurrences,omitempty"`
}

// TimeZoneSpec is the VTIMEZONE description shipped alongside a visit.
type TimeZoneSpec struct {
	TZID             string      `json:"tzid" validate:"singleline"`
	Standard         ZoneOffset  `json:"standard"`
	IsDaylightSaving bool        `json:"is_daylight_saving,omitempty"`
	Daylight         *ZoneOffset `json:"daylight,omitempty"`
}

// ZoneOffset is one STANDARD or DAYLIGHT observance.
type ZoneOffset struct {
	Start      time.Time `json:"start"`
	OffsetFrom string    `json:"offset_from" validate:"singleline"`
	OffsetTo   string    `json:"offset_to" validate:"singleline"`
	Name       string    `json:"name,omitempty" validate:"singleline"`
}

// Venue is the visiting company block (VVENUE).
type Venue struct {
	UID           string `json:"uid,omitempty" validate:"singleline"`
	Name          string `json:"name,omitempty" validate:"singleline"`
	StreetAddress string `json:"street_address,omitempty" validate:"singleline"`
}

// Occurrence represents a single concrete instance of a visit
// (after recurrence expansion).
type Occurrence struct {
	VisitID string `json:"visit_id"`

	// InstanceKey uniquely identifies one occurrence of a recurring visit,
	// derived from the UTC start time.
	InstanceKey string `json:"instance_key"`

	Summary string `json:"summary,omitempty"`

	// Start / End carry the visit's own timezone.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
