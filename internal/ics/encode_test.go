package ics

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitical/internal/model"
)

func TestEncodeRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.VisitRequest)
		kind   error
		field  string
	}{
		{
			name:   "departure equals arrival",
			mutate: func(r *model.VisitRequest) { r.DepartureTime = r.ArrivalTime },
			kind:   ErrFormat,
			field:  "DepartureTime",
		},
		{
			name:   "departure before arrival on the same day",
			mutate: func(r *model.VisitRequest) { r.DepartureTime = "08:00" },
			kind:   ErrFormat,
			field:  "DepartureTime",
		},
		{
			name:   "departure date before arrival date",
			mutate: func(r *model.VisitRequest) { r.DepartureDate = day(2024, time.May, 31) },
			kind:   ErrFormat,
			field:  "DepartureDate",
		},
		{
			name:   "unparseable arrival time",
			mutate: func(r *model.VisitRequest) { r.ArrivalTime = "9am" },
			kind:   ErrFormat,
			field:  "ArrivalTime",
		},
		{
			name:   "institution zero",
			mutate: func(r *model.VisitRequest) { r.InstitutionID = "0" },
			kind:   ErrValidation,
			field:  "InstitutionID",
		},
		{
			name:   "institution missing",
			mutate: func(r *model.VisitRequest) { r.InstitutionID = "" },
			kind:   ErrValidation,
			field:  "InstitutionID",
		},
		{
			name:   "floor not an integer",
			mutate: func(r *model.VisitRequest) { r.FloorID = "3rd" },
			kind:   ErrFormat,
			field:  "FloorID",
		},
		{
			name:   "priority out of range",
			mutate: func(r *model.VisitRequest) { r.Priority = "10" },
			kind:   ErrFormat,
			field:  "Priority",
		},
		{
			name:   "priority not an integer",
			mutate: func(r *model.VisitRequest) { r.Priority = "abc" },
			kind:   ErrFormat,
			field:  "Priority",
		},
		{
			name:   "no visitors",
			mutate: func(r *model.VisitRequest) { r.Visitors = nil },
			kind:   ErrValidation,
			field:  "Visitors",
		},
		{
			name:   "empty visitor list",
			mutate: func(r *model.VisitRequest) { r.Visitors = []model.Visitor{} },
			kind:   ErrValidation,
			field:  "Visitors",
		},
		{
			name:   "visitor without last name",
			mutate: func(r *model.VisitRequest) { r.Visitors[0] = model.Visitor{FirstName: "Anil"} },
			kind:   ErrValidation,
			field:  "Visitors[0].LastName",
		},
		{
			name:   "visitor name with disallowed characters",
			mutate: func(r *model.VisitRequest) { r.Visitors[0].LastName = "R@o" },
			kind:   ErrFormat,
			field:  "Visitors[0].LastName",
		},
		{
			name:   "visitor mobile number pattern",
			mutate: func(r *model.VisitRequest) { r.Visitors[0].MobileNumber = "12-34" },
			kind:   ErrFormat,
			field:  "Visitors[0].MobileNumber",
		},
		{
			name:   "visitor cardholder id not a uuid",
			mutate: func(r *model.VisitRequest) { r.Visitors[0].CardholderID = "badge-7" },
			kind:   ErrFormat,
			field:  "Visitors[0].CardholderID",
		},
		{
			name:   "organizer first name without last name",
			mutate: func(r *model.VisitRequest) { r.UserLastName = "" },
			kind:   ErrValidation,
			field:  "UserLastName",
		},
		{
			name:   "organizer name too long",
			mutate: func(r *model.VisitRequest) { r.UserLastName = strings.Repeat("a", 41) },
			kind:   ErrFormat,
			field:  "UserLastName",
		},
		{
			name:   "organizer name with disallowed characters",
			mutate: func(r *model.VisitRequest) { r.UserFirstName = "Pri<ya>" },
			kind:   ErrFormat,
			field:  "UserFirstName",
		},
		{
			name:   "timezone missing",
			mutate: func(r *model.VisitRequest) { r.Timezone = "" },
			kind:   ErrValidation,
			field:  "Timezone",
		},
		{
			name:   "timezone unknown",
			mutate: func(r *model.VisitRequest) { r.Timezone = "Mars/Olympus_Mons" },
			kind:   ErrFormat,
			field:  "Timezone",
		},
		{
			name: "weekly recurrence without days",
			mutate: func(r *model.VisitRequest) {
				r.Recurrence = &model.Recurrence{Frequency: "WEEKLY", Occurrences: "4"}
			},
			kind:  ErrValidation,
			field: "Recurrence.Days",
		},
		{
			name: "timezone spec without standard offsets",
			mutate: func(r *model.VisitRequest) {
				r.TimeZone = &model.TimeZoneSpec{TZID: "Asia/Kolkata"}
			},
			kind:  ErrValidation,
			field: "TimeZone.Standard.Start",
		},
		{
			name: "daylight flag without daylight block",
			mutate: func(r *model.VisitRequest) {
				r.TimeZone = &model.TimeZoneSpec{
					TZID:             "Asia/Kolkata",
					Standard:         model.ZoneOffset{Start: day(1970, time.January, 1), OffsetFrom: "+0530", OffsetTo: "+0530"},
					IsDaylightSaving: true,
				}
			},
			kind:  ErrValidation,
			field: "TimeZone.Daylight",
		},
		{
			name:   "summary with an embedded property line",
			mutate: func(r *model.VisitRequest) { r.Summary = "Visit\nRRULE:FREQ=DAILY;COUNT=500" },
			kind:   ErrFormat,
			field:  "Summary",
		},
		{
			name:   "notes with a carriage return",
			mutate: func(r *model.VisitRequest) { r.Notes = "bring badge\rEND:VEVENT" },
			kind:   ErrFormat,
			field:  "Notes",
		},
		{
			name:   "access profile with a line break",
			mutate: func(r *model.VisitRequest) { r.AccessProfiles = []string{"lobby", "gym\nX-KASTLE-FLOORID:9"} },
			kind:   ErrFormat,
			field:  "AccessProfiles[1]",
		},
		{
			name:   "venue name with a line break",
			mutate: func(r *model.VisitRequest) { r.Venue = &model.Venue{Name: "Acme\nEND:VVENUE"} },
			kind:   ErrFormat,
			field:  "Venue.Name",
		},
		{
			name:   "visitor company carrying a sub-field marker",
			mutate: func(r *model.VisitRequest) { r.Visitors[0].Company = "Acme:X-KASTLE-LN:Smith" },
			kind:   ErrFormat,
			field:  "Visitors[0].Company",
		},
		{
			name:   "visitor email carrying a sub-field marker",
			mutate: func(r *model.VisitRequest) { r.Visitors[0].Email = "a@example.com:x-kastle-cardholderguid:1" },
			kind:   ErrFormat,
			field:  "Visitors[0].Email",
		},
		{
			name:   "visitor country id with a line break",
			mutate: func(r *model.VisitRequest) { r.Visitors[0].CountryID = "IN\nATTENDEE:mailto:x@example.com" },
			kind:   ErrFormat,
			field:  "Visitors[0].CountryID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := sampleRequest()
			tt.mutate(&req)

			doc, visitors, err := testEncoder().Build(req)
			require.Error(t, err)
			assert.Nil(t, doc)
			assert.Nil(t, visitors)
			assert.ErrorIs(t, err, tt.kind)

			var ierr *Error
			require.True(t, errors.As(err, &ierr))
			assert.Equal(t, tt.field, ierr.Field)
			assert.NotEmpty(t, ierr.Reason)
		})
	}
}

func TestEncodeSynthesizesVisitorDefaults(t *testing.T) {
	req := sampleRequest()
	req.Visitors = append(req.Visitors, model.Visitor{
		FirstName:    "Meera",
		LastName:     "Iyer",
		Email:        "meera@example.com",
		MobileNumber: "+919876543210",
		Company:      "Acme Pvt Ltd",
	})

	out, visitors, err := testEncoder().Encode(req)
	require.NoError(t, err)
	require.Len(t, visitors, 2)

	synth := visitors[0].Email
	require.True(t, strings.HasSuffix(synth, "@"+DefaultPlaceholderDomain), synth)
	_, err = uuid.Parse(strings.TrimSuffix(synth, "@"+DefaultPlaceholderDomain))
	assert.NoError(t, err)
	_, err = uuid.Parse(visitors[0].CardholderID)
	assert.NoError(t, err)

	assert.Equal(t, "meera@example.com", visitors[1].Email)
	assert.Equal(t, "+91", visitors[1].CountryPrefix)

	// The caller's records are left alone.
	assert.Empty(t, req.Visitors[0].Email)
	assert.Empty(t, req.Visitors[0].CardholderID)
	assert.Empty(t, req.Visitors[1].CountryPrefix)

	attendees := linesWithPrefix(out, "ATTENDEE")
	require.Len(t, attendees, 2)
	assert.Contains(t, attendees[0], ":mailto:"+synth)
	assert.Contains(t, attendees[0], ":X-KASTLE-CARDHOLDERGUID:"+visitors[0].CardholderID)
	assert.Contains(t, attendees[1], "CN=Meera Iyer:mailto:meera@example.com:Tel:+919876543210")
	assert.Contains(t, attendees[1], ":X-KASTLE-COUNTRYCODE:+91")
	assert.Contains(t, attendees[1], ":X-KASTLE-VISITORCOMPANY:Acme Pvt Ltd:X-KASTLE-FN:Meera:X-KASTLE-LN:Iyer")
}

func TestEncodeCustomPlaceholderDomain(t *testing.T) {
	enc := NewEncoder(Options{PlaceholderDomain: "visitors.example.org"})
	_, visitors, err := enc.Encode(sampleRequest())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(visitors[0].Email, "@visitors.example.org"))
}

func TestEncodeOrganizer(t *testing.T) {
	tests := []struct {
		name  string
		first string
		last  string
		want  string
	}{
		{"full name", "Priya", "Shah", "ORGANIZER;CN=Priya Shah:mailto:priya.shah@example.com"},
		{"last name only", "", "Shah", "ORGANIZER;CN=Shah:mailto:priya.shah@example.com"},
		{"no name", "", "", "ORGANIZER:mailto:priya.shah@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := sampleRequest()
			req.UserFirstName, req.UserLastName = tt.first, tt.last
			out, _ := encodeOK(t, req)
			assert.Equal(t, []string{tt.want}, linesWithPrefix(out, "ORGANIZER"))
		})
	}
}

func TestEncodeDefaultsAndUTCFields(t *testing.T) {
	out, _ := encodeOK(t, sampleRequest())

	for _, want := range []string{
		"METHOD:REQUEST",
		"PRODID:" + DefaultProdID,
		"VERSION:2.0",
		"DTSTART;TZID=Asia/Kolkata:20240601T090000",
		"DTEND;TZID=Asia/Kolkata:20240601T170000",
		"DTSTAMP:20240520T081500Z",
		"UID:" + testVisitID,
		"PRIORITY:0",
		"SEQUENCE:0",
		"TRANSP:OPAQUE",
		"STATUS:CONFIRMED",
		"X-KASTLE-INSTITUTIONID:101",
		"X-KASTLE-IDENTITYTYPE:VISITOR",
		"X-MICROSOFT-CDO-INTENDEDSTATUS:BUSY",
		"X-MICROSOFT-CDO-ALLDAYEVENT:False",
		"X-KASTLE-UTCARRIVALDATE:2024-06-01",
		"X-KASTLE-UTCARRIVALTIME:03:30",
		"X-KASTLE-UTCDEPARTUREDATE:2024-06-01",
		"X-KASTLE-UTCDEPARTURETIME:11:30",
		"X-KASTLE-FLOORID:3",
	} {
		assert.Contains(t, logicalLines(out), want)
	}

	for _, absent := range []string{"RRULE", "LOCATION", "CLASS", "X-KASTLE-FANDFINFO", "X-KASTLE-NOTES", "BEGIN:VTIMEZONE", "BEGIN:VVENUE"} {
		assert.Empty(t, linesWithPrefix(out, absent), absent)
	}
	assert.NotContains(t, out, "\r")
	assert.True(t, strings.HasSuffix(out, "END:VCALENDAR\n"))
}

func TestEncodeGeneratesUIDWhenMissing(t *testing.T) {
	req := sampleRequest()
	req.VisitID = ""
	doc, _, err := testEncoder().Build(req)
	require.NoError(t, err)
	_, err = uuid.Parse(doc.Event.UID)
	assert.NoError(t, err)
}

func TestEncodeFieldOrder(t *testing.T) {
	req := sampleRequest()
	req.Description = "Walkthrough of the new wing"
	req.Location = "Building 4"
	req.Notes = "Bring laptop"
	req.SpecialInstructions = "Escort required"
	req.AccessProfiles = []string{"12", "  ", "15"}
	req.IsCommunityLevel = boolPtr(true)
	req.NotifyOnArrival = boolPtr(false)
	req.SuiteInfo = "400"
	req.Recurrence = &model.Recurrence{Frequency: "DAILY", Occurrences: "3"}
	req.Venue = &model.Venue{Name: "Acme", StreetAddress: "1 Main St"}
	req.TimeZone = &model.TimeZoneSpec{
		TZID:     "Asia/Kolkata",
		Standard: model.ZoneOffset{Start: day(1970, time.January, 1), OffsetFrom: "+0530", OffsetTo: "+0530", Name: "IST"},
	}

	out, _ := encodeOK(t, req)
	lines := logicalLines(out)

	order := []string{
		"BEGIN:VCALENDAR", "METHOD:", "PRODID:", "VERSION:",
		"BEGIN:VTIMEZONE", "TZID:", "BEGIN:STANDARD", "END:VTIMEZONE",
		"BEGIN:VEVENT", "DTSTART;", "DTEND;", "RRULE:", "DTSTAMP:", "ORGANIZER", "UID:",
		"ATTENDEE", "CREATED:", "LAST-MODIFIED:", "DESCRIPTION:", "SUMMARY:", "LOCATION:",
		"PRIORITY:", "TRANSP:", "STATUS:", "SEQUENCE:", "X-KASTLE-ACCESSPROFILES",
		"X-KASTLE-INSTITUTIONID:", "X-KASTLE-IDENTITYTYPE:", "X-MICROSOFT-CDO-INTENDEDSTATUS:",
		"X-MICROSOFT-CDO-ALLDAYEVENT:", "X-KASTLE-FANDFINFO:", "X-KASTLE-SUITE:",
		"X-KASTLE-NOTIFYONARRIVAL:", "X-KASTLE-NOTES:", "X-KASTLE-SPECIALINSTRUCTIONS:",
		"X-KASTLE-UTCARRIVALDATE:", "X-KASTLE-UTCARRIVALTIME:", "X-KASTLE-UTCDEPARTUREDATE:",
		"X-KASTLE-UTCDEPARTURETIME:", "X-KASTLE-FLOORID:", "END:VEVENT",
		"BEGIN:VVENUE", "END:VVENUE", "END:VCALENDAR",
	}
	pos := -1
	for _, prefix := range order {
		found := -1
		for i := pos + 1; i < len(lines); i++ {
			if strings.HasPrefix(lines[i], prefix) {
				found = i
				break
			}
		}
		require.GreaterOrEqual(t, found, 0, "%s missing or out of order", prefix)
		pos = found
	}

	assert.Equal(t, []string{
		"X-KASTLE-ACCESSPROFILES;ACCESSPROFILEID:12",
		"X-KASTLE-ACCESSPROFILES;ACCESSPROFILEID:15",
	}, linesWithPrefix(out, "X-KASTLE-ACCESSPROFILES"))
	assert.Contains(t, lines, "X-KASTLE-FANDFINFO:1")
	assert.Contains(t, lines, "X-KASTLE-NOTIFYONARRIVAL:False")
	assert.Empty(t, linesWithPrefix(out, "X-KASTLE-SENDMAILTOVISITORS"))
	assert.Contains(t, lines, "TZNAME:IST")
	assert.Contains(t, lines, "STREET-ADDRESS:1 Main St")
}

func TestEncodeTimezoneWithDaylight(t *testing.T) {
	req := sampleRequest()
	req.Timezone = "Europe/Berlin"
	req.TimeZone = &model.TimeZoneSpec{
		TZID:             "Europe/Berlin",
		Standard:         model.ZoneOffset{Start: time.Date(1970, 10, 25, 3, 0, 0, 0, time.UTC), OffsetFrom: "+0200", OffsetTo: "+0100", Name: "CET"},
		IsDaylightSaving: true,
		Daylight:         &model.ZoneOffset{Start: time.Date(1970, 3, 29, 2, 0, 0, 0, time.UTC), OffsetFrom: "+0100", OffsetTo: "+0200"},
	}

	out, _ := encodeOK(t, req)
	assert.Contains(t, out, strings.Join([]string{
		"BEGIN:VTIMEZONE",
		"TZID:Europe/Berlin",
		"BEGIN:STANDARD",
		"DTSTART:19701025T030000",
		"TZOFFSETFROM:+0200",
		"TZOFFSETTO:+0100",
		"TZNAME:CET",
		"END:STANDARD",
		"BEGIN:DAYLIGHT",
		"DTSTART:19700329T020000",
		"TZOFFSETFROM:+0100",
		"TZOFFSETTO:+0200",
		"END:DAYLIGHT",
		"END:VTIMEZONE",
	}, "\n"))
	// 09:00 CEST is 07:00 UTC.
	assert.Contains(t, logicalLines(out), "X-KASTLE-UTCARRIVALTIME:07:00")
}

func TestEncodeFoldsLongLines(t *testing.T) {
	req := sampleRequest()
	req.Notes = strings.Repeat("Visitor must sign the NDA at reception. ", 6)

	out, _ := encodeOK(t, req)
	for _, l := range strings.Split(out, "\n") {
		assert.LessOrEqual(t, len([]rune(strings.TrimPrefix(l, " "))), foldWidth, l)
	}
	assert.Contains(t, logicalLines(out), "X-KASTLE-NOTES:"+req.Notes)
}

func TestEncodeIsSafeForConcurrentUse(t *testing.T) {
	enc := testEncoder()
	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = enc.Encode(sampleRequest())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestSerializeRequiresEvent(t *testing.T) {
	_, err := Serialize(&Calendar{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = Serialize(&Calendar{Event: &VEvent{
		Start: ZonedTime{TZID: "UTC", Value: "20240601T090000"},
		End:   ZonedTime{TZID: "UTC", Value: "20240601T100000"},
	}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSerializeExchangeFields(t *testing.T) {
	req := sampleRequest()
	req.Location = "Building 4"
	doc, _, err := testEncoder().Build(req)
	require.NoError(t, err)

	doc.Event.Class = "PUBLIC"
	doc.Event.ApptSequence = "2"
	doc.Event.BusyStatus = "BUSY"
	doc.Event.Importance = "1"
	doc.Event.InstType = "0"
	doc.Event.DoNotForward = "FALSE"
	doc.Event.DisallowCounter = "FALSE"

	out, err := Serialize(doc)
	require.NoError(t, err)
	lines := logicalLines(out)

	order := []string{
		"LOCATION:Building 4",
		"CLASS:PUBLIC",
		"PRIORITY:0",
		"X-KASTLE-IDENTITYTYPE:VISITOR",
		"X-MICROSOFT-CDO-APPT-SEQUENCE:2",
		"X-MICROSOFT-CDO-BUSYSTATUS:BUSY",
		"X-MICROSOFT-CDO-INTENDEDSTATUS:BUSY",
		"X-MICROSOFT-CDO-ALLDAYEVENT:False",
		"X-MICROSOFT-CDO-IMPORTANCE:1",
		"X-MICROSOFT-CDO-INSTTYPE:0",
		"X-MICROSOFT-DONOTFORWARDMEETING:FALSE",
		"X-MICROSOFT-DISALLOW-COUNTER:FALSE",
		"X-KASTLE-UTCARRIVALDATE:2024-06-01",
	}
	pos := -1
	for _, want := range order {
		found := -1
		for i := pos + 1; i < len(lines); i++ {
			if lines[i] == want {
				found = i
				break
			}
		}
		require.GreaterOrEqual(t, found, 0, "%s missing or out of order", want)
		pos = found
	}

	// Unset fields are left out entirely.
	plain, _ := encodeOK(t, req)
	for _, absent := range []string{
		"CLASS", "X-MICROSOFT-CDO-APPT-SEQUENCE", "X-MICROSOFT-CDO-BUSYSTATUS",
		"X-MICROSOFT-CDO-IMPORTANCE", "X-MICROSOFT-CDO-INSTTYPE",
		"X-MICROSOFT-DONOTFORWARDMEETING", "X-MICROSOFT-DISALLOW-COUNTER",
	} {
		assert.Empty(t, linesWithPrefix(plain, absent), absent)
	}
}

func TestMatchPatternTimeout(t *testing.T) {
	name := strings.Repeat("Rao ", 10)
	assert.True(t, matchPattern(MatchConfig{}, namePattern, name))
	assert.False(t, matchPattern(MatchConfig{}, namePattern, "Rao<script>"))
	assert.False(t, matchPattern(MatchConfig{Timeout: time.Nanosecond}, namePattern, name))
}

func TestEncodeKeepsColonsThatAreNotMarkers(t *testing.T) {
	req := sampleRequest()
	req.Summary = "Review: Q2"
	req.Visitors[0].Company = "Acme: Tel Aviv office"
	out, visitors := encodeOK(t, req)

	assert.Contains(t, out, "SUMMARY:Review: Q2")
	assert.Equal(t, "Acme: Tel Aviv office", visitors[0].Company)

	got, err := NewDecoder(DecoderOptions{}).Decode(out)
	require.NoError(t, err)
	assert.Equal(t, "Review: Q2", got.Summary)
	assert.Nil(t, got.Recurrence)
	require.Len(t, got.Visitors, 1)
	assert.Equal(t, "Acme: Tel Aviv office", got.Visitors[0].Company)
}
