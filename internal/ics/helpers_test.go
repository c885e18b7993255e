package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"visitical/internal/model"
)

const testVisitID = "6f1c2e44-93a7-4c1e-9d0a-2b7d5c3e8f10"

var testNow = time.Date(2024, 5, 20, 8, 15, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// sampleRequest is a single-day visit in Asia/Kolkata with one visitor.
func sampleRequest() model.VisitRequest {
	return model.VisitRequest{
		UserFirstName: "Priya",
		UserLastName:  "Shah",
		UserEmail:     "priya.shah@example.com",
		VisitID:       testVisitID,
		Timezone:      "Asia/Kolkata",
		ArrivalDate:   day(2024, time.June, 1),
		ArrivalTime:   "09:00",
		DepartureDate: day(2024, time.June, 1),
		DepartureTime: "17:00",
		Summary:       "Quarterly review",
		InstitutionID: "101",
		FloorID:       "3",
		Visitors: []model.Visitor{
			{LastName: "Rao"},
		},
	}
}

func testEncoder() *Encoder {
	return NewEncoder(Options{Now: func() time.Time { return testNow }})
}

func encodeOK(t *testing.T, req model.VisitRequest) (string, []model.Visitor) {
	t.Helper()
	out, visitors, err := testEncoder().Encode(req)
	require.NoError(t, err)
	return out, visitors
}

// logicalLines unfolds a serialized payload back into one entry per property.
func logicalLines(payload string) []string {
	var out []string
	for _, l := range strings.Split(strings.TrimSuffix(payload, "\n"), "\n") {
		if strings.HasPrefix(l, " ") && len(out) > 0 {
			out[len(out)-1] += l[1:]
			continue
		}
		out = append(out, l)
	}
	return out
}

func linesWithPrefix(payload, prefix string) []string {
	var out []string
	for _, l := range logicalLines(payload) {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
