package ics

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldLine(t *testing.T) {
	t.Run("short line is untouched", func(t *testing.T) {
		assert.Equal(t, []string{"SUMMARY:Lunch"}, foldLine("SUMMARY:Lunch"))
	})

	t.Run("exactly one width is untouched", func(t *testing.T) {
		line := strings.Repeat("x", foldWidth)
		assert.Equal(t, []string{line}, foldLine(line))
	})

	t.Run("long line folds and reconstructs", func(t *testing.T) {
		line := "DESCRIPTION:" + strings.Repeat("0123456789", 23)
		chunks := foldLine(line)
		require.Len(t, chunks, 4)

		assert.Equal(t, foldWidth, utf8.RuneCountInString(chunks[0]))
		var b strings.Builder
		b.WriteString(chunks[0])
		for _, c := range chunks[1:] {
			require.True(t, strings.HasPrefix(c, " "), "continuation %q", c)
			assert.LessOrEqual(t, utf8.RuneCountInString(c[1:]), foldWidth)
			b.WriteString(c[1:])
		}
		assert.Equal(t, line, b.String())
	})

	t.Run("multibyte characters are never split", func(t *testing.T) {
		line := "X-KASTLE-NOTES:" + strings.Repeat("é", 150)
		for _, c := range foldLine(line) {
			assert.True(t, utf8.ValidString(c))
		}
	})
}

func TestParseContentLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   string
		params map[string]string
		value  string
	}{
		{
			name:  "plain",
			line:  "SUMMARY:Site visit",
			want:  "SUMMARY",
			value: "Site visit",
		},
		{
			name:   "parameter",
			line:   "DTSTART;TZID=Asia/Kolkata:20240601T090000",
			want:   "DTSTART",
			params: map[string]string{"TZID": "Asia/Kolkata"},
			value:  "20240601T090000",
		},
		{
			name:   "quoted colon stays in the parameter",
			line:   `ORGANIZER;CN="Shah: Priya":mailto:p@example.com`,
			want:   "ORGANIZER",
			params: map[string]string{"CN": "Shah: Priya"},
			value:  "mailto:p@example.com",
		},
		{
			name:   "bare parameter",
			line:   "X-KASTLE-ACCESSPROFILES;ACCESSPROFILEID:42",
			want:   "X-KASTLE-ACCESSPROFILES",
			params: map[string]string{"ACCESSPROFILEID": ""},
			value:  "42",
		},
		{
			name:  "value keeps later colons",
			line:  "X-KASTLE-NOTES:bring id: badge 3",
			want:  "X-KASTLE-NOTES",
			value: "bring id: badge 3",
		},
		{
			name:  "lower-case name is normalized",
			line:  "uid:abc",
			want:  "UID",
			value: "abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := parseContentLine(tt.line)
			assert.Equal(t, tt.want, c.Name)
			assert.Equal(t, tt.value, c.Value)
			for k, v := range tt.params {
				assert.Equal(t, v, c.Param(k), "param %s", k)
			}
		})
	}
}

func TestExtractBlock(t *testing.T) {
	payload := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"BEGIN:VTIMEZONE",
		"TZID:Europe/Berlin",
		"BEGIN:STANDARD",
		"TZOFFSETTO:+0100",
		"END:STANDARD",
		"END:VTIMEZONE",
		"BEGIN:VEVENT",
		"UID:1",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"END:VALARM",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n")

	t.Run("nested blocks stay balanced", func(t *testing.T) {
		got := extractBlock(payload, "VEVENT")
		assert.Equal(t, "UID:1\nBEGIN:VALARM\nACTION:DISPLAY\nEND:VALARM", got)
	})

	t.Run("sub-block inside another block", func(t *testing.T) {
		tz := extractBlock(payload, "VTIMEZONE")
		assert.Equal(t, "TZOFFSETTO:+0100", extractBlock(tz, "STANDARD"))
	})

	t.Run("missing block", func(t *testing.T) {
		assert.Equal(t, "", extractBlock(payload, "VVENUE"))
	})

	t.Run("unterminated block", func(t *testing.T) {
		assert.Equal(t, "", extractBlock("BEGIN:VEVENT\nUID:1\n", "VEVENT"))
	})
}

func TestCollectFolded(t *testing.T) {
	lines := []string{
		"X-KASTLE-NOTES:first part",
		" second part",
		"written without a fold prefix",
		"SUMMARY:next",
	}
	got, next := collectFolded(lines, 0)
	assert.Equal(t, "X-KASTLE-NOTES:first partsecond partwritten without a fold prefix", got)
	assert.Equal(t, 3, next)
}

func TestUnfoldContinuations(t *testing.T) {
	lines := []string{"SUMMARY:Quarterly", " review", "\tmeeting", "LOCATION:HQ"}
	got, next := unfoldContinuations(lines, 0)
	assert.Equal(t, "SUMMARY:Quarterlyreviewmeeting", got)
	assert.Equal(t, 3, next)
}
