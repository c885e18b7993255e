package ics

import "strings"

// foldWidth is the number of characters per physical line of a folded value.
// Consumers unfold on exactly this width, so it must not change.
const foldWidth = 74

// reservedNames are the property names that terminate a folded value on
// decode. Any other line following a multi-line property is treated as its
// continuation.
var reservedNames = map[string]struct{}{}

func init() {
	for _, n := range []string{
		"BEGIN", "END",
		"DTSTART", "DTEND", "DTSTAMP", "ORGANIZER", "UID", "CREATED", "LAST-MODIFIED",
		"DESCRIPTION", "SUMMARY", "LOCATION", "CLASS", "PRIORITY", "TRANSP", "STATUS",
		"SEQUENCE", "RRULE", "ATTENDEE",
		"X-KASTLE-ACCESSPROFILES", "X-KASTLE-INSTITUTIONID", "X-KASTLE-IDENTITYTYPE",
		"X-MICROSOFT-CDO-OWNERAPPTID", "X-MICROSOFT-CDO-APPT-SEQUENCE",
		"X-MICROSOFT-CDO-BUSYSTATUS", "X-MICROSOFT-CDO-INTENDEDSTATUS",
		"X-MICROSOFT-CDO-ALLDAYEVENT", "X-MICROSOFT-CDO-IMPORTANCE",
		"X-MICROSOFT-CDO-INSTTYPE", "X-MICROSOFT-DONOTFORWARDMEETING",
		"X-MICROSOFT-DISALLOW-COUNTER",
		"X-KASTLE-FANDFINFO", "X-KASTLE-SUITE", "X-KASTLE-NOTIFYONARRIVAL",
		"X-KASTLE-SENDMAILTOVISITORS", "X-KASTLE-NOTES", "X-KASTLE-SPECIALINSTRUCTIONS",
		"X-KASTLE-UTCARRIVALDATE", "X-KASTLE-UTCARRIVALTIME",
		"X-KASTLE-UTCDEPARTUREDATE", "X-KASTLE-UTCDEPARTURETIME",
		"X-KASTLE-FLOORID",
	} {
		reservedNames[n] = struct{}{}
	}
}

type param struct {
	Name  string
	Value string
}

// contentLine is one logical line split into name, parameters and value.
type contentLine struct {
	Name   string
	Params []param
	Value  string
}

// Param returns the first value of the named parameter, or "".
func (c contentLine) Param(name string) string {
	for _, p := range c.Params {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

// parseContentLine splits a line on the first ':' outside double quotes
// into name+parameters and value, then splits parameters on ';'. The name
// and parameter names are upper-cased; values are kept verbatim.
func parseContentLine(line string) contentLine {
	head, value := line, ""
	if i := indexUnquoted(line, ':'); i >= 0 {
		head, value = line[:i], line[i+1:]
	}

	parts := splitUnquoted(head, ';')
	c := contentLine{Name: strings.ToUpper(parts[0]), Value: value}
	for _, p := range parts[1:] {
		k, v, _ := strings.Cut(p, "=")
		c.Params = append(c.Params, param{
			Name:  strings.ToUpper(k),
			Value: strings.Trim(v, `"`),
		})
	}
	return c
}

// propertyName returns the upper-cased name of a raw line. A continuation
// line keeps its leading whitespace and therefore never names a property.
func propertyName(line string) string {
	end := len(line)
	if i := strings.IndexAny(line, ";:"); i >= 0 {
		end = i
	}
	return strings.ToUpper(line[:end])
}

func isReserved(line string) bool {
	_, ok := reservedNames[propertyName(line)]
	return ok
}

// splitLines normalizes line endings and splits the payload into raw lines.
func splitLines(payload string) []string {
	payload = strings.ReplaceAll(payload, "\r\n", "\n")
	payload = strings.ReplaceAll(payload, "\r", "\n")
	return strings.Split(payload, "\n")
}

// extractBlock returns the lines strictly between BEGIN:<tag> and its
// balanced END:<tag>, joined with "\n". It returns "" when the block is
// missing or never closed.
func extractBlock(payload, tag string) string {
	lines := splitLines(payload)
	begin := "BEGIN:" + strings.ToUpper(tag)
	end := "END:" + strings.ToUpper(tag)

	depth, start := 0, -1
	for i, l := range lines {
		switch strings.ToUpper(strings.TrimRight(l, " \t")) {
		case begin:
			if depth == 0 {
				start = i + 1
			}
			depth++
		case end:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return strings.Join(lines[start:i], "\n")
			}
		}
	}
	return ""
}

// unfold removes the single continuation prefix from a physical line.
func unfold(line string) string {
	if line != "" && (line[0] == ' ' || line[0] == '\t') {
		return line[1:]
	}
	return line
}

// collectFolded joins lines[i] with every following line up to the next
// reserved property name. It returns the logical line and the index of the
// first line not consumed.
func collectFolded(lines []string, i int) (string, int) {
	var b strings.Builder
	b.WriteString(lines[i])
	j := i + 1
	for ; j < len(lines) && !isReserved(lines[j]); j++ {
		b.WriteString(unfold(lines[j]))
	}
	return b.String(), j
}

// foldLine splits line into foldWidth-character chunks. Every chunk after
// the first carries a single leading space.
func foldLine(line string) []string {
	runes := []rune(line)
	if len(runes) <= foldWidth {
		return []string{line}
	}
	out := make([]string, 0, len(runes)/foldWidth+1)
	for i := 0; i < len(runes); i += foldWidth {
		j := min(i+foldWidth, len(runes))
		chunk := string(runes[i:j])
		if i > 0 {
			chunk = " " + chunk
		}
		out = append(out, chunk)
	}
	return out
}

func indexUnquoted(s string, sep byte) int {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case sep:
			if !quoted {
				return i
			}
		}
	}
	return -1
}

func splitUnquoted(s string, sep byte) []string {
	var out []string
	for {
		i := indexUnquoted(s, sep)
		if i < 0 {
			return append(out, s)
		}
		out = append(out, s[:i])
		s = s[i+1:]
	}
}
