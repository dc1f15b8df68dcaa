// Package record implements the ASTM E1394-97 record grammar: splitting an
// assembled message into CR-delimited records, stripping the optional
// Sysmex record-number prefix, and splitting each record into its
// pipe-separated fields.
package record

import "strings"

// Record is one ASTM record: a type letter (H, P, O, R, C, Q or L) and its
// ordered, pipe-separated fields (field 0 is the type itself, as it appears
// on the wire, so Fields[0] == string(Type)).
type Record struct {
	Type   byte
	Fields []string
}

// Field returns Fields[i], or "" if i is out of range. ASTM field indexes
// are 0-based counting the type field itself, matching spec.md's "O.field[3]"
// style references.
func (r Record) Field(i int) string {
	if i < 0 || i >= len(r.Fields) {
		return ""
	}
	return r.Fields[i]
}

// isRecordType reports whether b is a record-type letter this grammar recognizes.
func isRecordType(b byte) bool {
	switch b {
	case 'H', 'P', 'O', 'R', 'C', 'Q', 'L':
		return true
	default:
		return false
	}
}

// stripPrefix removes a single leading Sysmex record-number digit (0-7) when
// it is immediately followed by a record-type letter and '|'. Some
// firmwares emit "1H|...", "2P|..."; others emit "H|...", "P|..." directly;
// both must be tolerated.
func stripPrefix(line string) string {
	if len(line) >= 3 && line[0] >= '0' && line[0] <= '7' && isRecordType(line[1]) && line[2] == '|' {
		return line[1:]
	}
	return line
}

// SplitMessage splits an assembled ASTM message into its CR-delimited
// lines, dropping empty lines produced by leading/trailing/duplicate CRs.
func SplitMessage(msg string) []string {
	rawLines := strings.Split(msg, "\r")
	lines := make([]string, 0, len(rawLines))
	for _, l := range rawLines {
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// ParseLine splits one ASTM line into a Record, stripping the record-number
// prefix first. Fields are split on '|' with every trailing empty field
// preserved: the number of '|' is significant (spec.md §4.C), so this
// deliberately does not trim anything.
func ParseLine(line string) Record {
	line = stripPrefix(line)
	fields := strings.Split(line, "|")
	var typ byte
	if len(fields) > 0 && len(fields[0]) > 0 {
		typ = fields[0][0]
	}
	return Record{Type: typ, Fields: fields}
}

// ParseMessage splits an assembled message into records in order.
func ParseMessage(msg string) []Record {
	lines := SplitMessage(msg)
	recs := make([]Record, 0, len(lines))
	for _, l := range lines {
		recs = append(recs, ParseLine(l))
	}
	return recs
}

// NormalizeMessage applies the receiver-side normalization spec.md §4.B
// step 3 requires before handing an assembled message to the dispatcher:
// CRLF collapsed to CR, then outer whitespace trimmed.
func NormalizeMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\r\n", "\r")
	return strings.TrimSpace(msg)
}
