package hl7translate

import "strings"

// splitSegments splits a raw ER7 HL7 message on CR (also tolerating bare LF
// and CRLF from upstream adapters that normalize line endings), dropping
// empty segments.
func splitSegments(hl7 []byte) []string {
	s := string(hl7)
	s = strings.ReplaceAll(s, "\r\n", "\r")
	s = strings.ReplaceAll(s, "\n", "\r")
	raw := strings.Split(s, "\r")
	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg == "" {
			continue
		}
		out = append(out, seg)
	}
	return out
}

// segmentFields splits one ER7 segment on '|'. fields[0] is always the
// segment identifier (e.g. "MSH", "MSA", "SPM"); field N of the segment
// description (e.g. "MSA-1") is fields[N] for every segment except MSH,
// where the field separator itself occupies position 1 by convention — the
// literal layout this package builds and parses keeps that convention, so
// callers index MSH fields the same way (fields[9] is MSH-10, etc.).
func segmentFields(seg string) []string {
	return strings.Split(seg, "|")
}

func fieldAt(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}

// firstSegment returns the fields of the first segment in hl7 whose
// identifier equals typ, or nil if none is found.
func firstSegment(hl7 []byte, typ string) []string {
	for _, seg := range splitSegments(hl7) {
		fields := segmentFields(seg)
		if len(fields) > 0 && fields[0] == typ {
			return fields
		}
	}
	return nil
}

// firstComponent returns the first '^'-separated component of s, trimmed.
func firstComponent(s string) string {
	if i := strings.IndexByte(s, '^'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
