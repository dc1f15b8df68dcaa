// Package hl7translate implements the ASTM↔HL7 v2.5.1 conversions for the
// three IHE LAB transactions (LAB-27 query, LAB-28 order download, LAB-29
// result upload), including the OUL^R22 synthesis and the ACK^R22 reply
// generation described in spec.md §4.E.
package hl7translate

import (
	"fmt"
	"strings"

	"github.com/kstaniek/sysmex-astm-bridge/internal/astm/record"
	"github.com/kstaniek/sysmex-astm-bridge/internal/mapping"
)

// Endpoints names the HL7 application/facility identifiers used on either
// side of a message. Sysmex's plugin hardcodes these; this bridge keeps
// them configurable but defaults to the same literal values spec.md's
// worked examples use.
type Endpoints struct {
	SendingApp         string
	SendingFacility    string
	ReceivingApp       string
	ReceivingFacility  string
}

// DefaultEndpoints matches spec.md's worked MSH examples exactly.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		SendingApp:        "Sysmex",
		SendingFacility:   "Analyzer",
		ReceivingApp:      "LabBook",
		ReceivingFacility: "LIS",
	}
}

func (e Endpoints) swapped() Endpoints {
	return Endpoints{
		SendingApp:        e.ReceivingApp,
		SendingFacility:   e.ReceivingFacility,
		ReceivingApp:      e.SendingApp,
		ReceivingFacility: e.SendingFacility,
	}
}

func msh(ep Endpoints, timestamp, msgType, controlID, version string) string {
	return fmt.Sprintf("MSH|^~\\&|%s|%s|%s|%s|%s||%s|%s|P|%s",
		ep.SendingApp, ep.SendingFacility, ep.ReceivingApp, ep.ReceivingFacility,
		timestamp, msgType, controlID, version)
}

const hl7Version = "2.5.1"

// BuildOULR22 converts a parsed ASTM message into an HL7 OUL^R22 message,
// per spec.md §4.E. timestamp is MSH-7 (YYYYMMDDhhmmss) and controlID is
// MSH-10 (e.g. "MSG" + epoch millis); both are supplied by the caller so
// this function stays a pure, deterministic transform.
func BuildOULR22(recs []record.Record, tbl *mapping.Table, ep Endpoints, timestamp, controlID string) string {
	var segs []string
	segs = append(segs, msh(ep, timestamp, "OUL^R22", controlID, hl7Version))

	obxIndex := 1
	for _, r := range recs {
		switch r.Type {
		case 'P':
			segs = append(segs, fmt.Sprintf("PID|||%s||", r.Field(2)))
		case 'O':
			sid := extractOSpecimenID(r)
			segs = append(segs,
				fmt.Sprintf("SPM|1|%s", sid),
				fmt.Sprintf("ORC|RE|%s", sid),
				fmt.Sprintf("OBR|1|%s||%s", sid, r.Field(4)),
			)
		case 'R':
			segs = append(segs, buildOBX(r, tbl, obxIndex))
			obxIndex++
		case 'C':
			if len(r.Fields) > 1 {
				segs = append(segs, fmt.Sprintf("NTE|1|L|%s", strings.Join(r.Fields[1:], " ")))
			} else {
				segs = append(segs, "NTE|1|L|")
			}
		default:
			// H, Q, L and any unrecognized record types are skipped silently.
		}
	}
	return strings.Join(segs, "\r")
}

// extractOSpecimenID implements spec.md §4.E's O-record specimen ID rule:
// prefer field[3] if it starts with "^^" (take the first component after
// that prefix); otherwise fall back to field[2]. Always trimmed.
func extractOSpecimenID(o record.Record) string {
	f3 := o.Field(3)
	if strings.HasPrefix(f3, "^^") {
		return firstComponent(strings.TrimPrefix(f3, "^^"))
	}
	return strings.TrimSpace(o.Field(2))
}

// buildOBX renders one R record as an OBX segment.
func buildOBX(r record.Record, tbl *mapping.Table, index int) string {
	vendorCode := r.Field(2)
	row, matched := lookup(tbl, vendorCode)

	code := vendorCode
	var rowPtr *mapping.Row
	if matched {
		if row.LISResultCode != "" {
			code = row.LISResultCode
		}
		rowPtr = &row
	}

	rawValue := r.Field(3)
	currentUnit := r.Field(4)
	if matched && row.LISUnit != "" {
		currentUnit = row.LISUnit
	}
	rawValue = stripUnitSuffix(rawValue, currentUnit)

	value, unit := mapping.Apply(rowPtr, rawValue)
	if unit == "" {
		unit = currentUnit
	}

	// Build OBX-1..OBX-16 explicitly (index 0 is the "OBX" segment id) so the
	// gaps spec.md leaves unspecified stay empty at the right positions.
	fields := make([]string, 17)
	fields[0] = "OBX"
	fields[1] = fmt.Sprintf("%d", index)
	fields[2] = "NM"
	fields[3] = code
	fields[4] = r.Field(1)
	fields[5] = value
	fields[6] = unit
	fields[7] = ""
	fields[8] = r.Field(6)
	fields[11] = "F"
	fields[14] = r.Field(12)
	fields[16] = r.Field(10)
	return strings.Join(fields, "|")
}

// stripUnitSuffix removes a trailing unit token from value if present,
// matching spec.md §4.E's "unit suffix stripped from value if already
// present and matches current unit" rule.
func stripUnitSuffix(value, unit string) string {
	trimmed := strings.TrimSpace(value)
	if unit == "" {
		return trimmed
	}
	if strings.HasSuffix(trimmed, unit) {
		return strings.TrimSpace(strings.TrimSuffix(trimmed, unit))
	}
	return trimmed
}

func lookup(tbl *mapping.Table, vendorCode string) (mapping.Row, bool) {
	if tbl == nil {
		return mapping.Row{}, false
	}
	return tbl.Lookup(vendorCode)
}

// BackgroundCheckSpecimenID is the sentinel sample ID (case-insensitive)
// that diverts a LAB-29 result away from the upstream LIS.
const BackgroundCheckSpecimenID = "BACKGROUNDCHECK"

// IsBackgroundCheck reports whether specimenID (already trimmed by the
// caller, or not — this trims too) names the background-check control
// sample, per spec.md §4.E.
func IsBackgroundCheck(specimenID string) bool {
	return strings.EqualFold(strings.TrimSpace(specimenID), BackgroundCheckSpecimenID)
}

// SpecimenIDFromASTM finds the first O record in recs and extracts its
// specimen ID the same way BuildOULR22 does, for background-check routing
// decisions taken before translation.
func SpecimenIDFromASTM(recs []record.Record) string {
	for _, r := range recs {
		if r.Type == 'O' {
			return extractOSpecimenID(r)
		}
	}
	return ""
}

// ParseUpstreamACK converts the LIS's HL7 ACK reply (to an OUL^R22) into
// the ASTM-side terminator record: "L|1|Y" on MSA-1 == AA, "L|1|N"
// otherwise — including when the reply is not HL7 at all.
func ParseUpstreamACK(hl7 []byte) string {
	if !strings.HasPrefix(string(hl7), "MSH|") {
		return "L|1|N"
	}
	msa := firstSegment(hl7, "MSA")
	if fieldAt(msa, 1) == "AA" {
		return "L|1|Y"
	}
	return "L|1|N"
}

// BuildQBPQ11 converts the first Q record found in recs into an HL7
// QBP^Q11 worklist query, per spec.md §4.E. Returns ok=false if no Q
// record is present.
func BuildQBPQ11(recs []record.Record, ep Endpoints, timestamp, controlID string) (string, bool) {
	var q *record.Record
	for i := range recs {
		if recs[i].Type == 'Q' {
			q = &recs[i]
			break
		}
	}
	if q == nil {
		return "", false
	}
	segs := []string{
		msh(ep, timestamp, "QBP^Q11", controlID, hl7Version),
		fmt.Sprintf("QPD|LAB-27^IHE|SYSMEX|%s", q.Field(2)),
		"RCP|I",
	}
	return strings.Join(segs, "\r"), true
}

// BuildASTMOrderBlock renders the four-record H/P/O/L block spec.md §4.E
// specifies for both the LAB-27 RSP^K11 reply and the LAB-28 OML^O33
// download, with the specimen ID right-aligned padded to width 15.
func BuildASTMOrderBlock(specimenID string) []string {
	padded := padLeft(specimenID, 15)
	return []string{
		"H|\\^&|||||||||||E1394-97",
		"P|1",
		fmt.Sprintf("O|1||^^%s^A|^^^^WBC\\^^^^RBC\\^^^^HGB\\^^^^HCT\\^^^^PLT|||||||N||||||||||||||F", padded),
		"L|1|N",
	}
}

// padLeft right-aligns s within width using space padding; s longer than
// width is left untruncated (an operator-visible anomaly, not silently
// corrupted data).
func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

// ParseRSPK11SpecimenID scans an HL7 RSP^K11 response for its first SPM
// segment and returns SPM-2 as the specimen ID, per spec.md §4.E.
func ParseRSPK11SpecimenID(hl7 []byte) (string, bool) {
	spm := firstSegment(hl7, "SPM")
	if spm == nil {
		return "", false
	}
	return fieldAt(spm, 2), true
}

// SpecimenIDFromOML extracts the placer-assigned identifier entity id from
// the first SPM segment of an OML^O33 message (spec.md §4.E's LAB-28
// extraction rule).
func SpecimenIDFromOML(hl7 []byte) (string, bool) {
	spm := firstSegment(hl7, "SPM")
	if spm == nil {
		return "", false
	}
	return firstComponent(fieldAt(spm, 2)), true
}

// OriginalControlID returns MSH-10 of hl7, for reuse in an ACK reply.
func OriginalControlID(hl7 []byte) string {
	msh := firstSegment(hl7, "MSH")
	return fieldAt(msh, 9)
}

// BuildACKR22 synthesizes the ACK^R22 sent back to the LIS for a LAB-28
// order download: MSA-1 is AA on success, AE otherwise; MSA-2 reuses the
// original MSH-10; sending/receiving applications are swapped relative to
// the inbound OML^O33, per spec.md §4.E.
func BuildACKR22(originalOML []byte, success bool, ep Endpoints, timestamp, controlID string) string {
	origMSH := firstSegment(originalOML, "MSH")
	origEP := Endpoints{
		SendingApp:        fieldAt(origMSH, 2),
		SendingFacility:   fieldAt(origMSH, 3),
		ReceivingApp:      fieldAt(origMSH, 4),
		ReceivingFacility:  fieldAt(origMSH, 5),
	}
	replyEP := ep
	if origMSH != nil {
		replyEP = origEP.swapped()
	}
	ackCode := "AE"
	if success {
		ackCode = "AA"
	}
	origControlID := fieldAt(origMSH, 9)
	segs := []string{
		msh(replyEP, timestamp, "ACK^R22", controlID, hl7Version),
		fmt.Sprintf("MSA|%s|%s", ackCode, origControlID),
	}
	return strings.Join(segs, "\r")
}
