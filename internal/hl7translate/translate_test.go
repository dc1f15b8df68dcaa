package hl7translate

import (
	"strings"
	"testing"

	"github.com/kstaniek/sysmex-astm-bridge/internal/astm/record"
	"github.com/kstaniek/sysmex-astm-bridge/internal/mapping"
)

func parse(msg string) []record.Record { return record.ParseMessage(msg) }

func TestBuildOULR22_HappyPath(t *testing.T) {
	msg := "H|\\^&|||Sysmex^^^^^^E1394-97|||||||P|E1394-97|20250101120000\r" +
		"P|1\r" +
		"O|1||^^          20359^A|^^^^WBC\\^^^^RBC|||||||N||||||||||||||F\r" +
		"R|1|^^^^WBC^26|6.42|10*3/uL||N\r" +
		"R|2|^^^^RBC^26|4.55|10*6/uL||N\r" +
		"L|1|N"
	recs := parse(msg)

	tbl := &mapping.Table{Rows: []mapping.Row{
		{VendorResultCode: "^^^^WBC", LISResultCode: "6690-2", LISUnit: "10*3/uL"},
		{VendorResultCode: "^^^^RBC", LISResultCode: "789-8", LISUnit: "10*6/uL"},
	}}

	hl7 := BuildOULR22(recs, tbl, DefaultEndpoints(), "20250101120000", "MSG1")
	if !strings.HasPrefix(hl7, "MSH|^~\\&|Sysmex|Analyzer|LabBook|LIS|") {
		t.Fatalf("unexpected MSH: %q", hl7)
	}
	if !strings.Contains(hl7, "SPM|1|20359") {
		t.Errorf("missing SPM with specimen id: %s", hl7)
	}
	if !strings.Contains(hl7, "ORC|RE|20359") {
		t.Errorf("missing ORC: %s", hl7)
	}
	if !strings.Contains(hl7, "OBX|1|NM|6690-2|1|6.42|10*3/uL||N") {
		t.Errorf("missing first OBX: %s", hl7)
	}
	if !strings.Contains(hl7, "OBX|2|NM|789-8|2|4.55|10*6/uL||N") {
		t.Errorf("missing second OBX: %s", hl7)
	}
}

func TestBuildOULR22_NoMappingFallsBackToRawCode(t *testing.T) {
	recs := parse("O|1||^^123^A|\rR|1|^^^^WBC^26|6.42|10*3/uL||N")
	hl7 := BuildOULR22(recs, nil, DefaultEndpoints(), "ts", "ctrl")
	if !strings.Contains(hl7, "OBX|1|NM|^^^^WBC^26|1|6.42|10*3/uL||N") {
		t.Errorf("expected raw analyte code fallback: %s", hl7)
	}
}

func TestBuildOULR22_SpecimenIDFallbackToField2(t *testing.T) {
	recs := parse("O|1|ALT-ID|no-caret-prefix|")
	hl7 := BuildOULR22(recs, nil, DefaultEndpoints(), "ts", "ctrl")
	if !strings.Contains(hl7, "SPM|1|ALT-ID") {
		t.Errorf("expected fallback to field[2]: %s", hl7)
	}
}

func TestParseUpstreamACK(t *testing.T) {
	cases := map[string]string{
		"MSH|^~\\&|LIS|LabBook|Analyzer|Sysmex|ts||ACK|MSG1|P|2.5.1\rMSA|AA|MSG1": "L|1|Y",
		"MSH|^~\\&|LIS|LabBook|Analyzer|Sysmex|ts||ACK|MSG1|P|2.5.1\rMSA|AE|MSG1": "L|1|N",
		"not hl7 at all":         "L|1|N",
		"":                       "L|1|N",
	}
	for in, want := range cases {
		if got := ParseUpstreamACK([]byte(in)); got != want {
			t.Errorf("ParseUpstreamACK(%q) = %q want %q", in, got, want)
		}
	}
}

func TestBackgroundCheck(t *testing.T) {
	for _, s := range []string{"BACKGROUNDCHECK", "backgroundcheck", "  BackgroundCheck  "} {
		if !IsBackgroundCheck(s) {
			t.Errorf("IsBackgroundCheck(%q) = false want true", s)
		}
	}
	if IsBackgroundCheck("20359") {
		t.Error("IsBackgroundCheck(20359) = true want false")
	}
}

func TestBuildQBPQ11(t *testing.T) {
	recs := parse("Q|1|20359|O")
	hl7, ok := BuildQBPQ11(recs, DefaultEndpoints(), "ts", "ctrl1")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !strings.Contains(hl7, "QPD|LAB-27^IHE|SYSMEX|20359") {
		t.Errorf("missing QPD: %s", hl7)
	}
	if !strings.Contains(hl7, "RCP|I") {
		t.Errorf("missing RCP: %s", hl7)
	}
}

func TestBuildQBPQ11_NoQRecord(t *testing.T) {
	recs := parse("H|\\^&\rL|1|N")
	if _, ok := BuildQBPQ11(recs, DefaultEndpoints(), "ts", "ctrl"); ok {
		t.Fatal("expected ok=false with no Q record")
	}
}

func TestBuildASTMOrderBlock_PaddedSpecimenID(t *testing.T) {
	block := BuildASTMOrderBlock("20359")
	want := []string{
		"H|\\^&|||||||||||E1394-97",
		"P|1",
		"O|1||^^          20359^A|^^^^WBC\\^^^^RBC\\^^^^HGB\\^^^^HCT\\^^^^PLT|||||||N||||||||||||||F",
		"L|1|N",
	}
	for i, w := range want {
		if block[i] != w {
			t.Errorf("block[%d] = %q want %q", i, block[i], w)
		}
	}
}

func TestParseRSPK11SpecimenID(t *testing.T) {
	hl7 := []byte("MSH|^~\\&|LIS|LabBook|Analyzer|Sysmex|ts||RSP^K11|ctrl|P|2.5.1\rSPM|1|20359|")
	sid, ok := ParseRSPK11SpecimenID(hl7)
	if !ok || sid != "20359" {
		t.Fatalf("sid=%q ok=%v", sid, ok)
	}
}

func TestSpecimenIDFromOML(t *testing.T) {
	hl7 := []byte("MSH|^~\\&|LIS|LabBook|Analyzer|Sysmex|ts||OML^O33|ctrl123|P|2.5.1\rSPM|1|20359^^^LIS|")
	sid, ok := SpecimenIDFromOML(hl7)
	if !ok || sid != "20359" {
		t.Fatalf("sid=%q ok=%v", sid, ok)
	}
}

func TestBuildACKR22_SwapsApplicationsAndReusesControlID(t *testing.T) {
	oml := []byte("MSH|^~\\&|LIS|LabBook|Analyzer|Sysmex|ts||OML^O33|ctrl123|P|2.5.1\rSPM|1|20359|")
	ack := BuildACKR22(oml, true, DefaultEndpoints(), "ts2", "ackctrl")
	if !strings.HasPrefix(ack, "MSH|^~\\&|Analyzer|Sysmex|LIS|LabBook|") {
		t.Fatalf("expected swapped apps: %s", ack)
	}
	if !strings.Contains(ack, "MSA|AA|ctrl123") {
		t.Fatalf("expected MSA reusing original control id: %s", ack)
	}
}

func TestBuildACKR22_Failure(t *testing.T) {
	oml := []byte("MSH|^~\\&|LIS|LabBook|Analyzer|Sysmex|ts||OML^O33|ctrl123|P|2.5.1")
	ack := BuildACKR22(oml, false, DefaultEndpoints(), "ts2", "ackctrl")
	if !strings.Contains(ack, "MSA|AE|ctrl123") {
		t.Fatalf("expected AE: %s", ack)
	}
}
