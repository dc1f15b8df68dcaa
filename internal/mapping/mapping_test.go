package mapping

import (
	"os"
	"testing"
)

func TestNormalize_Idempotent(t *testing.T) {
	cases := []string{"^^^^WBC^7^1", "^^^^WBC", "^^^^RBC^26", "NOCARETS"}
	for _, c := range cases {
		once := Normalize(c)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: once=%q twice=%q", c, once, twice)
		}
	}
	if got := Normalize("^^^^WBC^7^1"); got != "^^^^WBC" {
		t.Errorf("Normalize = %q want ^^^^WBC", got)
	}
}

func TestIsNoValue(t *testing.T) {
	for _, s := range []string{"----", "---", "--", ""} {
		if !IsNoValue(s) {
			t.Errorf("IsNoValue(%q) = false want true", s)
		}
	}
	if IsNoValue("6.42") {
		t.Error("IsNoValue(6.42) = true want false")
	}
}

func TestApply_NoValueProducesEmptyOBX5(t *testing.T) {
	row := Row{LISUnit: "10*3/uL", Convert: ConvertMultiply, Factor: 2}
	for _, tok := range []string{"----", "---", "--", ""} {
		val, unit := Apply(&row, tok)
		if val != "" {
			t.Errorf("Apply(%q) value = %q want empty", tok, val)
		}
		if unit != "10*3/uL" {
			t.Errorf("Apply(%q) unit = %q want 10*3/uL", tok, unit)
		}
	}
}

func TestApply_ConversionFormulas(t *testing.T) {
	cases := []struct {
		convert Convert
		factor  Factor
		raw     string
		want    string
	}{
		{ConvertMultiply, 2, "3", "6"},
		{ConvertDivide, 2, "10", "5"},
		{ConvertDivide, 0, "10", "10"}, // factor 0 => no-op per spec
		{ConvertAdd, 1.5, "3", "4.5"},
		{ConvertSubtract, 1, "3", "2"},
		{ConvertLog10, 0, "100", "2"},
		{ConvertLog10, 0, "0", "0"}, // non-positive => leave raw
		{ConvertNone, 0, "3.14", "3.14"},
	}
	for _, c := range cases {
		row := Row{Convert: c.convert, Factor: c.factor}
		got, _ := Apply(&row, c.raw)
		if got != c.want {
			t.Errorf("Apply(%s,%v,%q) = %q want %q", c.convert, c.factor, c.raw, got, c.want)
		}
	}
}

func TestApply_NonNumericLeftUnchanged(t *testing.T) {
	row := Row{Convert: ConvertMultiply, Factor: 2}
	got, _ := Apply(&row, "POS")
	if got != "POS" {
		t.Errorf("Apply(POS) = %q want POS", got)
	}
}

func TestApply_CommaDecimalSeparator(t *testing.T) {
	row := Row{Convert: ConvertMultiply, Factor: 2}
	got, _ := Apply(&row, "3,5")
	if got != "7" {
		t.Errorf("Apply(3,5) = %q want 7", got)
	}
}

func TestLookup_GlobalRowsOnly(t *testing.T) {
	tbl := &Table{Rows: []Row{
		{Test: "WBC-SCOPED", VendorResultCode: "^^^^WBC^26", LISResultCode: "SHOULD_NOT_MATCH"},
		{VendorResultCode: "^^^^WBC^26", LISResultCode: "6690-2", LISUnit: "10*3/uL"},
	}}
	row, ok := tbl.Lookup("^^^^WBC^7")
	if !ok {
		t.Fatal("expected a match")
	}
	if row.LISResultCode != "6690-2" {
		t.Fatalf("matched wrong row: %+v", row)
	}
}

func TestLoad_TOMLMappingFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/mapping.toml"
	content := `
[[ivd_mapping]]
vendor_result_code = "^^^^WBC"
lis_result_code = "6690-2"
lis_unit = "10*3/uL"
convert = "none"
factor = 1

[[ivd_mapping]]
vendor_result_code = "^^^^RBC"
lis_result_code = "789-8"
lis_unit = "10*6/uL"
convert = "multiply"
factor = "1,0"
`
	if err := writeFile(path, content); err != nil {
		t.Fatal(err)
	}
	tbl, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tbl.Rows) != 2 {
		t.Fatalf("rows = %d want 2", len(tbl.Rows))
	}
	row, ok := tbl.Lookup("^^^^RBC^26")
	if !ok || row.Factor != 1 {
		t.Fatalf("row = %+v ok=%v", row, ok)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
