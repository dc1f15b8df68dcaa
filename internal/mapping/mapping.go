// Package mapping loads and queries the LIVD-style analyte mapping table:
// vendor result codes rewritten to LIS result codes and units, with an
// optional numeric conversion applied to the result value.
package mapping

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Convert identifies the numeric transform applied to a result value.
type Convert string

const (
	ConvertNone     Convert = "none"
	ConvertMultiply Convert = "multiply"
	ConvertDivide   Convert = "divide"
	ConvertAdd      Convert = "add"
	ConvertSubtract Convert = "subtract"
	ConvertLog10    Convert = "log10"
)

// Row is one entry of the ivd_mapping array of tables.
type Row struct {
	Test             string  `toml:"test"`
	VendorResultCode string  `toml:"vendor_result_code"`
	LISResultCode    string  `toml:"lis_result_code"`
	LISUnit          string  `toml:"lis_unit"`
	Convert          Convert `toml:"convert"`
	Factor           Factor  `toml:"factor"`
}

// IsGlobal reports whether the row applies regardless of test context
// (Test absent/blank); Sysmex XP mappings are always global.
func (r Row) IsGlobal() bool { return strings.TrimSpace(r.Test) == "" }

// Factor unmarshals a TOML value that may be an integer, a float, or a
// numeric string using either '.' or ',' as the decimal separator — the
// pitfall spec.md §9 calls out explicitly. An unparsable factor defaults to
// zero, which is intentional: it makes "divide" a no-op (raw value kept)
// and "multiply" collapse the converted value to zero, exactly as the
// original plugin behaves.
type Factor float64

func (f *Factor) UnmarshalTOML(v any) error {
	switch t := v.(type) {
	case int64:
		*f = Factor(t)
	case float64:
		*f = Factor(t)
	case string:
		n, ok := parseNumber(t)
		if !ok {
			*f = 0
			return nil
		}
		*f = Factor(n)
	default:
		*f = 0
	}
	return nil
}

// UnmarshalText implements encoding.TextUnmarshaler, which go-toml/v2 uses
// to decode a TOML value into a Factor.
func (f *Factor) UnmarshalText(text []byte) error {
	n, ok := parseNumber(string(text))
	if !ok {
		*f = 0
		return nil
	}
	*f = Factor(n)
	return nil
}

// Table is an immutable, loaded-once-at-startup set of mapping rows.
type Table struct {
	Rows []Row `toml:"ivd_mapping"`
}

// Load reads a TOML mapping file shaped as:
//
//	[[ivd_mapping]]
//	vendor_result_code = "^^^^WBC"
//	lis_result_code = "6690-2"
//	lis_unit = "10*3/uL"
//	convert = "none"
//	factor = 1
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mapping: read %s: %w", path, err)
	}
	var t Table
	if err := toml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("mapping: parse %s: %w", path, err)
	}
	return &t, nil
}

// Normalize strips one or more trailing "^<digits>" suffixes from a vendor
// result code, so that e.g. "^^^^WBC^7^1" normalizes to "^^^^WBC". It is
// idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(code string) string {
	for {
		i := strings.LastIndexByte(code, '^')
		if i < 0 || i == len(code)-1 {
			return code
		}
		suffix := code[i+1:]
		if !isAllDigits(suffix) {
			return code
		}
		code = code[:i]
	}
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Lookup finds the first global row whose normalized vendor_result_code
// matches the normalized v, case-insensitively. Sysmex mappings never use
// test-scoped rows, so only global rows are consulted (spec.md §4.D).
func (t *Table) Lookup(vendorCode string) (Row, bool) {
	if t == nil {
		return Row{}, false
	}
	v := strings.ToUpper(Normalize(vendorCode))
	for _, row := range t.Rows {
		if !row.IsGlobal() {
			continue
		}
		if strings.ToUpper(Normalize(row.VendorResultCode)) == v {
			return row, true
		}
	}
	return Row{}, false
}

// noValueTokens are the ASTM "no value" placeholders that map to an empty
// OBX-5 rather than being passed through or converted.
var noValueTokens = map[string]struct{}{
	"----": {}, "---": {}, "--": {}, "": {},
}

// IsNoValue reports whether s (already trimmed) is a no-value token.
func IsNoValue(s string) bool {
	_, ok := noValueTokens[s]
	return ok
}

// parseNumber accepts both '.' and ',' as decimal separators.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.Replace(s, ",", ".", 1)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Apply produces the processed OBX-5 value and OBX-6 unit for a raw ASTM
// result value given an (optional) matched row. If row is nil, the raw
// value and "" unit are returned unless the raw value is a no-value token.
func Apply(row *Row, rawValue string) (value string, unit string) {
	trimmed := strings.TrimSpace(rawValue)
	if IsNoValue(trimmed) {
		if row != nil {
			unit = row.LISUnit
		}
		return "", unit
	}

	if row == nil {
		return trimmed, ""
	}
	unit = row.LISUnit

	if row.Convert == ConvertNone || row.Convert == "" {
		return trimmed, unit
	}

	num, ok := parseNumber(trimmed)
	if !ok {
		// On number-parse failure, leave the raw value unchanged (spec.md §4.D).
		return trimmed, unit
	}

	switch row.Convert {
	case ConvertMultiply:
		num *= float64(row.Factor)
	case ConvertDivide:
		if row.Factor != 0 {
			num /= float64(row.Factor)
		}
	case ConvertAdd:
		num += float64(row.Factor)
	case ConvertSubtract:
		num -= float64(row.Factor)
	case ConvertLog10:
		if num > 0 {
			num = math.Log10(num)
		} else {
			return trimmed, unit
		}
	default:
		return trimmed, unit
	}
	return formatNumber(num), unit
}

// formatNumber renders a float the way lab values are conventionally
// written: no trailing ".000000", but no gratuitous truncation either.
func formatNumber(n float64) string {
	s := strconv.FormatFloat(n, 'f', -1, 64)
	return s
}
