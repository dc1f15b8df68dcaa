package record

import (
	"reflect"
	"testing"
)

func TestStripPrefix_Tolerant(t *testing.T) {
	cases := map[string]Record{
		"1H|\\^&|||Sysmex": {Type: 'H', Fields: []string{"H", "\\^&", "", "", "Sysmex"}},
		"H|\\^&|||Sysmex":  {Type: 'H', Fields: []string{"H", "\\^&", "", "", "Sysmex"}},
		"2P|1":             {Type: 'P', Fields: []string{"P", "1"}},
		"P|1":              {Type: 'P', Fields: []string{"P", "1"}},
	}
	for in, want := range cases {
		got := ParseLine(in)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("ParseLine(%q) = %+v want %+v", in, got, want)
		}
	}
}

func TestParseLine_PreservesTrailingEmptyFields(t *testing.T) {
	line := "O|1||^^          20359^A|^^^^WBC\\^^^^RBC|||||||N||||||||||||||F"
	r := ParseLine(line)
	if r.Type != 'O' {
		t.Fatalf("type = %c want O", r.Type)
	}
	// Count the pipes explicitly: fields length must equal pipe-count+1.
	pipes := 0
	for _, c := range line {
		if c == '|' {
			pipes++
		}
	}
	if len(r.Fields) != pipes+1 {
		t.Fatalf("fields = %d want %d", len(r.Fields), pipes+1)
	}
	if r.Field(4) != "^^^^WBC\\^^^^RBC" {
		t.Fatalf("field[4] = %q", r.Field(4))
	}
}

func TestSplitMessage_DropsEmptyLines(t *testing.T) {
	msg := "H|\\^&|||Sysmex\rP|1\r\rL|1|N\r"
	lines := SplitMessage(msg)
	want := []string{"H|\\^&|||Sysmex", "P|1", "L|1|N"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("lines = %v want %v", lines, want)
	}
}

func TestNormalizeMessage(t *testing.T) {
	msg := "  H|\\^&\r\nP|1\r\n  "
	got := NormalizeMessage(msg)
	want := "H|\\^&\rP|1"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestParseMessage_FullSample(t *testing.T) {
	msg := "H|\\^&|||Sysmex^^^^^^E1394-97|||||||P|E1394-97|20250101120000\r" +
		"P|1\r" +
		"O|1||^^          20359^A|^^^^WBC\\^^^^RBC|||||||N||||||||||||||F\r" +
		"R|1|^^^^WBC^26|6.42|10*3/uL||N\r" +
		"R|2|^^^^RBC^26|4.55|10*6/uL||N\r" +
		"L|1|N"
	recs := ParseMessage(msg)
	if len(recs) != 6 {
		t.Fatalf("len(recs) = %d want 6", len(recs))
	}
	wantTypes := []byte{'H', 'P', 'O', 'R', 'R', 'L'}
	for i, want := range wantTypes {
		if recs[i].Type != want {
			t.Errorf("recs[%d].Type = %c want %c", i, recs[i].Type, want)
		}
	}
}
