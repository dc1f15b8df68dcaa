package dispatch

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		want Route
	}{
		{"lab27 query", "H|\\^&\rQ|1|20359|O\rL|1|N", RouteLAB27},
		{"lab29 result", "H|\\^&\rP|1\rO|1||20359\rR|1|^^^^WBC^26|6.42\rL|1|N", RouteLAB29},
		{"prefixed digits", "1H|\\^&\r2Q|1|20359\rL|1|N", RouteLAB27},
		{"neither", "P|1\rL|1|N", RouteIgnore},
		{"q wins over h", "H|\\^&\rQ|1|x\rL|1|N", RouteLAB27},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.msg); got != tc.want {
				t.Fatalf("Classify(%q) = %v, want %v", tc.msg, got, tc.want)
			}
		})
	}
}
