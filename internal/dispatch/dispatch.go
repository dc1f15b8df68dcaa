// Package dispatch routes a raw, assembled ASTM message to the transaction
// coordinator operation that should handle it, per spec.md §4.H.
package dispatch

import (
	"regexp"
	"strings"
)

// Route names which coordinator operation an assembled message belongs to.
type Route int

const (
	// RouteIgnore means neither a Q nor an H record line was found.
	RouteIgnore Route = iota
	// RouteLAB27 is a worklist query (any Q record present).
	RouteLAB27
	// RouteLAB29 is a result upload (an H record present, no Q record).
	RouteLAB29
)

var (
	qLine = regexp.MustCompile(`^[0-7]?Q\|`)
	hLine = regexp.MustCompile(`^[0-7]?H\|`)
)

// Classify inspects msg line by line (CR-delimited, per spec.md's ASTM
// record separator) and returns the route: any Q record wins over an H
// record, per spec.md §4.H.
func Classify(msg string) Route {
	lines := strings.Split(msg, "\r")
	hasH := false
	for _, l := range lines {
		if qLine.MatchString(l) {
			return RouteLAB27
		}
		if hLine.MatchString(l) {
			hasH = true
		}
	}
	if hasH {
		return RouteLAB29
	}
	return RouteIgnore
}
