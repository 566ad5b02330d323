package opencode

import (
	"regexp"
	"strconv"
)

// portLinePattern matches the single readiness line an opencode server prints
// once it has bound its HTTP port, e.g.
//
//	opencode server listening on http://127.0.0.1:54321
//
// The surrounding text is deliberately loose: only the "listening on" URL
// matters, and the first matching line wins.
var portLinePattern = regexp.MustCompile(`listening on https?://([^:/\s]+):(\d+)`)

// ParsePortLine tests a single stdout line against the readiness pattern and
// returns the announced port. This is the whole readiness protocol — there is
// no structured handshake, so the classifier is kept isolated and unit-testable
// apart from process spawning.
func ParsePortLine(line string) (port int, ok bool) {
	m := portLinePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	port, err := strconv.Atoi(m[2])
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}
