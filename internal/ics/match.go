package ics

import (
	"regexp"
	"time"
)

// DefaultMatchTimeout bounds a single pattern match.
const DefaultMatchTimeout = 100 * time.Millisecond

// MatchConfig is passed to every pattern check. A match that takes longer
// than Timeout counts as a failed check. Zero disables the bound.
type MatchConfig struct {
	Timeout time.Duration
}

var (
	namePattern   = regexp.MustCompile(`^[ A-Za-z0-9_'./&-]*$`)
	mobilePattern = regexp.MustCompile(`^\+?[1-9][0-9]{7,14}$`)
)

func matchPattern(cfg MatchConfig, re *regexp.Regexp, s string) bool {
	start := time.Now()
	ok := re.MatchString(s)
	if cfg.Timeout > 0 && time.Since(start) > cfg.Timeout {
		return false
	}
	return ok
}
