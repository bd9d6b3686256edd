package linkcheck

import (
	"time"
)

// Test hooks for the external test package.

func SetLinkClock(s *LinkService, now func() time.Time) { s.now = now }

func SetUserClock(s *UserService, now func() time.Time) { s.now = now }

var (
	LinkDetailKey = linkDetailKey
	LinkListKey   = linkListKey
	LinkStatsKey  = linkStatsKey
)
