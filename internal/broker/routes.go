package broker

import (
	"strings"

	"github.com/honeypulse/honeypulse/internal/g2s"
)

// Route maps request paths containing Match onto Target.
type Route struct {
	Match  string
	Target string
}

// Routes is evaluated in order; the first match wins.
type Routes []Route

// DefaultRoutes sends classifier paths to mlService and persistence paths to logService.
func DefaultRoutes() Routes {
	return Routes{
		{Match: "ml", Target: g2s.TargetML},
		{Match: "log", Target: g2s.TargetLog},
	}
}

// Resolve returns the target for path.
func (r Routes) Resolve(path string) (string, bool) {
	for _, route := range r {
		if route.Match != "" && strings.Contains(path, route.Match) {
			return route.Target, true
		}
	}
	return "", false
}
