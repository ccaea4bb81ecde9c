// Package health reports whether the API's dependencies are reachable.
package health

import (
	"context"
	"time"
)

// Pinger is a dependency that can be pinged, such as *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Service runs named dependency checks.
type Service struct {
	checks  map[string]Pinger
	timeout time.Duration
}

// NewService constructs a health service. Nil checks are ignored.
func NewService(checks map[string]Pinger) *Service {
	filtered := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			filtered[name] = p
		}
	}
	return &Service{checks: filtered, timeout: 2 * time.Second}
}

// Status pings every dependency and reports overall health plus per-check results.
func (s *Service) Status(ctx context.Context) (bool, map[string]string) {
	ok := true
	results := make(map[string]string, len(s.checks))
	for name, p := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := p.PingContext(checkCtx)
		cancel()
		if err != nil {
			ok = false
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	return ok, results
}
