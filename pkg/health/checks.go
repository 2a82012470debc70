package health

import (
	"context"
	"fmt"
	"time"
)

// Probe reports whether one dependency is usable.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type Status struct {
	Healthy   bool            `json:"healthy"`
	Checks    map[string]bool `json:"checks"`
	Issues    []string        `json:"issues,omitempty"`
	CheckedAt time.Time       `json:"checked_at"`
}

// Check runs every probe with its own timeout and collects the failures.
func Check(ctx context.Context, timeout time.Duration, probes ...Probe) *Status {
	status := &Status{
		Healthy:   true,
		Checks:    make(map[string]bool, len(probes)),
		Issues:    []string{},
		CheckedAt: time.Now().UTC(),
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	for _, probe := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := probe.Check(probeCtx)
		cancel()

		status.Checks[probe.Name] = err == nil
		if err != nil {
			status.Healthy = false
			status.Issues = append(status.Issues, fmt.Sprintf("%s unavailable: %v", probe.Name, err))
		}
	}
	return status
}
