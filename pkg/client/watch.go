package client

import (
	"context"
	"math/rand"
	"time"
)

// WatchDashboard fetches supervisorID's dashboard now and then every
// interval plus up to jitter, until ctx ends. Fetch errors are passed to
// onUpdate instead of stopping the loop.
func (c *Client) WatchDashboard(ctx context.Context, supervisorID string, interval, jitter time.Duration, onUpdate func(SupervisorStatus, error)) error {
	if interval <= 0 {
		interval = time.Minute
	}
	poll := func() {
		dash, err := c.Dashboard(ctx, supervisorID)
		if ctx.Err() != nil {
			return
		}
		onUpdate(dash, err)
	}

	poll()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if jitter > 0 {
			if err := sleepContext(ctx, time.Duration(rand.Int63n(int64(jitter)))); err != nil {
				return err
			}
		}
		poll()
	}
}

// CheckInChange is a supervised device whose signed-in-today flag flipped
// between two dashboard snapshots.
type CheckInChange struct {
	Device DeviceStatus
	First  bool
}

// DiffCheckIns lists devices in next whose SignedInToday differs from prev.
// Devices absent from prev are reported with First set.
func DiffCheckIns(prev, next SupervisorStatus) []CheckInChange {
	before := make(map[string]bool, len(prev.Supervised))
	for _, st := range prev.Supervised {
		before[st.DeviceID] = st.SignedInToday
	}
	var out []CheckInChange
	for _, st := range next.Supervised {
		was, seen := before[st.DeviceID]
		if !seen {
			out = append(out, CheckInChange{Device: st, First: true})
			continue
		}
		if was != st.SignedInToday {
			out = append(out, CheckInChange{Device: st})
		}
	}
	return out
}
