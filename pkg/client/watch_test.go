package client

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchDashboardPollsUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/supervision/dashboard/sup-1", r.URL.Path)
		n := calls.Add(1)
		writeJSON(w, http.StatusOK, SupervisorStatus{
			SupervisorID: "sup-1",
			Supervised:   []DeviceStatus{{DeviceID: "d-1", SignedInToday: n > 1}},
		})
	}))

	ctx, cancel := context.WithCancel(context.Background())
	var updates []SupervisorStatus
	err := c.WatchDashboard(ctx, "sup-1", 5*time.Millisecond, 0, func(s SupervisorStatus, err error) {
		require.NoError(t, err)
		updates = append(updates, s)
		if len(updates) == 3 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, updates, 3)
	require.False(t, updates[0].Supervised[0].SignedInToday)
	require.True(t, updates[2].Supervised[0].SignedInToday)
}

func TestDiffCheckIns(t *testing.T) {
	prev := SupervisorStatus{Supervised: []DeviceStatus{
		{DeviceID: "a", SignedInToday: false},
		{DeviceID: "b", SignedInToday: true},
	}}
	next := SupervisorStatus{Supervised: []DeviceStatus{
		{DeviceID: "a", SignedInToday: true},
		{DeviceID: "b", SignedInToday: true},
		{DeviceID: "c", SignedInToday: false},
	}}

	changes := DiffCheckIns(prev, next)
	require.Len(t, changes, 2)
	require.Equal(t, "a", changes[0].Device.DeviceID)
	require.False(t, changes[0].First)
	require.Equal(t, "c", changes[1].Device.DeviceID)
	require.True(t, changes[1].First)

	require.Empty(t, DiffCheckIns(next, next))
}
