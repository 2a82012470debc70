package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/areuok/pkg/apperr"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(srv.URL, WithRetry(time.Millisecond, 2*time.Millisecond, 2))
	return c
}

func TestClientDecodesCooldown(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/devices/d-1/name", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "zed", body["device_name"])
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "cooldown_active", "request_id": "r", "days_left": 4})
	}))

	_, err := c.UpdateName(context.Background(), "d-1", "zed")
	require.ErrorIs(t, err, apperr.ErrCooldownActive)
	var cooldown *apperr.CooldownError
	require.True(t, errors.As(err, &cooldown))
	require.Equal(t, 4, cooldown.DaysLeft)
}

func TestClientDoesNotRetryConflicts(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusConflict, map[string]any{"error": "name_conflict"})
	}))

	_, err := c.Register(context.Background(), RegisterParams{DeviceName: "alice"})
	require.ErrorIs(t, err, apperr.ErrNameConflict)
	require.EqualValues(t, 1, calls.Load())
}

func TestClientRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "internal"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"device_id": "d-1", "streak": 2, "last_signin_date": "2026-10-15"})
	}))

	state, err := c.SignIn(context.Background(), "d-1")
	require.NoError(t, err)
	require.Equal(t, 2, state.Streak)
	require.Equal(t, "2026-10-15", state.LastSigninDate.String())
	require.EqualValues(t, 3, calls.Load())
}

func TestClientUnknownErrorBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("not json"))
	}))

	_, err := c.GetDevice(context.Background(), "d-1")
	require.ErrorIs(t, err, apperr.ErrInternal)
}

func TestClientSearchEscapesQuery(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "al ice&x", r.URL.Query().Get("q"))
		writeJSON(w, http.StatusOK, []Device{{DeviceID: "d-1", DeviceName: "al ice"}})
	}))

	got, err := c.Search(context.Background(), "al ice&x")
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestClientNoContent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	require.NoError(t, c.RemoveRelation(context.Background(), "rel-1"))
}

func TestClientHealthUnavailable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"healthy": false, "issues": []string{"cache unavailable"}})
	}))

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	require.False(t, h.Healthy)
	require.Equal(t, []string{"cache unavailable"}, h.Issues)
}

func TestStateFileRoundTrip(t *testing.T) {
	sf := NewStateFile(filepath.Join(t.TempDir(), "nested", "state.json"))

	_, err := sf.Load()
	require.ErrorIs(t, err, ErrNoIdentity)

	require.NoError(t, sf.Save(LocalState{Device: Device{DeviceID: "d-1", DeviceName: "alice"}}))
	st, err := sf.Load()
	require.NoError(t, err)
	require.Equal(t, "alice", st.Device.DeviceName)

	require.NoError(t, sf.Clear())
	require.NoError(t, sf.Clear())
	_, err = sf.Load()
	require.ErrorIs(t, err, ErrNoIdentity)
}

func TestClientDoesNotRepeatRegisterAfterServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal"})
			return
		}
		writeJSON(w, http.StatusConflict, map[string]any{"error": "name_conflict"})
	}))

	_, err := c.Register(context.Background(), RegisterParams{DeviceName: "alice"})
	require.ErrorIs(t, err, apperr.ErrInternal)
	require.EqualValues(t, 1, calls.Load())
}

func TestClientRepeatsRegisterWithHardwareID(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "internal"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"device_id": "d-1", "device_name": "alice", "mode": "signin"})
	}))

	d, err := c.Register(context.Background(), RegisterParams{DeviceName: "alice", HardwareID: "356938035643809"})
	require.NoError(t, err)
	require.Equal(t, "d-1", d.DeviceID)
	require.EqualValues(t, 2, calls.Load())
}

func TestClientRepeatsPostTurnedAwayByRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "rate_limited"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"relation_id": "rel-1", "supervisor_id": "b", "target_id": "a"})
	}))

	rel, err := c.Accept(context.Background(), "b", "a")
	require.NoError(t, err)
	require.Equal(t, "rel-1", rel.RelationID)
	require.EqualValues(t, 2, calls.Load())
}

func TestClientDoesNotRepeatAcceptAfterLostResponse(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	}))

	_, err := c.Accept(context.Background(), "b", "a")
	require.Error(t, err)
	require.EqualValues(t, 1, calls.Load())
}
