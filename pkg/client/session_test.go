package client

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/haasonsaas/areuok/pkg/apperr"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	name  atomic.Value
	gone  atomic.Bool
	calls atomic.Int32
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if f.gone.Load() {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found"})
		return
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/devices/register":
		var body RegisterParams
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.name.Store(body.DeviceName)
		writeJSON(w, http.StatusCreated, Device{DeviceID: "d-1", DeviceName: body.DeviceName, Mode: "signin"})
	case r.Method == http.MethodPatch && r.URL.Path == "/devices/d-1/name":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.name.Store(body["device_name"])
		writeJSON(w, http.StatusOK, Device{DeviceID: "d-1", DeviceName: body["device_name"], Mode: "signin"})
	case r.Method == http.MethodGet && r.URL.Path == "/devices/d-1":
		writeJSON(w, http.StatusOK, Device{DeviceID: "d-1", DeviceName: f.name.Load().(string), Mode: "signin"})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found"})
	}
}

func newTestSession(t *testing.T) (*Session, *fakeAPI, *StateFile) {
	t.Helper()
	api := &fakeAPI{}
	state := NewStateFile(filepath.Join(t.TempDir(), "state.json"))
	return NewSession(newTestClient(t, api), state), api, state
}

func TestSessionCachesIdentity(t *testing.T) {
	session, api, state := newTestSession(t)
	ctx := context.Background()

	_, err := session.Whoami(ctx, true)
	require.ErrorIs(t, err, ErrNoIdentity)

	_, err = session.Register(ctx, RegisterParams{DeviceName: "alice"})
	require.NoError(t, err)
	st, err := state.Load()
	require.NoError(t, err)
	require.Equal(t, "d-1", st.Device.DeviceID)

	before := api.calls.Load()
	cached, err := session.Whoami(ctx, true)
	require.NoError(t, err)
	require.Equal(t, "alice", cached.DeviceName)
	require.Equal(t, before, api.calls.Load())

	renamed, err := session.Rename(ctx, "alicia")
	require.NoError(t, err)
	require.Equal(t, "alicia", renamed.DeviceName)
	cached, err = session.Whoami(ctx, true)
	require.NoError(t, err)
	require.Equal(t, "alicia", cached.DeviceName)

	fresh, err := session.Whoami(ctx, false)
	require.NoError(t, err)
	require.Equal(t, "alicia", fresh.DeviceName)
}

func TestSessionDropsUnknownDevice(t *testing.T) {
	session, api, state := newTestSession(t)
	ctx := context.Background()

	_, err := session.Register(ctx, RegisterParams{DeviceName: "alice"})
	require.NoError(t, err)

	api.gone.Store(true)
	_, err = session.Whoami(ctx, false)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = state.Load()
	require.ErrorIs(t, err, ErrNoIdentity)
}

func TestSessionSetModeForUnknownDeviceClearsCache(t *testing.T) {
	session, _, state := newTestSession(t)
	require.NoError(t, state.Save(LocalState{Device: Device{DeviceID: "missing-id", DeviceName: "old"}}))

	// The fake answers not_found for unknown IDs, which clears the cache.
	_, err := session.SetMode(context.Background(), "supervisor")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = state.Load()
	require.ErrorIs(t, err, ErrNoIdentity)
}

func TestSessionSignInReportsFailedStateClear(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	state := NewStateFile(path)
	require.NoError(t, state.Save(LocalState{Device: Device{DeviceID: "missing-id", DeviceName: "old"}}))

	// The state file turns into a non-empty directory while the call is in
	// flight, so it can no longer be removed.
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, os.Remove(path))
		require.NoError(t, os.MkdirAll(filepath.Join(path, "pinned"), 0o700))
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found"})
	}))
	session := NewSession(c, state)

	_, err := session.SignIn(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, apperr.ErrNotFound)
}

func TestSessionSignInForUnknownDeviceClearsCache(t *testing.T) {
	session, api, state := newTestSession(t)
	require.NoError(t, state.Save(LocalState{Device: Device{DeviceID: "d-1", DeviceName: "alice"}}))
	api.gone.Store(true)

	_, err := session.SignIn(context.Background())
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = state.Load()
	require.ErrorIs(t, err, ErrNoIdentity)
}
