package client

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/areuok/pkg/apperr"
)

// Session binds a Client to this machine's registered device. Every
// successful identity call refreshes the state file; the server stays the
// only authority for names and cooldowns.
type Session struct {
	client *Client
	state  *StateFile
	now    func() time.Time
}

func NewSession(c *Client, state *StateFile) *Session {
	return &Session{client: c, state: state, now: time.Now}
}

func (s *Session) Client() *Client {
	return s.client
}

// DeviceID returns the locally registered device ID.
func (s *Session) DeviceID() (string, error) {
	st, err := s.state.Load()
	if err != nil {
		return "", err
	}
	return st.Device.DeviceID, nil
}

func (s *Session) Register(ctx context.Context, params RegisterParams) (Device, error) {
	device, err := s.client.Register(ctx, params)
	if err != nil {
		return Device{}, err
	}
	return device, s.remember(device)
}

// Whoami returns this machine's device. With cached set, the state file
// answers without a round trip when it exists.
func (s *Session) Whoami(ctx context.Context, cached bool) (Device, error) {
	st, err := s.state.Load()
	if err != nil {
		return Device{}, err
	}
	if cached {
		return st.Device, nil
	}
	return s.refresh(ctx, st.Device.DeviceID, func(ctx context.Context, id string) (Device, error) {
		return s.client.GetDevice(ctx, id)
	})
}

func (s *Session) Rename(ctx context.Context, name string) (Device, error) {
	id, err := s.DeviceID()
	if err != nil {
		return Device{}, err
	}
	return s.refresh(ctx, id, func(ctx context.Context, id string) (Device, error) {
		return s.client.UpdateName(ctx, id, name)
	})
}

func (s *Session) SetMode(ctx context.Context, mode string) (Device, error) {
	id, err := s.DeviceID()
	if err != nil {
		return Device{}, err
	}
	return s.refresh(ctx, id, func(ctx context.Context, id string) (Device, error) {
		return s.client.SetMode(ctx, id, mode)
	})
}

func (s *Session) SignIn(ctx context.Context) (StreakState, error) {
	id, err := s.DeviceID()
	if err != nil {
		return StreakState{}, err
	}
	state, err := s.client.SignIn(ctx, id)
	return state, s.forgetIfUnknown(err)
}

// refresh runs an identity call and caches its result. A device the server
// no longer knows is dropped from the state file.
func (s *Session) refresh(ctx context.Context, id string, call func(context.Context, string) (Device, error)) (Device, error) {
	device, err := call(ctx, id)
	if err != nil {
		return Device{}, s.forgetIfUnknown(err)
	}
	return device, s.remember(device)
}

// forgetIfUnknown clears the state file when err says the server no longer
// knows this device. A failed clear replaces err.
func (s *Session) forgetIfUnknown(err error) error {
	if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if cerr := s.state.Clear(); cerr != nil {
		return cerr
	}
	return err
}

func (s *Session) remember(device Device) error {
	return s.state.Save(LocalState{Device: device, SyncedAt: s.now().UTC()})
}
