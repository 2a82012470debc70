package client

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// ErrNoIdentity means this machine has not registered a device yet.
var ErrNoIdentity = errors.New("no local device identity; run register first")

// LocalState is the last device record the server returned to this machine.
type LocalState struct {
	Device   Device    `json:"device"`
	SyncedAt time.Time `json:"synced_at"`
}

// StateFile persists LocalState as JSON. It is a cache of server state and
// is rewritten after every successful identity call.
type StateFile struct {
	path string
}

func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// DefaultStatePath returns $XDG_CONFIG_HOME/areuok/state.json or the
// platform equivalent.
func DefaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "areuok", "state.json")
}

func (s *StateFile) Path() string {
	return s.path
}

func (s *StateFile) Load() (LocalState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return LocalState{}, ErrNoIdentity
	}
	if err != nil {
		return LocalState{}, err
	}
	var st LocalState
	if err := json.Unmarshal(data, &st); err != nil {
		return LocalState{}, err
	}
	if st.Device.DeviceID == "" {
		return LocalState{}, ErrNoIdentity
	}
	return st, nil
}

func (s *StateFile) Save(st LocalState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *StateFile) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
