package identity

import (
	"time"

	"github.com/haasonsaas/areuok/pkg/apperr"
	"github.com/haasonsaas/areuok/pkg/storage"
)

// Mode declares a device's primary role. It does not restrict which
// operations the device may call.
type Mode string

const (
	ModeSignin     Mode = "signin"
	ModeSupervisor Mode = "supervisor"
)

// ParseMode validates a wire value. An empty value selects ModeSignin.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeSignin, ModeSupervisor:
		return Mode(raw), nil
	case "":
		return ModeSignin, nil
	}
	return "", apperr.InvalidInput("mode")
}

type Device struct {
	DeviceID          string     `json:"device_id"`
	DeviceName        string     `json:"device_name"`
	HardwareID        *string    `json:"hardware_id,omitempty"`
	Mode              Mode       `json:"mode"`
	CreatedAt         time.Time  `json:"created_at"`
	LastSeenAt        time.Time  `json:"last_seen_at"`
	LastNameUpdatedAt *time.Time `json:"last_name_updated_at,omitempty"`
}

func toDevice(rec storage.Device) Device {
	d := Device{
		DeviceID:   rec.DeviceID,
		DeviceName: rec.DeviceName,
		Mode:       Mode(rec.Mode),
		CreatedAt:  rec.CreatedAt.UTC(),
		LastSeenAt: rec.LastSeenAt.UTC(),
	}
	if rec.HardwareID != nil {
		hw := *rec.HardwareID
		d.HardwareID = &hw
	}
	if rec.LastNameUpdatedAt != nil {
		at := rec.LastNameUpdatedAt.UTC()
		d.LastNameUpdatedAt = &at
	}
	return d
}
