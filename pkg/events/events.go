// Package events publishes domain events to whatever delivers notifications
// downstream (email, push). Publishing happens after the write commits and a
// failure to publish never fails the operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"time"
)

type Type string

const (
	DeviceRegistered     Type = "device.registered"
	DeviceRenamed        Type = "device.renamed"
	DeviceModeChanged    Type = "device.mode_changed"
	DeviceSignedIn       Type = "device.signed_in"
	SupervisionRequested Type = "supervision.requested"
	SupervisionAccepted  Type = "supervision.accepted"
	SupervisionRejected  Type = "supervision.rejected"
	SupervisionCancelled Type = "supervision.cancelled"
	SupervisionRemoved   Type = "supervision.removed"
)

type Event struct {
	Type       Type              `json:"type"`
	DeviceID   string            `json:"device_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Key partitions events so a device's history stays ordered.
func (e Event) Key() string {
	return e.DeviceID
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
