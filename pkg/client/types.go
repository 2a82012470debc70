package client

import (
	"time"

	"github.com/haasonsaas/areuok/pkg/calendar"
)

// Device mirrors the server's device record.
type Device struct {
	DeviceID          string     `json:"device_id"`
	DeviceName        string     `json:"device_name"`
	HardwareID        *string    `json:"hardware_id,omitempty"`
	Mode              string     `json:"mode"`
	CreatedAt         time.Time  `json:"created_at"`
	LastSeenAt        time.Time  `json:"last_seen_at"`
	LastNameUpdatedAt *time.Time `json:"last_name_updated_at,omitempty"`
}

type StreakState struct {
	DeviceID       string         `json:"device_id"`
	LastSigninDate *calendar.Date `json:"last_signin_date,omitempty"`
	Streak         int            `json:"streak"`
}

type DeviceStatus struct {
	DeviceID       string         `json:"device_id"`
	DeviceName     string         `json:"device_name"`
	Mode           string         `json:"mode"`
	LastSigninDate *calendar.Date `json:"last_signin_date,omitempty"`
	Streak         int            `json:"streak"`
	SignedInToday  bool           `json:"signed_in_today"`
}

type SupervisionRequest struct {
	RequestID      string     `json:"request_id"`
	SupervisorID   string     `json:"supervisor_id"`
	SupervisorName string     `json:"supervisor_name,omitempty"`
	TargetID       string     `json:"target_id"`
	TargetName     string     `json:"target_name,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

type SupervisionRelation struct {
	RelationID     string    `json:"relation_id"`
	SupervisorID   string    `json:"supervisor_id"`
	SupervisorName string    `json:"supervisor_name,omitempty"`
	TargetID       string    `json:"target_id"`
	TargetName     string    `json:"target_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type SupervisorStatus struct {
	SupervisorID string               `json:"supervisor_id"`
	Supervised   []DeviceStatus       `json:"supervised"`
	Pending      []SupervisionRequest `json:"pending"`
}

type Health struct {
	Healthy bool            `json:"healthy"`
	Checks  map[string]bool `json:"checks"`
	Issues  []string        `json:"issues,omitempty"`
}
