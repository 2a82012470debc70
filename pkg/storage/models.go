package storage

import "time"

// Device is the durable identity record. NameKey is the normalized form of
// DeviceName and carries the uniqueness constraint; NULL hardware IDs never
// collide with each other.
type Device struct {
	ID                uint    `gorm:"primaryKey"`
	DeviceID          string  `gorm:"size:36;not null;uniqueIndex"`
	DeviceName        string  `gorm:"not null"`
	NameKey           string  `gorm:"not null;uniqueIndex"`
	HardwareID        *string `gorm:"uniqueIndex"`
	Mode              string  `gorm:"size:16;not null"`
	LastSeenAt        time.Time
	LastNameUpdatedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Streak holds the derived sign-in state for one device.
type Streak struct {
	ID             uint   `gorm:"primaryKey"`
	DeviceID       string `gorm:"size:36;not null;uniqueIndex"`
	LastSigninDate string `gorm:"size:10;not null"`
	Streak         int    `gorm:"not null"`
	UpdatedAt      time.Time
}

// SupervisionRequest is a proposal for SupervisorID to observe TargetID.
// At most one pending row per pair is enforced by idx_pending_pair.
type SupervisionRequest struct {
	ID           uint   `gorm:"primaryKey"`
	RequestID    string `gorm:"size:36;not null;uniqueIndex"`
	SupervisorID string `gorm:"size:36;not null;index:idx_request_pair"`
	TargetID     string `gorm:"size:36;not null;index:idx_request_pair;index"`
	Status       string `gorm:"size:16;not null;index"`
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// SupervisionRelation is an active observation link.
type SupervisionRelation struct {
	ID           uint   `gorm:"primaryKey"`
	RelationID   string `gorm:"size:36;not null;uniqueIndex"`
	SupervisorID string `gorm:"size:36;not null;uniqueIndex:idx_relation_pair"`
	TargetID     string `gorm:"size:36;not null;uniqueIndex:idx_relation_pair"`
	CreatedAt    time.Time
}
