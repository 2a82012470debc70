package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/areuok/pkg/config"
	"github.com/haasonsaas/areuok/pkg/storage"
	"github.com/haasonsaas/areuok/pkg/storage/storagetest"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMigrateEnforcesDeviceUniqueness(t *testing.T) {
	db := storagetest.Open(t)
	now := time.Now().UTC()

	first := storage.Device{DeviceID: "d-1", DeviceName: "Alice", NameKey: "alice", Mode: "signin", CreatedAt: now, LastSeenAt: now}
	require.NoError(t, db.Create(&first).Error)

	dup := storage.Device{DeviceID: "d-2", DeviceName: "ALICE", NameKey: "alice", Mode: "signin", CreatedAt: now, LastSeenAt: now}
	require.True(t, storage.IsUniqueViolation(db.Create(&dup).Error))
}

func TestNullHardwareIDsDoNotCollide(t *testing.T) {
	db := storagetest.Open(t)
	now := time.Now().UTC()
	for i, name := range []string{"a", "b"} {
		rec := storage.Device{DeviceID: name, DeviceName: name, NameKey: name, Mode: "signin", CreatedAt: now, LastSeenAt: now}
		require.NoError(t, db.Create(&rec).Error, i)
	}

	imei := "356938035643809"
	withHW := storage.Device{DeviceID: "c", DeviceName: "c", NameKey: "c", HardwareID: &imei, Mode: "signin", CreatedAt: now, LastSeenAt: now}
	require.NoError(t, db.Create(&withHW).Error)
	again := storage.Device{DeviceID: "d", DeviceName: "d", NameKey: "d", HardwareID: &imei, Mode: "signin", CreatedAt: now, LastSeenAt: now}
	require.True(t, storage.IsUniqueViolation(db.Create(&again).Error))
}

func TestPendingPairIndexAllowsResolvedHistory(t *testing.T) {
	db := storagetest.Open(t)
	now := time.Now().UTC()

	rejected := storage.SupervisionRequest{RequestID: "r-1", SupervisorID: "s", TargetID: "t", Status: "rejected", CreatedAt: now}
	require.NoError(t, db.Create(&rejected).Error)
	pending := storage.SupervisionRequest{RequestID: "r-2", SupervisorID: "s", TargetID: "t", Status: "pending", CreatedAt: now}
	require.NoError(t, db.Create(&pending).Error)

	second := storage.SupervisionRequest{RequestID: "r-3", SupervisorID: "s", TargetID: "t", Status: "pending", CreatedAt: now}
	require.True(t, storage.IsUniqueViolation(db.Create(&second).Error))

	reverse := storage.SupervisionRequest{RequestID: "r-4", SupervisorID: "t", TargetID: "s", Status: "pending", CreatedAt: now}
	require.NoError(t, db.Create(&reverse).Error)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := storage.Open(context.Background(), config.DatabaseConfig{Driver: "mysql", DSN: "x"})
	require.Error(t, err)
}

func TestErrorHelpers(t *testing.T) {
	require.False(t, storage.IsUniqueViolation(nil))
	require.True(t, storage.IsUniqueViolation(errors.New(`ERROR: duplicate key value violates unique constraint "idx_devices_name_key"`)))
	require.True(t, storage.IsNotFound(gorm.ErrRecordNotFound))
	require.NoError(t, storage.Ping(context.Background(), storagetest.Open(t)))
}
