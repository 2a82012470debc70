package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/areuok/pkg/apperr"
	"github.com/haasonsaas/areuok/pkg/storage"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// peer returns a second Store over the same database, as another server
// process would have. It shares no in-process locks with env.store.
func (env identityTestEnv) peer() *Store {
	return NewStore(env.store.db, env.store.opts)
}

// beforeDeviceWrite runs fn once, inside the writing transaction, just
// before the next statement of the given kind touches the devices table.
func beforeDeviceWrite(t *testing.T, db *gorm.DB, kind string, fn func(tx *gorm.DB) error) {
	t.Helper()
	var fired atomic.Bool
	hook := func(tx *gorm.DB) {
		if tx.Statement.Schema == nil || tx.Statement.Schema.Table != "devices" || !fired.CompareAndSwap(false, true) {
			return
		}
		require.NoError(t, fn(tx.Session(&gorm.Session{NewDB: true})))
	}
	switch kind {
	case "create":
		require.NoError(t, db.Callback().Create().Before("gorm:create").Register("areuok:before_device_create", hook))
	case "update":
		require.NoError(t, db.Callback().Update().Before("gorm:update").Register("areuok:before_device_update", hook))
	default:
		t.Fatalf("unknown write kind %q", kind)
	}
}

func insertDevice(tx *gorm.DB, name, key string, hardwareID *string, at time.Time) error {
	return tx.Create(&storage.Device{
		DeviceID:   uuid.NewString(),
		DeviceName: name,
		NameKey:    key,
		HardwareID: hardwareID,
		Mode:       string(ModeSignin),
		CreatedAt:  at,
		LastSeenAt: at,
		UpdatedAt:  at,
	}).Error
}

func TestRegistrationRaceAcrossStores(t *testing.T) {
	env := newIdentityTestEnv(t)
	stores := []*Store{env.store, env.peer()}

	const workers = 10
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := stores[i%2].Register(context.Background(), RegisterParams{
				Name: []string{"dave", "Dave"}[i%2],
				Mode: "signin",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.True(t, errors.Is(err, apperr.ErrNameConflict), "unexpected error: %v", err)
	}
	require.Equal(t, 1, wins)
}

func TestHardwareIDRaceAcrossStoresRecovers(t *testing.T) {
	env := newIdentityTestEnv(t)
	stores := []*Store{env.store, env.peer()}

	type result struct {
		id      string
		created bool
		err     error
	}
	const workers = 8
	results := make(chan result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, created, err := stores[i%2].Register(context.Background(), RegisterParams{
				Name:       []string{"erin", "frank", "grace", "heidi"}[i%4],
				HardwareID: "490154203237518",
				Mode:       "signin",
			})
			results <- result{id: d.DeviceID, created: created, err: err}
		}(i)
	}
	wg.Wait()
	close(results)

	ids := map[string]bool{}
	created := 0
	for r := range results {
		require.NoError(t, r.err)
		ids[r.id] = true
		if r.created {
			created++
		}
	}
	require.Len(t, ids, 1)
	require.Equal(t, 1, created)
}

func TestConcurrentRenamesAcrossStoresHaveOneWinner(t *testing.T) {
	env := newIdentityTestEnv(t)
	stores := []*Store{env.store, env.peer()}
	names := []string{"ivan", "judy", "mallory", "niaj", "olivia", "peggy"}
	ids := make([]string, len(names))
	for i, name := range names {
		ids[i] = register(t, env, name, "").DeviceID
	}

	errs := make(chan error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, err := stores[i%2].UpdateName(context.Background(), id, []string{"zed", "ZED"}[i%2])
			errs <- err
		}(i, id)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.True(t, errors.Is(err, apperr.ErrNameConflict), "unexpected error: %v", err)
	}
	require.Equal(t, 1, wins)

	var count int64
	require.NoError(t, env.store.db.Model(&storage.Device{}).Where("name_key = ?", "zed").Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRenameUniqueIndexDecidesWhenCheckMisses(t *testing.T) {
	env := newIdentityTestEnv(t)
	d := register(t, env, "alice", "")

	// Another writer takes the name between the check and the update.
	beforeDeviceWrite(t, env.store.db, "update", func(tx *gorm.DB) error {
		return insertDevice(tx, "Zed", "zed", nil, *env.now)
	})

	_, err := env.store.UpdateName(context.Background(), d.DeviceID, "zed")
	require.ErrorIs(t, err, apperr.ErrNameConflict)

	got, err := env.store.Lookup(context.Background(), d.DeviceID)
	require.NoError(t, err)
	require.Equal(t, "alice", got.DeviceName)
	require.Nil(t, got.LastNameUpdatedAt)
}

func TestRegisterUniqueIndexDecidesWhenCheckMisses(t *testing.T) {
	env := newIdentityTestEnv(t)

	beforeDeviceWrite(t, env.store.db, "create", func(tx *gorm.DB) error {
		return insertDevice(tx, "Zed", "zed", nil, *env.now)
	})

	_, _, err := env.store.Register(context.Background(), RegisterParams{Name: "zed", Mode: "signin"})
	require.ErrorIs(t, err, apperr.ErrNameConflict)
}

func TestResolveRegisterConflict(t *testing.T) {
	env := newIdentityTestEnv(t)
	ctx := context.Background()
	hw := "356938035643809"
	winner := register(t, env, "alice", hw)

	env.advance(time.Minute)
	rec, err := env.store.resolveRegisterConflict(ctx, "other-name", &hw, *env.now)
	require.NoError(t, err)
	require.Equal(t, winner.DeviceID, rec.DeviceID)
	require.Equal(t, "alice", rec.DeviceName)
	require.Equal(t, *env.now, rec.LastSeenAt)

	// Same name as the winner also recovers when the hardware ID matches.
	rec, err = env.store.resolveRegisterConflict(ctx, "ALICE", &hw, *env.now)
	require.NoError(t, err)
	require.Equal(t, winner.DeviceID, rec.DeviceID)

	other := "990000862471854"
	_, err = env.store.resolveRegisterConflict(ctx, "alice", &other, *env.now)
	require.ErrorIs(t, err, apperr.ErrNameConflict)

	_, err = env.store.resolveRegisterConflict(ctx, "alice", nil, *env.now)
	require.ErrorIs(t, err, apperr.ErrNameConflict)

	// The name is free, so the winner must hold the hardware ID index.
	_, err = env.store.resolveRegisterConflict(ctx, "bob", &other, *env.now)
	require.ErrorIs(t, err, apperr.ErrHardwareIDConflict)
}
