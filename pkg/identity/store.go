// Package identity is the durable record of devices. It owns nickname and
// hardware-identifier uniqueness, the rename cooldown, and the read-through
// device cache.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/haasonsaas/areuok/pkg/apperr"
	"github.com/haasonsaas/areuok/pkg/cache"
	"github.com/haasonsaas/areuok/pkg/calendar"
	"github.com/haasonsaas/areuok/pkg/events"
	"github.com/haasonsaas/areuok/pkg/storage"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const tracerName = "github.com/haasonsaas/areuok/pkg/identity"

type Options struct {
	Policy         NamePolicy
	CooldownDays   int
	Location       *time.Location
	SearchMinQuery int
	SearchLimit    int
	Cache          cache.Cache
	CacheTTL       time.Duration
	Publisher      events.Publisher
	Logger         zerolog.Logger
	Now            func() time.Time
}

type Store struct {
	db        *gorm.DB
	opts      Options
	cache     cache.Cache
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time

	// writeMu serializes uniqueness-checked writes within this process; the
	// unique indexes remain the authority across processes.
	writeMu sync.Mutex
}

func NewStore(db *gorm.DB, opts Options) *Store {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.SearchMinQuery <= 0 {
		opts.SearchMinQuery = 2
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 20
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	s := &Store{
		db:        db,
		opts:      opts,
		cache:     opts.Cache,
		publisher: opts.Publisher,
		logger:    opts.Logger.With().Str("component", "identity").Logger(),
		now:       opts.Now,
	}
	if s.cache == nil {
		s.cache = cache.NewMemoryCache()
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type RegisterParams struct {
	Name       string
	HardwareID string
	Mode       string
}

// Register creates a device, or returns the existing one when HardwareID
// matches a bound device. created reports which path was taken.
func (s *Store) Register(ctx context.Context, params RegisterParams) (device Device, created bool, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "identity.Register")
	defer span.End()

	hardwareID := normalizeHardwareID(params.HardwareID)
	now := s.now().UTC()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var rec storage.Device
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if hardwareID != nil {
			lookup := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("hardware_id = ?", *hardwareID).Take(&rec)
			if lookup.Error == nil {
				rec.LastSeenAt = now
				return tx.Model(&storage.Device{}).Where("device_id = ?", rec.DeviceID).Update("last_seen_at", now).Error
			}
			if !storage.IsNotFound(lookup.Error) {
				return lookup.Error
			}
		}

		mode, err := ParseMode(params.Mode)
		if err != nil {
			return err
		}
		display, key, err := s.opts.Policy.Normalize(params.Name)
		if err != nil {
			return err
		}
		taken, err := nameTaken(tx, key, "")
		if err != nil {
			return err
		}
		if taken {
			return apperr.ErrNameConflict
		}

		rec = storage.Device{
			DeviceID:   uuid.NewString(),
			DeviceName: display,
			NameKey:    key,
			HardwareID: hardwareID,
			Mode:       string(mode),
			CreatedAt:  now,
			LastSeenAt: now,
			UpdatedAt:  now,
		}
		if err := tx.Create(&rec).Error; err != nil {
			if storage.IsUniqueViolation(err) {
				return errRegisterConflict
			}
			return err
		}
		created = true
		return nil
	})
	if errors.Is(err, errRegisterConflict) {
		rec, err = s.resolveRegisterConflict(ctx, params.Name, hardwareID, now)
	}
	if err != nil {
		return Device{}, false, apperr.Internal("identity.register", err)
	}

	device = toDevice(rec)
	span.SetAttributes(attribute.String("device.id", device.DeviceID), attribute.Bool("device.created", created))
	s.invalidate(ctx, device.DeviceID)
	if created {
		s.publish(ctx, events.Event{
			Type:       events.DeviceRegistered,
			DeviceID:   device.DeviceID,
			OccurredAt: now,
			Attributes: map[string]string{"device_name": device.DeviceName, "mode": string(device.Mode)},
		})
	} else {
		s.logger.Info().Str("device_id", device.DeviceID).Msg("device recovered by hardware id")
	}
	return device, created, nil
}

var errRegisterConflict = errors.New("register unique violation")

// resolveRegisterConflict runs after an insert lost a race to a concurrent
// writer. A winner bound to the same hardware ID is this caller's device and
// is returned as recovered; otherwise the constraint the winner holds is
// reported.
func (s *Store) resolveRegisterConflict(ctx context.Context, name string, hardwareID *string, now time.Time) (storage.Device, error) {
	if hardwareID != nil {
		var rec storage.Device
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("hardware_id = ?", *hardwareID).Take(&rec).Error; err != nil {
				return err
			}
			rec.LastSeenAt = now
			return tx.Model(&storage.Device{}).Where("device_id = ?", rec.DeviceID).Update("last_seen_at", now).Error
		})
		if err == nil {
			return rec, nil
		}
		if !storage.IsNotFound(err) {
			return storage.Device{}, err
		}
	}

	taken, err := nameTaken(s.db.WithContext(ctx), s.opts.Policy.Key(name), "")
	if err != nil {
		return storage.Device{}, err
	}
	if taken {
		return storage.Device{}, apperr.ErrNameConflict
	}
	if hardwareID != nil {
		return storage.Device{}, apperr.ErrHardwareIDConflict
	}
	return storage.Device{}, apperr.ErrNameConflict
}

// GetInfo returns the device and records that it was seen.
func (s *Store) GetInfo(ctx context.Context, deviceID string) (Device, error) {
	now := s.now().UTC()
	var rec storage.Device
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&storage.Device{}).Where("device_id = ?", deviceID).Update("last_seen_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrNotFound
		}
		return tx.Where("device_id = ?", deviceID).Take(&rec).Error
	})
	if err != nil {
		return Device{}, apperr.Internal("identity.get_info", err)
	}
	s.invalidate(ctx, deviceID)
	return toDevice(rec), nil
}

// Lookup returns the device without touching last_seen_at. It reads through
// the cache.
func (s *Store) Lookup(ctx context.Context, deviceID string) (Device, error) {
	if raw, ok, err := s.cache.Get(ctx, cacheKey(deviceID)); err != nil {
		s.logger.Warn().Err(err).Str("device_id", deviceID).Msg("device cache read failed")
	} else if ok {
		var cached Device
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		s.invalidate(ctx, deviceID)
	}

	var rec storage.Device
	if err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Take(&rec).Error; err != nil {
		if storage.IsNotFound(err) {
			return Device{}, apperr.ErrNotFound
		}
		return Device{}, apperr.Internal("identity.lookup", err)
	}
	device := toDevice(rec)
	if raw, err := json.Marshal(device); err == nil {
		if err := s.cache.Set(ctx, cacheKey(deviceID), raw, s.opts.CacheTTL); err != nil {
			s.logger.Warn().Err(err).Str("device_id", deviceID).Msg("device cache write failed")
		}
	}
	return device, nil
}

// LookupMany resolves several devices at once, skipping unknown IDs.
func (s *Store) LookupMany(ctx context.Context, deviceIDs []string) (map[string]Device, error) {
	out := make(map[string]Device, len(deviceIDs))
	if len(deviceIDs) == 0 {
		return out, nil
	}
	var recs []storage.Device
	if err := s.db.WithContext(ctx).Where("device_id IN ?", deviceIDs).Find(&recs).Error; err != nil {
		return nil, apperr.Internal("identity.lookup_many", err)
	}
	for _, rec := range recs {
		out[rec.DeviceID] = toDevice(rec)
	}
	return out, nil
}

// UpdateName renames a device, subject to uniqueness and the cooldown. The
// first rename after registration is exempt from the cooldown.
func (s *Store) UpdateName(ctx context.Context, deviceID, newName string) (Device, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "identity.UpdateName")
	defer span.End()
	span.SetAttributes(attribute.String("device.id", deviceID))

	now := s.now().UTC()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var (
		rec     storage.Device
		oldName string
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("device_id = ?", deviceID).Take(&rec).Error; err != nil {
			if storage.IsNotFound(err) {
				return apperr.ErrNotFound
			}
			return err
		}
		display, key, err := s.opts.Policy.Normalize(newName)
		if err != nil {
			return err
		}
		if display == rec.DeviceName {
			return nil
		}
		taken, err := nameTaken(tx, key, rec.DeviceID)
		if err != nil {
			return err
		}
		if taken {
			return apperr.ErrNameConflict
		}
		if left := s.cooldownDaysLeft(rec.LastNameUpdatedAt, now); left > 0 {
			return apperr.Cooldown(left)
		}

		res := tx.Model(&storage.Device{}).Where("device_id = ?", rec.DeviceID).Updates(map[string]any{
			"device_name":          display,
			"name_key":             key,
			"last_name_updated_at": now,
			"last_seen_at":         now,
			"updated_at":           now,
		})
		if res.Error != nil {
			if storage.IsUniqueViolation(res.Error) {
				return apperr.ErrNameConflict
			}
			return res.Error
		}
		oldName = rec.DeviceName
		rec.DeviceName = display
		rec.NameKey = key
		rec.LastNameUpdatedAt = &now
		rec.LastSeenAt = now
		changed = true
		return nil
	})
	if err != nil {
		return Device{}, apperr.Internal("identity.update_name", err)
	}

	device := toDevice(rec)
	if changed {
		s.invalidate(ctx, deviceID)
		s.publish(ctx, events.Event{
			Type:       events.DeviceRenamed,
			DeviceID:   deviceID,
			OccurredAt: now,
			Attributes: map[string]string{"old_name": oldName, "new_name": device.DeviceName},
		})
	}
	return device, nil
}

// cooldownDaysLeft counts calendar days in the configured location.
func (s *Store) cooldownDaysLeft(lastUpdated *time.Time, now time.Time) int {
	if lastUpdated == nil || s.opts.CooldownDays <= 0 {
		return 0
	}
	elapsed := calendar.DateOf(now, s.opts.Location).DaysSince(calendar.DateOf(*lastUpdated, s.opts.Location))
	if elapsed >= s.opts.CooldownDays {
		return 0
	}
	return s.opts.CooldownDays - elapsed
}

// SetMode switches the declared role of a device.
func (s *Store) SetMode(ctx context.Context, deviceID, rawMode string) (Device, error) {
	if strings.TrimSpace(rawMode) == "" {
		return Device{}, apperr.InvalidInput("mode")
	}
	mode, err := ParseMode(rawMode)
	if err != nil {
		return Device{}, err
	}
	now := s.now().UTC()
	var rec storage.Device
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&storage.Device{}).Where("device_id = ?", deviceID).Updates(map[string]any{
			"mode":         string(mode),
			"last_seen_at": now,
			"updated_at":   now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrNotFound
		}
		return tx.Where("device_id = ?", deviceID).Take(&rec).Error
	})
	if err != nil {
		return Device{}, apperr.Internal("identity.set_mode", err)
	}
	s.invalidate(ctx, deviceID)
	s.publish(ctx, events.Event{
		Type:       events.DeviceModeChanged,
		DeviceID:   deviceID,
		OccurredAt: now,
		Attributes: map[string]string{"mode": string(mode)},
	})
	return toDevice(rec), nil
}

// Search matches query as a substring of device names. Queries shorter than
// the configured minimum return no results.
func (s *Store) Search(ctx context.Context, query string) ([]Device, error) {
	canonical := s.opts.Policy.Canonical(query)
	if utf8.RuneCountInString(canonical) < s.opts.SearchMinQuery {
		return []Device{}, nil
	}
	pattern := "%" + escapeLike(s.opts.Policy.Key(canonical)) + "%"

	var recs []storage.Device
	err := s.db.WithContext(ctx).
		Where(`name_key LIKE ? ESCAPE '\'`, pattern).
		Order("device_name asc").
		Limit(s.opts.SearchLimit).
		Find(&recs).Error
	if err != nil {
		return nil, apperr.Internal("identity.search", err)
	}
	out := make([]Device, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDevice(rec))
	}
	return out, nil
}

// Invalidate drops cached entries after a write made outside this store.
func (s *Store) Invalidate(ctx context.Context, deviceIDs ...string) {
	s.invalidate(ctx, deviceIDs...)
}

func (s *Store) invalidate(ctx context.Context, deviceIDs ...string) {
	keys := make([]string, len(deviceIDs))
	for i, id := range deviceIDs {
		keys[i] = cacheKey(id)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn().Err(err).Strs("device_ids", deviceIDs).Msg("device cache invalidation failed")
	}
}

func (s *Store) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(event.Type)).Str("device_id", event.DeviceID).Msg("event publish failed")
	}
}

func nameTaken(tx *gorm.DB, key, exceptDeviceID string) (bool, error) {
	q := tx.Model(&storage.Device{}).Where("name_key = ?", key)
	if exceptDeviceID != "" {
		q = q.Where("device_id <> ?", exceptDeviceID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func normalizeHardwareID(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func cacheKey(deviceID string) string {
	return "device:" + deviceID
}
