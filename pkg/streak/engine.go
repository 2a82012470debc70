// Package streak tracks consecutive daily sign-ins per device.
package streak

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/haasonsaas/areuok/pkg/apperr"
	"github.com/haasonsaas/areuok/pkg/calendar"
	"github.com/haasonsaas/areuok/pkg/events"
	"github.com/haasonsaas/areuok/pkg/storage"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const tracerName = "github.com/haasonsaas/areuok/pkg/streak"

// State is the sign-in history of one device. LastSigninDate is nil until the
// first sign-in.
type State struct {
	DeviceID       string         `json:"device_id"`
	LastSigninDate *calendar.Date `json:"last_signin_date,omitempty"`
	Streak         int            `json:"streak"`
}

// SignedInOn reports whether the last sign-in fell on day.
func (s State) SignedInOn(day calendar.Date) bool {
	return s.LastSigninDate != nil && *s.LastSigninDate == day
}

// Invalidator drops cached device records after the engine touches them.
type Invalidator interface {
	Invalidate(ctx context.Context, deviceIDs ...string)
}

type Options struct {
	Location    *time.Location
	Invalidator Invalidator
	Publisher   events.Publisher
	Logger      zerolog.Logger
	Now         func() time.Time
}

type Engine struct {
	db        *gorm.DB
	loc       *time.Location
	cache     Invalidator
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewEngine(db *gorm.DB, opts Options) *Engine {
	e := &Engine{
		db:        db,
		loc:       opts.Location,
		cache:     opts.Invalidator,
		publisher: opts.Publisher,
		logger:    opts.Logger.With().Str("component", "streak").Logger(),
		now:       opts.Now,
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.publisher == nil {
		e.publisher = events.Nop{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Today is the current calendar date in the engine's reference zone.
func (e *Engine) Today() calendar.Date {
	return calendar.DateOf(e.now(), e.loc)
}

// Next computes the streak after a sign-in on today. changed is false for a
// repeat sign-in on the same day.
func Next(prev State, today calendar.Date) (next State, changed bool) {
	next = State{DeviceID: prev.DeviceID, LastSigninDate: &today, Streak: 1}
	if prev.LastSigninDate == nil {
		return next, true
	}
	last := *prev.LastSigninDate
	switch {
	case last == today:
		return prev, false
	case last.AddDays(1) == today:
		next.Streak = prev.Streak + 1
	}
	return next, true
}

// SignIn records a sign-in for today.
func (e *Engine) SignIn(ctx context.Context, deviceID string) (State, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "streak.SignIn")
	defer span.End()

	now := e.now()
	today := calendar.DateOf(now, e.loc)

	state, changed, err := e.signIn(ctx, deviceID, now, today)
	var insertErr *insertError
	if errors.As(err, &insertErr) && storage.IsUniqueViolation(insertErr.err) {
		// A concurrent first sign-in created the row; the retry sees it.
		state, changed, err = e.signIn(ctx, deviceID, now, today)
	}
	if err != nil {
		return State{}, apperr.Internal("streak.sign_in", err)
	}
	span.SetAttributes(attribute.Int("streak.value", state.Streak), attribute.Bool("streak.changed", changed))

	if e.cache != nil {
		e.cache.Invalidate(ctx, deviceID)
	}
	if changed {
		event := events.Event{
			Type:       events.DeviceSignedIn,
			DeviceID:   deviceID,
			OccurredAt: now.UTC(),
			Attributes: map[string]string{
				"streak": strconv.Itoa(state.Streak),
				"date":   today.String(),
			},
		}
		if err := e.publisher.Publish(ctx, event); err != nil {
			e.logger.Warn().Err(err).Str("device_id", deviceID).Msg("event publish failed")
		}
	}
	return state, nil
}

type insertError struct{ err error }

func (e *insertError) Error() string { return e.err.Error() }
func (e *insertError) Unwrap() error { return e.err }

func (e *Engine) signIn(ctx context.Context, deviceID string, now time.Time, today calendar.Date) (State, bool, error) {
	var (
		state   State
		changed bool
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		touched := tx.Model(&storage.Device{}).Where("device_id = ?", deviceID).Update("last_seen_at", now.UTC())
		if touched.Error != nil {
			return touched.Error
		}
		if touched.RowsAffected == 0 {
			return apperr.ErrNotFound
		}

		var rec storage.Streak
		lookup := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("device_id = ?", deviceID).Take(&rec)
		switch {
		case lookup.Error == nil:
		case storage.IsNotFound(lookup.Error):
			rec = storage.Streak{DeviceID: deviceID}
		default:
			return lookup.Error
		}

		prev, err := fromRecord(deviceID, rec)
		if err != nil {
			return err
		}
		state, changed = Next(prev, today)
		if !changed {
			return nil
		}

		rec.LastSigninDate = today.String()
		rec.Streak = state.Streak
		rec.UpdatedAt = now.UTC()
		if rec.ID == 0 {
			if err := tx.Create(&rec).Error; err != nil {
				return &insertError{err: err}
			}
			return nil
		}
		return tx.Model(&storage.Streak{}).Where("id = ?", rec.ID).Updates(map[string]any{
			"last_signin_date": rec.LastSigninDate,
			"streak":           rec.Streak,
			"updated_at":       rec.UpdatedAt,
		}).Error
	})
	return state, changed, err
}

// Get returns the current streak without modifying it.
func (e *Engine) Get(ctx context.Context, deviceID string) (State, error) {
	var count int64
	if err := e.db.WithContext(ctx).Model(&storage.Device{}).Where("device_id = ?", deviceID).Count(&count).Error; err != nil {
		return State{}, apperr.Internal("streak.get", err)
	}
	if count == 0 {
		return State{}, apperr.ErrNotFound
	}
	var rec storage.Streak
	err := e.db.WithContext(ctx).Where("device_id = ?", deviceID).Take(&rec).Error
	if storage.IsNotFound(err) {
		return State{DeviceID: deviceID}, nil
	}
	if err != nil {
		return State{}, apperr.Internal("streak.get", err)
	}
	state, err := fromRecord(deviceID, rec)
	if err != nil {
		return State{}, apperr.Internal("streak.get", err)
	}
	return state, nil
}

func fromRecord(deviceID string, rec storage.Streak) (State, error) {
	state := State{DeviceID: deviceID, Streak: rec.Streak}
	if rec.LastSigninDate == "" {
		return state, nil
	}
	last, err := calendar.Parse(rec.LastSigninDate)
	if err != nil {
		return State{}, err
	}
	state.LastSigninDate = &last
	return state, nil
}
