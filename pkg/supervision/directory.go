// Package supervision manages requests to observe another device and the
// relations they produce once accepted.
package supervision

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/areuok/pkg/apperr"
	"github.com/haasonsaas/areuok/pkg/events"
	"github.com/haasonsaas/areuok/pkg/identity"
	"github.com/haasonsaas/areuok/pkg/storage"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const tracerName = "github.com/haasonsaas/areuok/pkg/supervision"

type Request struct {
	RequestID      string     `json:"request_id"`
	SupervisorID   string     `json:"supervisor_id"`
	SupervisorName string     `json:"supervisor_name,omitempty"`
	TargetID       string     `json:"target_id"`
	TargetName     string     `json:"target_name,omitempty"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

type Relation struct {
	RelationID     string    `json:"relation_id"`
	SupervisorID   string    `json:"supervisor_id"`
	SupervisorName string    `json:"supervisor_name,omitempty"`
	TargetID       string    `json:"target_id"`
	TargetName     string    `json:"target_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NameResolver supplies display names for request and relation views.
type NameResolver interface {
	LookupMany(ctx context.Context, deviceIDs []string) (map[string]identity.Device, error)
}

type Options struct {
	Names     NameResolver
	Publisher events.Publisher
	Logger    zerolog.Logger
	Now       func() time.Time
}

type Directory struct {
	db        *gorm.DB
	names     NameResolver
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time

	// requestMu serializes the existence checks in Request within this
	// process; idx_pending_pair and idx_relation_pair are authoritative.
	requestMu sync.Mutex
}

func NewDirectory(db *gorm.DB, opts Options) *Directory {
	d := &Directory{
		db:        db,
		names:     opts.Names,
		publisher: opts.Publisher,
		logger:    opts.Logger.With().Str("component", "supervision").Logger(),
		now:       opts.Now,
	}
	if d.publisher == nil {
		d.publisher = events.Nop{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Request asks targetID to let supervisorID observe it.
func (d *Directory) Request(ctx context.Context, supervisorID, targetID string) (Request, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "supervision.Request")
	defer span.End()
	span.SetAttributes(attribute.String("supervisor.id", supervisorID), attribute.String("target.id", targetID))

	if err := requireIDs(supervisorID, targetID); err != nil {
		return Request{}, err
	}
	now := d.now().UTC()

	d.requestMu.Lock()
	defer d.requestMu.Unlock()

	var rec storage.SupervisionRequest
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var found int64
		if err := tx.Model(&storage.Device{}).Where("device_id IN ?", []string{supervisorID, targetID}).Count(&found).Error; err != nil {
			return err
		}
		want := int64(2)
		if supervisorID == targetID {
			want = 1
		}
		if found < want {
			return apperr.ErrNotFound
		}
		if supervisorID == targetID {
			return apperr.ErrSelfSupervision
		}

		var related int64
		if err := tx.Model(&storage.SupervisionRelation{}).
			Where("supervisor_id = ? AND target_id = ?", supervisorID, targetID).
			Count(&related).Error; err != nil {
			return err
		}
		if related > 0 {
			return apperr.ErrAlreadySupervising
		}

		var pending int64
		if err := tx.Model(&storage.SupervisionRequest{}).
			Where("supervisor_id = ? AND target_id = ? AND status = ?", supervisorID, targetID, string(StatusPending)).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return apperr.ErrDuplicateRequest
		}

		rec = storage.SupervisionRequest{
			RequestID:    uuid.NewString(),
			SupervisorID: supervisorID,
			TargetID:     targetID,
			Status:       string(StatusPending),
			CreatedAt:    now,
		}
		if err := tx.Create(&rec).Error; err != nil {
			if storage.IsUniqueViolation(err) {
				return apperr.ErrDuplicateRequest
			}
			return err
		}
		return nil
	})
	if err != nil {
		return Request{}, apperr.Internal("supervision.request", err)
	}

	d.publish(ctx, events.Event{
		Type:       events.SupervisionRequested,
		DeviceID:   targetID,
		OccurredAt: now,
		Attributes: map[string]string{"request_id": rec.RequestID, "supervisor_id": supervisorID, "target_id": targetID},
	})
	return requestView(rec, d.committedNames(ctx, supervisorID, targetID))
}

// ListPending returns requests awaiting targetID's answer, oldest first.
func (d *Directory) ListPending(ctx context.Context, targetID string) ([]Request, error) {
	return d.listRequests(ctx, "target_id = ?", targetID)
}

// ListOutgoing returns requests supervisorID sent that are still pending.
func (d *Directory) ListOutgoing(ctx context.Context, supervisorID string) ([]Request, error) {
	return d.listRequests(ctx, "supervisor_id = ?", supervisorID)
}

func (d *Directory) listRequests(ctx context.Context, where, id string) ([]Request, error) {
	var recs []storage.SupervisionRequest
	err := d.db.WithContext(ctx).
		Where(where, id).
		Where("status = ?", string(StatusPending)).
		Order("created_at asc, id asc").
		Find(&recs).Error
	if err != nil {
		return nil, apperr.Internal("supervision.list_requests", err)
	}
	return d.requestViews(ctx, recs)
}

// Accept resolves the pending request from supervisorID to targetID and
// creates the relation in the same transaction.
func (d *Directory) Accept(ctx context.Context, supervisorID, targetID string) (Relation, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "supervision.Accept")
	defer span.End()

	rel, req, err := d.resolve(ctx, supervisorID, targetID, StatusAccepted)
	if err != nil {
		return Relation{}, err
	}
	d.publish(ctx, events.Event{
		Type:       events.SupervisionAccepted,
		DeviceID:   supervisorID,
		OccurredAt: *req.ResolvedAt,
		Attributes: map[string]string{"request_id": req.RequestID, "relation_id": rel.RelationID, "supervisor_id": supervisorID, "target_id": targetID},
	})
	return relationView(rel, d.committedNames(ctx, supervisorID, targetID)), nil
}

// Reject declines the pending request from supervisorID to targetID.
func (d *Directory) Reject(ctx context.Context, supervisorID, targetID string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "supervision.Reject")
	defer span.End()

	_, req, err := d.resolve(ctx, supervisorID, targetID, StatusRejected)
	if err != nil {
		return err
	}
	d.publish(ctx, events.Event{
		Type:       events.SupervisionRejected,
		DeviceID:   supervisorID,
		OccurredAt: *req.ResolvedAt,
		Attributes: map[string]string{"request_id": req.RequestID, "supervisor_id": supervisorID, "target_id": targetID},
	})
	return nil
}

// Cancel withdraws supervisorID's own pending request to targetID.
func (d *Directory) Cancel(ctx context.Context, supervisorID, targetID string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "supervision.Cancel")
	defer span.End()

	_, req, err := d.resolve(ctx, supervisorID, targetID, StatusCancelled)
	if err != nil {
		return err
	}
	d.publish(ctx, events.Event{
		Type:       events.SupervisionCancelled,
		DeviceID:   targetID,
		OccurredAt: *req.ResolvedAt,
		Attributes: map[string]string{"request_id": req.RequestID, "supervisor_id": supervisorID, "target_id": targetID},
	})
	return nil
}

// resolve moves the pair's pending request to next. The status update is
// conditional on the row still being pending, so of several concurrent
// resolvers exactly one succeeds and the rest see RequestAlreadyResolved.
func (d *Directory) resolve(ctx context.Context, supervisorID, targetID string, next Status) (storage.SupervisionRelation, storage.SupervisionRequest, error) {
	if !canResolveTo(next) {
		return storage.SupervisionRelation{}, storage.SupervisionRequest{}, apperr.InvalidInput("status")
	}
	if err := requireIDs(supervisorID, targetID); err != nil {
		return storage.SupervisionRelation{}, storage.SupervisionRequest{}, err
	}
	now := d.now().UTC()

	var (
		req storage.SupervisionRequest
		rel storage.SupervisionRelation
	)
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lookup := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("supervisor_id = ? AND target_id = ? AND status = ?", supervisorID, targetID, string(StatusPending)).
			Take(&req)
		if storage.IsNotFound(lookup.Error) {
			return missingRequest(tx, supervisorID, targetID)
		}
		if lookup.Error != nil {
			return lookup.Error
		}

		res := tx.Model(&storage.SupervisionRequest{}).
			Where("request_id = ? AND status = ?", req.RequestID, string(StatusPending)).
			Updates(map[string]any{"status": string(next), "resolved_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrRequestAlreadyResolved
		}
		req.Status = string(next)
		req.ResolvedAt = &now

		switch next {
		case StatusAccepted:
			rel = storage.SupervisionRelation{
				RelationID:   uuid.NewString(),
				SupervisorID: supervisorID,
				TargetID:     targetID,
				CreatedAt:    now,
			}
			if err := tx.Create(&rel).Error; err != nil {
				if storage.IsUniqueViolation(err) {
					return apperr.ErrAlreadySupervising
				}
				return err
			}
		case StatusRejected, StatusCancelled, StatusPending:
		}
		return nil
	})
	if err != nil {
		return storage.SupervisionRelation{}, storage.SupervisionRequest{}, apperr.Internal("supervision.resolve", err)
	}
	d.logger.Debug().Str("request_id", req.RequestID).Str("status", string(next)).Msg("supervision request resolved")
	return rel, req, nil
}

// missingRequest distinguishes a pair whose latest request was already
// resolved from a pair that never had one.
func missingRequest(tx *gorm.DB, supervisorID, targetID string) error {
	var latest storage.SupervisionRequest
	err := tx.Where("supervisor_id = ? AND target_id = ?", supervisorID, targetID).
		Order("created_at desc, id desc").
		Take(&latest).Error
	if storage.IsNotFound(err) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return err
	}
	status, err := ParseStatus(latest.Status)
	if err != nil {
		return err
	}
	if status.Terminal() {
		return apperr.ErrRequestAlreadyResolved
	}
	return apperr.ErrNotFound
}

// List returns the relations in which deviceID is the supervisor.
func (d *Directory) List(ctx context.Context, deviceID string) ([]Relation, error) {
	var recs []storage.SupervisionRelation
	err := d.db.WithContext(ctx).
		Where("supervisor_id = ?", deviceID).
		Order("created_at asc, id asc").
		Find(&recs).Error
	if err != nil {
		return nil, apperr.Internal("supervision.list", err)
	}
	return d.relationViews(ctx, recs)
}

// Remove deletes a relation. A second removal reports NotFound.
func (d *Directory) Remove(ctx context.Context, relationID string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "supervision.Remove")
	defer span.End()

	var rec storage.SupervisionRelation
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("relation_id = ?", relationID).Take(&rec).Error; err != nil {
			if storage.IsNotFound(err) {
				return apperr.ErrNotFound
			}
			return err
		}
		res := tx.Where("relation_id = ?", relationID).Delete(&storage.SupervisionRelation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return apperr.Internal("supervision.remove", err)
	}
	d.publish(ctx, events.Event{
		Type:       events.SupervisionRemoved,
		DeviceID:   rec.TargetID,
		OccurredAt: d.now().UTC(),
		Attributes: map[string]string{"relation_id": relationID, "supervisor_id": rec.SupervisorID, "target_id": rec.TargetID},
	})
	return nil
}

func (d *Directory) requestViews(ctx context.Context, recs []storage.SupervisionRequest) ([]Request, error) {
	ids := make([]string, 0, 2*len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.SupervisorID, rec.TargetID)
	}
	names, err := d.lookupNames(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Request, 0, len(recs))
	for _, rec := range recs {
		view, err := requestView(rec, names)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

func requestView(rec storage.SupervisionRequest, names map[string]string) (Request, error) {
	status, err := ParseStatus(rec.Status)
	if err != nil {
		return Request{}, apperr.Internal("supervision.request_view", err)
	}
	view := Request{
		RequestID:      rec.RequestID,
		SupervisorID:   rec.SupervisorID,
		SupervisorName: names[rec.SupervisorID],
		TargetID:       rec.TargetID,
		TargetName:     names[rec.TargetID],
		Status:         status,
		CreatedAt:      rec.CreatedAt.UTC(),
	}
	if rec.ResolvedAt != nil {
		at := rec.ResolvedAt.UTC()
		view.ResolvedAt = &at
	}
	return view, nil
}

func (d *Directory) relationViews(ctx context.Context, recs []storage.SupervisionRelation) ([]Relation, error) {
	ids := make([]string, 0, 2*len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.SupervisorID, rec.TargetID)
	}
	names, err := d.lookupNames(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Relation, 0, len(recs))
	for _, rec := range recs {
		out = append(out, relationView(rec, names))
	}
	return out, nil
}

func relationView(rec storage.SupervisionRelation, names map[string]string) Relation {
	return Relation{
		RelationID:     rec.RelationID,
		SupervisorID:   rec.SupervisorID,
		SupervisorName: names[rec.SupervisorID],
		TargetID:       rec.TargetID,
		TargetName:     names[rec.TargetID],
		CreatedAt:      rec.CreatedAt.UTC(),
	}
}

// committedNames resolves display names for a write that has already
// committed. A failed lookup leaves the names empty rather than failing
// the call.
func (d *Directory) committedNames(ctx context.Context, ids ...string) map[string]string {
	names, err := d.lookupNames(ctx, ids)
	if err != nil {
		d.logger.Warn().Err(err).Strs("device_ids", ids).Msg("name lookup failed after commit")
		return map[string]string{}
	}
	return names
}

func (d *Directory) lookupNames(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if d.names == nil || len(ids) == 0 {
		return out, nil
	}
	devices, err := d.names.LookupMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, dev := range devices {
		out[id] = dev.DeviceName
	}
	return out, nil
}

func (d *Directory) publish(ctx context.Context, event events.Event) {
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Warn().Err(err).Str("event_type", string(event.Type)).Str("device_id", event.DeviceID).Msg("event publish failed")
	}
}

func requireIDs(supervisorID, targetID string) error {
	if strings.TrimSpace(supervisorID) == "" {
		return apperr.InvalidInput("supervisor_id")
	}
	if strings.TrimSpace(targetID) == "" {
		return apperr.InvalidInput("target_id")
	}
	return nil
}
