// Package status composes read-only views of a device for the devices that
// supervise it.
package status

import (
	"context"
	"errors"

	"github.com/haasonsaas/areuok/pkg/apperr"
	"github.com/haasonsaas/areuok/pkg/calendar"
	"github.com/haasonsaas/areuok/pkg/identity"
	"github.com/haasonsaas/areuok/pkg/streak"
	"github.com/haasonsaas/areuok/pkg/supervision"
)

type DeviceStatus struct {
	DeviceID       string         `json:"device_id"`
	DeviceName     string         `json:"device_name"`
	Mode           identity.Mode  `json:"mode"`
	LastSigninDate *calendar.Date `json:"last_signin_date,omitempty"`
	Streak         int            `json:"streak"`
	SignedInToday  bool           `json:"signed_in_today"`
}

// SupervisorStatus is everything a supervisor's dashboard shows.
type SupervisorStatus struct {
	SupervisorID string                `json:"supervisor_id"`
	Supervised   []DeviceStatus        `json:"supervised"`
	Pending      []supervision.Request `json:"pending"`
}

type DeviceLookup interface {
	Lookup(ctx context.Context, deviceID string) (identity.Device, error)
}

type StreakReader interface {
	Get(ctx context.Context, deviceID string) (streak.State, error)
	Today() calendar.Date
}

type RelationReader interface {
	List(ctx context.Context, deviceID string) ([]supervision.Relation, error)
	ListOutgoing(ctx context.Context, supervisorID string) ([]supervision.Request, error)
}

type Projector struct {
	devices   DeviceLookup
	streaks   StreakReader
	relations RelationReader
}

func NewProjector(devices DeviceLookup, streaks StreakReader, relations RelationReader) *Projector {
	return &Projector{devices: devices, streaks: streaks, relations: relations}
}

// GetStatus never writes; callers may poll it freely.
func (p *Projector) GetStatus(ctx context.Context, deviceID string) (DeviceStatus, error) {
	device, err := p.devices.Lookup(ctx, deviceID)
	if err != nil {
		return DeviceStatus{}, err
	}
	state, err := p.streaks.Get(ctx, deviceID)
	if err != nil {
		return DeviceStatus{}, err
	}
	return DeviceStatus{
		DeviceID:       device.DeviceID,
		DeviceName:     device.DeviceName,
		Mode:           device.Mode,
		LastSigninDate: state.LastSigninDate,
		Streak:         state.Streak,
		SignedInToday:  state.SignedInOn(p.streaks.Today()),
	}, nil
}

// Dashboard lists the status of every device supervisorID observes and the
// requests it is still waiting on.
func (p *Projector) Dashboard(ctx context.Context, supervisorID string) (SupervisorStatus, error) {
	if _, err := p.devices.Lookup(ctx, supervisorID); err != nil {
		return SupervisorStatus{}, err
	}
	relations, err := p.relations.List(ctx, supervisorID)
	if err != nil {
		return SupervisorStatus{}, err
	}
	out := SupervisorStatus{SupervisorID: supervisorID, Supervised: make([]DeviceStatus, 0, len(relations))}
	for _, rel := range relations {
		st, err := p.GetStatus(ctx, rel.TargetID)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return SupervisorStatus{}, err
		}
		out.Supervised = append(out.Supervised, st)
	}
	out.Pending, err = p.relations.ListOutgoing(ctx, supervisorID)
	if err != nil {
		return SupervisorStatus{}, err
	}
	return out, nil
}
