package supervision

import "github.com/haasonsaas/areuok/pkg/apperr"

// Status is the lifecycle state of a supervision request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusAccepted, StatusRejected, StatusCancelled:
		return s, nil
	}
	return "", apperr.InvalidInput("status")
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusPending:
		return false
	case StatusAccepted, StatusRejected, StatusCancelled:
		return true
	}
	panic("supervision: unknown status " + string(s))
}

// canResolveTo reports whether a pending request may move to next.
func canResolveTo(next Status) bool {
	switch next {
	case StatusAccepted, StatusRejected, StatusCancelled:
		return true
	case StatusPending:
		return false
	}
	panic("supervision: unknown status " + string(next))
}
