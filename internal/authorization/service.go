package authorization

import (
	"context"
	"errors"
	"fmt"
)

type Service interface {
	// RequireRole fails with a *DeniedError unless actor ranks at or above
	// minimum. It does not write anything, so it is safe inside a transaction.
	RequireRole(ctx context.Context, actor Actor, minimum Role) error
	// RecordDenial audits err when it is a *DeniedError. Call it once the
	// transaction that produced err has finished.
	RecordDenial(ctx context.Context, err error)
	Allows(role Role, minimum Role) (bool, error)
	Ladder() []Role
}

var (
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidActor = errors.New("invalid_actor")
	ErrInvalidRole  = errors.New("invalid_role")
)

// DeniedError is a failed tier check. It matches ErrForbidden.
type DeniedError struct {
	Actor    Actor
	Required Role
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s below %s", ErrForbidden, e.Actor.Role, e.Required)
}

func (e *DeniedError) Unwrap() error {
	return ErrForbidden
}
