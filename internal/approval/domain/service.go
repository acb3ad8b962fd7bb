package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/needflow/internal/authorization"
	needdomain "github.com/smallbiznis/needflow/internal/need/domain"
	"gorm.io/gorm"
)

type CollectRequest struct {
	NeedID  snowflake.ID
	BatchID *snowflake.ID
	Actor   authorization.Actor
}

type Service interface {
	// Transition applies action to the need. Repeating an action that was
	// already applied succeeds without writing.
	Transition(ctx context.Context, needID snowflake.ID, action Action, actor authorization.Actor) (needdomain.Need, error)
	Collect(ctx context.Context, req CollectRequest) (needdomain.Need, error)
	// ApplyCollect marks an approved need collected inside tx. Callers hold
	// the need row lock and have already checked eligibility.
	ApplyCollect(ctx context.Context, tx *gorm.DB, need *needdomain.Need, batchID *snowflake.ID, pickup time.Time) error
}

var ErrInvalidAction = errors.New("invalid_action")
