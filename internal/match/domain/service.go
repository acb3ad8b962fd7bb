package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/needflow/internal/authorization"
)

type RecordMatchRequest struct {
	NeedID   snowflake.ID
	Quantity int64
	Actor    authorization.Actor
	Note     string
	// MatchDate defaults to the current time.
	MatchDate *time.Time
}

type Service interface {
	RecordMatch(ctx context.Context, req RecordMatchRequest) (Match, error)
	ListByNeed(ctx context.Context, needID snowflake.ID) ([]Match, error)
	// ListByNeeds groups matches by need id.
	ListByNeeds(ctx context.Context, needIDs []snowflake.ID) (map[snowflake.ID][]Match, error)
}

var ErrOverCollection = errors.New("over_collection")
