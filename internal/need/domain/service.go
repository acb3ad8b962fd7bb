package domain

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/needflow/internal/authorization"
	"github.com/smallbiznis/needflow/pkg/db/pagination"
)

type CreateNeedRequest struct {
	CaseID       snowflake.ID
	Actor        authorization.Actor
	Kind         Kind
	SupplyItemID snowflake.ID
	ItemName     string
	Quantity     int64
	Priority     string
	Note         string
}

type NeedFilter struct {
	CaseID      *snowflake.ID
	WorkerID    *snowflake.ID
	Kind        Kind
	Status      Status
	BatchID     *snowflake.ID
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type ListNeedRequest struct {
	pagination.Pagination
	NeedFilter
}

type ListNeedResponse struct {
	pagination.PageInfo
	Needs []Need `json:"needs"`
}

type Service interface {
	Create(ctx context.Context, req CreateNeedRequest) (Need, error)
	Get(ctx context.Context, id snowflake.ID) (Need, error)
	List(ctx context.Context, req ListNeedRequest) (ListNeedResponse, error)
	// All yields every need matching filter, newest first, fetching one page
	// at a time. Each range over the sequence starts again from the first page.
	All(ctx context.Context, filter NeedFilter) iter.Seq2[Need, error]
}

var (
	ErrInvalidQuantity        = errors.New("invalid_quantity")
	ErrNeedNotFound           = errors.New("need_not_found")
	ErrIllegalTransition      = errors.New("illegal_transition")
	ErrConcurrentModification = errors.New("concurrent_modification")
	ErrInvalidKind            = errors.New("invalid_kind")
	ErrInvalidStatus          = errors.New("invalid_status")
	ErrInvalidPriority        = errors.New("invalid_priority")
	ErrInvalidItemName        = errors.New("invalid_item_name")
	ErrInvalidCase            = errors.New("invalid_case")
	ErrInvalidPageToken       = errors.New("invalid_page_token")
	ErrInvalidTimeRange       = errors.New("invalid_time_range")
)
