package domain

import (
	"context"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/needflow/internal/authorization"
	"github.com/smallbiznis/needflow/pkg/db/pagination"
)

type CreateBatchRequest struct {
	DistributionDate time.Time
	Actor            authorization.Actor
	NeedIDs          []snowflake.ID
	Notes            string
}

type ListBatchRequest struct {
	pagination.Pagination
	Status BatchStatus
}

type ListBatchResponse struct {
	pagination.PageInfo
	Batches []Batch `json:"batches"`
}

type Service interface {
	CreateBatch(ctx context.Context, req CreateBatchRequest) (Batch, error)
	// ApproveBatch validates every member and then collects all of them in
	// the same transaction. A failed validation writes nothing.
	ApproveBatch(ctx context.Context, batchID snowflake.ID, actor authorization.Actor) (Batch, error)
	// RejectBatch ungroups every member. Members keep their approved status.
	RejectBatch(ctx context.Context, batchID snowflake.ID, actor authorization.Actor, reason string) (Batch, error)
	CompleteBatch(ctx context.Context, batchID snowflake.ID, actor authorization.Actor) (Batch, error)
	GetDetails(ctx context.Context, batchID snowflake.ID) (BatchDetails, error)
	List(ctx context.Context, req ListBatchRequest) (ListBatchResponse, error)
	Manifest(ctx context.Context, batchID snowflake.ID) (io.Reader, error)
}
