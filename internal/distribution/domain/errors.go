package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/snowflake"
	needdomain "github.com/smallbiznis/needflow/internal/need/domain"
)

var (
	ErrBatchNotFound       = errors.New("batch_not_found")
	ErrNeedNotEligible     = errors.New("need_not_eligible")
	ErrInconsistentBatch   = errors.New("inconsistent_batch")
	ErrEmptyBatch          = errors.New("empty_batch")
	ErrBatchTooLarge       = errors.New("batch_too_large")
	ErrInvalidDistribution = errors.New("invalid_distribution_date")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrInvalidStatus       = errors.New("invalid_status")

	// ErrConcurrentModification aliases the need registry sentinel.
	ErrConcurrentModification = needdomain.ErrConcurrentModification
)

// Reasons attached to ineligible or inconsistent members.
const (
	ReasonNotFound       = "not_found"
	ReasonNotRegular     = "not_regular"
	ReasonNotApproved    = "not_approved"
	ReasonAlreadyBatched = "already_batched"
	ReasonOtherBatch     = "other_batch"
	ReasonBatchTerminal  = "batch_terminal"
	ReasonBatchPending   = "batch_pending"
	ReasonTotalMismatch  = "total_mismatch"
	ReasonNoMembers      = "no_members"
)

// NeedNotEligibleError lists the needs that blocked a batch operation.
type NeedNotEligibleError struct {
	Reasons map[snowflake.ID]string
}

func NewNeedNotEligibleError() *NeedNotEligibleError {
	return &NeedNotEligibleError{Reasons: map[snowflake.ID]string{}}
}

func (e *NeedNotEligibleError) Add(id snowflake.ID, reason string) {
	e.Reasons[id] = reason
}

func (e *NeedNotEligibleError) Empty() bool {
	return e == nil || len(e.Reasons) == 0
}

func (e *NeedNotEligibleError) NeedIDs() []snowflake.ID {
	return sortedIDs(e.Reasons)
}

func (e *NeedNotEligibleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNeedNotEligible, describe(e.Reasons))
}

func (e *NeedNotEligibleError) Unwrap() error {
	return ErrNeedNotEligible
}

// InconsistentBatchError reports members that failed validation during a
// cascade. Nothing was written when it is returned.
type InconsistentBatchError struct {
	BatchID snowflake.ID
	Reasons map[snowflake.ID]string
}

func NewInconsistentBatchError(batchID snowflake.ID) *InconsistentBatchError {
	return &InconsistentBatchError{BatchID: batchID, Reasons: map[snowflake.ID]string{}}
}

func (e *InconsistentBatchError) Add(id snowflake.ID, reason string) {
	e.Reasons[id] = reason
}

func (e *InconsistentBatchError) Empty() bool {
	return e == nil || len(e.Reasons) == 0
}

func (e *InconsistentBatchError) NeedIDs() []snowflake.ID {
	return sortedIDs(e.Reasons)
}

func (e *InconsistentBatchError) Error() string {
	return fmt.Sprintf("%s: batch %s: %s", ErrInconsistentBatch, e.BatchID, describe(e.Reasons))
}

func (e *InconsistentBatchError) Unwrap() error {
	return ErrInconsistentBatch
}

func sortedIDs(reasons map[snowflake.ID]string) []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(reasons))
	for id := range reasons {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func describe(reasons map[snowflake.ID]string) string {
	parts := make([]string, 0, len(reasons))
	for _, id := range sortedIDs(reasons) {
		parts = append(parts, id.String()+"="+reasons[id])
	}
	return strings.Join(parts, ", ")
}
