package domain

import (
	"strings"

	approvaldomain "github.com/smallbiznis/needflow/internal/approval/domain"
	"github.com/smallbiznis/needflow/internal/authorization"
)

type BatchAction string

const (
	BatchActionApprove  BatchAction = "approve"
	BatchActionReject   BatchAction = "reject"
	BatchActionComplete BatchAction = "complete"
)

func ParseBatchStatus(raw string) (BatchStatus, error) {
	status := BatchStatus(strings.ToLower(strings.TrimSpace(raw)))
	if status == "" {
		return "", nil
	}
	if !status.Valid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

type BatchEdge = approvaldomain.Edge[BatchStatus, BatchAction]

// BatchGraph is the batch lifecycle. Completed and rejected are terminal.
var BatchGraph = approvaldomain.NewGraph("batch",
	BatchEdge{From: BatchStatusPending, Action: BatchActionApprove, To: BatchStatusApproved, Requires: authorization.RoleSupervisor},
	BatchEdge{From: BatchStatusPending, Action: BatchActionReject, To: BatchStatusRejected, Requires: authorization.RoleSupervisor},
	BatchEdge{From: BatchStatusApproved, Action: BatchActionComplete, To: BatchStatusCompleted, Requires: authorization.RoleStaff},
)
