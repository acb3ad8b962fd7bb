package domain

import (
	"strings"

	"github.com/smallbiznis/needflow/internal/authorization"
	needdomain "github.com/smallbiznis/needflow/internal/need/domain"
)

type Action string

const (
	ActionConfirm Action = "confirm"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCollect Action = "collect"
)

func ParseAction(raw string) (Action, error) {
	switch action := Action(strings.ToLower(strings.TrimSpace(raw))); action {
	case ActionConfirm, ActionApprove, ActionReject, ActionCollect:
		return action, nil
	}
	return "", ErrInvalidAction
}

type NeedGraph = Graph[needdomain.Status, Action]

type NeedEdge = Edge[needdomain.Status, Action]

// RegularGraph routes regular needs through staff confirmation and
// supervisor approval.
var RegularGraph = NewGraph("regular",
	NeedEdge{From: needdomain.StatusPending, Action: ActionConfirm, To: needdomain.StatusPendingSuper, Requires: authorization.RoleStaff},
	NeedEdge{From: needdomain.StatusPending, Action: ActionReject, To: needdomain.StatusRejected, Requires: authorization.RoleStaff},
	NeedEdge{From: needdomain.StatusPendingSuper, Action: ActionApprove, To: needdomain.StatusApproved, Requires: authorization.RoleSupervisor},
	NeedEdge{From: needdomain.StatusPendingSuper, Action: ActionReject, To: needdomain.StatusRejected, Requires: authorization.RoleSupervisor},
	NeedEdge{From: needdomain.StatusApproved, Action: ActionCollect, To: needdomain.StatusCollected, Requires: authorization.RoleStaff},
).WithAlias(needdomain.StatusConfirmed, needdomain.StatusPendingSuper)

// EmergencyGraph lets staff approve emergency needs directly.
var EmergencyGraph = NewGraph("emergency",
	NeedEdge{From: needdomain.StatusPending, Action: ActionApprove, To: needdomain.StatusApproved, Requires: authorization.RoleStaff},
	NeedEdge{From: needdomain.StatusPending, Action: ActionReject, To: needdomain.StatusRejected, Requires: authorization.RoleStaff},
	NeedEdge{From: needdomain.StatusApproved, Action: ActionCollect, To: needdomain.StatusCollected, Requires: authorization.RoleStaff},
)

func GraphFor(kind needdomain.Kind) (*NeedGraph, error) {
	switch kind {
	case needdomain.KindRegular:
		return RegularGraph, nil
	case needdomain.KindEmergency:
		return EmergencyGraph, nil
	}
	return nil, needdomain.ErrInvalidKind
}
