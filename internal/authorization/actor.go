package authorization

import (
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Role is a worker's position on the approval ladder.
type Role string

const (
	RoleWorker     Role = "worker"
	RoleStaff      Role = "staff"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// Actor identifies who performs a mutation. It is trusted as supplied by the caller.
type Actor struct {
	WorkerID snowflake.ID
	Role     Role
}

func (a Actor) Validate() error {
	if a.WorkerID == 0 {
		return ErrInvalidActor
	}
	if NormalizeRole(string(a.Role)) == "" {
		return ErrInvalidActor
	}
	return nil
}

func (a Actor) String() string {
	return string(NormalizeRole(string(a.Role))) + ":" + a.WorkerID.String()
}

func NormalizeRole(raw string) Role {
	return Role(strings.ToLower(strings.TrimSpace(raw)))
}
