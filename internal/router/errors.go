package router

import "fmt"

// Role identifies one of the two database endpoints.
type Role string

const (
	RolePrimary Role = "primary"
	RoleReplica Role = "replica"
)

// ConnectionError is returned when a connection for a role cannot be opened.
type ConnectionError struct {
	Role Role
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Role, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
