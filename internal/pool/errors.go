package pool

import (
	"errors"
	"fmt"
)

var ErrClosed = errors.New("pool: closed")

type ErrorKind string

const (
	KindTenantNotFound    ErrorKind = "tenant_not_found"
	KindTenantInactive    ErrorKind = "tenant_inactive"
	KindTimeout           ErrorKind = "timeout"
	KindDeviceUnreachable ErrorKind = "device_unreachable"
	KindAuthFailed        ErrorKind = "auth_failed"
)

// ConnectionError reports why a tenant's router could not be reached.
type ConnectionError struct {
	Kind     ErrorKind
	TenantID string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("router connection for tenant %s: %s: %v", e.TenantID, e.Kind, e.Err)
	}
	return fmt.Sprintf("router connection for tenant %s: %s", e.TenantID, e.Kind)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a ConnectionError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Kind == kind
}
