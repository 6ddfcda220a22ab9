package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	ErrBroken       = errors.New("device: connection broken")
	ErrAuthFailed   = errors.New("device: authentication failed")
	ErrFatal        = errors.New("device: fatal reply")
	ErrNoResponse   = errors.New("device: empty reply")
	ErrBadTransport = errors.New("device: unknown transport")
)

type Category int

const (
	CategoryOther Category = iota
	CategoryAlreadyExists
	CategoryNotFound
)

// Error is a command rejected by the router (a "!trap" reply or an HTTP
// error from the REST interface).
type Error struct {
	Path     string
	Message  string
	Status   int
	Category Category
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("device: %s: %s (status %d)", e.Path, e.Message, e.Status)
	}
	return fmt.Sprintf("device: %s: %s", e.Path, e.Message)
}

func newError(path, message string, status int) *Error {
	return &Error{
		Path:     path,
		Message:  message,
		Status:   status,
		Category: categorize(message, status),
	}
}

func categorize(message string, status int) Category {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "already have such entry"),
		strings.Contains(msg, "already exists"),
		strings.Contains(msg, "already have"):
		return CategoryAlreadyExists
	case strings.Contains(msg, "no such item"),
		strings.Contains(msg, "no such command or directory") && status == http.StatusNotFound,
		status == http.StatusNotFound:
		return CategoryNotFound
	}
	return CategoryOther
}

// IsAlreadyExists reports whether err says the object being created is
// already present. Creates treat this as success.
func IsAlreadyExists(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Category == CategoryAlreadyExists
}

// IsNotFound reports whether err says the object being removed is gone.
// Removes treat this as a no-op.
func IsNotFound(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Category == CategoryNotFound
}

// IsTransient reports whether retrying the same command may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var de *Error
	if errors.As(err, &de) {
		switch de.Status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
