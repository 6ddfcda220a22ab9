package core

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type SessionStatus string

const (
	StatusPending      SessionStatus = "PENDING"
	StatusActive       SessionStatus = "ACTIVE"
	StatusExpired      SessionStatus = "EXPIRED"
	StatusCancelled    SessionStatus = "CANCELLED"
	StatusTerminated   SessionStatus = "TERMINATED"
	StatusDataExceeded SessionStatus = "DATA_EXCEEDED"
)

// Terminal reports whether no further transition is allowed from s.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusExpired, StatusCancelled, StatusTerminated, StatusDataExceeded:
		return true
	}
	return false
}

// Session is one paid (or free) grant of access to one client.
type Session struct {
	ID         string      `json:"id" db:"id"`
	TenantID   string      `json:"tenant_id" db:"tenant_id"`
	MACAddress string      `json:"mac_address" db:"mac_address"`
	CurrentIP  string      `json:"current_ip" db:"current_ip"`
	IPHistory  StringSlice `json:"ip_history" db:"ip_history"`
	PlanID     string      `json:"plan_id" db:"plan_id"`

	Status        SessionStatus `json:"status" db:"status"`
	ExpiresAt     time.Time     `json:"expires_at" db:"expires_at"`
	DurationHours int           `json:"duration_hours" db:"duration_hours"`
	DataCapMB     *int64        `json:"data_cap_mb,omitempty" db:"data_cap_mb"`
	DataUsedMB    float64       `json:"data_used_mb" db:"data_used_mb"`
	SpeedLimit    *string       `json:"speed_limit,omitempty" db:"speed_limit"`

	CheckoutRequestID *string       `json:"checkout_request_id,omitempty" db:"checkout_request_id"`
	RemoteObjects     RemoteObjects `json:"remote_objects" db:"remote_objects"`

	TerminationReason *string    `json:"termination_reason,omitempty" db:"termination_reason"`
	DisconnectedAt    *time.Time `json:"disconnected_at,omitempty" db:"disconnected_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// HasCap reports whether the session is subject to data cap enforcement.
func (s *Session) HasCap() bool {
	return s.DataCapMB != nil && *s.DataCapMB > 0
}

// RemoteObjects records the names of the router objects created for a
// session so they can be found again without parsing comments.
type RemoteObjects struct {
	BindingAddress string `json:"binding_address,omitempty"`
	DataCapMeter   string `json:"data_cap_meter,omitempty"`
	SpeedMeter     string `json:"speed_meter,omitempty"`
}

func (r RemoteObjects) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *RemoteObjects) Scan(value interface{}) error {
	if value == nil {
		*r = RemoteObjects{}
		return nil
	}
	b, err := asBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, r)
}

type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	b, err := asBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, s)
}

func asBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("unsupported scan type")
	}
}

// Activation is what a successful grant records on its session.
type Activation struct {
	MACAddress    string
	Address       string
	ExpiresAt     time.Time
	RemoteObjects RemoteObjects
}
