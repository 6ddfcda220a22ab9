package core

import (
	"time"
)

const (
	TransportAPI  = "api"
	TransportREST = "rest"
)

// Tenant is one hotspot location and the router that serves it.
type Tenant struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// Router endpoint
	RouterHost     string `json:"router_host" db:"router_host"`
	RouterPort     int    `json:"router_port" db:"router_port"`
	RouterUser     string `json:"router_user" db:"router_user"`
	RouterPassword string `json:"-" db:"router_password"`
	Transport      string `json:"transport" db:"transport"`
	UseTLS         bool   `json:"use_tls" db:"use_tls"`

	// Metadata
	IsActive  bool       `json:"is_active" db:"is_active"`
	LastSeen  *time.Time `json:"last_seen,omitempty" db:"last_seen"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}
