// Package domain contains entity without logic, just meta-data
package domain

import "strings"

const (
	MinCodeLen = 6
	MaxCodeLen = 16
)

type (
	StreamCode string
	ConnID     string
)

// NormalizeCode turns a human-typed code into its canonical form.
// Codes are issued upper-case; viewers tend to type them any way.
func NormalizeCode(raw string) (StreamCode, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) == 0 || len(code) > MaxCodeLen {
		return "", ErrInvalidCode
	}
	return StreamCode(code), nil
}

type Role int

const (
	RoleUnassigned Role = iota
	RoleHost
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleViewer:
		return "viewer"
	default:
		return "unassigned"
	}
}

// Peer is the role-state of one live connection.
// Code is a back-reference into the session registry and is empty while unassigned.
type Peer struct {
	ID   ConnID
	Role Role
	Code StreamCode
}

// Stream is a read-only snapshot of an active session.
type Stream struct {
	Code    StreamCode
	Host    ConnID
	Viewers []ConnID
}
