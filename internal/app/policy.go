package app

import (
	"fmt"

	"github.com/dkeye/streamrelay/internal/domain"
)

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	KickConnection
)

// Policy decides what happens to a recipient whose send buffer is full.
type Policy interface {
	OnBackpressure(conn domain.ConnID) BackpressureAction
}

// KickPolicy disconnects slow recipients. A peer that missed an ICE
// candidate cannot finish its handshake anyway.
type KickPolicy struct{}

func (KickPolicy) OnBackpressure(domain.ConnID) BackpressureAction { return KickConnection }

type DropPolicy struct{}

func (DropPolicy) OnBackpressure(domain.ConnID) BackpressureAction { return DropFrame }

func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "kick":
		return KickPolicy{}, nil
	case "drop":
		return DropPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
