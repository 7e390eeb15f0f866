package core

import (
	"errors"

	"github.com/dkeye/streamrelay/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// CodeGenerator draws candidate stream codes. Uniqueness against active
// sessions is the registry's job, not the generator's.
type CodeGenerator interface {
	Generate() (domain.StreamCode, error)
}
