package app

import (
	"fmt"

	"github.com/pion/randutil"

	"github.com/dkeye/streamrelay/internal/domain"
)

// CodeAlphabet skips 0/O and 1/I so codes survive being read aloud.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type RandomCodes struct {
	length int
}

func NewRandomCodes(length int) *RandomCodes {
	if length < domain.MinCodeLen {
		length = domain.MinCodeLen
	}
	if length > domain.MaxCodeLen {
		length = domain.MaxCodeLen
	}
	return &RandomCodes{length: length}
}

func (g *RandomCodes) Generate() (domain.StreamCode, error) {
	s, err := randutil.GenerateCryptoRandomString(g.length, CodeAlphabet)
	if err != nil {
		return "", fmt.Errorf("random code: %w", err)
	}
	return domain.StreamCode(s), nil
}
