package core

//go:generate mockgen -destination=mocks/signal_mock.go -package=mocks . SignalConnection

// Frame is one encoded signaling message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
