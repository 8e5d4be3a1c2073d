package ring

import "errors"

var (
	// ErrMalformedBlock reports block offsets that point outside the block.
	ErrMalformedBlock = errors.New("afring: malformed ring block")

	// ErrRingClosed is returned after Close.
	ErrRingClosed = errors.New("afring: ring closed")

	// ErrUnsupportedPlatform is returned by Open outside Linux.
	ErrUnsupportedPlatform = errors.New("afring: AF_PACKET rings require linux")
)
