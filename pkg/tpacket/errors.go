package tpacket

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete reports that the input is shorter than the structure being
	// decoded. The caller may retry once more of the block is available.
	ErrIncomplete = errors.New("tpacket: incomplete input")

	// ErrUnsupportedVersion is returned by BlockDescriptor.CheckVersion.
	ErrUnsupportedVersion = errors.New("tpacket: unsupported block version")

	// ErrInvalidRequest is returned by RingRequest.Validate.
	ErrInvalidRequest = errors.New("tpacket: invalid ring request")
)

// IncompleteError carries how many bytes a decode needed. It matches
// ErrIncomplete under errors.Is.
type IncompleteError struct {
	Struct string
	Need   int
	Have   int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("tpacket: incomplete %s: need %d bytes, have %d", e.Struct, e.Need, e.Have)
}

// Is makes errors.Is(err, ErrIncomplete) true.
func (e *IncompleteError) Is(target error) bool {
	return target == ErrIncomplete
}

func incomplete(name string, need, have int) error {
	return &IncompleteError{Struct: name, Need: need, Have: have}
}
