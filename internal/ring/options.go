package ring

import (
	"time"

	"golang.org/x/net/bpf"

	"firestige.xyz/afring/pkg/tpacket"
)

const defaultPollTimeout = 100 * time.Millisecond

// Options configures Open.
type Options struct {
	Interface   string
	Request     tpacket.RingRequest
	PollTimeout time.Duration
	Filter      []bpf.RawInstruction
	// FanoutID joins a PACKET_FANOUT_HASH group with defragmentation when
	// non-zero.
	FanoutID uint16
	// StrictVersion rejects blocks whose descriptor version is not
	// TPACKET_V3.
	StrictVersion bool
}

func (o *Options) pollTimeout() time.Duration {
	if o.PollTimeout <= 0 {
		return defaultPollTimeout
	}
	return o.PollTimeout
}
