//go:build !linux

package ring

import (
	"context"

	"firestige.xyz/afring/pkg/tpacket"
)

// Ring is unavailable outside Linux.
type Ring struct{}

// Open always fails with ErrUnsupportedPlatform.
func Open(opts Options) (*Ring, error) {
	return nil, ErrUnsupportedPlatform
}

func (r *Ring) Ifindex() int { return 0 }

func (r *Ring) NextBlock(ctx context.Context) (*Block, error) {
	return nil, ErrUnsupportedPlatform
}

func (r *Ring) Release(b *Block) {}

func (r *Ring) Stats() (tpacket.RingStats, error) {
	return tpacket.RingStats{}, ErrUnsupportedPlatform
}

func (r *Ring) Close() error { return nil }
