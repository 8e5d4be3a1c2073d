// Package tpacket decodes the TPACKET_V3 ring layout written by the Linux
// AF_PACKET socket into its memory-mapped receive ring.
//
// All multi-byte fields are little-endian and laid out exactly as the kernel
// structures in <linux/if_packet.h>. Decoders are pure: they never retain,
// mutate or log the input, and a short input consumes nothing.
package tpacket

import (
	"encoding/binary"
	"fmt"
)

// Version3 is the PACKET_VERSION value selecting TPACKET_V3.
const Version3 = 2

// BlockStatusOffset is the byte offset of block_status from the start of a
// ring block. Polling loops read the ownership word here without decoding
// the rest of the block.
const BlockStatusOffset = 8

// Block and packet status bits (tp_status / block_status).
const (
	StatusKernel        = 0
	StatusUser          = 1 << 0
	StatusCopy          = 1 << 1
	StatusLosing        = 1 << 2
	StatusCsumNotReady  = 1 << 3
	StatusVLANValid     = 1 << 4
	StatusBlkTmo        = 1 << 5
	StatusVLANTPIDValid = 1 << 6
	StatusCsumValid     = 1 << 7
)

// FeatureReqFillRxHash asks the kernel to fill tp_rxhash.
const FeatureReqFillRxHash = 1

// Encoded sizes of the fixed structures.
const (
	TimestampLen       = 8
	PacketVariant1Len  = 12
	packetFixedLen     = 28
	PacketHeaderLen    = packetFixedLen + PacketVariant1Len
	BlockHeaderLen     = 24 + 2*TimestampLen
	BlockDescriptorLen = 8 + BlockHeaderLen
	RingRequestLen     = 28
	RingStatsLen       = 12
)

// IsUserOwned reports whether a status word hands the block (or frame) to
// userspace.
func IsUserOwned(status uint32) bool {
	return status&StatusUser != 0
}

// RingRequest mirrors struct tpacket_req3, the PACKET_RX_RING argument.
// FrameSize*FrameCount must equal BlockSize*BlockCount or the kernel rejects it.
type RingRequest struct {
	BlockSize     uint32 // tp_block_size
	BlockCount    uint32 // tp_block_nr
	FrameSize     uint32 // tp_frame_size
	FrameCount    uint32 // tp_frame_nr
	RetireTimeout uint32 // tp_retire_blk_tov, milliseconds
	PrivSize      uint32 // tp_sizeof_priv
	FeatureReq    uint32 // tp_feature_req_word
}

// DefaultRingRequest returns a 312.5 MiB ring of 32 KiB blocks with RX hash
// filling enabled.
func DefaultRingRequest() RingRequest {
	return RingRequest{
		BlockSize:     32768,
		BlockCount:    10000,
		FrameSize:     2048,
		FrameCount:    160000,
		RetireTimeout: 100,
		PrivSize:      0,
		FeatureReq:    FeatureReqFillRxHash,
	}
}

// Validate checks the frame/block product invariant. Decoders never call it.
func (r RingRequest) Validate() error {
	if r.BlockSize == 0 || r.BlockCount == 0 || r.FrameSize == 0 {
		return fmt.Errorf("%w: zero block size, block count or frame size", ErrInvalidRequest)
	}
	frames := uint64(r.FrameSize) * uint64(r.FrameCount)
	blocks := uint64(r.BlockSize) * uint64(r.BlockCount)
	if frames != blocks {
		return fmt.Errorf("%w: frame_size*frame_nr=%d != block_size*block_nr=%d",
			ErrInvalidRequest, frames, blocks)
	}
	return nil
}

// RingSize is the number of bytes the kernel maps for the ring.
func (r RingRequest) RingSize() int {
	return int(r.BlockSize) * int(r.BlockCount)
}

// MarshalBinary encodes the request as the kernel's tpacket_req3 blob.
func (r RingRequest) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, RingRequestLen)
	b = binary.LittleEndian.AppendUint32(b, r.BlockSize)
	b = binary.LittleEndian.AppendUint32(b, r.BlockCount)
	b = binary.LittleEndian.AppendUint32(b, r.FrameSize)
	b = binary.LittleEndian.AppendUint32(b, r.FrameCount)
	b = binary.LittleEndian.AppendUint32(b, r.RetireTimeout)
	b = binary.LittleEndian.AppendUint32(b, r.PrivSize)
	b = binary.LittleEndian.AppendUint32(b, r.FeatureReq)
	return b, nil
}

// RingStats mirrors struct tpacket_stats_v3. The kernel resets the counters
// on every PACKET_STATISTICS query.
type RingStats struct {
	Packets     uint32 // tp_packets
	Drops       uint32 // tp_drops
	FreezeQueue uint32 // tp_freeze_q_cnt
}

// UnmarshalBinary fills the stats from a tpacket_stats_v3 blob.
func (s *RingStats) UnmarshalBinary(b []byte) error {
	if len(b) < RingStatsLen {
		return incomplete("tpacket_stats_v3", RingStatsLen, len(b))
	}
	s.Packets = binary.LittleEndian.Uint32(b[0:4])
	s.Drops = binary.LittleEndian.Uint32(b[4:8])
	s.FreezeQueue = binary.LittleEndian.Uint32(b[8:12])
	return nil
}
