package ring

import (
	"fmt"

	"firestige.xyz/afring/pkg/tpacket"
)

const (
	tpacketAlignment = 16
	// TPACKET3_HDRLEN plus the minimum 16-byte link header reserve.
	tpacketHdrLen = 68 + 16

	minBlockSize = 128 * 1024
	maxBlockSize = 4 * 1024 * 1024
)

// RequestForBuffer derives a ring request from a memory budget.
//
// PACKET_RX_RING requires:
//  1. frame size a multiple of TPACKET_ALIGNMENT
//  2. block size a multiple of the page size
//  3. frame_size*frame_nr == block_size*block_nr
//
// The returned request satisfies all three with block_size a multiple of
// frame_size, keeping blocks between 128 KiB and 4 MiB where the budget
// allows.
func RequestForBuffer(bufferSizeMB, snapLen, pageSize int) (tpacket.RingRequest, error) {
	if bufferSizeMB <= 0 {
		return tpacket.RingRequest{}, fmt.Errorf("buffer size must be positive, got %d MB", bufferSizeMB)
	}
	if snapLen <= 0 {
		return tpacket.RingRequest{}, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return tpacket.RingRequest{}, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	targetBytes := bufferSizeMB * 1024 * 1024

	frameSize := align(tpacketHdrLen+snapLen, tpacketAlignment)
	blockSize := lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// Odd frame sizes blow up the LCM; a power-of-two frame divides any
		// larger power-of-two page multiple.
		frameSize = nextPow2(frameSize)
		blockSize = lcm(pageSize, frameSize)
	}
	for blockSize < minBlockSize && blockSize*2 <= targetBytes {
		blockSize *= 2
	}

	numBlocks := targetBytes / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}

	req := tpacket.RingRequest{
		BlockSize:     uint32(blockSize),
		BlockCount:    uint32(numBlocks),
		FrameSize:     uint32(frameSize),
		FrameCount:    uint32(blockSize / frameSize * numBlocks),
		RetireTimeout: tpacket.DefaultRingRequest().RetireTimeout,
		FeatureReq:    tpacket.FeatureReqFillRxHash,
	}
	return req, req.Validate()
}

func align(x, a int) int {
	return (x + a - 1) / a * a
}

func nextPow2(x int) int {
	n := 1
	for n < x {
		n <<= 1
	}
	return n
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
