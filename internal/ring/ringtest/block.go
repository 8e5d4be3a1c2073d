// Package ringtest builds synthetic TPACKET_V3 ring blocks laid out the way
// the kernel fills them.
package ringtest

import (
	"encoding/binary"

	"firestige.xyz/afring/pkg/tpacket"
)

const (
	// Mac is where the kernel places a 14-byte Ethernet header: the network
	// header lands at TPACKET_ALIGN(TPACKET3_HDRLEN + 16) = 96.
	Mac = 82
	Net = 96

	blockAlign = 8
)

// Packet describes one frame to place in a block.
type Packet struct {
	Payload  []byte
	Sec      uint32
	Nsec     uint32
	Len      uint32 // wire length, defaults to len(Payload)
	Status   uint32
	RxHash   uint32
	VLANTCI  uint32
	VLANTPID uint16
}

// Block describes one ring block.
type Block struct {
	Version uint32 // defaults to tpacket.Version3
	Status  uint32
	SeqNum  uint64
	Size    int // defaults to 4096, grown to fit the packets
	Packets []Packet
}

// Bytes encodes the block.
func (b Block) Bytes() []byte {
	version := b.Version
	if version == 0 {
		version = tpacket.Version3
	}

	offsets := make([]int, len(b.Packets))
	off := tpacket.BlockDescriptorLen
	for i, p := range b.Packets {
		offsets[i] = off
		off += align(Mac+len(p.Payload), blockAlign)
	}
	end := off
	size := b.Size
	if size == 0 {
		size = 4096
	}
	if size < end {
		size = end
	}
	if len(b.Packets) == 0 {
		end = tpacket.BlockDescriptorLen
	}

	buf := make([]byte, size)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], version)
	le.PutUint32(buf[4:], tpacket.BlockDescriptorLen)
	le.PutUint32(buf[8:], b.Status)
	le.PutUint32(buf[12:], uint32(len(b.Packets)))
	le.PutUint32(buf[16:], tpacket.BlockDescriptorLen)
	le.PutUint32(buf[20:], uint32(end))
	le.PutUint64(buf[24:], b.SeqNum)
	if n := len(b.Packets); n > 0 {
		le.PutUint32(buf[32:], b.Packets[0].Sec)
		le.PutUint32(buf[36:], b.Packets[0].Nsec)
		le.PutUint32(buf[40:], b.Packets[n-1].Sec)
		le.PutUint32(buf[44:], b.Packets[n-1].Nsec)
	}

	for i, p := range b.Packets {
		h := buf[offsets[i]:]
		next := uint32(0)
		if i+1 < len(b.Packets) {
			next = uint32(offsets[i+1] - offsets[i])
		}
		wire := p.Len
		if wire == 0 {
			wire = uint32(len(p.Payload))
		}
		le.PutUint32(h[0:], next)
		le.PutUint32(h[4:], p.Sec)
		le.PutUint32(h[8:], p.Nsec)
		le.PutUint32(h[12:], uint32(len(p.Payload)))
		le.PutUint32(h[16:], wire)
		le.PutUint32(h[20:], p.Status)
		le.PutUint16(h[24:], Mac)
		le.PutUint16(h[26:], Net)
		le.PutUint32(h[28:], p.RxHash)
		le.PutUint32(h[32:], p.VLANTCI)
		le.PutUint16(h[36:], p.VLANTPID)
		copy(h[Mac:], p.Payload)
	}
	return buf
}

func align(x, a int) int {
	return (x + a - 1) &^ (a - 1)
}
