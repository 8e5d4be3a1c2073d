// Package ring maps a TPACKET_V3 receive ring and walks its blocks.
package ring

import (
	"fmt"

	"github.com/google/gopacket"

	"firestige.xyz/afring/pkg/tpacket"
)

// Block is a view over one ring block. Packet data slices alias the block
// bytes and are only valid until the block is released.
type Block struct {
	Desc  tpacket.BlockDescriptor
	Index int

	data []byte
}

// Packet is one captured frame inside a block.
type Packet struct {
	Header tpacket.PacketHeader
	Offset uint32 // header offset from the block start
	Data   []byte
}

// CaptureInfo converts the packet metadata for gopacket consumers.
func (p Packet) CaptureInfo(ifindex int) gopacket.CaptureInfo {
	ci := gopacket.CaptureInfo{
		Timestamp:      p.Header.Time(),
		CaptureLength:  len(p.Data),
		Length:         int(p.Header.Len),
		InterfaceIndex: ifindex,
	}
	if p.Header.Status&tpacket.StatusVLANValid != 0 {
		ci.AncillaryData = append(ci.AncillaryData, VLAN{
			TCI:  uint16(p.Header.Variant1.VLANTCI),
			TPID: p.Header.Variant1.VLANTPID,
		})
	}
	return ci
}

// VLAN is the out-of-band VLAN tag the kernel strips from the frame.
type VLAN struct {
	TCI  uint16
	TPID uint16
}

// ParseBlock decodes the block descriptor at the start of data.
func ParseBlock(data []byte) (*Block, error) {
	desc, _, err := tpacket.DecodeBlockDescriptor(data)
	if err != nil {
		return nil, err
	}
	return &Block{Desc: desc, data: data}, nil
}

// Bytes returns the raw block.
func (b *Block) Bytes() []byte {
	return b.data
}

// Len returns the number of packets the kernel reported for the block.
func (b *Block) Len() int {
	return int(b.Desc.Header.NumPackets)
}

// ForEach walks the packets of the block in order. Walking stops at the
// first error returned by fn.
func (b *Block) ForEach(fn func(Packet) error) error {
	hdr := b.Desc.Header
	if int(hdr.BlockLen) > len(b.data) {
		return fmt.Errorf("%w: blk_len %d exceeds block size %d", ErrMalformedBlock, hdr.BlockLen, len(b.data))
	}

	off := uint64(hdr.OffsetToFirstPkt)
	for i := uint32(0); i < hdr.NumPackets; i++ {
		pkt, err := b.packetAt(off)
		if err != nil {
			return fmt.Errorf("packet %d/%d: %w", i+1, hdr.NumPackets, err)
		}
		if err := fn(pkt); err != nil {
			return err
		}

		if i+1 == hdr.NumPackets {
			break
		}
		if pkt.Header.NextOffset == 0 {
			return fmt.Errorf("%w: packet %d has no successor, %d expected",
				ErrMalformedBlock, i+1, hdr.NumPackets)
		}
		off += uint64(pkt.Header.NextOffset)
		if off >= uint64(len(b.data)) {
			return fmt.Errorf("%w: packet %d next offset %d leaves block of %d bytes",
				ErrMalformedBlock, i+1, pkt.Header.NextOffset, len(b.data))
		}
	}
	return nil
}

func (b *Block) packetAt(off uint64) (Packet, error) {
	if off >= uint64(len(b.data)) {
		return Packet{}, fmt.Errorf("%w: packet offset %d outside block", ErrMalformedBlock, off)
	}
	h, _, err := tpacket.DecodePacketHeader(b.data[off:])
	if err != nil {
		return Packet{}, fmt.Errorf("%w: %w", ErrMalformedBlock, err)
	}
	start := off + uint64(h.Mac)
	end := start + uint64(h.SnapLen)
	if end > uint64(len(b.data)) {
		return Packet{}, fmt.Errorf("%w: frame [%d,%d) outside block", ErrMalformedBlock, start, end)
	}
	return Packet{
		Header: h,
		Offset: uint32(off),
		Data:   b.data[start:end:end],
	}, nil
}
