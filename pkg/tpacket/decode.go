package tpacket

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Timestamp mirrors struct tpacket_bd_ts.
type Timestamp struct {
	Sec  uint32
	Nsec uint32
}

// Time converts the timestamp to a time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(int64(ts.Sec), int64(ts.Nsec))
}

// PacketVariant1 mirrors struct tpacket_hdr_variant1.
type PacketVariant1 struct {
	RxHash   uint32 // tp_rxhash
	VLANTCI  uint32 // tp_vlan_tci
	VLANTPID uint16 // tp_vlan_tpid
	Padding  uint16 // tp_padding, reserved
}

// PacketHeader mirrors struct tpacket3_hdr up to and including hv1.
type PacketHeader struct {
	NextOffset uint32 // tp_next_offset, 0 for the last packet of a block
	Sec        uint32 // tp_sec
	Nsec       uint32 // tp_nsec
	SnapLen    uint32 // tp_snaplen
	Len        uint32 // tp_len
	Status     uint32 // tp_status
	Mac        uint16 // tp_mac, offset of the frame from the header start
	Net        uint16 // tp_net, offset of the network header from the header start
	Variant1   PacketVariant1
}

// Time returns the capture timestamp.
func (h PacketHeader) Time() time.Time {
	return time.Unix(int64(h.Sec), int64(h.Nsec))
}

// BlockHeader mirrors struct tpacket_hdr_v1.
type BlockHeader struct {
	BlockStatus      uint32 // block_status
	NumPackets       uint32 // num_pkts
	OffsetToFirstPkt uint32 // offset_to_first_pkt
	BlockLen         uint32 // blk_len
	SeqNum           uint64 // seq_num
	FirstPacket      Timestamp
	LastPacket       Timestamp
}

// BlockDescriptor mirrors struct tpacket_block_desc.
type BlockDescriptor struct {
	Version      uint32
	OffsetToPriv uint32
	Header       BlockHeader
}

// CheckVersion reports ErrUnsupportedVersion unless the descriptor carries
// the TPACKET_V3 tag. Decoding itself accepts any version.
func (d BlockDescriptor) CheckVersion() error {
	if d.Version != Version3 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, d.Version)
	}
	return nil
}

// DecodeTimestamp consumes a tpacket_bd_ts.
func DecodeTimestamp(b []byte) (Timestamp, []byte, error) {
	if len(b) < TimestampLen {
		return Timestamp{}, b, incomplete("tpacket_bd_ts", TimestampLen, len(b))
	}
	ts := Timestamp{
		Sec:  binary.LittleEndian.Uint32(b[0:4]),
		Nsec: binary.LittleEndian.Uint32(b[4:8]),
	}
	return ts, b[TimestampLen:], nil
}

// DecodePacketVariant1 consumes a tpacket_hdr_variant1.
func DecodePacketVariant1(b []byte) (PacketVariant1, []byte, error) {
	if len(b) < PacketVariant1Len {
		return PacketVariant1{}, b, incomplete("tpacket_hdr_variant1", PacketVariant1Len, len(b))
	}
	hv1 := PacketVariant1{
		RxHash:   binary.LittleEndian.Uint32(b[0:4]),
		VLANTCI:  binary.LittleEndian.Uint32(b[4:8]),
		VLANTPID: binary.LittleEndian.Uint16(b[8:10]),
		Padding:  binary.LittleEndian.Uint16(b[10:12]),
	}
	return hv1, b[PacketVariant1Len:], nil
}

// DecodePacketHeader consumes the fixed part of a tpacket3_hdr followed by
// its variant 1 region. The kernel's trailing tp_padding is left in the
// returned remainder.
func DecodePacketHeader(b []byte) (PacketHeader, []byte, error) {
	if len(b) < PacketHeaderLen {
		return PacketHeader{}, b, incomplete("tpacket3_hdr", PacketHeaderLen, len(b))
	}
	h := PacketHeader{
		NextOffset: binary.LittleEndian.Uint32(b[0:4]),
		Sec:        binary.LittleEndian.Uint32(b[4:8]),
		Nsec:       binary.LittleEndian.Uint32(b[8:12]),
		SnapLen:    binary.LittleEndian.Uint32(b[12:16]),
		Len:        binary.LittleEndian.Uint32(b[16:20]),
		Status:     binary.LittleEndian.Uint32(b[20:24]),
		Mac:        binary.LittleEndian.Uint16(b[24:26]),
		Net:        binary.LittleEndian.Uint16(b[26:28]),
	}
	hv1, rest, err := DecodePacketVariant1(b[packetFixedLen:])
	if err != nil {
		return PacketHeader{}, b, err
	}
	h.Variant1 = hv1
	return h, rest, nil
}

// DecodeBlockHeader consumes a tpacket_hdr_v1. No field is checked for
// plausibility.
func DecodeBlockHeader(b []byte) (BlockHeader, []byte, error) {
	if len(b) < BlockHeaderLen {
		return BlockHeader{}, b, incomplete("tpacket_hdr_v1", BlockHeaderLen, len(b))
	}
	h := BlockHeader{
		BlockStatus:      binary.LittleEndian.Uint32(b[0:4]),
		NumPackets:       binary.LittleEndian.Uint32(b[4:8]),
		OffsetToFirstPkt: binary.LittleEndian.Uint32(b[8:12]),
		BlockLen:         binary.LittleEndian.Uint32(b[12:16]),
		SeqNum:           binary.LittleEndian.Uint64(b[16:24]),
	}
	rest := b[24:]
	var err error
	if h.FirstPacket, rest, err = DecodeTimestamp(rest); err != nil {
		return BlockHeader{}, b, err
	}
	if h.LastPacket, rest, err = DecodeTimestamp(rest); err != nil {
		return BlockHeader{}, b, err
	}
	return h, rest, nil
}

// DecodeBlockDescriptor consumes a tpacket_block_desc. It is the entry point
// for one ring block.
func DecodeBlockDescriptor(b []byte) (BlockDescriptor, []byte, error) {
	if len(b) < BlockDescriptorLen {
		return BlockDescriptor{}, b, incomplete("tpacket_block_desc", BlockDescriptorLen, len(b))
	}
	d := BlockDescriptor{
		Version:      binary.LittleEndian.Uint32(b[0:4]),
		OffsetToPriv: binary.LittleEndian.Uint32(b[4:8]),
	}
	hdr, rest, err := DecodeBlockHeader(b[8:])
	if err != nil {
		return BlockDescriptor{}, b, err
	}
	d.Header = hdr
	return d, rest, nil
}

// BlockStatus reads block_status at BlockStatusOffset without decoding the
// rest of the block.
func BlockStatus(block []byte) (uint32, error) {
	if len(block) < BlockStatusOffset+4 {
		return 0, incomplete("block_status", BlockStatusOffset+4, len(block))
	}
	return binary.LittleEndian.Uint32(block[BlockStatusOffset:]), nil
}
