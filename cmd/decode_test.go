package cmd

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/afring/internal/ring"
	"firestige.xyz/afring/internal/ring/ringtest"
	"firestige.xyz/afring/pkg/tpacket"
)

func readViews(t *testing.T, out []byte) []blockView {
	t.Helper()
	var views []blockView
	dec := yaml.NewDecoder(bytes.NewReader(out))
	for {
		var v blockView
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return views
		}
		require.NoError(t, err)
		views = append(views, v)
	}
}

func TestDecodeSingleBlock(t *testing.T) {
	raw := ringtest.Block{
		Status: tpacket.StatusUser,
		SeqNum: 12,
		Packets: []ringtest.Packet{
			{Payload: []byte{1, 2, 3}, Sec: 1700000000, Nsec: 5, RxHash: 0xDEADBEEF},
			{Payload: []byte{4}, Sec: 1700000001, Status: tpacket.StatusUser | tpacket.StatusVLANValid, VLANTCI: 100, VLANTPID: 0x8100},
		},
	}.Bytes()

	var out bytes.Buffer
	require.NoError(t, runDecode(raw, decodeOptions{}, &out))

	views := readViews(t, out.Bytes())
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, uint32(tpacket.Version3), v.Version)
	assert.Equal(t, "0x1 (user)", v.BlockStatus)
	assert.Equal(t, uint32(2), v.NumPackets)
	assert.Equal(t, uint64(12), v.SeqNum)
	assert.Equal(t, "2023-11-14T22:13:20.000000005Z", v.FirstPacket)
	assert.Empty(t, v.Error)

	require.Len(t, v.Packets, 2)
	assert.Equal(t, uint32(tpacket.BlockDescriptorLen), v.Packets[0].Offset)
	assert.Equal(t, "0xdeadbeef", v.Packets[0].RxHash)
	assert.Equal(t, uint32(3), v.Packets[0].SnapLen)
	assert.Equal(t, uint16(ringtest.Mac), v.Packets[0].Mac)
	assert.Equal(t, "0x11 (user|vlan_valid)", v.Packets[1].Status)
	assert.Equal(t, uint32(100), v.Packets[1].VLANTCI)
	assert.Equal(t, "0x8100", v.Packets[1].VLANTPID)
	assert.Equal(t, uint32(0), v.Packets[1].NextOffset)
}

func TestDecodePadsRxHash(t *testing.T) {
	raw := ringtest.Block{Status: tpacket.StatusUser, Packets: []ringtest.Packet{
		{Payload: []byte{1}, RxHash: 0xBEEF, VLANTPID: 0x88},
	}}.Bytes()

	var out bytes.Buffer
	require.NoError(t, runDecode(raw, decodeOptions{}, &out))
	views := readViews(t, out.Bytes())
	require.Len(t, views, 1)
	require.Len(t, views[0].Packets, 1)
	assert.Equal(t, "0x0000beef", views[0].Packets[0].RxHash)
	assert.Equal(t, "0x0088", views[0].Packets[0].VLANTPID)
}

func TestDecodeHexInput(t *testing.T) {
	raw := ringtest.Block{Status: tpacket.StatusUser, Packets: []ringtest.Packet{{Payload: []byte{9}}}}.Bytes()
	text := hex.EncodeToString(raw[:100]) + "\n  " + hex.EncodeToString(raw[100:])

	var out bytes.Buffer
	require.NoError(t, runDecode([]byte(text), decodeOptions{Hex: true}, &out))
	views := readViews(t, out.Bytes())
	require.Len(t, views, 1)
	assert.Len(t, views[0].Packets, 1)

	err := runDecode([]byte("zz"), decodeOptions{Hex: true}, io.Discard)
	assert.ErrorContains(t, err, "hex")
}

func TestDecodeRingDump(t *testing.T) {
	const size = 1024
	var dump []byte
	dump = append(dump, ringtest.Block{Status: tpacket.StatusUser, SeqNum: 1, Size: size,
		Packets: []ringtest.Packet{{Payload: []byte{1}}}}.Bytes()...)
	dump = append(dump, ringtest.Block{Status: tpacket.StatusKernel, SeqNum: 2, Size: size}.Bytes()...)
	dump = append(dump, ringtest.Block{Status: tpacket.StatusUser | tpacket.StatusBlkTmo, SeqNum: 3, Size: size,
		Packets: []ringtest.Packet{{Payload: []byte{2}}, {Payload: []byte{3}}}}.Bytes()...)

	var out bytes.Buffer
	require.NoError(t, runDecode(dump, decodeOptions{BlockSize: size}, &out))

	views := readViews(t, out.Bytes())
	require.Len(t, views, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{views[0].Index, views[1].Index, views[2].Index})
	assert.Equal(t, "0x0 (kernel)", views[1].BlockStatus)
	assert.Empty(t, views[1].Packets)
	assert.Equal(t, "0x21 (user|blk_tmo)", views[2].BlockStatus)
	assert.Len(t, views[2].Packets, 2)
}

func TestDecodeHeadersOnly(t *testing.T) {
	raw := ringtest.Block{Status: tpacket.StatusUser, Packets: []ringtest.Packet{{Payload: []byte{1}}}}.Bytes()

	var out bytes.Buffer
	require.NoError(t, runDecode(raw, decodeOptions{Headers: true}, &out))
	views := readViews(t, out.Bytes())
	require.Len(t, views, 1)
	assert.Equal(t, uint32(1), views[0].NumPackets)
	assert.Empty(t, views[0].Packets)
}

func TestDecodeReportsBrokenBlocks(t *testing.T) {
	bad := ringtest.Block{Status: tpacket.StatusUser, Size: 512,
		Packets: []ringtest.Packet{{Payload: []byte{1}}, {Payload: []byte{2}}}}.Bytes()
	binary.LittleEndian.PutUint32(bad[tpacket.BlockDescriptorLen:], 0)

	// a short tail that cannot hold a descriptor
	dump := append(bad, make([]byte, 20)...)

	var out bytes.Buffer
	err := runDecode(dump, decodeOptions{BlockSize: 512}, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ring.ErrMalformedBlock)
	assert.ErrorIs(t, err, tpacket.ErrIncomplete)

	views := readViews(t, out.Bytes())
	require.Len(t, views, 1)
	assert.Len(t, views[0].Packets, 1)
	assert.NotEmpty(t, views[0].Error)
}

func TestDecodeNegativeBlockSize(t *testing.T) {
	assert.Error(t, runDecode(nil, decodeOptions{BlockSize: -1}, io.Discard))
}

func TestDescribeStatus(t *testing.T) {
	tests := []struct {
		status uint32
		want   string
	}{
		{tpacket.StatusKernel, "0x0 (kernel)"},
		{tpacket.StatusUser, "0x1 (user)"},
		{tpacket.StatusUser | tpacket.StatusCopy | tpacket.StatusLosing, "0x7 (user|copy|losing)"},
		{tpacket.StatusCsumValid | tpacket.StatusVLANTPIDValid, "0xc0 (vlan_tpid_valid|csum_valid)"},
		{tpacket.StatusCsumNotReady, "0x8 (csum_not_ready)"},
		{0x100, "0x100 (unknown 0x100)"},
		{tpacket.StatusUser | 0x300, "0x301 (user|unknown 0x300)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, describeStatus(tt.status))
	}
}
