package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/afring/internal/ring"
	"firestige.xyz/afring/pkg/tpacket"
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode TPACKET_V3 block dumps",
	Long: `Decode raw ring blocks and print their descriptors and packet headers
as YAML documents, one per block.

The input is either raw bytes or hex text (--hex). With --block-size the
input is split into consecutive blocks, which decodes a dump of a whole
mapped ring; otherwise the input is a single block.

Examples:
  afring decode -f block.bin
  afring decode -f ring.bin --block-size 32768
  xxd -p block.bin | afring decode --hex`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if decodeFile == "" || decodeFile == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(decodeFile)
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		return runDecode(data, decodeOptions{
			Hex:       decodeHex,
			BlockSize: decodeBlockSize,
			Headers:   decodeHeadersOnly,
		}, cmd.OutOrStdout())
	},
}

var (
	decodeFile        string
	decodeHex         bool
	decodeBlockSize   int
	decodeHeadersOnly bool
)

func init() {
	decodeCmd.Flags().StringVarP(&decodeFile, "file", "f", "-", "input file (- = stdin)")
	decodeCmd.Flags().BoolVar(&decodeHex, "hex", false, "input is hex text")
	decodeCmd.Flags().IntVar(&decodeBlockSize, "block-size", 0, "split input into blocks of this size (0 = one block)")
	decodeCmd.Flags().BoolVar(&decodeHeadersOnly, "headers-only", false, "print block descriptors without walking packets")
}

type decodeOptions struct {
	Hex       bool
	BlockSize int
	Headers   bool // descriptors only
}

type blockView struct {
	Index            int          `yaml:"index"`
	Version          uint32       `yaml:"version"`
	OffsetToPriv     uint32       `yaml:"offset_to_priv"`
	BlockStatus      string       `yaml:"block_status"`
	NumPackets       uint32       `yaml:"num_pkts"`
	OffsetToFirstPkt uint32       `yaml:"offset_to_first_pkt"`
	BlockLen         uint32       `yaml:"blk_len"`
	SeqNum           uint64       `yaml:"seq_num"`
	FirstPacket      string       `yaml:"ts_first_pkt"`
	LastPacket       string       `yaml:"ts_last_pkt"`
	Packets          []packetView `yaml:"packets,omitempty"`
	Error            string       `yaml:"error,omitempty"`
}

type packetView struct {
	Offset     uint32 `yaml:"offset"`
	NextOffset uint32 `yaml:"next_offset"`
	Timestamp  string `yaml:"ts"`
	SnapLen    uint32 `yaml:"snaplen"`
	Len        uint32 `yaml:"len"`
	Status     string `yaml:"status"`
	Mac        uint16 `yaml:"mac"`
	Net        uint16 `yaml:"net"`
	RxHash     string `yaml:"rxhash"`
	VLANTCI    uint32 `yaml:"vlan_tci"`
	VLANTPID   string `yaml:"vlan_tpid"`
}

func runDecode(data []byte, opts decodeOptions, w io.Writer) error {
	if opts.Hex {
		var err error
		data, err = hex.DecodeString(strings.Join(strings.Fields(string(data)), ""))
		if err != nil {
			return fmt.Errorf("failed to decode hex input: %w", err)
		}
	}
	if opts.BlockSize < 0 {
		return fmt.Errorf("block size must not be negative: %d", opts.BlockSize)
	}

	blocks := [][]byte{data}
	if opts.BlockSize > 0 {
		blocks = blocks[:0]
		for off := 0; off < len(data); off += opts.BlockSize {
			blocks = append(blocks, data[off:min(off+opts.BlockSize, len(data))])
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()

	var errs []error
	for i, raw := range blocks {
		view, err := viewBlock(i, raw, opts.Headers)
		if err != nil {
			errs = append(errs, fmt.Errorf("block %d: %w", i, err))
		}
		if view == nil {
			continue
		}
		if err := enc.Encode(view); err != nil {
			return fmt.Errorf("failed to encode block %d: %w", i, err)
		}
	}
	return errors.Join(errs...)
}

// viewBlock returns a nil view only when the descriptor itself is
// incomplete. Packet walk failures are reported in the view and returned.
func viewBlock(index int, raw []byte, headersOnly bool) (*blockView, error) {
	b, err := ring.ParseBlock(raw)
	if err != nil {
		return nil, err
	}
	b.Index = index

	d := b.Desc
	h := d.Header
	view := &blockView{
		Index:            index,
		Version:          d.Version,
		OffsetToPriv:     d.OffsetToPriv,
		BlockStatus:      describeStatus(h.BlockStatus),
		NumPackets:       h.NumPackets,
		OffsetToFirstPkt: h.OffsetToFirstPkt,
		BlockLen:         h.BlockLen,
		SeqNum:           h.SeqNum,
		FirstPacket:      formatTime(h.FirstPacket.Time()),
		LastPacket:       formatTime(h.LastPacket.Time()),
	}
	if headersOnly || !tpacket.IsUserOwned(h.BlockStatus) {
		return view, nil
	}

	err = b.ForEach(func(pkt ring.Packet) error {
		ph := pkt.Header
		view.Packets = append(view.Packets, packetView{
			Offset:     pkt.Offset,
			NextOffset: ph.NextOffset,
			Timestamp:  formatTime(ph.Time()),
			SnapLen:    ph.SnapLen,
			Len:        ph.Len,
			Status:     describeStatus(ph.Status),
			Mac:        ph.Mac,
			Net:        ph.Net,
			RxHash:     fmt.Sprintf("0x%08x", ph.Variant1.RxHash),
			VLANTCI:    ph.Variant1.VLANTCI,
			VLANTPID:   fmt.Sprintf("0x%04x", ph.Variant1.VLANTPID),
		})
		return nil
	})
	if err != nil {
		view.Error = err.Error()
	}
	return view, err
}

var statusNames = []struct {
	bit  uint32
	name string
}{
	{tpacket.StatusUser, "user"},
	{tpacket.StatusCopy, "copy"},
	{tpacket.StatusLosing, "losing"},
	{tpacket.StatusCsumNotReady, "csum_not_ready"},
	{tpacket.StatusVLANValid, "vlan_valid"},
	{tpacket.StatusBlkTmo, "blk_tmo"},
	{tpacket.StatusVLANTPIDValid, "vlan_tpid_valid"},
	{tpacket.StatusCsumValid, "csum_valid"},
}

// describeStatus renders a status word as hex followed by its flag names.
func describeStatus(s uint32) string {
	if s == tpacket.StatusKernel {
		return "0x0 (kernel)"
	}
	var names []string
	rest := s
	for _, sn := range statusNames {
		if s&sn.bit != 0 {
			names = append(names, sn.name)
			rest &^= sn.bit
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("unknown %#x", rest))
	}
	return fmt.Sprintf("%#x (%s)", s, strings.Join(names, "|"))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
