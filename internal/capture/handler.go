package capture

import (
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/afring/internal/log"
	"firestige.xyz/afring/internal/ring"
)

// PcapWriter writes frames to a nanosecond pcap stream.
type PcapWriter struct {
	w *pcapgo.Writer
}

// NewPcapWriter writes the pcap file header and returns the handler.
func NewPcapWriter(w io.Writer, snapLen uint32) (*PcapWriter, error) {
	pw := pcapgo.NewWriterNanos(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &PcapWriter{w: pw}, nil
}

func (p *PcapWriter) HandlePacket(pkt ring.Packet, ci gopacket.CaptureInfo) error {
	return p.w.WritePacket(ci, pkt.Data)
}

// Summary logs the ring metadata of every packet at debug level.
type Summary struct {
	logger log.Logger
}

func NewSummary(logger log.Logger) *Summary {
	return &Summary{logger: logger}
}

func (s *Summary) HandlePacket(pkt ring.Packet, ci gopacket.CaptureInfo) error {
	if !s.logger.IsDebugEnabled() {
		return nil
	}
	h := pkt.Header
	s.logger.WithFields(map[string]interface{}{
		"ts":       ci.Timestamp,
		"snaplen":  h.SnapLen,
		"len":      h.Len,
		"status":   fmt.Sprintf("%#x", h.Status),
		"rxhash":   fmt.Sprintf("0x%08x", h.Variant1.RxHash),
		"vlan_tci": h.Variant1.VLANTCI,
		"mac":      h.Mac,
		"net":      h.Net,
	}).Debugf("packet")
	return nil
}
