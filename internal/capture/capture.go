// Package capture drains ring blocks and dispatches their packets to
// handlers.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/afring/internal/log"
	"firestige.xyz/afring/internal/metrics"
	"firestige.xyz/afring/internal/ring"
	"firestige.xyz/afring/pkg/tpacket"
)

// BlockSource yields ring blocks in ring order. *ring.Ring implements it.
type BlockSource interface {
	NextBlock(ctx context.Context) (*ring.Block, error)
	Release(b *ring.Block)
	Stats() (tpacket.RingStats, error)
	Ifindex() int
}

// Handler consumes one packet. Packet data is only valid during the call.
type Handler interface {
	HandlePacket(pkt ring.Packet, ci gopacket.CaptureInfo) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(pkt ring.Packet, ci gopacket.CaptureInfo) error

func (f HandlerFunc) HandlePacket(pkt ring.Packet, ci gopacket.CaptureInfo) error {
	return f(pkt, ci)
}

// Options configures a Capturer.
type Options struct {
	Interface     string
	StatsInterval time.Duration
	MaxPackets    int // 0 = unlimited
}

// Capturer reads blocks until the context is done or MaxPackets packets
// have been handled.
type Capturer struct {
	src      BlockSource
	handlers []Handler
	opts     Options
	logger   log.Logger
	packets  int
}

var errLimitReached = errors.New("packet limit reached")

type handlerError struct {
	err error
}

func (e *handlerError) Error() string { return "handler: " + e.err.Error() }
func (e *handlerError) Unwrap() error { return e.err }

// New creates a Capturer.
func New(src BlockSource, opts Options, handlers ...Handler) *Capturer {
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = 5 * time.Second
	}
	return &Capturer{
		src:      src,
		handlers: handlers,
		opts:     opts,
		logger:   log.GetLogger().WithField("interface", opts.Interface),
	}
}

// Packets returns how many packets were handled.
func (c *Capturer) Packets() int {
	return c.packets
}

// Run drains the source. It returns nil on cancellation or when the packet
// limit is reached.
func (c *Capturer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return c.readLoop(gctx)
	})
	g.Go(func() error {
		c.statsLoop(gctx)
		return nil
	})
	err := g.Wait()
	c.collectStats()
	return err
}

func (c *Capturer) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		blk, err := c.src.NextBlock(ctx)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil
			case errors.Is(err, tpacket.ErrUnsupportedVersion):
				metrics.RingErrorsTotal.WithLabelValues(c.opts.Interface, metrics.ErrorKindVersion).Inc()
				c.logger.WithError(err).Warnf("skipping block")
				continue
			}
			return fmt.Errorf("failed to read next block: %w", err)
		}

		done, err := c.consume(blk)
		c.src.Release(blk)
		if err != nil || done {
			return err
		}
	}
}

func (c *Capturer) consume(blk *ring.Block) (bool, error) {
	var (
		n     int
		bytes int
	)
	ifindex := c.src.Ifindex()
	err := blk.ForEach(func(pkt ring.Packet) error {
		ci := pkt.CaptureInfo(ifindex)
		for _, h := range c.handlers {
			if err := h.HandlePacket(pkt, ci); err != nil {
				return &handlerError{err: err}
			}
		}
		n++
		bytes += len(pkt.Data)
		c.packets++
		if c.opts.MaxPackets > 0 && c.packets >= c.opts.MaxPackets {
			return errLimitReached
		}
		return nil
	})

	iface := c.opts.Interface
	metrics.RingBlocksTotal.WithLabelValues(iface).Inc()
	metrics.RingPacketsTotal.WithLabelValues(iface).Add(float64(n))
	metrics.RingBytesTotal.WithLabelValues(iface).Add(float64(bytes))
	metrics.BlockPackets.WithLabelValues(iface).Observe(float64(blk.Len()))

	if c.logger.IsDebugEnabled() {
		hdr := blk.Desc.Header
		c.logger.WithFields(map[string]interface{}{
			"block":   blk.Index,
			"seq":     hdr.SeqNum,
			"packets": hdr.NumPackets,
			"blk_len": hdr.BlockLen,
			"status":  fmt.Sprintf("%#x", hdr.BlockStatus),
		}).Debugf("block consumed")
	}

	var herr *handlerError
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, errLimitReached):
		return true, nil
	case errors.As(err, &herr):
		metrics.RingErrorsTotal.WithLabelValues(iface, metrics.ErrorKindHandler).Inc()
		return false, herr.err
	case errors.Is(err, tpacket.ErrIncomplete):
		metrics.RingErrorsTotal.WithLabelValues(iface, metrics.ErrorKindIncomplete).Inc()
	default:
		metrics.RingErrorsTotal.WithLabelValues(iface, metrics.ErrorKindMalformed).Inc()
	}
	c.logger.WithError(err).WithField("block", blk.Index).Warnf("dropping rest of block")
	return false, nil
}

func (c *Capturer) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collectStats()
		}
	}
}

// collectStats folds the kernel counters into metrics. The kernel resets
// them on every read.
func (c *Capturer) collectStats() {
	st, err := c.src.Stats()
	if err != nil {
		c.logger.WithError(err).Warnf("failed to read ring statistics")
		return
	}
	iface := c.opts.Interface
	metrics.KernelPacketsTotal.WithLabelValues(iface).Add(float64(st.Packets))
	metrics.KernelDropsTotal.WithLabelValues(iface).Add(float64(st.Drops))
	metrics.KernelFreezeQueueTotal.WithLabelValues(iface).Add(float64(st.FreezeQueue))

	if st.Drops > 0 {
		c.logger.WithFields(map[string]interface{}{
			"packets": st.Packets,
			"drops":   st.Drops,
			"freezes": st.FreezeQueue,
		}).Warnf("kernel dropped packets")
	}
}
