//go:build linux

package ring

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"firestige.xyz/afring/pkg/tpacket"
)

// Ring is a mapped TPACKET_V3 receive ring bound to one interface.
// NextBlock and Release must be called from a single goroutine, and Close
// only after the last NextBlock returned.
type Ring struct {
	fd      int
	ifindex int
	opts    Options
	mem     []byte
	next    int
	closed  atomic.Bool
}

// Open creates the socket, requests and maps the ring, and binds it to
// opts.Interface.
func Open(opts Options) (*Ring, error) {
	if err := opts.Request.Validate(); err != nil {
		return nil, err
	}
	link, err := netlink.LinkByName(opts.Interface)
	if err != nil {
		return nil, fmt.Errorf("failed to look up interface %s: %w", opts.Interface, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create AF_PACKET socket: %w", err)
	}
	r := &Ring{
		fd:      fd,
		ifindex: link.Attrs().Index,
		opts:    opts,
	}
	if err := r.setup(); err != nil {
		r.release()
		return nil, err
	}
	return r, nil
}

func (r *Ring) setup() error {
	if err := unix.SetsockoptInt(r.fd, unix.SOL_PACKET, unix.PACKET_VERSION, unix.TPACKET_V3); err != nil {
		return fmt.Errorf("failed to set TPACKET_V3: %w", err)
	}

	req := r.opts.Request
	tp := unix.TpacketReq3{
		Block_size:       req.BlockSize,
		Block_nr:         req.BlockCount,
		Frame_size:       req.FrameSize,
		Frame_nr:         req.FrameCount,
		Retire_blk_tov:   req.RetireTimeout,
		Sizeof_priv:      req.PrivSize,
		Feature_req_word: req.FeatureReq,
	}
	if err := unix.SetsockoptTpacketReq3(r.fd, unix.SOL_PACKET, unix.PACKET_RX_RING, &tp); err != nil {
		return fmt.Errorf("failed to request rx ring %+v: %w", req, err)
	}

	if len(r.opts.Filter) > 0 {
		prog := make([]unix.SockFilter, len(r.opts.Filter))
		for i, ins := range r.opts.Filter {
			prog[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
		}
		fprog := unix.SockFprog{Len: uint16(len(prog)), Filter: &prog[0]}
		if err := unix.SetsockoptSockFprog(r.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog); err != nil {
			return fmt.Errorf("failed to attach BPF filter: %w", err)
		}
	}

	mem, err := unix.Mmap(r.fd, 0, req.RingSize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("failed to mmap ring of %d bytes: %w", req.RingSize(), err)
	}
	r.mem = mem

	sll := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  r.ifindex,
	}
	if err := unix.Bind(r.fd, sll); err != nil {
		return fmt.Errorf("failed to bind to %s: %w", r.opts.Interface, err)
	}

	if r.opts.FanoutID > 0 {
		arg := int(r.opts.FanoutID) | (unix.PACKET_FANOUT_HASH|unix.PACKET_FANOUT_FLAG_DEFRAG)<<16
		if err := unix.SetsockoptInt(r.fd, unix.SOL_PACKET, unix.PACKET_FANOUT, arg); err != nil {
			return fmt.Errorf("failed to join fanout group %d: %w", r.opts.FanoutID, err)
		}
	}
	return nil
}

// Ifindex returns the bound interface index.
func (r *Ring) Ifindex() int {
	return r.ifindex
}

// NextBlock blocks until the next block in ring order is owned by userspace
// or ctx is done. A done ctx wins over a ready block.
func (r *Ring) NextBlock(ctx context.Context) (*Block, error) {
	if r.closed.Load() {
		return nil, ErrRingClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := r.block(r.next)
	timeout := int(r.opts.pollTimeout().Milliseconds())
	for !tpacket.IsUserOwned(loadStatus(data)) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pfd := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN | unix.POLLERR}}
		if _, err := unix.Poll(pfd, timeout); err != nil && !errors.Is(err, unix.EINTR) {
			return nil, fmt.Errorf("failed to poll ring: %w", err)
		}
	}

	b, err := ParseBlock(data)
	if err != nil {
		return nil, err
	}
	b.Index = r.next
	r.next = (r.next + 1) % int(r.opts.Request.BlockCount)

	if r.opts.StrictVersion {
		if err := b.Desc.CheckVersion(); err != nil {
			r.Release(b)
			return nil, err
		}
	}
	return b, nil
}

// Release hands the block back to the kernel. Packet data from the block
// must not be used afterwards.
func (r *Ring) Release(b *Block) {
	storeStatus(b.data, tpacket.StatusKernel)
}

// Stats reads and resets the kernel counters for the socket.
func (r *Ring) Stats() (tpacket.RingStats, error) {
	st, err := unix.GetsockoptTpacketStatsV3(r.fd, unix.SOL_PACKET, unix.PACKET_STATISTICS)
	if err != nil {
		return tpacket.RingStats{}, fmt.Errorf("failed to read ring statistics: %w", err)
	}
	return tpacket.RingStats{
		Packets:     st.Packets,
		Drops:       st.Drops,
		FreezeQueue: st.Freeze_q_cnt,
	}, nil
}

// Close unmaps the ring and closes the socket.
func (r *Ring) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.release()
}

func (r *Ring) release() error {
	var errs []error
	if r.mem != nil {
		errs = append(errs, unix.Munmap(r.mem))
		r.mem = nil
	}
	errs = append(errs, unix.Close(r.fd))
	return errors.Join(errs...)
}

func (r *Ring) block(i int) []byte {
	size := int(r.opts.Request.BlockSize)
	return r.mem[i*size : (i+1)*size : (i+1)*size]
}

func loadStatus(block []byte) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&block[tpacket.BlockStatusOffset])))
}

func storeStatus(block []byte, status uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&block[tpacket.BlockStatusOffset])), status)
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
