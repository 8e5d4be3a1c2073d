// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RingBlocksTotal counts blocks handed to userspace and walked.
	RingBlocksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afring_ring_blocks_total",
			Help: "Total number of ring blocks consumed",
		},
		[]string{"interface"},
	)

	// RingPacketsTotal counts packets walked out of ring blocks.
	RingPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afring_ring_packets_total",
			Help: "Total number of packets read from the ring",
		},
		[]string{"interface"},
	)

	// RingBytesTotal counts captured (snaplen) bytes.
	RingBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afring_ring_bytes_total",
			Help: "Total number of captured bytes read from the ring",
		},
		[]string{"interface"},
	)

	// RingErrorsTotal counts blocks that could not be walked, by kind.
	RingErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afring_ring_errors_total",
			Help: "Total number of ring block errors",
		},
		[]string{"interface", "kind"},
	)

	// BlockPackets tracks how full blocks are when retired.
	BlockPackets = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "afring_ring_block_packets",
			Help:    "Number of packets per consumed ring block",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1, 2, 4, ..., 2048
		},
		[]string{"interface"},
	)

	// KernelPacketsTotal accumulates tpacket_stats_v3.tp_packets.
	KernelPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afring_kernel_packets_total",
			Help: "Total number of packets seen by the kernel socket",
		},
		[]string{"interface"},
	)

	// KernelDropsTotal accumulates tpacket_stats_v3.tp_drops.
	KernelDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afring_kernel_drops_total",
			Help: "Total number of packets dropped by the kernel socket",
		},
		[]string{"interface"},
	)

	// KernelFreezeQueueTotal accumulates tpacket_stats_v3.tp_freeze_q_cnt.
	KernelFreezeQueueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afring_kernel_freeze_queue_total",
			Help: "Total number of times the ring queue froze",
		},
		[]string{"interface"},
	)
)

// Error kinds for RingErrorsTotal.
const (
	ErrorKindIncomplete = "incomplete"
	ErrorKindMalformed  = "malformed"
	ErrorKindVersion    = "version"
	ErrorKindHandler    = "handler"
)
