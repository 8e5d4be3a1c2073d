package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/afring/internal/capture"
	"firestige.xyz/afring/internal/config"
	"firestige.xyz/afring/internal/log"
	"firestige.xyz/afring/internal/metrics"
	"firestige.xyz/afring/internal/ring"
	"firestige.xyz/afring/internal/utils"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture packets through a TPACKET_V3 ring",
	Long: `Map a TPACKET_V3 receive ring on an interface and drain it until
interrupted or until the packet limit is reached.

Flags override the corresponding configuration keys.

Examples:
  afring capture -i eth0
  afring capture -i eth0 -w out.pcap -n 1000
  afring capture -c afring.yml -f "udp port 5060"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture(cmd.Context(), cmd)
	},
}

var (
	captureIface  string
	capturePcap   string
	captureCount  int
	captureFilter string
)

func init() {
	captureCmd.Flags().StringVarP(&captureIface, "interface", "i", "", "interface to capture on")
	captureCmd.Flags().StringVarP(&capturePcap, "write", "w", "", "write frames to a pcap file")
	captureCmd.Flags().IntVarP(&captureCount, "count", "n", 0, "stop after this many packets (0 = unlimited)")
	captureCmd.Flags().StringVarP(&captureFilter, "filter", "f", "", "BPF filter expression")
}

// applyCaptureFlags folds explicitly set flags into cfg.
func applyCaptureFlags(cmd *cobra.Command, cfg *config.GlobalConfig) error {
	flags := cmd.Flags()
	if flags.Changed("interface") {
		cfg.Capture.Interface = captureIface
	}
	if flags.Changed("write") {
		cfg.Output.PcapFile = capturePcap
	}
	if flags.Changed("count") {
		if captureCount < 0 {
			return fmt.Errorf("%w: --count must not be negative", config.ErrConfigInvalid)
		}
		cfg.Capture.MaxPackets = captureCount
	}
	if flags.Changed("filter") {
		cfg.Capture.BPFFilter = captureFilter
	}
	if cfg.Capture.Interface == "" {
		return fmt.Errorf("%w: capture interface is required (-i or capture.interface)", config.ErrConfigInvalid)
	}
	return nil
}

func runCapture(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := applyCaptureFlags(cmd, cfg); err != nil {
		return err
	}
	if err := log.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	logger := log.GetLogger().WithField("interface", cfg.Capture.Interface)

	req, err := cfg.Ring.Request(os.Getpagesize())
	if err != nil {
		return err
	}
	filter, err := utils.CompileBpf(cfg.Capture.BPFFilter, cfg.Ring.SnapLen)
	if err != nil {
		return err
	}
	pollTimeout, err := cfg.Capture.PollTimeoutDuration()
	if err != nil {
		return err
	}
	statsInterval, err := cfg.Capture.StatsIntervalDuration()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Stop(context.Background())
	}

	r, err := ring.Open(ring.Options{
		Interface:     cfg.Capture.Interface,
		Request:       req,
		PollTimeout:   pollTimeout,
		Filter:        filter,
		FanoutID:      cfg.Capture.FanoutID,
		StrictVersion: cfg.Capture.StrictVersion,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	var handlers []capture.Handler
	if cfg.Output.PcapFile != "" {
		f, err := os.Create(cfg.Output.PcapFile)
		if err != nil {
			return fmt.Errorf("failed to create pcap file: %w", err)
		}
		bw := bufio.NewWriter(f)
		defer func() {
			if err := errors.Join(bw.Flush(), f.Close()); err != nil {
				logger.WithError(err).Errorf("failed to close pcap file")
			}
		}()
		pw, err := capture.NewPcapWriter(bw, uint32(cfg.Ring.SnapLen))
		if err != nil {
			return err
		}
		handlers = append(handlers, pw)
	}
	if cfg.Output.Summary {
		handlers = append(handlers, capture.NewSummary(logger))
	}

	logger.WithFields(map[string]interface{}{
		"block_size":  req.BlockSize,
		"block_count": req.BlockCount,
		"frame_size":  req.FrameSize,
		"ring_bytes":  req.RingSize(),
		"filter":      cfg.Capture.BPFFilter,
	}).Infof("ring mapped")

	c := capture.New(r, capture.Options{
		Interface:     cfg.Capture.Interface,
		StatsInterval: statsInterval,
		MaxPackets:    cfg.Capture.MaxPackets,
	}, handlers...)
	err = c.Run(ctx)
	logger.WithField("packets", c.Packets()).Infof("capture stopped")
	return err
}
