package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/afring/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file and print the resolved ring request.

When buffer_size_mb is set the geometry is derived for this host's page
size, so the output shows what capture would ask the kernel for.

Examples:
  afring validate -c afring.yml
  AFRING_RING_BLOCK_COUNT=64 afring validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, os.Getpagesize(), cmd.OutOrStdout())
	},
}

func runValidate(path string, pageSize int, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	req, err := cfg.Ring.Request(pageSize)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	iface := cfg.Capture.Interface
	if iface == "" {
		iface = "<unset>"
	}
	fmt.Fprintf(w, "VALID: interface %s, %d block(s) of %d bytes, %d frame(s) of %d bytes, %d bytes mapped\n",
		iface, req.BlockCount, req.BlockSize, req.FrameCount, req.FrameSize, req.RingSize())
	fmt.Fprintf(w, "  retire_timeout_ms=%d priv_size=%d feature_req=%#x strict_version=%t\n",
		req.RetireTimeout, req.PrivSize, req.FeatureReq, cfg.Capture.StrictVersion)
	return nil
}
