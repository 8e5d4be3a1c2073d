// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "afring",
	Short: "afring - TPACKET_V3 ring capture and block inspection",
	Long: `afring captures traffic through a memory-mapped AF_PACKET TPACKET_V3 ring
and decodes the ring's block and packet headers.

Commands:
  - capture:  map a ring on an interface and drain it (pcap output, metrics)
  - decode:   decode raw ring block dumps
  - validate: check a configuration file and show the resolved ring geometry`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (empty = defaults and AFRING_* environment)")

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(validateCmd)
}
