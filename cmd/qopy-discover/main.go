// Qopy-discover advertises this machine on the local network and lists the
// other qopy devices it finds over mDNS/DNS-SD.
//
// It wraps the discovery service in a handful of commands: a one-shot scan,
// a long-running node with a live watch view, and an HTTP/WebSocket feed
// for tools that want the peer list programmatically.
//
// Usage:
//
//	qopy-discover [command] [flags]
//
// See 'qopy-discover --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qopyapp/p2pcore/internal/logging"
	"github.com/qopyapp/p2pcore/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "qopy-discover",
	Short: "Qopy LAN peer discovery",
	Long: `Advertise this device and discover other qopy devices on the local network.

Discovery uses multicast DNS service discovery (mDNS/DNS-SD). Each running
node registers a "_qopyapp._tcp" service and browses for others; peers that
stop answering are reported as lost after a few missed sweeps.

Settings are read from the config file (see 'qopy-discover config path')
and can be overridden with flags.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return printJSON(cmd, version.Get())
		}
		info := version.Get()
		fmt.Fprintf(cmd.OutOrStdout(), "qopy-discover %s (commit: %s, go%s, %s)\n",
			info.Version, info.Commit, info.GoVersion, info.Platform)
		return nil
	},
}
