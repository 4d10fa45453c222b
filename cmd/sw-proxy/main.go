// Command sw-proxy runs the offline cache worker as an HTTP proxy in front
// of a site and offers one-shot maintenance commands against its storage.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time.
var Version = "dev"

type rootOptions struct {
	manifestPath string
	verbose      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "sw-proxy",
		Short: "Offline cache proxy",
		Long: `sw-proxy intercepts every request for a site, answers it from versioned
cache partitions or the network according to its routing rules, and keeps
the site usable while the origin is unreachable.

Process settings come from SW_* environment variables; resource lists come
from the YAML manifest.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.manifestPath, "manifest", "", "manifest file path (overrides SW_MANIFEST_PATH)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newInstallCmd(opts),
		newSweepCmd(opts),
		newPartitionsCmd(opts),
		newManifestCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of sw-proxy",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sw-proxy %s\n", Version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
