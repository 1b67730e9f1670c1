package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌─┐┌─┐┬─┐┬  ┌─┐┬ ┬
  ├─┘├─┤├┬┘│  ├┤ └┬┘
  ┴  ┴ ┴┴└─┴─┘└─┘ ┴
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "parley",
		Short: "A minimal real-time chat relay",
		Long: `Parley is a small TCP chat relay with an optional HTTP gateway.

Clients connect, pick a name, and talk; the relay fans every message
out to everyone else. Features include:

  • Length-prefixed binary framing over plain TCP
  • Recent-history replay for late joiners
  • Optional websocket gateway with /metrics and a JSON account API
  • Optional transcript archiving to S3`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		connectCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// printBanner prints the Parley ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}
