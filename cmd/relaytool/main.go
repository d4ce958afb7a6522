// relaytool exercises a running relay from the command line: send synthetic
// tracker traffic at the UDP ingest side, or push a CoT event straight at a
// TAK server to verify connectivity independent of the relay.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relaytool",
		Short: "Test utilities for the GPGGA to CoT relay",
	}

	rootCmd.AddCommand(sendGPGGACmd())
	rootCmd.AddCommand(sendCoTCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
