package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd is the base command, grounded on the teacher's akita/cmd's
// root/Execute split.
var rootCmd = &cobra.Command{
	Use:   "quantactl",
	Short: "quantactl runs and inspects quanta simulation benches.",
	Long: `quantactl runs and inspects quanta simulation benches.

"quantactl run" steps a bench to completion or a deadline and prints
what its sinks collected. "quantactl report" renders a static HTML
summary of a finished CSV trace.`,
}

// Execute adds every child command to rootCmd and runs it.
func Execute() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "quantactl: loading .env: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reportCmd)
}
