// Command simforge validates simulation designs: it drives a specification
// through the convergent validation loop and reports the resulting program
// with an explicit trust signal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "simforge",
	Short: "Convergent validation loop for generated simulation programs",
	Long: `simforge turns a structured simulation specification into a working,
verified program through iterative, feedback-driven refinement.

Each iteration synthesizes a candidate, critiques it before spending
execution resources, runs it in a sandbox, and judges whether the result
faithfully and competently implements the original intent. Candidates
that clear every gate converge; exhausted runs return the best candidate
seen, clearly marked as unconverged.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: $SIMFORGE_CONFIG)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
