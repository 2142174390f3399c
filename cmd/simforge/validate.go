package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/simforge/simforge/internal/artifacts"
	"github.com/simforge/simforge/internal/config"
	"github.com/simforge/simforge/internal/converge"
	"github.com/simforge/simforge/internal/oracle"
	"github.com/simforge/simforge/internal/sandbox"
	"github.com/simforge/simforge/internal/types"
)

var validateOutput string

var validateCmd = &cobra.Command{
	Use:   "validate <spec-file>",
	Short: "Run the convergent validation loop on a specification",
	Long: `Validate a simulation specification by iteratively synthesizing,
reviewing, executing and judging candidate programs until one converges
or the iteration budget runs out.

The specification file is YAML:

  intent: Predator-prey population dynamics on a bounded grid
  elements:
    - name: prey
      type: agent_population
      critical: true
      params: {initial: "200"}
    - name: predator
      type: agent_population
      params: {initial: "40"}
  expected_outcomes: Oscillating populations with a stable phase lag.

The exit status is 0 whenever the loop completes, converged or not; the
trust signal is printed, and callers must branch on it rather than on the
exit code. Only an unusable oracle transport fails the command.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		spec, err := loadSpecification(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		gateway, err := oracle.NewClient(&oracle.Config{
			Model: cfg.Oracle.Model,
			Retry: cfg.OracleOptions().Retry,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		store, err := artifacts.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		runner := sandbox.NewRunner(cfg.Executor.Interpreter, cfg.Executor.ScratchRoot)
		controller, err := converge.NewController(gateway, runner, store, cfg.ConvergeOptions())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// Ctrl+C abandons the in-flight call and returns the best
		// candidate so far, unconverged
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := controller.Validate(ctx, spec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		printResult(result)

		if validateOutput != "" && result.FinalArtifact != nil {
			if err := os.WriteFile(validateOutput, []byte(result.FinalArtifact.Source), 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to write %s: %v\n", validateOutput, err)
				os.Exit(1)
			}
			fmt.Printf("Wrote final program to %s\n", validateOutput)
		}
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateOutput, "output", "o", "", "write the final program to this file")
	rootCmd.AddCommand(validateCmd)
}

// loadSpecification parses and validates a YAML specification file
func loadSpecification(path string) (*types.Specification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading specification: %w", err)
	}
	var spec types.Specification
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing specification: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid specification: %w", err)
	}
	return &spec, nil
}

// printResult renders the iteration history and the trust signal. An
// unconverged artifact is never presented with the confidence of a
// converged one.
func printResult(result *converge.Result) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	for _, s := range result.History {
		line := fmt.Sprintf("iteration %d: %s", s.Iteration, s.Outcome)
		if s.FinalRating > 0 || s.Outcome == "accepted" {
			line += fmt.Sprintf(" (alignment %d/10, quality %d/10)", s.AlignmentScore, s.FinalRating)
		}
		fmt.Println(line)
	}

	fmt.Println()
	switch {
	case result.Converged:
		fmt.Printf("%s converged in %d iteration(s) (%v)\n",
			green("✓"), result.IterationsUsed, result.ElapsedTime.Round(time.Second))
	case result.FinalArtifact != nil:
		fmt.Printf("%s NOT converged (%s after %d iteration(s)): returning best-effort candidate, verify before use\n",
			yellow("⚠"), result.Reason, result.IterationsUsed)
	default:
		fmt.Printf("%s no candidate produced (%s)\n", red("✗"), result.Reason)
	}
}
