package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/simforge/simforge/internal/artifacts"
	"github.com/simforge/simforge/internal/config"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect stored exemplar artifacts",
}

var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored artifacts, most recent first",
	Run: func(cmd *cobra.Command, args []string) {
		withStore(func(store artifacts.Store) error {
			all, err := store.List(context.Background())
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Println("No artifacts stored.")
				return nil
			}
			bold := color.New(color.Bold).SprintFunc()
			for _, a := range all {
				fmt.Printf("%s  rating %d/10  %s\n  %s\n",
					bold(shortFingerprint(a.Fingerprint)), a.FinalRating,
					a.StoredAt.Format("2006-01-02 15:04"), a.SpecSummary)
			}
			return nil
		})
	},
}

var artifactsShowCmd = &cobra.Command{
	Use:   "show <fingerprint>",
	Short: "Print the stored program for a specification fingerprint",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withStore(func(store artifacts.Store) error {
			a, err := findArtifact(context.Background(), store, args[0])
			if err != nil {
				return err
			}
			fmt.Print(a.Source)
			return nil
		})
	},
}

// shortFingerprint abbreviates a fingerprint for listing. List shows the
// prefix only, so show has to accept it back.
func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// findArtifact resolves a full fingerprint or a unique prefix of one.
func findArtifact(ctx context.Context, store artifacts.Store, key string) (*artifacts.Artifact, error) {
	a, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if a != nil {
		return a, nil
	}

	all, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	var match *artifacts.Artifact
	for _, cand := range all {
		if strings.HasPrefix(cand.Fingerprint, key) {
			if match != nil {
				return nil, fmt.Errorf("fingerprint prefix %q is ambiguous", key)
			}
			match = cand
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no artifact stored for fingerprint %s", key)
	}
	return match, nil
}

func withStore(fn func(artifacts.Store) error) {
	cfg, err := config.Load(configPath)
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

	if err := fn(store); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	artifactsCmd.AddCommand(artifactsListCmd)
	artifactsCmd.AddCommand(artifactsShowCmd)
	rootCmd.AddCommand(artifactsCmd)
}
