package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mobilesync/replicore/internal/conflict"
	"github.com/mobilesync/replicore/internal/revtree"
	"github.com/mobilesync/replicore/internal/store/sqlite"
)

var (
	resolveStorePath string
	resolveStrategy  string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve conflicted documents in a SQLite revision store",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		store, err := sqlite.Open(resolveStorePath)
		if err != nil {
			return fmt.Errorf("replicatectl: opening store: %w", err)
		}
		defer func() { _ = store.Close() }()

		resolver, err := resolverForStrategy(resolveStrategy)
		if err != nil {
			return err
		}

		engine := conflict.New(store)
		resolved, failed, err := engine.ResolveAll(ctx, resolver)
		if err != nil {
			return fmt.Errorf("replicatectl: resolve: %w", err)
		}

		fmt.Printf("resolved %d document(s)\n", len(resolved))
		for doc, ferr := range failed {
			fmt.Printf("  %s: %v\n", doc, ferr)
		}
		return nil
	},
}

// resolverForStrategy is the CLI's only policy decision: which built-in
// resolver to hand the conflict engine. It carries no replication
// semantics beyond this selection.
func resolverForStrategy(name string) (conflict.Resolver, error) {
	switch name {
	case "biggest-generation", "":
		return conflict.ResolverFunc(biggestGenerationResolver), nil
	default:
		return nil, fmt.Errorf("replicatectl: unknown resolve strategy %q", name)
	}
}

func biggestGenerationResolver(_ revtree.DocID, conflicts []revtree.RevisionView) (*revtree.RevisionView, error) {
	best := conflicts[0]
	for _, c := range conflicts[1:] {
		bg, _ := best.RevID.Generation()
		cg, _ := c.RevID.Generation()
		if cg > bg {
			best = c
		}
	}
	return &best, nil
}

func init() {
	resolveCmd.Flags().StringVar(&resolveStorePath, "store", "", "path to the SQLite revision store")
	resolveCmd.Flags().StringVar(&resolveStrategy, "strategy", "biggest-generation", "conflict resolution strategy")
	_ = resolveCmd.MarkFlagRequired("store")
	rootCmd.AddCommand(resolveCmd)
}
