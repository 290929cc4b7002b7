package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrydev/quarry/internal/fusion"
	"github.com/quarrydev/quarry/internal/knowledge"
)

var (
	hybridCorpus     string
	hybridTopK       int
	hybridLocalOnly  bool
	hybridRemoteOnly bool
)

var hybridCmd = &cobra.Command{
	Use:   "hybrid <question>",
	Short: "Answer from the local store and a remote corpus together",
	Long: `Queries the local vector store and a remote corpus concurrently and
synthesizes one combined answer. If one source fails, the answer degrades
to the other with a notice.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHybrid(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	hybridCmd.Flags().StringVar(&hybridCorpus, "corpus", "", "remote corpus to query")
	hybridCmd.Flags().IntVar(&hybridTopK, "top-k", 0, "number of chunks/citations per source (0 = configured default)")
	hybridCmd.Flags().BoolVar(&hybridLocalOnly, "local-only", false, "query only the local store")
	hybridCmd.Flags().BoolVar(&hybridRemoteOnly, "remote-only", false, "query only the remote corpus")
	hybridCmd.MarkFlagsMutuallyExclusive("local-only", "remote-only")
	rootCmd.AddCommand(hybridCmd)
}

func runHybrid(ctx context.Context, question string) error {
	// Remote-only needs neither the database nor an embedder, so a
	// deployment with just a Gemini credential can still answer.
	if hybridRemoteOnly {
		return runHybridRemote(ctx, question)
	}

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	opts := fusion.Options{
		UseLocal:  !hybridRemoteOnly,
		UseRemote: !hybridLocalOnly,
		Corpus:    hybridCorpus,
		TopK:      hybridTopK,
	}

	result, err := a.Fusion.HybridAnswer(ctx, question, opts)
	if err != nil {
		return fmt.Errorf("hybrid answer: %w", err)
	}

	fmt.Println(result.Combined)
	printCitations(result.Citations())

	if result.Degraded() {
		if result.LocalErr != nil {
			fmt.Fprintf(os.Stderr, "warning: local source failed: %v\n", result.LocalErr)
		}
		if result.RemoteErr != nil {
			fmt.Fprintf(os.Stderr, "warning: remote source failed: %v\n", result.RemoteErr)
		}
	}
	return nil
}

func runHybridRemote(ctx context.Context, question string) error {
	if hybridCorpus == "" {
		return fmt.Errorf("%w: --corpus is required with --remote-only", knowledge.ErrConfiguration)
	}

	adapter, err := setupRemote(ctx)
	if err != nil {
		return err
	}

	answer, err := adapter.Query(ctx, question, hybridCorpus, hybridTopK)
	if err != nil {
		return fmt.Errorf("remote answer: %w", err)
	}

	fmt.Println(answer.Text)
	printCitations(answer.Citations)
	return nil
}
