package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrydev/quarry/internal/knowledge"
	"github.com/quarrydev/quarry/internal/retriever"
)

var (
	queryTopK         int
	queryDoc          string
	queryRetrieveOnly bool
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question grounded in the local knowledge store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "number of chunks to retrieve (0 = configured default)")
	queryCmd.Flags().StringVar(&queryDoc, "doc", "", "restrict retrieval to a single document ID")
	queryCmd.Flags().BoolVar(&queryRetrieveOnly, "retrieve-only", false, "show retrieved chunks without generating an answer")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(ctx context.Context, question string) error {
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var opts []retriever.Option
	if queryTopK > 0 {
		opts = append(opts, retriever.WithTopK(queryTopK))
	}
	if queryDoc != "" {
		opts = append(opts, retriever.WithDocument(queryDoc))
	}

	if queryRetrieveOnly {
		return runRetrieveOnly(ctx, a.Retriever, question, opts)
	}

	answer, err := a.Answerer.Answer(ctx, question, opts...)
	if err != nil {
		if answer != nil && answer.SourcesOnly {
			fmt.Println("Answer generation failed; the most relevant sources were:")
			printCitations(answer.Citations)
		}
		return err
	}

	fmt.Println(answer.Text)
	printCitations(answer.Citations)
	return nil
}

func runRetrieveOnly(ctx context.Context, r *retriever.Retriever, question string, opts []retriever.Option) error {
	chunks, err := r.Retrieve(ctx, question, opts...)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		fmt.Println("No matching chunks found.")
		return nil
	}

	for i, sc := range chunks {
		fmt.Printf("[%d] %s#%d (distance %.4f)\n", i+1, sc.DocID, sc.ChunkID, sc.Distance)
		fmt.Println(sc.Content)
		fmt.Println()
	}
	return nil
}

// printCitations renders citations beneath an answer. Quiet when there
// are none (for example the insufficient-knowledge response).
func printCitations(citations []knowledge.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Sources:")
	for i, c := range citations {
		fmt.Printf("  [%d] %s (relevance %.2f)\n", i+1, c.Source, c.Score)
	}
}
