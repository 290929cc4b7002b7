package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quarrydev/quarry/internal/knowledge"
	"github.com/quarrydev/quarry/internal/remote"
)

var corpusDisplayName string

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage remote document corpora",
	Long: `Remote corpora hold documents uploaded to the Gemini Files API.
Questions against a corpus are answered by the remote model from the
attached documents. Requires GEMINI_API_KEY.`,
}

var corpusCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new remote corpus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCorpusCreate(cmd.Context(), args[0])
	},
}

var corpusUploadCmd = &cobra.Command{
	Use:   "upload <corpus> <path>...",
	Short: "Upload files to a remote corpus",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCorpusUpload(cmd.Context(), args[0], args[1:])
	},
}

var corpusListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remote corpora and their files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCorpusList(cmd.Context())
	},
}

func init() {
	corpusCreateCmd.Flags().StringVar(&corpusDisplayName, "display", "", "human-readable corpus name")
	corpusCmd.AddCommand(corpusCreateCmd)
	corpusCmd.AddCommand(corpusUploadCmd)
	corpusCmd.AddCommand(corpusListCmd)
	rootCmd.AddCommand(corpusCmd)
}

// setupRemote builds just the remote adapter. Corpus management does not
// need the database, so it skips the full application setup.
func setupRemote(ctx context.Context) (*remote.Adapter, error) {
	logger := initLogger()

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	adapter, err := remote.New(ctx, remote.Config{
		APIKey:        cfg.GeminiAPIKey,
		GenerateModel: cfg.GenerateModel,
		RegistryPath:  cfg.CorpusRegistryPath,
		QueryTimeout:  cfg.GenerateTimeout,
		Logger:        logger.With("component", "remote"),
	})
	if errors.Is(err, knowledge.ErrRemoteUnavailable) {
		return nil, fmt.Errorf("remote corpora need a Gemini credential; set GEMINI_API_KEY: %w", err)
	}
	return adapter, err
}

func runCorpusCreate(ctx context.Context, name string) error {
	adapter, err := setupRemote(ctx)
	if err != nil {
		return err
	}

	display := corpusDisplayName
	if display == "" {
		display = name
	}
	corpus, err := adapter.CreateCorpus(ctx, name, display)
	if err != nil {
		return fmt.Errorf("creating corpus %s: %w", name, err)
	}
	fmt.Printf("Created corpus %s (%s)\n", corpus.Name, corpus.DisplayName)
	return nil
}

func runCorpusUpload(ctx context.Context, corpusName string, paths []string) error {
	adapter, err := setupRemote(ctx)
	if err != nil {
		return err
	}

	for _, path := range paths {
		file, err := adapter.Upload(ctx, corpusName, path, nil)
		if err != nil {
			return fmt.Errorf("uploading %s: %w", path, err)
		}
		fmt.Printf("Uploaded %s as %s (%s)\n", path, file.DisplayName, file.Name)
	}
	return nil
}

func runCorpusList(ctx context.Context) error {
	adapter, err := setupRemote(ctx)
	if err != nil {
		return err
	}

	corpora, err := adapter.ListCorpora(ctx)
	if err != nil {
		return fmt.Errorf("listing corpora: %w", err)
	}
	if len(corpora) == 0 {
		fmt.Println("No corpora yet. Use 'quarry corpus create <name>' to add one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CORPUS\tFILES\tDISPLAY NAME")
	for _, c := range corpora {
		fmt.Fprintf(w, "%s\t%d\t%s\n", c.Name, len(c.Files), c.DisplayName)
	}
	return w.Flush()
}
