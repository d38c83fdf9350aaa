package cmd

import (
	"github.com/spf13/cobra"

	"github/itish2003/pdfrag/models"
)

var indexReset bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the PDFs in the knowledge-base folder",
	Long: `Extracts, chunks and embeds every PDF under KB_FOLDER. Without --reset the
chunks are upserted into the active index; with --reset a fresh index is
built and swapped in only when it is complete.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runIndex(cmd, indexReset)
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the index from scratch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runIndex(cmd, true)
	},
}

func init() {
	indexCmd.Flags().BoolVar(&indexReset, "reset", false, "build a new index instead of upserting")
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(rebuildCmd)
}

func runIndex(cmd *cobra.Command, reset bool) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	summary, err := a.indexer.Index(ctx, reset)
	if err != nil {
		return err
	}
	printSummary(cmd, summary)
	return nil
}

func printSummary(cmd *cobra.Command, s models.IndexSummary) {
	cmd.Printf("Indexed %d chunks from %d files\n", s.Chunks, s.Files)
	cmd.Printf("  Generation: %s\n", s.Generation)
	if s.Reset {
		cmd.Println("  Mode: rebuild")
	} else {
		cmd.Println("  Mode: upsert")
	}
}
