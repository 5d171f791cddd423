package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/askdocs-go/internal/logging"
)

// NewDocsCmd constructs the `askdocs docs` command group for administering
// the knowledge base without going through the HTTP API.
func NewDocsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Administer the indexed knowledge base",
	}
	cmd.AddCommand(newDocsListCmd(), newDocsDeleteCmd(), newDocsStatsCmd())
	return cmd
}

// newDocsListCmd lists indexed documents, newest first.
func newDocsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List indexed documents, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(logging.New())
			if err != nil {
				return fmt.Errorf("docs list: %w", err)
			}
			defer a.close()

			docs := a.engine.ListDocuments()
			if len(docs) == 0 {
				fmt.Println("no documents indexed")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOCUMENT ID\tFILENAME\tTYPE\tSIZE\tCHUNKS\tUPLOADED")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
					d.DocumentID, d.Filename, d.FileType, d.FileSize, d.ChunkCount,
					d.UploadedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

// newDocsDeleteCmd deletes one document and all its chunks.
func newDocsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document_id>",
		Short: "Delete a document and all its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(logging.New())
			if err != nil {
				return fmt.Errorf("docs delete: %w", err)
			}
			defer a.close()

			deleted, err := a.engine.DeleteDocument(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("docs delete: %w", err)
			}
			if deleted == 0 {
				fmt.Printf("document %s not found, nothing deleted\n", args[0])
				return nil
			}
			fmt.Printf("deleted %d chunks of document %s\n", deleted, args[0])
			return nil
		},
	}
}

// newDocsStatsCmd prints aggregate stats, optionally with the recent
// ingest journal.
func newDocsStatsCmd() *cobra.Command {
	var showJournal bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge-base statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(logging.New())
			if err != nil {
				return fmt.Errorf("docs stats: %w", err)
			}
			defer a.close()

			stats := a.engine.Stats()
			fmt.Printf("documents:        %d\n", stats.TotalDocuments)
			fmt.Printf("chunks:           %d\n", stats.TotalChunks)
			fmt.Printf("embedding model:  %s\n", stats.EmbeddingModel)

			if !showJournal {
				return nil
			}
			if a.journal == nil {
				fmt.Println("journal: disabled")
				return nil
			}

			entries, err := a.journal.Recent(cmd.Context(), 20)
			if err != nil {
				return fmt.Errorf("docs stats: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("journal: empty")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\nWHEN\tOP\tDOCUMENT\tFILE\tCHUNKS\tOUTCOME\tDURATION")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					e.CreatedAt.Format(time.RFC3339), e.Op, e.DocumentID, e.Filename,
					e.ChunkCount, e.Outcome, e.Duration)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&showJournal, "journal", false, "Also print the recent ingest journal")
	return cmd
}
