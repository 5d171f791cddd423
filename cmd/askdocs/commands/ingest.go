package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/54b3r/askdocs-go/internal/logging"
)

// NewIngestCmd constructs the `askdocs ingest` command, which indexes local
// files into the knowledge base through the same pipeline as POST /ingest.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest local documents into the knowledge base",
		Long: `Parse, chunk, embed, and index one or more local documents.

Each file goes through the same pipeline as an HTTP upload: re-ingesting a
byte-identical file is idempotent, and re-ingesting changed content under
the same name indexes it as a separate document; the earlier version stays
until it is deleted.

Examples:
  askdocs ingest resume.pdf
  askdocs ingest docs/*.md notes.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			a, err := buildApp(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer a.close()

			if err := a.embedder.WarmUp(ctx); err != nil {
				return fmt.Errorf("ingest: embedding warm-up failed: %w", err)
			}

			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("ingest: read %s: %w", path, err)
				}

				summary, err := a.engine.Ingest(ctx, filepath.Base(path), data)
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", path, err)
				}

				log.Info("ingested",
					slog.String("file", path),
					slog.String("document_id", summary.DocumentID),
					slog.Int("chunks", summary.ChunkCount),
				)
				fmt.Printf("%s  %s  %d chunks\n", summary.DocumentID, summary.Filename, summary.ChunkCount)
			}

			stats := a.engine.Stats()
			fmt.Printf("knowledge base: %d documents, %d chunks\n", stats.TotalDocuments, stats.TotalChunks)
			return nil
		},
	}

	return cmd
}
