// Package commands defines all Cobra CLI commands for the askdocs binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/askdocs-go/internal/audit"
	"github.com/54b3r/askdocs-go/internal/config"
	"github.com/54b3r/askdocs-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "askdocs",
		Short: "askdocs — self-hosted question answering over your own documents",
		Long: `askdocs is a self-hosted RAG backend: upload documents, and ask questions
answered by a local LLM grounded in passages retrieved from your corpus.

It indexes PDF, Markdown, plain-text, and DOCX uploads into a file-backed
vector collection, and streams grounded answers over an SSE chat API.
Configuration comes from environment variables or a YAML config file
(~/.askdocs/config.yaml). See 'askdocs --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.askdocs/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewDocsCmd(),
		NewVersionCmd(),
	)

	return root
}
