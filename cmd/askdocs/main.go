// Command askdocs is the entry point for the self-hosted document
// question-answering backend. It provides a CLI (via Cobra) for serving the
// HTTP API, bulk-ingesting documents, and administering the knowledge base.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/askdocs-go/cmd/askdocs/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
