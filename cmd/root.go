// Package cmd defines the docchat command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docchat",
	Short: "Document Q&A service backed by a vector store",
	Long: `docchat indexes text, markdown, and PDF documents into a pgvector-backed
fragment store and answers questions about them over a JSON API, grounding
every answer in the retrieved document fragments.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
