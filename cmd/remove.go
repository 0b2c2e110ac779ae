package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acmetech/docchat/internal/app"
	"github.com/acmetech/docchat/internal/ingest"
)

var removeCmd = &cobra.Command{
	Use:   "remove <document-name>...",
	Short: "Remove indexed documents from the fragment store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		release, err := ingest.AcquireLock(writerLockPath())
		if err != nil {
			return err
		}
		defer func() { _ = release() }()

		a, err := app.Setup(cmd.Context())
		if err != nil {
			return fmt.Errorf("initializing application: %w", err)
		}
		defer a.Close()

		for _, name := range args {
			if err := a.Ingester.Remove(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
