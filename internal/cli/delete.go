package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <source-id>...",
	Short: "Remove documents from the knowledge base",
	Long: `Remove every chunk belonging to the given source ids. Deleting an
unknown source is a no-op.

Example:
  bankrag delete docs/fees.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	service, cleanup, err := buildService(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	total := 0
	for _, sourceID := range args {
		n, err := service.DeleteSource(cmd.Context(), sourceID)
		if err != nil {
			return err
		}
		if n == 0 {
			color.Yellow("%s: no chunks found", sourceID)
			continue
		}
		total += n
	}

	color.Green("✓ Deleted %d chunks", total)
	return nil
}
