package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/finside/bankrag/internal/models"
)

var healthJSON bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the configured providers",
	Long: `Check that the embedding provider, vector store and generation
provider are reachable, and report how many chunks are stored. Exits
non-zero when any component is down.`,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "output as JSON")
}

func runHealth(cmd *cobra.Command, args []string) error {
	service, cleanup, err := buildService(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	health := service.Health(ctx)

	if healthJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(health); err != nil {
			return err
		}
	} else {
		printStatus("embedding provider", health.EmbeddingProvider)
		printStatus("vector store", health.VectorStore)
		printStatus("generation provider", health.GenerationProvider)
		fmt.Printf("stored chunks: %d\n", health.DocumentCount)
	}

	if !health.Healthy() {
		return fmt.Errorf("one or more components are down")
	}
	return nil
}

func printStatus(name string, status models.ComponentStatus) {
	if status == models.StatusUp {
		color.Green("✓ %s: up", name)
		return
	}
	color.Red("✗ %s: down", name)
}
