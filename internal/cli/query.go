package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/finside/bankrag/internal/models"
)

var (
	queryText      string
	queryTopK      int
	queryThreshold float32
	queryFilter    []string
	queryStream    bool
	queryJSON      bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Ask a one-shot question",
	Long: `Ask a single question against the knowledge base and print the cited
answer.

Examples:
  bankrag query -q "What is the overdraft fee?"
  bankrag query -q "Card limits" --top-k 10 --filter category=cards
  bankrag query -q "Wire transfer cutoff times" --stream`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "question to ask (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	queryCmd.Flags().Float32Var(&queryThreshold, "threshold", 0, "minimum similarity score (default from config)")
	queryCmd.Flags().StringArrayVar(&queryFilter, "filter", nil, "metadata filter as key=value (repeatable)")
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "stream the answer token by token")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output the full response as JSON")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	filter, err := parseFilter(queryFilter)
	if err != nil {
		return err
	}

	service, cleanup, err := buildService(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	opts := models.QueryOptions{
		TopK:           queryTopK,
		ScoreThreshold: queryThreshold,
		Filter:         filter,
	}

	if queryStream {
		events, citations, err := service.QueryStream(cmd.Context(), queryText, nil, opts)
		if err != nil {
			return err
		}
		for ev := range events {
			if ev.Terminal() {
				if ev.FinishReason == models.FinishError {
					return ev.Err
				}
				break
			}
			fmt.Print(ev.Token)
		}
		fmt.Println()
		printCitations(citations)
		return nil
	}

	resp, err := service.Query(cmd.Context(), queryText, nil, opts)
	if err != nil {
		return err
	}

	if queryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Println(resp.Text)
	if !resp.ContextUsed {
		color.Yellow("\n(no relevant context found in the knowledge base)")
	}
	if resp.Provider == "fallback" {
		color.Yellow("(answered by fallback provider %s)", resp.Model)
	}
	printCitations(resp.Citations)
	return nil
}

func parseFilter(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filter := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", pair)
		}
		filter[key] = value
	}
	return filter, nil
}
