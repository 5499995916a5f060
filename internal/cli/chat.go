package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/finside/bankrag/internal/models"
	"github.com/finside/bankrag/pkg/rag"
)

var chatNoStream bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive question answering session",
	Long: `Start an interactive session against the knowledge base. Conversation
history is carried across turns; answers stream token by token and end
with their citations. Ctrl+C during an answer cancels that answer only.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "wait for complete answers instead of streaming")
}

func runChat(cmd *cobra.Command, args []string) error {
	service, cleanup, err := buildService(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	color.Cyan("\nChat with the bank knowledge base (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	var history []models.Message

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if strings.EqualFold(question, "exit") {
			break
		}

		assistantPrompt("\nAssistant: ")

		answer, citations, err := answerOne(cmd.Context(), service, question, history)
		if err != nil {
			color.Red("\n%v", err)
			continue
		}

		printCitations(citations)

		history = append(history,
			models.Message{Role: models.RoleUser, Content: question},
			models.Message{Role: models.RoleAssistant, Content: answer},
		)
	}

	return scanner.Err()
}

// answerOne runs a single turn. Ctrl+C cancels the in-flight answer
// without ending the session.
func answerOne(parent context.Context, service *rag.Service, question string, history []models.Message) (string, []models.Citation, error) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if chatNoStream {
		resp, err := service.Query(ctx, question, history, models.QueryOptions{})
		if err != nil {
			return "", nil, err
		}
		fmt.Print(resp.Text)
		fmt.Println()
		return resp.Text, resp.Citations, nil
	}

	events, citations, err := service.QueryStream(ctx, question, history, models.QueryOptions{})
	if err != nil {
		return "", nil, err
	}

	var answer strings.Builder
	for ev := range events {
		if ev.Terminal() {
			switch ev.FinishReason {
			case models.FinishCancelled:
				color.Yellow("\n[cancelled]")
			case models.FinishError:
				return answer.String(), nil, ev.Err
			}
			break
		}
		fmt.Print(ev.Token)
		answer.WriteString(ev.Token)
	}
	fmt.Println()

	return answer.String(), citations, nil
}

func printCitations(citations []models.Citation) {
	if len(citations) == 0 {
		return
	}
	faint := color.New(color.Faint)
	faint.Println("\nSources:")
	for _, c := range citations {
		label := c.SourceID
		if filename := c.Metadata["filename"]; filename != "" {
			label = filename
		}
		faint.Printf("  [%d] %s (relevance: %.2f)\n", c.Index, label, c.Score)
	}
}
