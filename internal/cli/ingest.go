package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var ingestSource string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest documents into the knowledge base",
	Long: `Ingest one or more documents. Plain text and markdown files are taken
as-is; HTML files are reduced to their visible text first. Re-ingesting
an unchanged file is a no-op: chunk ids are derived from content.

Examples:
  bankrag ingest docs/fees.md
  bankrag ingest --source fees-2026 exports/*.html`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source id override (default is the file path; only valid with a single file)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestSource != "" && len(args) > 1 {
		return fmt.Errorf("--source can only be used with a single file")
	}

	service, cleanup, err := buildService(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	bar := getProgressBar(len(args), " Ingesting documents")

	var totalStored, failed int
	for _, path := range args {
		text, err := loadDocument(path)
		if err != nil {
			color.Red("\n%s: %v", path, err)
			failed++
			bar.Add(1)
			continue
		}

		sourceID := path
		if ingestSource != "" {
			sourceID = ingestSource
		}
		metadata := map[string]string{"filename": filepath.Base(path)}

		result, err := service.Ingest(cmd.Context(), sourceID, text, metadata)
		if err != nil {
			color.Red("\n%s: %v", path, err)
			failed++
			bar.Add(1)
			continue
		}

		totalStored += result.ChunksStored
		bar.Add(1)
	}
	bar.Finish()

	if failed > 0 {
		color.Yellow("\n✓ Stored %d chunks, %d of %d files failed", totalStored, failed, len(args))
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	color.Green("\n✓ Stored %d chunks from %d files", totalStored, len(args))
	return nil
}

// loadDocument reads a file and returns its plain text. HTML is reduced
// to visible text; everything else passes through unchanged.
func loadDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return extractHTMLText(strings.NewReader(string(data)))
	default:
		return string(data), nil
	}
}

var whitespaceRun = regexp.MustCompile(`[ \t]+`)
var blankLines = regexp.MustCompile(`\n{3,}`)

// extractHTMLText pulls the readable text out of an HTML document,
// preferring the main content area over boilerplate.
func extractHTMLText(r *strings.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, header, footer").Remove()

	selectors := []string{"main", "article", ".content", "#content"}
	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}
	if content == "" {
		content = doc.Find("body").Text()
	}

	content = whitespaceRun.ReplaceAllString(content, " ")
	content = blankLines.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content), nil
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)
}
