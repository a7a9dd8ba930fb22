package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OnlineMo/DeepResearch-Web/internal/archive"
	"github.com/OnlineMo/DeepResearch-Web/internal/parser"
	"github.com/OnlineMo/DeepResearch-Web/internal/report"
)

var parseCmd = &cobra.Command{
	Use:   "parse FILE",
	Short: "Parse one archive document and print the result as JSON",
	Long: "Parse reads a digest (README.md), navigation (NAVIGATION.md), category index " +
		"(Reports.md) or report file and prints what the parser extracts. FILE may be - for stdin. " +
		"The document type is guessed from the file name unless --type is given.",
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().String("type", "", "document type: digest, navigation, category_index or report")
	parseCmd.Flags().String("slug", "", "category slug for a category index")
	parseCmd.Flags().String("path", "", "archive path to parse a report as (defaults to FILE)")
	parseCmd.Flags().Bool("trace", false, "print the outcome of every line of a list document")
	parseCmd.Flags().String("duplicates", "keep-all", "duplicate policy: keep-all, first-wins or last-wins")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	file := args[0]
	text, err := readInput(cmd, file)
	if err != nil {
		return err
	}

	typ, _ := cmd.Flags().GetString("type")
	doc := parser.Document(typ)
	if doc == "" {
		doc = guessDocument(file)
	}
	slug, _ := cmd.Flags().GetString("slug")
	if slug == "" && doc == parser.DocCategoryIndex {
		slug = filepath.Base(filepath.Dir(file))
	}

	dup, _ := cmd.Flags().GetString("duplicates")
	policy, err := parser.ParseDuplicatePolicy(dup)
	if err != nil {
		return err
	}
	p := parser.New(parser.WithDuplicatePolicy(policy))

	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		lines, err := p.Trace(doc, text, slug)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), lines)
	}

	var out any
	switch doc {
	case parser.DocDigest:
		out, err = p.ParseDigest(text)
	case parser.DocNavigation:
		out, err = p.ParseNavigation(text)
	case parser.DocCategoryIndex:
		out, err = p.ParseCategoryIndex(text, slug)
	case parser.DocReport:
		path, _ := cmd.Flags().GetString("path")
		if path == "" {
			path = filepath.ToSlash(file)
		}
		var content report.Content
		content, err = p.ParseReport(text, path)
		out = content
	default:
		return fmt.Errorf("unknown document type %q", doc)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func readInput(cmd *cobra.Command, file string) (string, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", file, err)
	}
	return string(data), nil
}

// guessDocument maps the archive's fixed file names to document types.
// Anything else is treated as a report.
func guessDocument(file string) parser.Document {
	switch base := filepath.Base(file); {
	case strings.EqualFold(base, archive.DigestPath):
		return parser.DocDigest
	case strings.EqualFold(base, archive.NavigationPath):
		return parser.DocNavigation
	case base == archive.CategoryIndexName:
		return parser.DocCategoryIndex
	default:
		return parser.DocReport
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
