package main

import (
	"fmt"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/OnlineMo/DeepResearch-Web/internal/app"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer/crawler"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/handler"
	"github.com/OnlineMo/DeepResearch-Web/internal/store"
)

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search the reports in the store, crawling the archive first when it is empty",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.StringSlice("category", nil, "category slug filter, repeatable")
	f.StringSlice("version", nil, "version filter, repeatable")
	f.String("from", "", "earliest report date, YYYY-MM-DD")
	f.String("to", "", "latest report date, YYYY-MM-DD")
	f.String("sort", "", "relevance, date or title")
	f.Int("limit", 0, "maximum results (0 for the configured maximum)")
	f.Bool("crawl", false, "crawl the archive before searching")
	f.Bool("json", false, "print the full result as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	// Flags go through the same validation as the HTTP API.
	f := cmd.Flags()
	values := url.Values{"q": {args[0]}}
	categories, _ := f.GetStringSlice("category")
	versions, _ := f.GetStringSlice("version")
	values["category"] = categories
	values["version"] = versions
	for _, name := range []string{"from", "to", "sort"} {
		if v, _ := f.GetString(name); v != "" {
			values.Set(name, v)
		}
	}
	if limit, _ := f.GetInt("limit"); limit > 0 {
		values.Set("limit", fmt.Sprint(limit))
	}
	req, err := handler.ParseSearchRequest(values, cfg.Search.MaxQueryLength, cfg.Search.MaxResults)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reports, err := st.All(ctx)
	if err != nil {
		return err
	}
	if force, _ := f.GetBool("crawl"); force || len(reports) == 0 {
		library, err := openLibrary(ctx, cfg)
		if err != nil {
			return err
		}
		rev, err := library.Revision(ctx)
		if err != nil {
			return fmt.Errorf("reading archive revision: %w", err)
		}
		if _, err := crawler.New(library, st).Run(ctx, rev); err != nil {
			return err
		}
		if reports, err = st.All(ctx); err != nil {
			return err
		}
	}

	engine := app.NewEngine(nil)
	engine.Build(reports)
	result, err := searcher.New(engine, app.NewExecutor(engine, cfg.Search)).Search(ctx, req.Query, req.Options)
	if err != nil {
		return err
	}

	if asJSON, _ := f.GetBool("json"); asJSON {
		return printJSON(cmd.OutOrStdout(), result)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tDATE\tCATEGORY\tTITLE\tPATH")
	for _, r := range result.Results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.Score, r.Report.Date, r.Report.Category.Display, r.Report.Title, r.Report.Path)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d hits for %q\n", len(result.Results), result.TotalHits, result.Query)
	return nil
}
