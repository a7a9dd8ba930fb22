package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OnlineMo/DeepResearch-Web/internal/app"
	"github.com/OnlineMo/DeepResearch-Web/internal/archive"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer/crawler"
	"github.com/OnlineMo/DeepResearch-Web/internal/store"
	"github.com/OnlineMo/DeepResearch-Web/pkg/config"
	"github.com/OnlineMo/DeepResearch-Web/pkg/kafka"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Read every report in the archive and save it to the report store",
	RunE:  runCrawl,
}

func init() {
	crawlCmd.Flags().Bool("if-changed", false, "skip the crawl when the store already holds the current revision")
	crawlCmd.Flags().Bool("publish", false, "announce the crawl on the reports.indexed topic")
	crawlCmd.Flags().Bool("prune", false, "delete stored reports the navigation no longer lists")
	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	library, err := openLibrary(ctx, cfg)
	if err != nil {
		return err
	}
	rev, err := library.Revision(ctx)
	if err != nil {
		return fmt.Errorf("reading archive revision: %w", err)
	}

	if onlyChanged, _ := cmd.Flags().GetBool("if-changed"); onlyChanged {
		stored, err := st.Revision(ctx)
		if err != nil {
			return err
		}
		if stored.ID == rev.ID {
			fmt.Fprintf(cmd.OutOrStdout(), "store is current at revision %s\n", rev.ID)
			return nil
		}
	}

	prune, _ := cmd.Flags().GetBool("prune")
	opts := []crawler.Option{crawler.WithPrune(prune)}
	if publish, _ := cmd.Flags().GetBool("publish"); publish {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ReportsIndexed)
		defer producer.Close()
		opts = append(opts, crawler.WithPublisher(producer))
	}

	res, err := crawler.New(library, st, opts...).Run(ctx, rev)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "crawled %d reports at revision %s in %s (store: %s)\n",
		res.Reports, res.Revision.ID, res.Duration.Round(time.Millisecond), cfg.Store.Driver)
	if res.Pruned > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d unlisted reports\n", res.Pruned)
	}
	if cfg.Store.Driver == "none" {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: store.driver is none, nothing was persisted")
	}
	return nil
}

// openLibrary builds the configured archive source behind a Library.
func openLibrary(ctx context.Context, cfg *config.Config) (*archive.Library, error) {
	p, err := app.NewParser(cfg.Parser, nil)
	if err != nil {
		return nil, err
	}
	src, _, err := app.OpenSource(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	return app.NewLibrary(src, cfg, p, nil), nil
}
