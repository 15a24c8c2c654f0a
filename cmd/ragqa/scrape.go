package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/reforma-ai/ragqa/engine/ingest"
	"github.com/reforma-ai/ragqa/engine/scraper"
)

var (
	scrapeOut     string
	scrapePublish bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Collect articles into the corpus directory",
	Long: `Fetches the knowledge-base index, downloads each linked article and
saves its text as one file per article. With --publish the documents are
sent to the ingest subject on NATS instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		s, err := scraper.New(scraper.Options{
			BaseURL:   cfg.Scrape.BaseURL,
			Limit:     cfg.Scrape.Limit,
			Delay:     cfg.Scrape.Delay,
			MinLength: cfg.Scrape.MinLength,
			Timeout:   cfg.Scrape.Timeout,
			UserAgent: cfg.Scrape.UserAgent,
			Logger:    log,
		})
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		docs, err := s.Run(ctx)
		if err != nil {
			return err
		}

		if scrapePublish {
			nc, err := nats.Connect(cfg.NATS.URL, nats.Name("ragqa-scrape"))
			if err != nil {
				return fmt.Errorf("nats connect: %w", err)
			}
			defer nc.Close()
			batch := ingest.Batch{ID: uuid.NewString(), Documents: docs}
			if err := ingest.PublishBatch(ctx, nc, cfg.NATS.Subject, batch); err != nil {
				return err
			}
			if err := nc.FlushWithContext(ctx); err != nil {
				return fmt.Errorf("nats flush: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %d documents as batch %s to %s\n", len(docs), batch.ID, cfg.NATS.Subject)
			return nil
		}

		dir := scrapeOut
		if dir == "" {
			dir = cfg.Ingest.Dir
		}
		paths, err := scraper.SaveCorpus(dir, docs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %d articles to %s\n", len(paths), dir)
		for _, p := range paths {
			fmt.Fprintln(cmd.OutOrStdout(), " -", p)
		}
		return nil
	},
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeOut, "out", "", "corpus directory (default ingest.dir)")
	scrapeCmd.Flags().BoolVar(&scrapePublish, "publish", false, "publish to NATS instead of writing files")
	rootCmd.AddCommand(scrapeCmd)
}
