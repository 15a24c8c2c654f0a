package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/reforma-ai/ragqa/engine/scraper"
)

var (
	ingestDir      string
	ingestWatch    bool
	ingestDebounce time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load the corpus directory into the vector collection",
	Long: `Reads every .txt file of the corpus directory, chunks and embeds the
text and upserts the points. Re-running is idempotent: unchanged fragments
overwrite their previous points. --watch re-ingests whenever files change.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cfg, log)
		if err != nil {
			return err
		}
		defer rt.Close()

		dir := ingestDir
		if dir == "" {
			dir = cfg.Ingest.Dir
		}
		out := cmd.OutOrStdout()
		run := func(ctx context.Context) error {
			return ingestDirOnce(ctx, rt, dir, out, cmd.ErrOrStderr())
		}

		if !ingestWatch {
			return run(cmd.Context())
		}
		if err := run(cmd.Context()); err != nil {
			log.Error("ingest failed", "dir", dir, "err", err)
		}
		return watchDir(cmd.Context(), dir, ingestDebounce, log, func(ctx context.Context) {
			if err := run(ctx); err != nil {
				log.Error("ingest failed", "dir", dir, "err", err)
			}
		})
	},
}

func ingestDirOnce(ctx context.Context, rt *runtime, dir string, out, barOut io.Writer) error {
	docs, err := scraper.LoadCorpus(dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Found %d files in %s\n", len(docs), dir)
	if len(docs) == 0 {
		return nil
	}

	bar := newProgress(barOut, "Embedding")
	rep, err := rt.ingestor(bar.update).Ingest(ctx, docs)
	bar.finish()
	fmt.Fprintln(out, rep.Summary())
	return err
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "corpus directory (default ingest.dir)")
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "re-ingest when corpus files change")
	ingestCmd.Flags().DurationVar(&ingestDebounce, "debounce", 2*time.Second, "quiet period before a watched re-ingest")
	rootCmd.AddCommand(ingestCmd)
}
