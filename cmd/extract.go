package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quinnhq/dispatch/internal/extract"
	"github.com/quinnhq/dispatch/internal/scrape"
	anthropicpkg "github.com/quinnhq/dispatch/pkg/anthropic"
	"github.com/quinnhq/dispatch/pkg/jina"
)

var extractAll bool

var extractCmd = &cobra.Command{
	Use:   "extract <request-id>",
	Short: "Run contact extraction for a service request",
	Long:  "Scrapes discovered business websites and extracts contact details. One batch by default; --all drains every pending business.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		llm := anthropicpkg.NewClient(cfg.Anthropic.Key)
		jinaClient := jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL))
		engine := extract.NewEngine(st, scrape.NewJinaAdapter(jinaClient), llm, extract.Config{
			BatchSize:       cfg.Extract.BatchSize,
			MaxContentChars: cfg.Extract.MaxContentChars,
			Model:           cfg.Anthropic.Model,
			MaxTokens:       int64(cfg.Anthropic.MaxTokens),
			ScrapesPerSec:   cfg.Extract.ScrapesPerSec,
		})

		for {
			processed, remaining, err := engine.ProcessBatch(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Processed %d businesses, %d remaining.\n", processed, remaining)
			if !extractAll || remaining == 0 {
				return nil
			}
		}
	},
}

func init() {
	extractCmd.Flags().BoolVar(&extractAll, "all", false, "keep processing batches until none remain")
	rootCmd.AddCommand(extractCmd)
}
