package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suPer8Hu/sensei/internal/knowledge"
)

func newIngestCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <corpus.yaml>...",
		Short: "Embed and index knowledge documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, index, err := openIndex(ctx, g.cfg, g.log)
			if err != nil {
				return err
			}

			total := 0
			for _, path := range args {
				docs, err := knowledge.LoadCorpus(path)
				if err != nil {
					return err
				}
				n, err := index.Ingest(ctx, docs)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				g.log.Info("corpus ingested", zap.String("path", path), zap.Int("chunks", n))
				total += n
			}

			tags, err := index.Tags(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks, %d tags\n", total, len(tags))
			return err
		},
	}
}
