package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/ragbot/internal/usecase/ingest"
)

func newIngestCmd(a *app) *cobra.Command {
	var (
		rebuild bool
		watch   bool
		drop    bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk, embed and store the knowledge directory",
		Long: `Load every .md, .mdx and .txt file under knowledge.data_dir, split it into
chunks, embed them and write them to the vector store.

--rebuild drops and recreates the collection first so it holds exactly the
current documents; without it chunks are appended. The default comes from
vectorstore.rebuild.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(false); err != nil {
				return err
			}
			defer a.sync()
			ctx := a.context(cmd)

			p, err := buildPipeline(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer p.close()

			if drop {
				if err := p.ingest.Clear(ctx); err != nil {
					return err
				}
				cmd.Printf("Dropped collection %s\n", p.ingest.Collection())
				return nil
			}

			if !cmd.Flags().Changed("rebuild") {
				rebuild = *a.cfg.VectorStore.Rebuild
			}
			report, err := p.ingest.Run(ctx, ingest.Options{Rebuild: rebuild})
			if err != nil {
				return err
			}
			mode := "appended to"
			if report.Rebuilt {
				mode = "rebuilt"
			}
			cmd.Printf("Ingested %d files into %d chunks (%s %s) in %s\n",
				report.Files, report.Chunks, mode, report.Collection, report.Duration.Round(time.Millisecond))

			if watch {
				cmd.Println("Watching for changes, Ctrl+C to stop")
				return p.ingest.Watch(ctx, time.Duration(a.cfg.Knowledge.WatchDebounceMS)*time.Millisecond)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", true, "drop and recreate the collection before writing")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and rebuild whenever the directory changes")
	cmd.Flags().BoolVar(&drop, "clear", false, "drop the collection and exit")
	return cmd
}
