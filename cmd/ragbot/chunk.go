package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/ragbot/internal/chunker"
	"github.com/kailas-cloud/ragbot/internal/domain"
)

type chunkPreview struct {
	domain.Chunk
	Chars int `json:"chunk_chars"`
}

type chunkReport struct {
	Source  string         `json:"source"`
	Format  domain.Format  `json:"format"`
	Method  chunker.Method `json:"method"`
	Size    int            `json:"chunk_size"`
	Overlap int            `json:"chunk_overlap"`
	Chunks  []chunkPreview `json:"chunks"`
}

func newChunkCmd(a *app) *cobra.Command {
	var (
		asJSON  bool
		size    int
		overlap int
		method  string
	)
	cmd := &cobra.Command{
		Use:   "chunk <file>",
		Short: "Preview how a document is split into chunks",
		Long: `Split one file the way ingest would and print every chunk with its index,
length, source span and heading trail. Nothing is embedded or stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(true); err != nil {
				return err
			}
			defer a.sync()

			cfg := a.cfg
			if cmd.Flags().Changed("size") {
				cfg.Chunking.Size = size
			}
			if cmd.Flags().Changed("overlap") {
				cfg.Chunking.Overlap = &overlap
			}
			if cmd.Flags().Changed("method") {
				cfg.Chunking.Method = method
			}
			if o := *cfg.Chunking.Overlap; o < 0 || o >= cfg.Chunking.Size {
				return fmt.Errorf("%w: overlap (%d) must be between 0 and size (%d)",
					domain.ErrInvalidInput, o, cfg.Chunking.Size)
			}
			ch, err := buildChunker(cfg)
			if err != nil {
				return err
			}

			path := args[0]
			data, err := os.ReadFile(filepath.Clean(path))
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			doc := domain.NewDocument(path, string(data))
			report := previewChunks(ch, doc)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printChunks(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the chunks as JSON")
	cmd.Flags().IntVar(&size, "size", 0, "override chunking.size")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "override chunking.overlap")
	cmd.Flags().StringVar(&method, "method", "", "override chunking.method (auto, recursive_only)")
	return cmd
}

func previewChunks(ch *chunker.Chunker, doc domain.Document) chunkReport {
	report := chunkReport{
		Source:  doc.Path,
		Format:  doc.Format,
		Method:  ch.Method(),
		Size:    ch.Size(),
		Overlap: ch.Overlap(),
		Chunks:  []chunkPreview{},
	}
	for c := range ch.Chunks(doc) {
		report.Chunks = append(report.Chunks, chunkPreview{Chunk: c, Chars: utf8.RuneCountInString(c.Text)})
	}
	return report
}

func printChunks(w io.Writer, r chunkReport) {
	fmt.Fprintf(w, "%s (%s): %d chunks, method=%s size=%d overlap=%d\n",
		r.Source, r.Format, len(r.Chunks), r.Method, r.Size, r.Overlap)
	for _, c := range r.Chunks {
		fmt.Fprintf(w, "\n--- chunk %d · %d chars · span %d-%d", c.Index, c.Chars, c.SpanStart, c.SpanEnd)
		if trail := headingTrail(c.Headings); trail != "" {
			fmt.Fprintf(w, " · %s", trail)
		}
		fmt.Fprintf(w, "\n%s\n", c.Text)
	}
}

func headingTrail(hs []domain.Heading) string {
	parts := make([]string, len(hs))
	for i, h := range hs {
		parts[i] = strings.Repeat("#", h.Level) + " " + h.Title
	}
	return strings.Join(parts, " > ")
}
