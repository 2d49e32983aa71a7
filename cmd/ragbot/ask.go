package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/tui"
	"github.com/kailas-cloud/ragbot/internal/usecase/rag"
)

func newAskCmd(a *app) *cobra.Command {
	var (
		username    string
		showContext bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question from the knowledge base",
		Long: `Retrieve the most relevant chunks for the question and stream the LLM answer.
With --user the answer takes that user's memory into account.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(false); err != nil {
				return err
			}
			defer a.sync()
			ctx := a.context(cmd)

			memory, err := userMemory(ctx, a, username)
			if err != nil {
				return err
			}
			p, err := buildPipeline(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer p.close()

			question := strings.Join(args, " ")
			events, err := p.rag.AskStream(ctx, question, rag.AskOptions{Memory: memory})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var sources []domain.ScoredChunk
			for ev := range events {
				switch ev.Type {
				case domain.StreamSources:
					sources = ev.Sources
				case domain.StreamToken:
					fmt.Fprint(out, ev.Token)
				case domain.StreamDone:
					fmt.Fprintln(out)
				case domain.StreamError:
					return ev.Err
				}
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if names := domain.SourceNames(sources); len(names) > 0 {
				fmt.Fprintf(out, "\nSources: %s\n", strings.Join(names, ", "))
			}
			if showContext {
				fmt.Fprintln(out, "\nContext:")
				fmt.Fprintln(out, rag.FormatContext(sources))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "answer with this user's memory")
	cmd.Flags().BoolVar(&showContext, "context", false, "print the retrieved chunks after the answer")
	return cmd
}

func newChatCmd(a *app) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the knowledge base in the terminal",
		Long: `Open an interactive terminal chat. Answers stream as they are generated and
list their source files. Esc cancels an answer, Ctrl+C quits.

Logs go to --log-file, or to ragbot-chat.log in the temp directory while the
chat owns the screen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.logFile == "" {
				a.logFile = filepath.Join(os.TempDir(), "ragbot-chat.log")
			}
			if err := a.setup(false); err != nil {
				return err
			}
			defer a.sync()
			ctx := a.context(cmd)

			memory, err := userMemory(ctx, a, username)
			if err != nil {
				return err
			}
			p, err := buildPipeline(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer p.close()

			title := fmt.Sprintf("ragbot · %s · %s", a.cfg.VectorStore.Collection, a.cfg.LLM.Provider)
			return tui.Run(ctx, p.rag, tui.Options{
				Title:        title,
				Memory:       memory,
				HistoryTurns: a.cfg.Retrieval.HistoryTurns,
			})
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "chat with this user's memory")
	return cmd
}

// userMemory reads the memory of username from the database. Empty username means none.
func userMemory(ctx context.Context, a *app, username string) (string, error) {
	if username == "" {
		return "", nil
	}
	store, err := openStore(ctx, a.cfg, a.logger)
	if err != nil {
		return "", err
	}
	defer func() { _ = store.Close() }()

	u, err := store.UserByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("user %q: %w", username, err)
	}
	return store.UserMemory(ctx, u.ID)
}
