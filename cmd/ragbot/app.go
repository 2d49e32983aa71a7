package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/config"
	logpkg "github.com/kailas-cloud/ragbot/internal/logger"
	"github.com/kailas-cloud/ragbot/internal/version"
)

// app carries what every command shares: flags, configuration and the logger.
type app struct {
	env      string
	logLevel string
	logFile  string

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   version.Name,
		Short: "Answer questions about a directory of documents",
		Long: `ragbot chunks the documents of a knowledge directory, embeds them into a
vector database and answers questions from the retrieved chunks with a hosted LLM.

Configuration is read from config/<env>.yaml; ${VAR} references are expanded
from the environment and from a .env file in the working directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.env, "env", config.GetEnv(), "configuration environment (config/<env>.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")
	root.PersistentFlags().StringVar(&a.logFile, "log-file", "", "write logs to this file instead of stderr")

	root.AddCommand(
		newServeCmd(a),
		newIngestCmd(a),
		newAskCmd(a),
		newChatCmd(a),
		newChunkCmd(a),
		newUserCmd(a),
		newKBCmd(a),
		newSettingsCmd(a),
		newAuditCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads the configuration and builds the logger. Commands that never call a
// provider pass local so missing API keys do not stop them.
func (a *app) setup(local bool) error {
	load := config.Load
	if local {
		load = config.LoadLocal
	}
	cfg, err := load(a.env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	level := cfg.Logging.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	var outputs []string
	if a.logFile != "" {
		outputs = append(outputs, a.logFile)
	}
	l, err := logpkg.NewLogger(a.env, level, outputs...)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.logger = l
	return nil
}

func (a *app) sync() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// context returns the command context with the app logger attached.
func (a *app) context(cmd *cobra.Command) context.Context {
	return logpkg.ContextWithLogger(cmd.Context(), a.logger)
}
