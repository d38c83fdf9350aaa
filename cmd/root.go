// Package cmd is the command line entry point: the HTTP server plus one-shot
// indexing and chat commands that share the same wiring.
package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github/itish2003/pdfrag/config"
	"github/itish2003/pdfrag/models"
)

var (
	cfg    *config.Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pdfrag",
	Short: "Ask questions about a folder of PDFs",
	Long: `pdfrag indexes the PDFs in a knowledge-base folder into a vector store
and answers questions about them with a language model, keeping per-session
chat history.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		log, err := newLogger(loaded.LogLevel, loaded.LogFormat, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		cfg, logger = loaded, log
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger from the configured level and format.
func newLogger(level, format string, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: LOG_LEVEL: %v", models.ErrConfiguration, err)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("%w: unknown LOG_FORMAT %q", models.ErrConfiguration, format)
	}
	return log, nil
}
