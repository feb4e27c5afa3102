// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the citation-engine CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/citation-engine/internal/logging"
)

// version is set at build time via ldflags.
var version = "dev"

// logger is built from the log flags once configuration is loaded.
var logger = logging.Nop()

// rootCmd is the base command for the citation-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "citation-engine",
	Short: "Match document claims to reference propositions and cite them",
	Long: `citation-engine converts lumber-industry documents (PDF, DOCX) to Markdown,
extracts their claims and metadata, ranks reference propositions from the
knowledge base by embedding similarity, and asks a language model which
propositions each claim should cite. Each document yields a Markdown report.

Stages are available as subcommands: convert, match, knowledge, report.
run and batch drive the full pipeline; watch processes documents as they
appear in a directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logging.New(viper.GetString("log.level"), viper.GetString("log.format"), os.Stderr)
		if f := viper.ConfigFileUsed(); f != "" {
			logger.Debug().Str("file", f).Msg("using config file")
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./citation-engine.yaml or ~/.config/citation-engine/citation-engine.yaml)")
	flags.String("secrets-dir", ".secrets", "directory of API key files")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "console", "log format: console or json")
	flags.String("output-dir", "", "directory for pipeline artifacts (default output)")
	flags.String("knowledge-dir", "", "knowledge base directory (default knowledge)")
	flags.Int("workers", 0, "documents processed concurrently (default 2)")

	bindFlag(flags.Lookup("log-level"), "log.level")
	bindFlag(flags.Lookup("log-format"), "log.format")
	bindFlag(flags.Lookup("output-dir"), "pipeline.output_dir")
	bindFlag(flags.Lookup("knowledge-dir"), "knowledge_base.knowledge_dir")
	bindFlag(flags.Lookup("workers"), "pipeline.workers")
	bindFlag(flags.Lookup("secrets-dir"), "secrets_dir")

	registerDefaults(viper.GetViper())
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("citation-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "citation-engine"))
		}
	}

	viper.SetEnvPrefix("CITATION_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			log.Fatal().Err(err).Str("file", cfgFile).Msg("reading config file")
		}
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
