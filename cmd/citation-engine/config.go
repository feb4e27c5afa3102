// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/citation-engine/internal/secrets"
	"github.com/pdiddy/citation-engine/pkg/types"
)

const configFileName = "citation-engine.yaml"

// bindFlag ties a flag to a configuration key. Flags given on the command
// line override the config file and environment.
func bindFlag(f *pflag.Flag, key string) {
	if err := viper.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", f.Name, err))
	}
}

// registerDefaults declares every key of the default configuration so
// CITATION_ENGINE_* environment variables apply to nested keys.
func registerDefaults(v *viper.Viper) {
	for key, value := range flatten("", defaultsMap()) {
		v.SetDefault(key, value)
	}
}

// defaultsMap renders types.DefaultConfig through its yaml tags.
func defaultsMap() map[string]any {
	data, err := yaml.Marshal(types.DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("encoding default config: %v", err))
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("decoding default config: %v", err))
	}
	return m
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			for sk, sv := range flatten(key, sub) {
				out[sk] = sv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// loadConfig merges defaults, config file, environment, flags, and
// secrets, then validates the result.
func loadConfig() (types.Config, error) {
	cfg := types.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding configuration: %w", err)
	}

	s, err := secrets.Load(viper.GetString("secrets_dir"), logger)
	if err != nil {
		return cfg, err
	}
	if len(s) > 0 {
		keys := make([]string, 0, len(s))
		for k := range s {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		logger.Debug().Strs("keys", keys).Msg("loaded secrets")
	}
	s.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// redacted returns cfg with credentials masked for display.
func redacted(cfg types.Config) types.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	for _, ai := range []*types.AIConfig{
		&cfg.Completion.Cleanup,
		&cfg.Completion.Claims,
		&cfg.Completion.Metadata,
		&cfg.Completion.Citation,
	} {
		mask(&ai.APIKey)
	}
	mask(&cfg.Embedding.APIKey)
	mask(&cfg.Conversion.APIKey)
	mask(&cfg.KnowledgeBase.PostgresDSN)
	return cfg
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Show prints the configuration after merging defaults, the config file,
CITATION_ENGINE_* environment variables, flags, and secrets. API keys are
masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(redacted(cfg))
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default citation-engine.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path, _ := cmd.Flags().GetString("path")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		data, err := yaml.Marshal(types.DefaultConfig())
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configInitCmd.Flags().String("path", configFileName, "file to write")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
