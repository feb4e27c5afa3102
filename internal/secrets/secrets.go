// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys from a directory of plain-text files,
// falling back to environment variables. Each file holds one secret: the
// file name is the key and the trimmed contents are the value.
//
// Known keys: openai-api-key, anthropic-api-key, gemini-api-key,
// llama-cloud-api-key, postgres-dsn.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/phuslu/log"

	"github.com/pdiddy/citation-engine/internal/logging"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// Key names.
const (
	OpenAI      = "openai-api-key"
	Anthropic   = "anthropic-api-key"
	Gemini      = "gemini-api-key"
	LlamaCloud  = "llama-cloud-api-key"
	PostgresDSN = "postgres-dsn"
)

// envNames lists the environment variables consulted for each key, in
// order.
var envNames = map[string][]string{
	OpenAI:      {"OPENAI_API_KEY"},
	Anthropic:   {"ANTHROPIC_API_KEY"},
	Gemini:      {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	LlamaCloud:  {"LLAMA_CLOUD_API_KEY"},
	PostgresDSN: {"DATABASE_URL"},
}

// Store holds loaded secrets by key.
type Store map[string]string

// Load reads all files in dir. A missing directory is not an error and
// yields an empty store. Unreadable files are logged and skipped.
func Load(dir string, logger *log.Logger) (Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Store{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(Store)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn().Str("secret", name).Err(err).Msg("could not read secret")
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Get returns the secret named key from the store, or from its
// environment variables when the store has no value.
func (s Store) Get(key string) string {
	if v := s[key]; v != "" {
		return v
	}
	for _, env := range envNames[key] {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return ""
}

// keyFor maps a provider to its secret key.
func keyFor(p types.Provider) string {
	switch p {
	case types.ProviderOpenAI:
		return OpenAI
	case types.ProviderAnthropic:
		return Anthropic
	case types.ProviderGemini:
		return Gemini
	}
	return ""
}

// Apply fills empty credentials in cfg. Values already set by the config
// file, environment, or flags win.
func (s Store) Apply(cfg *types.Config) {
	fill := func(dst *string, key string) {
		if *dst == "" && key != "" {
			*dst = s.Get(key)
		}
	}
	for _, ai := range []*types.AIConfig{
		&cfg.Completion.Cleanup,
		&cfg.Completion.Claims,
		&cfg.Completion.Metadata,
		&cfg.Completion.Citation,
	} {
		fill(&ai.APIKey, keyFor(ai.Provider))
	}
	fill(&cfg.Embedding.APIKey, keyFor(cfg.Embedding.Provider))
	if cfg.Conversion.Backend == types.BackendLlamaParse {
		fill(&cfg.Conversion.APIKey, LlamaCloud)
	}
	fill(&cfg.KnowledgeBase.PostgresDSN, PostgresDSN)
}
