// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout bounds a single attempt of an outbound request.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "citation-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// RetryConfig controls the bounded retry policy applied to every external call.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first (default 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1,lte=10"`

	// BaseDelay is the first backoff interval; it doubles on each retry.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay" mapstructure:"base_delay"`

	// Timeout bounds each attempt. Zero disables the per-attempt deadline.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// RateLimitConfig sets the token bucket shared by calls to one service.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `json:"burst" yaml:"burst" mapstructure:"burst" validate:"gte=1"`

	// Services overrides the bucket per limiter key, written
	// service/provider: "completion/gemini", "embedding/openai",
	// "conversion/llamaparse".
	Services map[string]ServiceRate `json:"services,omitempty" yaml:"services,omitempty" mapstructure:"services" validate:"dive"`
}

// ServiceRate is the bucket for one limiter key. A zero burst keeps the
// default burst.
type ServiceRate struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `json:"burst" yaml:"burst" mapstructure:"burst" validate:"gte=0"`
}

// ConversionBackend identifies the document-to-Markdown tool.
type ConversionBackend string

const (
	BackendLlamaParse ConversionBackend = "llamaparse"
	BackendMarkitdown ConversionBackend = "markitdown"
	BackendLocal      ConversionBackend = "local"
)

// ConversionConfig holds settings for the conversion stage.
type ConversionConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Backend selects the conversion tool: llamaparse, markitdown, or local.
	Backend ConversionBackend `json:"backend" yaml:"backend" mapstructure:"backend" validate:"oneof=llamaparse markitdown local"`

	// BaseURL is the parsing service endpoint for the llamaparse backend.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	// APIKey authenticates against the parsing service.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// PollInterval is the delay between job status checks (default 2s).
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`

	// Runtime picks the container runtime for the markitdown backend:
	// auto, docker, or podman.
	Runtime string `json:"runtime" yaml:"runtime" mapstructure:"runtime" validate:"omitempty,oneof=auto docker podman"`

	// Image is the markitdown container image (default markitdown:latest).
	Image string `json:"image" yaml:"image" mapstructure:"image"`
}

// Provider names a generative AI or embedding service.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
)

// AIConfig holds shared settings for stages that call a Generative AI API.
type AIConfig struct {
	// Provider selects the backend: openai, anthropic, gemini, or ollama.
	Provider Provider `json:"provider" yaml:"provider" mapstructure:"provider" validate:"oneof=openai anthropic gemini ollama"`

	// Model is the AI model identifier (e.g. "gpt-4.1-mini").
	Model string `json:"model" yaml:"model" mapstructure:"model" validate:"required"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// BaseURL overrides the provider endpoint (self-hosted or proxy).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	// MaxTokens caps the response length.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=0"`

	// Temperature is the sampling temperature.
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
}

// CompletionConfig assigns a model to each stage that calls a completion service.
type CompletionConfig struct {
	Cleanup  AIConfig `json:"cleanup" yaml:"cleanup" mapstructure:"cleanup"`
	Claims   AIConfig `json:"claims" yaml:"claims" mapstructure:"claims"`
	Metadata AIConfig `json:"metadata" yaml:"metadata" mapstructure:"metadata"`
	Citation AIConfig `json:"citation" yaml:"citation" mapstructure:"citation"`
}

// EmbeddingConfig holds settings for the embedding service.
type EmbeddingConfig struct {
	Provider Provider `json:"provider" yaml:"provider" mapstructure:"provider" validate:"oneof=openai gemini ollama"`
	Model    string   `json:"model" yaml:"model" mapstructure:"model" validate:"required"`
	APIKey   string   `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL  string   `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	// Dimensions is the vector dimension D shared with the reference store.
	Dimensions int `json:"dimensions" yaml:"dimensions" mapstructure:"dimensions" validate:"gt=0"`

	// Prefix is prepended to every text before embedding (e.g. "search_document: ").
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// MatchingConfig holds the ranking and citation selection thresholds.
type MatchingConfig struct {
	// TopK is the number of candidates ranked per claim (default 10).
	TopK int `json:"top_k" yaml:"top_k" mapstructure:"top_k" validate:"gte=1"`

	// MinSimilarity drops candidates below this score before selection.
	MinSimilarity float64 `json:"min_similarity" yaml:"min_similarity" mapstructure:"min_similarity" validate:"gte=-1,lte=1"`

	// FallbackThreshold is the score the top candidate must reach to be
	// selected without the completion service.
	FallbackThreshold float64 `json:"fallback_threshold" yaml:"fallback_threshold" mapstructure:"fallback_threshold" validate:"gte=-1,lte=1"`

	// FallbackOnUnavailable applies the deterministic fallback when the
	// citation service is down instead of leaving the claim unresolved.
	FallbackOnUnavailable bool `json:"fallback_on_unavailable" yaml:"fallback_on_unavailable" mapstructure:"fallback_on_unavailable"`
}

// KnowledgeBaseConfig holds settings for the reference proposition store.
type KnowledgeBaseConfig struct {
	// CSVPath is a tabular proposition file loaded when the database is empty.
	CSVPath string `json:"csv_path,omitempty" yaml:"csv_path,omitempty" mapstructure:"csv_path"`

	// KnowledgeDir contains index/propositions.db and exports.
	KnowledgeDir string `json:"knowledge_dir" yaml:"knowledge_dir" mapstructure:"knowledge_dir" validate:"required"`

	// MaxResults is the default limit for full-text retrieval (default 20).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`

	// PostgresDSN selects the remote pgvector ranker when set.
	PostgresDSN string `json:"postgres_dsn,omitempty" yaml:"postgres_dsn,omitempty" mapstructure:"postgres_dsn"`

	// PostgresTable is the pgvector table name (default "propositions").
	PostgresTable string `json:"postgres_table,omitempty" yaml:"postgres_table,omitempty" mapstructure:"postgres_table"`
}

// PipelineConfig holds batch execution settings.
type PipelineConfig struct {
	// InputDir is scanned for documents by batch and watch.
	InputDir string `json:"input_dir" yaml:"input_dir" mapstructure:"input_dir"`

	// OutputDir receives per-document artifacts and the run manifest.
	OutputDir string `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir" validate:"required"`

	// Workers bounds the number of documents processed concurrently.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers" validate:"gte=1"`

	// ClaimWorkers bounds concurrent per-claim matching within a document.
	ClaimWorkers int `json:"claim_workers" yaml:"claim_workers" mapstructure:"claim_workers" validate:"gte=1"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `json:"format" yaml:"format" mapstructure:"format" validate:"oneof=console json"`
}

// Config groups all stage configurations for the pipeline.
type Config struct {
	Conversion    ConversionConfig    `json:"conversion" yaml:"conversion" mapstructure:"conversion"`
	Completion    CompletionConfig    `json:"completion" yaml:"completion" mapstructure:"completion"`
	Embedding     EmbeddingConfig     `json:"embedding" yaml:"embedding" mapstructure:"embedding"`
	Matching      MatchingConfig      `json:"matching" yaml:"matching" mapstructure:"matching"`
	KnowledgeBase KnowledgeBaseConfig `json:"knowledge_base" yaml:"knowledge_base" mapstructure:"knowledge_base"`
	Pipeline      PipelineConfig      `json:"pipeline" yaml:"pipeline" mapstructure:"pipeline"`
	Retry         RetryConfig         `json:"retry" yaml:"retry" mapstructure:"retry"`
	RateLimit     RateLimitConfig     `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`
	Log           LogConfig           `json:"log" yaml:"log" mapstructure:"log"`
}

// DefaultConfig returns the configuration used when no file or flag
// overrides a value.
func DefaultConfig() Config {
	completion := func(model string, maxTokens int) AIConfig {
		return AIConfig{Provider: ProviderOpenAI, Model: model, MaxTokens: maxTokens, Temperature: 0.1}
	}
	return Config{
		Conversion: ConversionConfig{
			HTTPConfig:   HTTPConfig{Timeout: 2 * time.Minute, UserAgent: "citation-engine/0.1"},
			Backend:      BackendLocal,
			BaseURL:      "https://api.cloud.llamaindex.ai",
			PollInterval: 2 * time.Second,
			Runtime:      "auto",
			Image:        "markitdown:latest",
		},
		Completion: CompletionConfig{
			Cleanup:  AIConfig{Provider: ProviderGemini, Model: "gemini-2.5-flash", MaxTokens: 8192, Temperature: 0.1},
			Claims:   completion("gpt-4.1-mini", 4096),
			Metadata: completion("gpt-4.1-mini", 2048),
			Citation: completion("gpt-4.1-mini", 256),
		},
		Embedding: EmbeddingConfig{
			Provider:   ProviderOpenAI,
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Matching: MatchingConfig{
			TopK:                  10,
			MinSimilarity:         0.5,
			FallbackThreshold:     0.75,
			FallbackOnUnavailable: true,
		},
		KnowledgeBase: KnowledgeBaseConfig{
			KnowledgeDir:  "knowledge",
			MaxResults:    20,
			PostgresTable: "propositions",
		},
		Pipeline: PipelineConfig{
			InputDir:     "input",
			OutputDir:    "output",
			Workers:      2,
			ClaimWorkers: 4,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Timeout:     60 * time.Second,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 5, Burst: 5},
		Log:       LogConfig{Level: "info", Format: "console"},
	}
}
