// Package config loads and validates mnemo's runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"mnemo/internal/mnemoerr"
)

// MarkerConfig controls automatic marker detection.
type MarkerConfig struct {
	AutoDetect bool               `yaml:"auto_detect_markers"`
	Weights    map[string]float64 `yaml:"marker_weights"`
}

// EpisodeConfig controls episode boundary behavior.
type EpisodeConfig struct {
	MaxTurnsPerEpisode int      `yaml:"max_turns_per_episode"`
	MaxTimeGapSeconds  int      `yaml:"max_time_gap_seconds"`
	CloseOnToolResult  bool     `yaml:"close_on_tool_result"`
	CloseOnPatterns    []string `yaml:"close_on_patterns"`
}

// MaxTimeGap returns the configured time gap as a duration.
func (e EpisodeConfig) MaxTimeGap() time.Duration {
	return time.Duration(e.MaxTimeGapSeconds) * time.Second
}

// RecallConfig controls the recall pipeline's defaults.
type RecallConfig struct {
	DefaultTokenBudget      int     `yaml:"default_token_budget"`
	CurrentEpisodeBudgetPct float64 `yaml:"current_episode_budget_pct"`
	VectorSearchK           int     `yaml:"vector_search_k"`
}

// ReflectionConfig controls the reflection runner.
type ReflectionConfig struct {
	Enabled                   bool    `yaml:"enabled"`
	MinEpisodeTurns           int     `yaml:"min_episode_turns"`
	MaxFactsPerEpisode        int     `yaml:"max_facts_per_episode"`
	ConsolidationSimilarity   float64 `yaml:"consolidation_similarity_threshold"`
	DedupSimilarityThreshold  float64 `yaml:"dedup_similarity_threshold"`
}

// RetryConfig configures the backoff policy built by retry.New.
type RetryConfig struct {
	MaxAttempts     int     `yaml:"max_attempts"`
	BaseDelay       string  `yaml:"base_delay"`
	MaxDelay        string  `yaml:"max_delay"`
	ExponentialBase float64 `yaml:"exponential_base"`
	Jitter          bool    `yaml:"jitter"`
}

// BaseDelayDuration parses BaseDelay, defaulting to 500ms on error.
func (r RetryConfig) BaseDelayDuration() time.Duration {
	d, err := time.ParseDuration(r.BaseDelay)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// MaxDelayDuration parses MaxDelay, defaulting to 30s on error.
func (r RetryConfig) MaxDelayDuration() time.Duration {
	d, err := time.ParseDuration(r.MaxDelay)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend          string `yaml:"backend"` // "memory", "postgres", "qdrant"
	ConnectionString string `yaml:"connection_string"`
	QdrantAddr       string `yaml:"qdrant_addr,omitempty"`
	QdrantCollection string `yaml:"qdrant_collection,omitempty"`
}

// ProviderConfig configures the embedder and reflector HTTP endpoints.
type ProviderConfig struct {
	EmbedderHost     string `yaml:"embedder_host"`
	EmbedderAPIKey   string `yaml:"embedder_api_key,omitempty"`
	EmbedderModel    string `yaml:"embedder_model,omitempty"`
	EmbeddingDims    int    `yaml:"embedding_dimensions"`
	ReflectorHost    string `yaml:"reflector_host"`
	ReflectorAPIKey  string `yaml:"reflector_api_key,omitempty"`
	ReflectorModel   string `yaml:"reflector_model,omitempty"`
	ReflectorBackend string `yaml:"reflector_backend"` // "openai", "anthropic"
}

// ObsConfig controls optional OpenTelemetry wiring.
type ObsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty"`
	ServiceName string `yaml:"service_name,omitempty"`
}

// Config is the root configuration object for a mnemo session facade.
type Config struct {
	Marker     MarkerConfig      `yaml:"marker"`
	Episode    EpisodeConfig     `yaml:"episode"`
	Recall     RecallConfig      `yaml:"recall"`
	Reflection ReflectionConfig  `yaml:"reflection"`
	Retry      RetryConfig       `yaml:"retry"`
	Storage    StorageConfig     `yaml:"storage"`
	Providers  ProviderConfig    `yaml:"providers"`
	OTel       ObsConfig         `yaml:"otel"`
}

// Default returns a Config populated with the documented defaults.
func Default() Config {
	return Config{
		Marker: MarkerConfig{
			AutoDetect: true,
			Weights: map[string]float64{
				"constraint": 0.4,
				"decision":   0.3,
				"goal":       0.3,
				"failure":    0.2,
				"custom:*":   0.2,
			},
		},
		Episode: EpisodeConfig{
			MaxTurnsPerEpisode: 6,
			MaxTimeGapSeconds:  1800,
			CloseOnToolResult:  false,
			CloseOnPatterns:    nil,
		},
		Recall: RecallConfig{
			DefaultTokenBudget:      2000,
			CurrentEpisodeBudgetPct: 0.4,
			VectorSearchK:           10,
		},
		Reflection: ReflectionConfig{
			Enabled:                  true,
			MinEpisodeTurns:          3,
			MaxFactsPerEpisode:       10,
			ConsolidationSimilarity:  0.3,
			DedupSimilarityThreshold: 0.95,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			BaseDelay:       "500ms",
			MaxDelay:        "30s",
			ExponentialBase: 2.0,
			Jitter:          true,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Providers: ProviderConfig{
			ReflectorBackend: "openai",
		},
	}
}

// LoadConfig reads a YAML configuration file, applies defaults for anything
// left unset, and validates the result.
func LoadConfig(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		pterm.Error.Printf("error reading config file: %v\n", err)
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		pterm.Error.Printf("error unmarshaling config: %v\n", err)
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyZeroDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pterm.Success.Println("configuration loaded successfully")
	return &cfg, nil
}

// applyZeroDefaults fills in fields the YAML document left at their zero
// value with the documented default, mirroring the teacher's post-unmarshal
// defaulting pattern.
func applyZeroDefaults(cfg *Config) {
	def := Default()

	if cfg.Marker.Weights == nil {
		cfg.Marker.Weights = def.Marker.Weights
	}
	if cfg.Episode.MaxTurnsPerEpisode <= 0 {
		cfg.Episode.MaxTurnsPerEpisode = def.Episode.MaxTurnsPerEpisode
	}
	if cfg.Episode.MaxTimeGapSeconds <= 0 {
		cfg.Episode.MaxTimeGapSeconds = def.Episode.MaxTimeGapSeconds
	}
	if cfg.Recall.DefaultTokenBudget <= 0 {
		cfg.Recall.DefaultTokenBudget = def.Recall.DefaultTokenBudget
	}
	if cfg.Recall.CurrentEpisodeBudgetPct == 0 {
		cfg.Recall.CurrentEpisodeBudgetPct = def.Recall.CurrentEpisodeBudgetPct
	}
	if cfg.Recall.VectorSearchK <= 0 {
		cfg.Recall.VectorSearchK = def.Recall.VectorSearchK
	}
	if cfg.Reflection.MinEpisodeTurns <= 0 {
		cfg.Reflection.MinEpisodeTurns = def.Reflection.MinEpisodeTurns
	}
	if cfg.Reflection.MaxFactsPerEpisode <= 0 {
		cfg.Reflection.MaxFactsPerEpisode = def.Reflection.MaxFactsPerEpisode
	}
	if cfg.Reflection.ConsolidationSimilarity == 0 {
		cfg.Reflection.ConsolidationSimilarity = def.Reflection.ConsolidationSimilarity
	}
	if cfg.Reflection.DedupSimilarityThreshold == 0 {
		cfg.Reflection.DedupSimilarityThreshold = def.Reflection.DedupSimilarityThreshold
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if cfg.Retry.BaseDelay == "" {
		cfg.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay == "" {
		cfg.Retry.MaxDelay = def.Retry.MaxDelay
	}
	if cfg.Retry.ExponentialBase == 0 {
		cfg.Retry.ExponentialBase = def.Retry.ExponentialBase
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = def.Storage.Backend
	}
	if cfg.Providers.ReflectorBackend == "" {
		cfg.Providers.ReflectorBackend = def.Providers.ReflectorBackend
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "mnemo"
	}
}

// Validate reports configuration values that are out of the documented
// range, returning mnemoerr.ErrValidation wrapped with the specific cause.
func (c Config) Validate() error {
	if c.Recall.CurrentEpisodeBudgetPct < 0 || c.Recall.CurrentEpisodeBudgetPct > 1 {
		return fmt.Errorf("%w: current_episode_budget_pct must be in [0,1], got %f",
			mnemoerr.ErrValidation, c.Recall.CurrentEpisodeBudgetPct)
	}
	if c.Recall.DefaultTokenBudget <= 0 {
		return fmt.Errorf("%w: default_token_budget must be positive", mnemoerr.ErrValidation)
	}
	if c.Reflection.ConsolidationSimilarity < 0 || c.Reflection.ConsolidationSimilarity > 1 {
		return fmt.Errorf("%w: consolidation_similarity_threshold must be in [0,1]", mnemoerr.ErrValidation)
	}
	if c.Reflection.DedupSimilarityThreshold < 0 || c.Reflection.DedupSimilarityThreshold > 1 {
		return fmt.Errorf("%w: dedup_similarity_threshold must be in [0,1]", mnemoerr.ErrValidation)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry.max_attempts must be >= 1", mnemoerr.ErrValidation)
	}
	switch c.Storage.Backend {
	case "memory", "postgres", "qdrant":
	default:
		return fmt.Errorf("%w: unrecognized storage backend %q", mnemoerr.ErrValidation, c.Storage.Backend)
	}
	for _, pat := range c.Episode.CloseOnPatterns {
		if pat == "" {
			return fmt.Errorf("%w: close_on_patterns entries must not be empty", mnemoerr.ErrValidation)
		}
	}
	return nil
}
