package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the answer engine.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	AuthEnabled     bool          `mapstructure:"auth_enabled"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	StreamKeepAlive time.Duration `mapstructure:"stream_keep_alive"`
}

func (s ServerConfig) Validate() error {
	if s.AuthEnabled && strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret required when auth is enabled")
	}
	return nil
}

// LLMConfig contains generation and embedding provider configurations.
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
	Embedding EmbeddingConfig        `mapstructure:"embedding"`
	Rerank    RerankConfig           `mapstructure:"rerank"`
}

// LLMProvider represents a single generative provider configuration.
type LLMProvider struct {
	Type    string        `mapstructure:"type"` // openai, openai-compatible
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LLMRoutingConfig maps answer profiles to configured models.
// Each value is "provider/model" or just a model key of the first provider.
type LLMRoutingConfig struct {
	Simple       string `mapstructure:"simple"`       // short factual answers
	Deep         string `mapstructure:"deep"`         // analysis, comparisons, recency
	Creative     string `mapstructure:"creative"`     // stories, copywriting
	Verification string `mapstructure:"verification"` // answer self-critique
	Fallback     string `mapstructure:"fallback"`
}

// EmbeddingConfig controls the embedding provider and its batching limits.
type EmbeddingConfig struct {
	Provider  string        `mapstructure:"provider"`
	Model     string        `mapstructure:"model"`
	BatchSize int           `mapstructure:"batch_size"`
	InputCap  int           `mapstructure:"input_cap"` // max chars embedded per text
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// RerankConfig controls the optional cross-encoder second stage.
type RerankConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SourcesConfig contains per-provider search settings. A provider with no
// credential is simply not registered.
type SourcesConfig struct {
	Timeout         time.Duration         `mapstructure:"timeout"`
	Serper          SerperConfig          `mapstructure:"serper"`
	Brave           BraveConfig           `mapstructure:"brave"`
	Wikipedia       WikipediaConfig       `mapstructure:"wikipedia"`
	Reddit          RedditConfig          `mapstructure:"reddit"`
	YouTube         YouTubeConfig         `mapstructure:"youtube"`
	Arxiv           ArxivConfig           `mapstructure:"arxiv"`
	SemanticScholar SemanticScholarConfig `mapstructure:"semantic_scholar"`
}

type SerperConfig struct {
	APIKey     string `mapstructure:"api_key"`
	MaxResults int    `mapstructure:"max_results"`
}

type BraveConfig struct {
	APIKey     string `mapstructure:"api_key"`
	MaxResults int    `mapstructure:"max_results"`
}

type WikipediaConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MaxResults int  `mapstructure:"max_results"`
}

type RedditConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	MaxResults   int    `mapstructure:"max_results"`
}

type YouTubeConfig struct {
	APIKey     string `mapstructure:"api_key"`
	MaxResults int    `mapstructure:"max_results"`
}

type ArxivConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MaxResults int  `mapstructure:"max_results"`
}

type SemanticScholarConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	APIKey     string `mapstructure:"api_key"`
	MaxResults int    `mapstructure:"max_results"`
}

// PipelineConfig carries the tunable constants of the answer pipeline.
// The boost/threshold/diversity values are empirically chosen; they are kept
// configurable rather than re-derived.
type PipelineConfig struct {
	MaxRounds           int     `mapstructure:"max_rounds"`
	ConfidenceBoost     float64 `mapstructure:"confidence_boost"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	MinSourceDiversity  int     `mapstructure:"min_source_diversity"`
	MinWebResults       int     `mapstructure:"min_web_results"`
	ChunkMaxLen         int     `mapstructure:"chunk_max_len"`
	CandidatePool       int     `mapstructure:"candidate_pool"`
	FastCandidatePool   int     `mapstructure:"fast_candidate_pool"`
	TopChunks           int     `mapstructure:"top_chunks"`
	MaxTopChunks        int     `mapstructure:"max_top_chunks"`
	MaxBullets          int     `mapstructure:"max_bullets"`
	SentencesPerChunk   int     `mapstructure:"sentences_per_chunk"`
	MaxImages           int     `mapstructure:"max_images"`
	VerifyByDefault     bool    `mapstructure:"verify_by_default"`
	Contradictions      bool    `mapstructure:"contradictions"`
}

// Normalize applies defaults for unset pipeline values.
func (p PipelineConfig) Normalize() PipelineConfig {
	if p.MaxRounds <= 0 {
		p.MaxRounds = 3
	}
	if p.ConfidenceBoost <= 0 {
		p.ConfidenceBoost = 1.25
	}
	if p.ConfidenceThreshold <= 0 {
		p.ConfidenceThreshold = 0.85
	}
	if p.MinSourceDiversity <= 0 {
		p.MinSourceDiversity = 3
	}
	if p.MinWebResults <= 0 {
		p.MinWebResults = 3
	}
	if p.ChunkMaxLen <= 0 {
		p.ChunkMaxLen = 1500
	}
	if p.CandidatePool <= 0 {
		p.CandidatePool = 40
	}
	if p.FastCandidatePool <= 0 {
		p.FastCandidatePool = 8
	}
	if p.TopChunks <= 0 {
		p.TopChunks = 10
	}
	if p.MaxTopChunks <= 0 {
		p.MaxTopChunks = 36
	}
	if p.MaxBullets <= 0 {
		p.MaxBullets = 18
	}
	if p.SentencesPerChunk <= 0 {
		p.SentencesPerChunk = 3
	}
	if p.MaxImages <= 0 {
		p.MaxImages = 6
	}
	return p
}

// FetchConfig controls page fetching and extraction.
type FetchConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	FastTimeout     time.Duration `mapstructure:"fast_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	MaxChars        int           `mapstructure:"max_chars"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	CacheSize       int           `mapstructure:"cache_size"`
	Headless        bool          `mapstructure:"headless"`
	HeadlessTimeout time.Duration `mapstructure:"headless_timeout"`
}

// Normalize applies sensible fetch defaults.
func (f FetchConfig) Normalize() FetchConfig {
	if f.Timeout <= 0 {
		f.Timeout = 2 * time.Second
	}
	if f.FastTimeout <= 0 {
		f.FastTimeout = 400 * time.Millisecond
	}
	if f.UserAgent == "" {
		f.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}
	if f.MaxBodyBytes <= 0 {
		f.MaxBodyBytes = 2 << 20
	}
	if f.MaxChars <= 0 {
		f.MaxChars = 20000
	}
	if f.CacheTTL <= 0 {
		f.CacheTTL = 10 * time.Minute
	}
	if f.CacheSize <= 0 {
		f.CacheSize = 512
	}
	if f.HeadlessTimeout <= 0 {
		f.HeadlessTimeout = 15 * time.Second
	}
	return f
}

// SessionsConfig controls ephemeral research sessions.
type SessionsConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// StorageConfig contains cache and persistence settings.
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings for the shared cache.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns host:port, empty when Redis is not configured.
func (r RedisConfig) Addr() string {
	if strings.TrimSpace(r.Host) == "" {
		return ""
	}
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

// PostgresConfig contains settings for the answer history store.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a connection string from the individual fields when URL is unset.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	if p.Host == "" || p.DBName == "" {
		return ""
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// TelemetryConfig contains metrics settings.
type TelemetryConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// SchedulerConfig declares recurring saved queries.
type SchedulerConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	Jobs    []SavedQuery `mapstructure:"jobs"`
}

// SavedQuery is a query re-run on a cron schedule, results appended to history.
type SavedQuery struct {
	Name  string `mapstructure:"name"`
	Query string `mapstructure:"query"`
	Cron  string `mapstructure:"cron"`
	Deep  bool   `mapstructure:"deep"`
}

func (s SchedulerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	for _, j := range s.Jobs {
		if strings.TrimSpace(j.Query) == "" {
			return fmt.Errorf("scheduler job %q has empty query", j.Name)
		}
		if strings.TrimSpace(j.Cron) == "" {
			return fmt.Errorf("scheduler job %q has empty cron expression", j.Name)
		}
	}
	return nil
}

// LoadConfig loads config from file, applying FARO_* env overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("faro")
	v.SetConfigType("yaml")

	v.SetDefault("general.max_processing_time", "300s")
	v.SetDefault("general.default_timeout", "15s")
	v.SetDefault("server.address", ":10020")
	v.SetDefault("server.stream_keep_alive", "15s")
	v.SetDefault("llm.embedding.batch_size", 100)
	v.SetDefault("llm.embedding.input_cap", 2000)
	v.SetDefault("llm.embedding.cache_ttl", "1h")
	v.SetDefault("sources.timeout", "10s")
	v.SetDefault("sessions.ttl", "30m")
	v.SetDefault("pipeline.verify_by_default", true)
	v.SetDefault("pipeline.contradictions", true)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("FARO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// config file is optional; env + defaults are enough to boot
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Pipeline = cfg.Pipeline.Normalize()
	cfg.Fetch = cfg.Fetch.Normalize()
	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Scheduler.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
