package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// Config holds the ragbot configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	Knowledge   KnowledgeConfig   `yaml:"knowledge"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	LLM         LLMConfig         `yaml:"llm"`
	VectorStore VectorStoreConfig `yaml:"vectorstore"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Database    DatabaseConfig    `yaml:"database"`
	Cache       CacheConfig       `yaml:"cache"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys       []string `yaml:"api_keys"`   // static service keys, authenticate as admin
	TokenName     string   `yaml:"token_name"` // name recorded for tokens issued by /auth/login
	AdminUsername string   `yaml:"admin_username"`
	AdminPassword string   `yaml:"admin_password"` // first-run bootstrap, ignored once any user exists
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"` // bounds streamed answers too
	ShutdownSec     int      `yaml:"shutdown_timeout_sec"`
	CORSOrigins     []string `yaml:"cors_origins"`
}

// KnowledgeConfig holds knowledge-base settings.
type KnowledgeConfig struct {
	DataDir         string `yaml:"data_dir"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes"`
	WatchDebounceMS int    `yaml:"watch_debounce_ms"`
}

// ChunkingConfig holds chunker settings.
type ChunkingConfig struct {
	Size int `yaml:"size"`
	// Overlap is nil when unset; zero is a valid setting.
	Overlap *int   `yaml:"overlap"`
	Method  string `yaml:"method"` // auto, recursive_only
}

// ProviderConfig holds settings of an OpenAI-compatible provider.
type ProviderConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"` // embeddings only, 0 = model default
}

// EmbeddingConfig holds embedding settings.
type EmbeddingConfig struct {
	Provider          string                    `yaml:"provider"` // modelscope, dashscope, openai
	Providers         map[string]ProviderConfig `yaml:"providers"`
	BatchSize         int                       `yaml:"batch_size"`
	RequestsPerSecond float64                   `yaml:"requests_per_second"` // 0 = unlimited
	Burst             int                       `yaml:"burst"`
	Cache             bool                      `yaml:"cache"`
	CacheTTLSec       int                       `yaml:"cache_ttl_sec"`
}

// LLMConfig holds chat-completion settings.
type LLMConfig struct {
	Provider    string                    `yaml:"provider"` // deepseek, openai
	Providers   map[string]ProviderConfig `yaml:"providers"`
	Temperature *float32                  `yaml:"temperature"`
	MaxTokens   int                       `yaml:"max_tokens"`
	TimeoutSec  int                       `yaml:"timeout_sec"`
}

// VectorStoreConfig holds vector database settings.
type VectorStoreConfig struct {
	Driver              string   `yaml:"driver"` // weaviate, valkey, redis, memory
	URL                 string   `yaml:"url"`
	APIKey              string   `yaml:"api_key"`
	Collection          string   `yaml:"collection"`
	Rebuild             *bool    `yaml:"rebuild"`
	Addrs               []string `yaml:"addrs"`
	Password            string   `yaml:"password"`
	KeyPrefix           string   `yaml:"key_prefix"`
	HNSWM               int      `yaml:"hnsw_m"`
	HNSWEFConstruct     int      `yaml:"hnsw_ef_construction"`
	ReadinessTimeoutSec int      `yaml:"readiness_timeout_sec"`
}

// RetrievalConfig holds retrieval and prompt settings.
type RetrievalConfig struct {
	K                    int      `yaml:"k"`
	FetchK               int      `yaml:"fetch_k"`
	Lambda               *float64 `yaml:"lambda"`
	MinScore             float64  `yaml:"min_score"`
	HistoryTurns         int      `yaml:"history_turns"`
	SkipFingerprintCheck bool     `yaml:"skip_fingerprint_check"`
	Prompt               string   `yaml:"prompt"`
	InsufficientAnswer   string   `yaml:"insufficient_answer"`
}

// DatabaseConfig holds relational storage settings.
type DatabaseConfig struct {
	DSN                string `yaml:"dsn"` // SQLite file path
	MaxOpenConns       int    `yaml:"max_open_conns"`
	MaxIdleConns       int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSec int    `yaml:"conn_max_lifetime_sec"`
}

// CacheConfig holds the Valkey/Redis connection used by the embedding cache.
type CacheConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
}

// DefaultPrompt is the system prompt used when retrieval.prompt is empty.
const DefaultPrompt = `You are a careful assistant. Answer only from the context below and never invent facts.
If the context does not contain the answer, say "I don't know" and that the documents are insufficient.
When you can tell which source file an answer comes from, cite the file name.
{{if .Memory}}
What you know about the user:
{{.Memory}}
{{end}}
Context:
{{.Context}}`

// DefaultInsufficientAnswer is returned without calling the LLM when retrieval finds nothing.
const DefaultInsufficientAnswer = "I don't know: the knowledge base has nothing relevant to this question."

// Base URLs and models of the known providers.
var (
	embeddingDefaults = map[string]ProviderConfig{
		"modelscope": {BaseURL: "https://api-inference.modelscope.cn/v1"},
		"dashscope":  {BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", Model: "text-embedding-v2"},
		"openai":     {BaseURL: "https://api.openai.com/v1", Model: "text-embedding-3-large"},
	}
	llmDefaults = map[string]ProviderConfig{
		"deepseek": {BaseURL: "https://api.deepseek.com", Model: "deepseek-chat"},
		"openai":   {BaseURL: "https://api.openai.com/v1", Model: "gpt-4.1-mini"},
	}
)

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory is loaded first; existing variables win.
func Load(env string) (Config, error) {
	return load(env, (*Config).Validate)
}

// LoadLocal is Load for commands that never call a provider (chunk, user, settings):
// provider credentials are not required.
func LoadLocal(env string) (Config, error) {
	return load(env, (*Config).ValidateLocal)
}

func load(env string, validate func(*Config) error) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 2024
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 300
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Auth.TokenName == "" {
		c.Auth.TokenName = "agent-chat-ui"
	}

	if c.Knowledge.DataDir == "" {
		c.Knowledge.DataDir = "data"
	}
	if c.Knowledge.MaxUploadBytes <= 0 {
		c.Knowledge.MaxUploadBytes = 10 << 20
	}
	if c.Knowledge.WatchDebounceMS <= 0 {
		c.Knowledge.WatchDebounceMS = 2000
	}

	if c.Chunking.Size <= 0 {
		c.Chunking.Size = 800
	}
	if c.Chunking.Overlap == nil {
		// 120 for the default size, scaled down for small chunks
		o := min(120, c.Chunking.Size/4)
		c.Chunking.Overlap = &o
	}
	if c.Chunking.Method == "" {
		c.Chunking.Method = "auto"
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "modelscope"
	}
	c.Embedding.Providers = withProviderDefaults(c.Embedding.Providers, c.Embedding.Provider, embeddingDefaults)
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 64
	}
	if c.Embedding.Burst <= 0 {
		c.Embedding.Burst = 1
	}
	if c.Embedding.CacheTTLSec <= 0 {
		c.Embedding.CacheTTLSec = 30 * 24 * 3600
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "deepseek"
	}
	c.LLM.Providers = withProviderDefaults(c.LLM.Providers, c.LLM.Provider, llmDefaults)
	if c.LLM.Temperature == nil {
		t := float32(0.2)
		c.LLM.Temperature = &t
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = 120
	}

	if c.VectorStore.Driver == "" {
		c.VectorStore.Driver = "weaviate"
	}
	if c.VectorStore.URL == "" {
		c.VectorStore.URL = "http://localhost:8080"
	}
	if c.VectorStore.Collection == "" {
		c.VectorStore.Collection = "RAGChunk"
	}
	if c.VectorStore.Rebuild == nil {
		rebuild := true
		c.VectorStore.Rebuild = &rebuild
	}
	if c.VectorStore.KeyPrefix == "" {
		c.VectorStore.KeyPrefix = "ragbot:"
	}
	if c.VectorStore.HNSWM <= 0 {
		c.VectorStore.HNSWM = 16
	}
	if c.VectorStore.HNSWEFConstruct <= 0 {
		c.VectorStore.HNSWEFConstruct = 200
	}
	if c.VectorStore.ReadinessTimeoutSec <= 0 {
		c.VectorStore.ReadinessTimeoutSec = 10
	}

	if c.Retrieval.K <= 0 {
		c.Retrieval.K = 4
	}
	if c.Retrieval.FetchK <= 0 {
		c.Retrieval.FetchK = 20
	}
	if c.Retrieval.FetchK < c.Retrieval.K {
		c.Retrieval.FetchK = c.Retrieval.K
	}
	if c.Retrieval.Lambda == nil {
		l := 0.5
		c.Retrieval.Lambda = &l
	}
	if c.Retrieval.Prompt == "" {
		c.Retrieval.Prompt = DefaultPrompt
	}
	if c.Retrieval.InsufficientAnswer == "" {
		c.Retrieval.InsufficientAnswer = DefaultInsufficientAnswer
	}

	if c.Database.DSN == "" {
		c.Database.DSN = "ragbot.db"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 4
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 2
	}
	if c.Database.ConnMaxLifetimeSec <= 0 {
		c.Database.ConnMaxLifetimeSec = 3600
	}

	// Valkey vector store doubles as the cache backend when no cache is configured.
	if len(c.Cache.Addrs) == 0 && isValkey(c.VectorStore.Driver) {
		c.Cache.Addrs = c.VectorStore.Addrs
		c.Cache.Password = c.VectorStore.Password
	}
}

func withProviderDefaults(
	providers map[string]ProviderConfig, selected string, defaults map[string]ProviderConfig,
) map[string]ProviderConfig {
	if providers == nil {
		providers = make(map[string]ProviderConfig)
	}
	p := providers[selected]
	d := defaults[selected]
	if p.BaseURL == "" {
		p.BaseURL = d.BaseURL
	}
	if p.Model == "" {
		p.Model = d.Model
	}
	providers[selected] = p
	return providers
}

// Validate checks the configuration for correctness.
// Every failure wraps domain.ErrConfig.
func (c *Config) Validate() error {
	if err := c.ValidateLocal(); err != nil {
		return err
	}

	emb := c.Embedding.Providers[c.Embedding.Provider]
	if emb.APIKey == "" {
		return configError("embedding.providers.%s.api_key is required", c.Embedding.Provider)
	}
	if emb.Model == "" {
		return configError("embedding.providers.%s.model is required", c.Embedding.Provider)
	}
	if c.LLM.Providers[c.LLM.Provider].APIKey == "" {
		return configError("llm.providers.%s.api_key is required", c.LLM.Provider)
	}
	return nil
}

// ValidateLocal checks everything except provider credentials.
func (c *Config) ValidateLocal() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return configError("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if o := *c.Chunking.Overlap; o < 0 || o >= c.Chunking.Size {
		return configError("chunking.overlap (%d) must be between 0 and chunking.size (%d)",
			o, c.Chunking.Size)
	}
	switch c.Chunking.Method {
	case "auto", "recursive_only":
	default:
		return configError("chunking.method must be \"auto\" or \"recursive_only\", got %q", c.Chunking.Method)
	}

	if _, ok := embeddingDefaults[c.Embedding.Provider]; !ok {
		return configError("unknown embedding.provider %q", c.Embedding.Provider)
	}
	if c.Embedding.RequestsPerSecond < 0 {
		return configError("embedding.requests_per_second must not be negative")
	}
	if c.Embedding.Cache && len(c.Cache.Addrs) == 0 {
		return configError("embedding.cache requires cache.addrs")
	}

	if _, ok := llmDefaults[c.LLM.Provider]; !ok {
		return configError("unknown llm.provider %q", c.LLM.Provider)
	}
	if t := *c.LLM.Temperature; t < 0 || t > 2 {
		return configError("llm.temperature must be between 0 and 2, got %v", t)
	}

	switch {
	case c.VectorStore.Driver == "weaviate":
		if c.VectorStore.URL == "" {
			return configError("vectorstore.url is required for weaviate")
		}
	case isValkey(c.VectorStore.Driver):
		if len(c.VectorStore.Addrs) == 0 {
			return configError("vectorstore.addrs is required for %s", c.VectorStore.Driver)
		}
	case c.VectorStore.Driver == "memory":
	default:
		return configError("unknown vectorstore.driver %q", c.VectorStore.Driver)
	}

	if l := *c.Retrieval.Lambda; l < 0 || l > 1 {
		return configError("retrieval.lambda must be between 0 and 1, got %v", l)
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return configError("retrieval.min_score must be between 0 and 1, got %v", c.Retrieval.MinScore)
	}
	if c.Retrieval.HistoryTurns < 0 {
		return configError("retrieval.history_turns must not be negative")
	}
	return nil
}

// EmbeddingModel identifies the configured embedding model.
func (c *Config) EmbeddingModel() domain.EmbeddingModel {
	p := c.Embedding.Providers[c.Embedding.Provider]
	return domain.EmbeddingModel{Provider: c.Embedding.Provider, Model: p.Model, Dimensions: p.Dimensions}
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrConfig, fmt.Sprintf(format, args...))
}

func isValkey(driver string) bool {
	return driver == "valkey" || driver == "redis"
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
