// Package config loads the hierarchical YAML configuration for the
// intelligence processing hub, matching the key layout described in the
// external interfaces contract.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// AIServiceConfig is intelligence_hub.ai_service.*.
type AIServiceConfig struct {
	URL     string   `yaml:"url"`
	Token   string   `yaml:"token"`
	Model   string   `yaml:"model"`
	Proxies []string `yaml:"proxies"`
}

// VectorDBConfig is intelligence_hub.vectordb.*.
type VectorDBConfig struct {
	Enabled            bool   `yaml:"enabled"`
	VectorDBPort       int    `yaml:"vector_db_port"`
	VectorDBPath       string `yaml:"vector_db_path"`
	EmbeddingModelName string `yaml:"embedding_model_name"`

	// Embedding endpoint details. Not part of the upstream key contract
	// (the contract only names the model), but required to actually
	// reach an embedding server; defaults assume an OpenAI-compatible
	// /v1/embeddings endpoint reachable on the loopback interface.
	EmbeddingBaseURL     string `yaml:"embedding_base_url"`
	EmbeddingPath        string `yaml:"embedding_path"`
	EmbeddingAPIKey      string `yaml:"embedding_api_key"`
	EmbeddingAPIHeader   string `yaml:"embedding_api_header"`
	EmbeddingTimeoutSecs int    `yaml:"embedding_timeout_seconds"`
}

// EmbeddingConfig is the subset of VectorDBConfig needed to call the
// embedding HTTP endpoint. Headers carries additional request headers
// (e.g. a gateway's routing key) layered on top of the legacy
// APIHeader/APIKey pair; an entry in Headers takes precedence when both
// name the same header.
type EmbeddingConfig struct {
	Model     string
	BaseURL   string
	Path      string
	APIKey    string
	APIHeader string
	Timeout   int
	Headers   map[string]string
}

// ToEmbeddingConfig projects the embedding-endpoint fields out of
// VectorDBConfig, applying the same OpenAI-compatible defaults used
// elsewhere in the stack.
func (v VectorDBConfig) ToEmbeddingConfig() EmbeddingConfig {
	baseURL := v.EmbeddingBaseURL
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8081"
	}
	path := v.EmbeddingPath
	if path == "" {
		path = "/v1/embeddings"
	}
	header := v.EmbeddingAPIHeader
	if header == "" {
		header = "Authorization"
	}
	return EmbeddingConfig{
		Model:     v.EmbeddingModelName,
		BaseURL:   baseURL,
		Path:      path,
		APIKey:    v.EmbeddingAPIKey,
		APIHeader: header,
		Timeout:   v.EmbeddingTimeoutSecs,
	}
}

// IntelligenceHubConfig is intelligence_hub.*.
type IntelligenceHubConfig struct {
	AIService AIServiceConfig `yaml:"ai_service"`
	VectorDB  VectorDBConfig  `yaml:"vectordb"`
}

// MongoDBConfig is mongodb.* — retained as a key name for compatibility
// with the upstream contract; the adapter behind it is Postgres (see
// internal/docstore), selected because it is the document-database
// driver actually present in the example corpus.
type MongoDBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// RPCAPIConfig holds the RPC token set.
type RPCAPIConfig struct {
	Tokens []string `yaml:"tokens"`
}

// CollectorConfig holds the collector token set.
type CollectorConfig struct {
	Tokens []string `yaml:"tokens"`
}

// ProcessorConfig holds the processor token set.
type ProcessorConfig struct {
	Tokens []string `yaml:"tokens"`
}

// ServiceConfig is intelligence_hub_web_service.service.*.
type ServiceConfig struct {
	HostURL string `yaml:"host_url"`
}

// IntelligenceHubWebServiceConfig is intelligence_hub_web_service.*.
type IntelligenceHubWebServiceConfig struct {
	Service      ServiceConfig   `yaml:"service"`
	RPCAPI       RPCAPIConfig    `yaml:"rpc_api"`
	Collector    CollectorConfig `yaml:"collector"`
	Processor    ProcessorConfig `yaml:"processor"`
	RSSHostPrefix string         `yaml:"rss_host_prefix"`
}

// AIServiceRotatorConfig is ai_service_rotator.*.
type AIServiceRotatorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	KeyFile   string `yaml:"key_file"`
	Threshold float64 `yaml:"threshold"`
}

// HubRuntimeConfig groups the concurrency/scheduling knobs the hub core
// reads at startup. These have no direct counterpart in the external key
// hierarchy contract; they are still exposed under the hub's own key so
// deployments can tune worker counts without recompiling.
type HubRuntimeConfig struct {
	AnalysisWorkers   int           `yaml:"analysis_workers"`
	ClientAcquireWait time.Duration `yaml:"client_acquire_wait"`
	GroupLimit        int           `yaml:"group_limit"`
	HTTPTimeoutLocal  time.Duration `yaml:"http_timeout_local"`
	HTTPTimeoutRemote time.Duration `yaml:"http_timeout_remote"`
	ExportRoot        string        `yaml:"export_root"`
}

// S3SSEConfig configures server-side encryption for S3Store writes.
type S3SSEConfig struct {
	Mode     string `yaml:"mode"` // "", "sse-s3", "sse-kms"
	KMSKeyID string `yaml:"kms_key_id"`
}

// S3Config configures the optional S3 export destination (internal/docstore
// export feature, C1 §6 "export destinations").
type S3Config struct {
	Bucket                string      `yaml:"bucket"`
	Region                string      `yaml:"region"`
	Endpoint              string      `yaml:"endpoint"`
	AccessKey             string      `yaml:"access_key"`
	SecretKey             string      `yaml:"secret_key"`
	Prefix                string      `yaml:"prefix"`
	UsePathStyle          bool        `yaml:"use_path_style"`
	TLSInsecureSkipVerify bool        `yaml:"tls_insecure_skip_verify"`
	SSE                   S3SSEConfig `yaml:"sse"`
}

// ObsConfig configures the OpenTelemetry exporters.
type ObsConfig struct {
	OTLP           string `yaml:"otlp"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
}

// Config is the root configuration object.
type Config struct {
	IntelligenceHub          IntelligenceHubConfig           `yaml:"intelligence_hub"`
	MongoDB                  MongoDBConfig                   `yaml:"mongodb"`
	IntelligenceHubWebService IntelligenceHubWebServiceConfig `yaml:"intelligence_hub_web_service"`
	AIServiceRotator          AIServiceRotatorConfig          `yaml:"ai_service_rotator"`
	Hub                       HubRuntimeConfig                `yaml:"hub"`
	ExportS3                  *S3Config                       `yaml:"export_s3,omitempty"`
	Observability             ObsConfig                       `yaml:"observability"`
}

func defaults() Config {
	return Config{
		Hub: HubRuntimeConfig{
			AnalysisWorkers:   3,
			ClientAcquireWait: time.Second,
			GroupLimit:        4,
			HTTPTimeoutLocal:  20 * time.Second,
			HTTPTimeoutRemote: 35 * time.Second,
			ExportRoot:        "./exports",
		},
	}
}

// Load reads a YAML file at path, applying a ".env"/"example.env" overlay
// first (mirroring the teacher's dotenv-before-YAML load order) and then
// environment-variable overrides for the AI service token and document
// store credentials, since those are the values most often injected by a
// deployment rather than checked into the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("config: failed to read file")
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Error().Err(err).Str("path", path).Msg("config: failed to parse YAML")
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	log.Info().Str("path", path).Msg("config: loaded")
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INTEL_AI_SERVICE_TOKEN"); v != "" {
		cfg.IntelligenceHub.AIService.Token = v
	}
	if v := os.Getenv("INTEL_AI_SERVICE_URL"); v != "" {
		cfg.IntelligenceHub.AIService.URL = v
	}
	if v := os.Getenv("INTEL_MONGODB_PASSWORD"); v != "" {
		cfg.MongoDB.Password = v
	}
	if v := os.Getenv("INTEL_MONGODB_HOST"); v != "" {
		cfg.MongoDB.Host = v
	}
	if v := os.Getenv("INTEL_RPC_TOKENS"); v != "" {
		cfg.IntelligenceHubWebService.RPCAPI.Tokens = splitCSV(v)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PostgresDSN builds a libpq-style connection string from MongoDBConfig's
// fields. The key name is retained from the external contract (mongodb.*)
// even though the adapter behind it is Postgres; see internal/docstore.
func (c MongoDBConfig) PostgresDSN() string {
	db := c.Database
	if db == "" {
		db = "intelhub"
	}
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, strconv.Itoa(c.Port), db, ssl)
}
