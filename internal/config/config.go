package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Host        string `yaml:"host" env:"TEXT2SQL_HOST"`
	Port        int    `yaml:"port" env:"TEXT2SQL_PORT"`
	Environment string `yaml:"environment" env:"TEXT2SQL_ENV"`
	APIPrefix   string `yaml:"api_prefix" env:"TEXT2SQL_API_PREFIX"`
	LogLevel    string `yaml:"log_level" env:"TEXT2SQL_LOG_LEVEL"`

	// CORS
	CORSOrigins []string `yaml:"cors_origins" env:"TEXT2SQL_CORS_ORIGINS"`

	// Auth
	APIKeyHeader string   `yaml:"api_key_header" env:"TEXT2SQL_API_KEY_HEADER"`
	APIKeys      []string `yaml:"-" env:"TEXT2SQL_API_KEYS"` // Secret - not in YAML
	EnableAuth   bool     `yaml:"enable_auth" env:"ENABLE_AUTH"`

	// Rate Limiting
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" env:"RATE_LIMIT_PER_MINUTE"`

	// Database
	DatabaseDriver string `yaml:"database_driver" env:"DATABASE_DRIVER"`
	DatabaseDSN    string `yaml:"-" env:"DATABASE_DSN"` // duckdb file path or postgres URL; may hold a password
	PostgresSchema string `yaml:"postgres_schema" env:"POSTGRES_SCHEMA"`
	MetadataTable  string `yaml:"metadata_table" env:"METADATA_TABLE"`
	MetadataFile   string `yaml:"metadata_file" env:"METADATA_FILE"`
	SampleRows     int    `yaml:"sample_rows" env:"SAMPLE_ROWS"`
	SeedOnStart    bool   `yaml:"seed_on_start" env:"SEED_ON_START"`
	SeedOpaque     bool   `yaml:"seed_opaque" env:"SEED_OPAQUE"`

	// BigQuery
	GCPProjectID                 string `yaml:"gcp_project_id" env:"GCP_PROJECT_ID"`
	GoogleApplicationCredentials string `yaml:"google_application_credentials" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	BigQueryLocation             string `yaml:"bigquery_location" env:"BIGQUERY_LOCATION"`
	BigQueryDataset              string `yaml:"bigquery_dataset" env:"BIGQUERY_DATASET"`

	// AI / LLM
	LLMProvider       string        `yaml:"llm_provider" env:"LLM_PROVIDER"`
	LLMModel          string        `yaml:"llm_model" env:"LLM_MODEL"`
	LLMMaxTokens      int64         `yaml:"llm_max_tokens" env:"LLM_MAX_TOKENS"`
	AnthropicAPIKey   string        `yaml:"-" env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL  string        `yaml:"anthropic_base_url" env:"ANTHROPIC_BASE_URL"` // override for custom proxy
	OpenAIAPIKey      string        `yaml:"-" env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `yaml:"openai_base_url" env:"OPENAI_BASE_URL"`
	ErrorMarker       string        `yaml:"error_marker" env:"LLM_ERROR_MARKER"`
	CompletionTimeout time.Duration `yaml:"completion_timeout" env:"COMPLETION_TIMEOUT"`
	ExecutionTimeout  time.Duration `yaml:"execution_timeout" env:"EXECUTION_TIMEOUT"`
	AskTimeout        time.Duration `yaml:"ask_timeout" env:"ASK_TIMEOUT"`

	// Security
	RequireReadOnly         bool     `yaml:"require_read_only" env:"REQUIRE_READ_ONLY"`
	SyntaxPolicy            string   `yaml:"syntax_policy" env:"SYNTAX_POLICY"`
	MaxQueryBytesProcessed  int64    `yaml:"max_query_bytes_processed" env:"MAX_QUERY_BYTES_PROCESSED"`
	EnableQueryCostTracking bool     `yaml:"enable_query_cost_tracking" env:"ENABLE_QUERY_COST_TRACKING"`
	EnableDataMasking       bool     `yaml:"enable_data_masking" env:"ENABLE_DATA_MASKING"`
	EnableQuestionGuard     bool     `yaml:"enable_question_guard" env:"ENABLE_QUESTION_GUARD"`
	SensitiveColumns        []string `yaml:"sensitive_columns" env:"SENSITIVE_COLUMNS"`
	PIIKeywords             []string `yaml:"pii_keywords" env:"PII_KEYWORDS"`
	EnableAuditLogging      bool     `yaml:"enable_audit_logging" env:"ENABLE_AUDIT_LOGGING"`

	// Elasticsearch audit sink
	ElasticsearchEnabled     bool   `yaml:"elasticsearch_enabled" env:"ELASTICSEARCH_ENABLED"`
	ElasticsearchHost        string `yaml:"elasticsearch_host" env:"ELASTICSEARCH_HOST"`
	ElasticsearchPort        int    `yaml:"elasticsearch_port" env:"ELASTICSEARCH_PORT"`
	ElasticsearchScheme      string `yaml:"elasticsearch_scheme" env:"ELASTICSEARCH_SCHEME"`
	ElasticsearchUser        string `yaml:"elasticsearch_user" env:"ELASTICSEARCH_USER"`
	ElasticsearchPassword    string `yaml:"-" env:"ELASTICSEARCH_PASSWORD"`
	ElasticsearchVerifyCerts bool   `yaml:"elasticsearch_verify_certs" env:"ELASTICSEARCH_VERIFY_CERTS"`
	ElasticsearchMaxRetries  int    `yaml:"elasticsearch_max_retries" env:"ELASTICSEARCH_MAX_RETRIES"`
	ElasticsearchIndex       string `yaml:"elasticsearch_index" env:"ELASTICSEARCH_INDEX"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Host:                     DefaultHost,
		Port:                     DefaultPort,
		Environment:              DefaultEnvironment,
		APIPrefix:                DefaultAPIPrefix,
		LogLevel:                 DefaultLogLevel,
		CORSOrigins:              slices.Clone(DefaultCORSOrigins),
		APIKeyHeader:             DefaultAPIKeyHeader,
		EnableAuth:               true,
		RateLimitPerMinute:       DefaultRateLimitPerMinute,
		DatabaseDriver:           DefaultDatabaseDriver,
		PostgresSchema:           DefaultPostgresSchema,
		MetadataTable:            DefaultMetadataTable,
		SampleRows:               DefaultSampleRows,
		BigQueryLocation:         DefaultBigQueryLocation,
		LLMProvider:              DefaultLLMProvider,
		LLMMaxTokens:             DefaultLLMMaxTokens,
		ErrorMarker:              DefaultErrorMarker,
		CompletionTimeout:        DefaultCompletionTimeout,
		ExecutionTimeout:         DefaultExecutionTimeout,
		AskTimeout:               DefaultAskTimeout,
		RequireReadOnly:          true,
		SyntaxPolicy:             DefaultSyntaxPolicy,
		MaxQueryBytesProcessed:   DefaultMaxQueryBytesProcessed,
		EnableQueryCostTracking:  true,
		EnableDataMasking:        true,
		EnableQuestionGuard:      true,
		SensitiveColumns:         slices.Clone(DefaultSensitiveColumns),
		PIIKeywords:              slices.Clone(DefaultPIIKeywords),
		EnableAuditLogging:       true,
		ElasticsearchPort:        DefaultElasticsearchPort,
		ElasticsearchScheme:      DefaultElasticsearchScheme,
		ElasticsearchVerifyCerts: true,
		ElasticsearchMaxRetries:  DefaultElasticsearchMaxRetries,
		ElasticsearchIndex:       DefaultElasticsearchIndex,
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing precedence. A .env file in the working
// directory is loaded first when present. An empty path falls back to
// TEXT2SQL_CONFIG.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("TEXT2SQL_CONFIG")
	}
	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch strings.ToLower(c.DatabaseDriver) {
	case "duckdb", "postgres", "bigquery":
	default:
		errs = append(errs, fmt.Errorf("unknown database_driver %q", c.DatabaseDriver))
	}
	if strings.EqualFold(c.DatabaseDriver, "postgres") && c.DatabaseDSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN is required for postgres"))
	}
	if strings.EqualFold(c.DatabaseDriver, "bigquery") && (c.GCPProjectID == "" || c.BigQueryDataset == "") {
		errs = append(errs, errors.New("gcp_project_id and bigquery_dataset are required for bigquery"))
	}
	switch strings.ToLower(c.LLMProvider) {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown llm_provider %q", c.LLMProvider))
	}
	switch strings.ToLower(c.SyntaxPolicy) {
	case "inconclusive", "reject":
	default:
		errs = append(errs, fmt.Errorf("unknown syntax_policy %q", c.SyntaxPolicy))
	}
	if c.SampleRows < 0 {
		errs = append(errs, errors.New("sample_rows must not be negative"))
	}
	if c.CompletionTimeout <= 0 || c.ExecutionTimeout <= 0 {
		errs = append(errs, errors.New("completion_timeout and execution_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// LLMAPIKey returns the key for the configured provider.
func (c *Config) LLMAPIKey() string {
	if strings.EqualFold(c.LLMProvider, "openai") {
		return c.OpenAIAPIKey
	}
	return c.AnthropicAPIKey
}

// LLMBaseURL returns the endpoint override for the configured provider.
func (c *Config) LLMBaseURL() string {
	if strings.EqualFold(c.LLMProvider, "openai") {
		return c.OpenAIBaseURL
	}
	return c.AnthropicBaseURL
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
