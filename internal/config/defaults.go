package config

import "time"

const (
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 8000
	DefaultEnvironment  = "development"
	DefaultAPIPrefix    = "/api/v1"
	DefaultLogLevel     = "info"
	DefaultAPIKeyHeader = "X-API-Key"

	DefaultRateLimitPerMinute = 60

	DefaultDatabaseDriver = "duckdb"
	DefaultPostgresSchema = "public"
	DefaultMetadataTable  = "column_metadata"
	DefaultSampleRows     = 0

	DefaultBigQueryLocation = "US"

	DefaultMaxQueryBytesProcessed = 10_000_000_000 // 10GB

	DefaultLLMProvider  = "anthropic"
	DefaultLLMMaxTokens = 1024
	DefaultErrorMarker  = "Error"

	DefaultCompletionTimeout = 60 * time.Second
	DefaultExecutionTimeout  = 60 * time.Second
	DefaultAskTimeout        = 300 * time.Second

	DefaultSyntaxPolicy = "inconclusive"

	DefaultElasticsearchPort       = 9200
	DefaultElasticsearchScheme     = "http"
	DefaultElasticsearchMaxRetries = 3
	DefaultElasticsearchIndex      = "text2sql-audit"

	DefaultCORSMaxAge = 300
)

var DefaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8080",
}

var DefaultSensitiveColumns = []string{
	"email", "phone", "ssn", "social_security_number",
	"credit_card", "password", "secret", "token",
	"api_key", "access_key", "private_key",
}

var DefaultPIIKeywords = []string{
	"password", "ssn", "social security", "credit card",
	"bank account", "secret", "private key",
	"access token", "api key", "personal data",
}
