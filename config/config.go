package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	AuditDatabase *DatabaseConfig // Optional: separate DB for audit logs. When nil, audit uses main DB.
	Auth          AuthConfig
	Sandbox       SandboxConfig
	Services      ServicesConfig
	MCP           MCPConfig
	Pipeline      PipelineConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuthConfig holds bearer token validation settings
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	Issuer    string
	Audience  string
}

// SandboxConfig holds per-engagement sandbox settings
type SandboxConfig struct {
	BasePath      string // engagements live under {BasePath}/engagements/{id}
	PolicyFile    string // optional YAML policy override
	PreviewLength int    // characters of redacted payload kept in audit previews
}

// ServicesConfig holds the opaque model services used by tools
type ServicesConfig struct {
	EmbeddingURL     string
	EmbeddingModel   string
	TranscriptionURL string
	Timeout          time.Duration
}

// MCPConfig holds the tool server used by the pipeline
type MCPConfig struct {
	Enabled   bool
	ServerURL string
	Timeout   time.Duration
}

// PipelineConfig holds the downstream analysis services, one per stage
type PipelineConfig struct {
	DocumentAnalysisURL string
	GapAnalysisURL      string
	InitiativeURL       string
	PrioritizationURL   string
	RoadmapURL          string
	ReportURL           string
	StageTimeout        time.Duration
}

// AuditConfig holds the async audit worker pool settings
type AuditConfig struct {
	BufferSize    int
	WorkerCount   int
	InsertTimeout time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database:      loadDatabaseConfig(),
		AuditDatabase: loadAuditDatabaseConfig(),
		Auth: AuthConfig{
			Enabled:   getEnvAsBool("AUTH_ENABLED", true),
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
			Audience:  getEnv("JWT_AUDIENCE", ""),
		},
		Sandbox: SandboxConfig{
			BasePath:      getEnv("DATA_BASE_PATH", "./data"),
			PolicyFile:    getEnv("POLICY_FILE", ""),
			PreviewLength: getEnvAsInt("AUDIT_PREVIEW_LENGTH", 200),
		},
		Services: ServicesConfig{
			EmbeddingURL:     getEnv("EMBEDDING_SERVICE_URL", "http://localhost:8101"),
			EmbeddingModel:   getEnv("EMBEDDING_MODEL", "all-MiniLM-L6-v2"),
			TranscriptionURL: getEnv("TRANSCRIPTION_SERVICE_URL", "http://localhost:8102"),
			Timeout:          getEnvAsDuration("SERVICES_TIMEOUT", 60*time.Second),
		},
		MCP: MCPConfig{
			Enabled:   getEnvAsBool("MCP_ENABLED", false),
			ServerURL: getEnv("MCP_SERVER_URL", ""),
			Timeout:   getEnvAsDuration("MCP_TIMEOUT", 120*time.Second),
		},
		Pipeline: PipelineConfig{
			DocumentAnalysisURL: getEnv("DOCUMENT_ANALYSIS_URL", "http://localhost:8001"),
			GapAnalysisURL:      getEnv("GAP_ANALYSIS_URL", "http://localhost:8002"),
			InitiativeURL:       getEnv("INITIATIVE_GENERATOR_URL", "http://localhost:8003"),
			PrioritizationURL:   getEnv("PRIORITIZATION_URL", "http://localhost:8004"),
			RoadmapURL:          getEnv("ROADMAP_PLANNER_URL", "http://localhost:8005"),
			ReportURL:           getEnv("REPORT_GENERATOR_URL", "http://localhost:8006"),
			StageTimeout:        getEnvAsDuration("PIPELINE_STAGE_TIMEOUT", 120*time.Second),
		},
		Audit: AuditConfig{
			BufferSize:    getEnvAsInt("AUDIT_BUFFER_SIZE", 10000),
			WorkerCount:   getEnvAsInt("AUDIT_WORKER_COUNT", 5),
			InsertTimeout: getEnvAsDuration("AUDIT_INSERT_TIMEOUT", 5*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when authentication is enabled")
	}
	if c.IsProduction() && !c.Auth.Enabled {
		return fmt.Errorf("authentication cannot be disabled in production")
	}

	if c.Sandbox.BasePath == "" {
		return fmt.Errorf("sandbox base path is required")
	}

	if c.MCP.Enabled && c.MCP.ServerURL == "" {
		return fmt.Errorf("MCP_SERVER_URL is required when MCP is enabled")
	}

	urls := map[string]string{
		"EMBEDDING_SERVICE_URL":     c.Services.EmbeddingURL,
		"TRANSCRIPTION_SERVICE_URL": c.Services.TranscriptionURL,
		"MCP_SERVER_URL":            c.MCP.ServerURL,
		"DOCUMENT_ANALYSIS_URL":     c.Pipeline.DocumentAnalysisURL,
		"GAP_ANALYSIS_URL":          c.Pipeline.GapAnalysisURL,
		"INITIATIVE_GENERATOR_URL":  c.Pipeline.InitiativeURL,
		"PRIORITIZATION_URL":        c.Pipeline.PrioritizationURL,
		"ROADMAP_PLANNER_URL":       c.Pipeline.RoadmapURL,
		"REPORT_GENERATOR_URL":      c.Pipeline.ReportURL,
	}
	for key, value := range urls {
		if value == "" {
			continue
		}
		if err := validateServiceURL(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	if c.Audit.BufferSize <= 0 || c.Audit.WorkerCount <= 0 {
		return fmt.Errorf("audit buffer size and worker count must be positive")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// validateServiceURL accepts absolute http(s) URLs only.
func validateServiceURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// StageURLs returns the pipeline service base URL for each stage name.
func (c *PipelineConfig) StageURLs() map[string]string {
	return map[string]string{
		"document_analysis":     c.DocumentAnalysisURL,
		"gap_analysis":          c.GapAnalysisURL,
		"initiative_generation": c.InitiativeURL,
		"prioritization":        c.PrioritizationURL,
		"roadmap_planning":      c.RoadmapURL,
		"report_generation":     c.ReportURL,
	}
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "maturity"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadAuditDatabaseConfig loads audit DB config from DATABASE_URL_AUDIT.
// Returns nil when not set (audit uses main DB).
func loadAuditDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL_AUDIT", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
