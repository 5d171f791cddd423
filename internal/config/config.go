// Package config provides configuration for askdocs.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so container deployments that set the
// documented variables directly are unaffected by the YAML layer.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. ASKDOCS_CONFIG environment variable
//  3. ~/.askdocs/config.yaml
//  4. ./askdocs.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type File struct {
	// Admin configures the administrative API credential.
	Admin AdminFile `yaml:"admin"`

	// LLM configures the local model daemon connection and generation defaults.
	LLM LLMFile `yaml:"llm"`

	// Embedding configures the embedding model.
	Embedding EmbeddingFile `yaml:"embedding"`

	// Store configures the persistent vector store.
	Store StoreFile `yaml:"store"`

	// Ingest configures upload validation and chunking.
	Ingest IngestFile `yaml:"ingest"`

	// Chat configures retrieval and history budgeting.
	Chat ChatFile `yaml:"chat"`

	// Server configures the HTTP server.
	Server ServerFile `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingFile `yaml:"logging"`

	// Journal configures the SQLite ingest journal.
	Journal JournalFile `yaml:"journal"`
}

// AdminFile holds admin credential settings.
type AdminFile struct {
	// APIKey is the shared secret for admin endpoints. Prefer env var ADMIN_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LLMFile holds model daemon settings.
type LLMFile struct {
	// BaseURL is the model daemon endpoint.
	BaseURL string `yaml:"base_url"`
	// Model is the generation model name.
	Model string `yaml:"model"`
	// Temperature controls response randomness.
	Temperature float32 `yaml:"temperature"`
	// MaxTokens caps the number of generated tokens per response.
	MaxTokens int `yaml:"max_tokens"`
	// RepeatPenalty discourages verbatim repetition.
	RepeatPenalty float32 `yaml:"repeat_penalty"`
	// TimeoutSeconds bounds a non-streaming completion call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// StreamIdleSeconds bounds the gap between consecutive stream chunks.
	StreamIdleSeconds int `yaml:"stream_idle_seconds"`
}

// EmbeddingFile holds embedding model settings.
type EmbeddingFile struct {
	// Model is the embedding model name.
	Model string `yaml:"model"`
}

// StoreFile holds vector store settings.
type StoreFile struct {
	// Dir is the on-disk directory for vectors and metadata.
	Dir string `yaml:"dir"`
	// Collection is the logical collection name within the store.
	Collection string `yaml:"collection"`
}

// IngestFile holds upload and chunking settings.
type IngestFile struct {
	// UploadDir is the directory for retained upload files.
	UploadDir string `yaml:"upload_dir"`
	// MaxFileSizeMB is the upper bound for uploads.
	MaxFileSizeMB int `yaml:"max_file_size_mb"`
	// AllowedExtensions is the comma-separated upload allow-list.
	AllowedExtensions string `yaml:"allowed_extensions"`
	// ChunkSize is the chunk budget in bytes of UTF-8 text, not characters.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the overlap carried between successive chunks.
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// ChatFile holds retrieval and history settings.
type ChatFile struct {
	// TopKResults is the number of chunks retrieved per query.
	TopKResults int `yaml:"top_k_results"`
	// HistoryBudgetTokens caps supplied chat history.
	HistoryBudgetTokens int `yaml:"history_budget_tokens"`
	// CORSOrigins is the comma-separated origin allow-list.
	CORSOrigins string `yaml:"cors_origins"`
}

// ServerFile holds HTTP server settings.
type ServerFile struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// RateLimitRPS is the sustained per-IP request rate on chat endpoints.
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	// RateLimitBurst is the per-IP burst size on chat endpoints.
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// LoggingFile holds structured logging settings.
type LoggingFile struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// JournalFile holds ingest journal settings.
type JournalFile struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*File) string
}{
	{"ADMIN_API_KEY", func(f *File) string { return f.Admin.APIKey }},
	{"LLM_BASE_URL", func(f *File) string { return f.LLM.BaseURL }},
	{"LLM_MODEL", func(f *File) string { return f.LLM.Model }},
	{"LLM_TEMPERATURE", func(f *File) string { return float32Str(f.LLM.Temperature) }},
	{"LLM_MAX_TOKENS", func(f *File) string { return intStr(f.LLM.MaxTokens) }},
	{"LLM_REPEAT_PENALTY", func(f *File) string { return float32Str(f.LLM.RepeatPenalty) }},
	{"LLM_TIMEOUT_SECONDS", func(f *File) string { return intStr(f.LLM.TimeoutSeconds) }},
	{"LLM_STREAM_IDLE_SECONDS", func(f *File) string { return intStr(f.LLM.StreamIdleSeconds) }},
	{"EMBEDDING_MODEL", func(f *File) string { return f.Embedding.Model }},
	{"VECTOR_STORE_DIR", func(f *File) string { return f.Store.Dir }},
	{"COLLECTION_NAME", func(f *File) string { return f.Store.Collection }},
	{"UPLOAD_DIR", func(f *File) string { return f.Ingest.UploadDir }},
	{"MAX_FILE_SIZE_MB", func(f *File) string { return intStr(f.Ingest.MaxFileSizeMB) }},
	{"ALLOWED_EXTENSIONS", func(f *File) string { return f.Ingest.AllowedExtensions }},
	{"CHUNK_SIZE", func(f *File) string { return intStr(f.Ingest.ChunkSize) }},
	{"CHUNK_OVERLAP", func(f *File) string { return intStr(f.Ingest.ChunkOverlap) }},
	{"TOP_K_RESULTS", func(f *File) string { return intStr(f.Chat.TopKResults) }},
	{"HISTORY_BUDGET_TOKENS", func(f *File) string { return intStr(f.Chat.HistoryBudgetTokens) }},
	{"CORS_ORIGINS", func(f *File) string { return f.Chat.CORSOrigins }},
	{"SERVER_HOST", func(f *File) string { return f.Server.Host }},
	{"SERVER_PORT", func(f *File) string { return intStr(f.Server.Port) }},
	{"RATE_LIMIT_RPS", func(f *File) string { return floatStr(f.Server.RateLimitRPS) }},
	{"RATE_LIMIT_BURST", func(f *File) string { return intStr(f.Server.RateLimitBurst) }},
	{"LOG_LEVEL", func(f *File) string { return f.Logging.Level }},
	{"LOG_FORMAT", func(f *File) string { return f.Logging.Format }},
	{"JOURNAL_DB_PATH", func(f *File) string { return f.Journal.DBPath }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&f)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("ASKDOCS_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".askdocs", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("askdocs.yaml"); err == nil {
		return "askdocs.yaml"
	}

	return ""
}

// Settings is the fully resolved runtime configuration. It is built once at
// startup by [FromEnv], validated by [Settings.Validate], and treated as
// read-only for the process lifetime.
type Settings struct {
	// AdminAPIKey is the shared secret required on admin endpoints.
	AdminAPIKey string
	// LLMBaseURL is the model daemon base URL.
	LLMBaseURL string
	// LLMModel is the generation model name sent with every request.
	LLMModel string
	// LLMTemperature is the default sampling temperature.
	LLMTemperature float32
	// LLMMaxTokens is the default generation token cap.
	LLMMaxTokens int
	// LLMRepeatPenalty is the default repetition penalty.
	LLMRepeatPenalty float32
	// LLMTimeout bounds a non-streaming completion call.
	LLMTimeout time.Duration
	// LLMStreamIdleTimeout bounds the gap between consecutive stream chunks.
	LLMStreamIdleTimeout time.Duration
	// EmbeddingModel is the embedding model name. Changing it invalidates
	// existing collections.
	EmbeddingModel string
	// VectorStoreDir is the on-disk directory for vectors and metadata.
	VectorStoreDir string
	// CollectionName is the logical collection within the store.
	CollectionName string
	// UploadDir is the directory for retained upload files.
	UploadDir string
	// MaxFileSizeMB is the upper bound for ingestion uploads.
	MaxFileSizeMB int
	// AllowedExtensions is the upload extension allow-list (with leading dots).
	AllowedExtensions []string
	// ChunkSize is the chunk budget in bytes of UTF-8 text, not characters.
	ChunkSize int
	// ChunkOverlap is the overlap carried between successive chunks.
	ChunkOverlap int
	// TopKResults is the number of chunks retrieved per query.
	TopKResults int
	// HistoryBudgetTokens is the approximate cap on supplied chat history.
	HistoryBudgetTokens int
	// CORSOrigins is the origin allow-list for browser callers.
	CORSOrigins []string
	// ServerHost is the HTTP bind address.
	ServerHost string
	// ServerPort is the HTTP TCP port.
	ServerPort int
	// RateLimitRPS is the sustained per-IP request rate on chat endpoints.
	RateLimitRPS float64
	// RateLimitBurst is the per-IP burst size on chat endpoints.
	RateLimitBurst int
	// JournalDBPath is the SQLite ingest journal path ("disabled" disables).
	JournalDBPath string
}

// FromEnv builds Settings from the process environment, applying documented
// defaults for every unset option. It does not validate — call
// [Settings.Validate] before use.
func FromEnv() *Settings {
	return &Settings{
		AdminAPIKey:          os.Getenv("ADMIN_API_KEY"),
		LLMBaseURL:           envStr("LLM_BASE_URL", "http://localhost:11434"),
		LLMModel:             envStr("LLM_MODEL", "llama3.2"),
		LLMTemperature:       envFloat32("LLM_TEMPERATURE", 0.3),
		LLMMaxTokens:         envInt("LLM_MAX_TOKENS", 512),
		LLMRepeatPenalty:     envFloat32("LLM_REPEAT_PENALTY", 1.2),
		LLMTimeout:           time.Duration(envInt("LLM_TIMEOUT_SECONDS", 120)) * time.Second,
		LLMStreamIdleTimeout: time.Duration(envInt("LLM_STREAM_IDLE_SECONDS", 30)) * time.Second,
		EmbeddingModel:       envStr("EMBEDDING_MODEL", "nomic-embed-text"),
		VectorStoreDir:       envStr("VECTOR_STORE_DIR", "./data/vectors"),
		CollectionName:       envStr("COLLECTION_NAME", "documents"),
		UploadDir:            envStr("UPLOAD_DIR", "./data/uploads"),
		MaxFileSizeMB:        envInt("MAX_FILE_SIZE_MB", 10),
		AllowedExtensions:    splitList(envStr("ALLOWED_EXTENSIONS", ".pdf,.md,.txt,.docx")),
		ChunkSize:            envInt("CHUNK_SIZE", 2000),
		ChunkOverlap:         envInt("CHUNK_OVERLAP", 200),
		TopKResults:          envInt("TOP_K_RESULTS", 5),
		HistoryBudgetTokens:  envInt("HISTORY_BUDGET_TOKENS", 2000),
		CORSOrigins:          splitList(os.Getenv("CORS_ORIGINS")),
		ServerHost:           envStr("SERVER_HOST", "127.0.0.1"),
		ServerPort:           envInt("SERVER_PORT", 8080),
		RateLimitRPS:         envFloat64("RATE_LIMIT_RPS", 10),
		RateLimitBurst:       envInt("RATE_LIMIT_BURST", 20),
		JournalDBPath:        envStr("JOURNAL_DB_PATH", "./data/journal.db"),
	}
}

// minAdminKeyLen is the minimum accepted length for ADMIN_API_KEY.
const minAdminKeyLen = 16

// Validate checks the settings for configuration errors. Any error returned
// here is fatal at startup — the process must not serve with a partially
// valid configuration.
func (s *Settings) Validate() error {
	if len(s.AdminAPIKey) < minAdminKeyLen {
		return fmt.Errorf("config: ADMIN_API_KEY must be set and at least %d characters", minAdminKeyLen)
	}
	if s.ChunkSize <= 0 {
		return fmt.Errorf("config: CHUNK_SIZE must be positive, got %d", s.ChunkSize)
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		return fmt.Errorf("config: CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d with CHUNK_SIZE=%d",
			s.ChunkOverlap, s.ChunkSize)
	}
	if s.MaxFileSizeMB <= 0 {
		return fmt.Errorf("config: MAX_FILE_SIZE_MB must be positive, got %d", s.MaxFileSizeMB)
	}
	if s.TopKResults <= 0 {
		return fmt.Errorf("config: TOP_K_RESULTS must be positive, got %d", s.TopKResults)
	}
	if s.HistoryBudgetTokens < 0 {
		return fmt.Errorf("config: HISTORY_BUDGET_TOKENS must not be negative, got %d", s.HistoryBudgetTokens)
	}
	if len(s.AllowedExtensions) == 0 {
		return fmt.Errorf("config: ALLOWED_EXTENSIONS must name at least one extension")
	}
	for _, ext := range s.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("config: ALLOWED_EXTENSIONS entries must start with a dot, got %q", ext)
		}
	}
	if s.ServerPort <= 0 || s.ServerPort > 65535 {
		return fmt.Errorf("config: SERVER_PORT must be a valid TCP port, got %d", s.ServerPort)
	}
	return nil
}

// MaxFileSizeBytes returns the upload size bound in bytes.
func (s *Settings) MaxFileSizeBytes() int64 {
	return int64(s.MaxFileSizeMB) << 20
}

// envStr returns the env var value or def when unset or empty.
func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt returns the env var parsed as int, or def when unset or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// envFloat32 returns the env var parsed as float32, or def when unset or unparseable.
func envFloat32(key string, def float32) float32 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return def
	}
	return float32(f)
}

// envFloat64 returns the env var parsed as float64, or def when unset or unparseable.
func envFloat64(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// splitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// floatStr converts a float64 to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}
