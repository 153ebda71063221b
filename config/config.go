package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server settings
	ServerPort   string        `json:"server_port" yaml:"server_port"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	Debug        bool          `json:"debug" yaml:"debug"`

	// Application paths
	LogDir    string `json:"log_dir" yaml:"log_dir"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
	DataDir   string `json:"data_dir" yaml:"data_dir"`
	StaticDir string `json:"static_dir" yaml:"static_dir"`

	Middleware MiddlewareConfig `json:"middleware" yaml:"middleware"`
	CORS       CORSConfig       `json:"cors" yaml:"cors"`
	RateLimit  RateLimitConfig  `json:"rate_limit" yaml:"rate_limit"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Models     ModelsConfig     `json:"models" yaml:"models"`
	Scripts    ScriptsConfig    `json:"scripts" yaml:"scripts"`
	Transcript TranscriptConfig `json:"transcript" yaml:"transcript"`
	QA         QAConfig         `json:"qa" yaml:"qa"`

	Version string `json:"version" yaml:"version"`

	// Request and shutdown timeouts
	RequestTimeout  time.Duration `json:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type MiddlewareConfig struct {
	EnableRecover   bool `json:"enable_recover" yaml:"enable_recover"`
	EnableRequestID bool `json:"enable_request_id" yaml:"enable_request_id"`
	EnableLogger    bool `json:"enable_logger" yaml:"enable_logger"`
	EnableTimeout   bool `json:"enable_timeout" yaml:"enable_timeout"`
	EnableCORS      bool `json:"enable_cors" yaml:"enable_cors"`
	EnableRateLimit bool `json:"enable_rate_limit" yaml:"enable_rate_limit"`
}

type CORSConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers" yaml:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers" yaml:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           int      `json:"max_age" yaml:"max_age"`
}

type RateLimitConfig struct {
	Enabled           bool `json:"enabled" yaml:"enabled"`
	RequestsPerMinute int  `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int  `json:"burst_size" yaml:"burst_size"`
}

// StoreConfig selects where the current transcript is cached.
type StoreConfig struct {
	Backend string `json:"backend" yaml:"backend"` // file, sqlite, redis or spaces

	Dir        string `json:"dir" yaml:"dir"`
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path"`

	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"-" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	RedisKey      string `json:"redis_key" yaml:"redis_key"`

	Spaces SpacesConfig `json:"spaces" yaml:"spaces"`
}

type SpacesConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Region    string `json:"region" yaml:"region"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	AccessKey string `json:"-" yaml:"access_key"`
	SecretKey string `json:"-" yaml:"secret_key"`
	Key       string `json:"key" yaml:"key"`
	PathStyle bool   `json:"path_style" yaml:"path_style"`
}

// ModelsConfig points at the local model cache populated by fetch-models.
type ModelsConfig struct {
	Dir              string `json:"dir" yaml:"dir"`
	SummarizationDir string `json:"summarization_dir" yaml:"summarization_dir"`
	SentimentDir     string `json:"sentiment_dir" yaml:"sentiment_dir"`
	KeywordsDir      string `json:"keywords_dir" yaml:"keywords_dir"`
	QADir            string `json:"qa_dir" yaml:"qa_dir"`
	ManifestPath     string `json:"manifest_path" yaml:"manifest_path"`

	Backend        string `json:"backend" yaml:"backend"`                 // scripts or onnx
	SummaryBackend string `json:"summary_backend" yaml:"summary_backend"` // scripts or openai

	ONNXLibraryPath string `json:"onnx_library_path" yaml:"onnx_library_path"`

	OpenAI OpenAIConfig `json:"openai" yaml:"openai"`
}

type OpenAIConfig struct {
	APIKey  string `json:"-" yaml:"api_key"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
}

type ScriptsConfig struct {
	PythonPath  string        `json:"python_path" yaml:"python_path"`
	ScriptsPath string        `json:"scripts_path" yaml:"scripts_path"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	Environment []string      `json:"environment" yaml:"environment"`
	// Preload loads the script pipelines' models into the worker at startup.
	Preload bool `json:"preload" yaml:"preload"`
}

type TranscriptConfig struct {
	Languages    []string      `json:"languages" yaml:"languages"`
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
}

type QAConfig struct {
	ChunkSize   int `json:"chunk_size" yaml:"chunk_size"`
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreSpaces = "spaces"

	BackendScripts = "scripts"
	BackendONNX    = "onnx"
	BackendOpenAI  = "openai"
)

func defaultDevConfig() MiddlewareConfig {
	return MiddlewareConfig{
		EnableRecover:   true,
		EnableRequestID: true,
		EnableLogger:    true,
		EnableTimeout:   false, // model calls are slow on CPU
		EnableCORS:      true,
		EnableRateLimit: false,
	}
}

func defaultProdConfig() MiddlewareConfig {
	return MiddlewareConfig{
		EnableRecover:   true,
		EnableRequestID: true,
		EnableLogger:    true,
		EnableTimeout:   true,
		EnableCORS:      true,
		EnableRateLimit: true,
	}
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg := &Config{
		ServerPort:   "8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,

		LogDir:    "./logs",
		LogLevel:  "info",
		DataDir:   "./data",
		StaticDir: "./static",

		Version: "1.0.0",

		RequestTimeout:  10 * time.Minute,
		ShutdownTimeout: 30 * time.Second,

		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         86400,
		},

		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},

		Store: StoreConfig{
			Backend:    StoreFile,
			RedisAddr:  "localhost:6379",
			RedisKey:   "yt-analyze:transcript",
			Spaces:     SpacesConfig{Region: "us-east-1", Key: "transcripts/current.json"},
			SQLitePath: "",
		},

		Models: ModelsConfig{
			Dir:              "./models",
			SummarizationDir: "summarization",
			SentimentDir:     "sentiment-analysis",
			KeywordsDir:      "keyword-extraction",
			QADir:            "question-answering",
			ManifestPath:     "./models.yaml",
			Backend:          BackendScripts,
			SummaryBackend:   BackendScripts,
			OpenAI:           OpenAIConfig{Model: "gpt-4o-mini"},
		},

		Scripts: ScriptsConfig{
			PythonPath:  "python3",
			ScriptsPath: "./python",
			Timeout:     5 * time.Minute,
			Preload:     true,
		},

		Transcript: TranscriptConfig{
			Languages:    []string{"en"},
			FetchTimeout: time.Minute,
		},

		QA: QAConfig{
			ChunkSize:   512,
			Concurrency: 1,
		},

		Middleware: defaultDevConfig(),
	}
	return cfg
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, then environment variables (a .env file is read first if present).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Failed to read .env file")
	}

	cfg := Default()
	if os.Getenv("ENV") == "production" {
		cfg.Middleware = defaultProdConfig()
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return nil
}

func (c *Config) applyEnv() {
	// Server settings
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.ReadTimeout = getEnvAsDuration("READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = getEnvAsDuration("WRITE_TIMEOUT", c.WriteTimeout)
	c.IdleTimeout = getEnvAsDuration("IDLE_TIMEOUT", c.IdleTimeout)
	c.Debug = getEnvAsBool("DEBUG", c.Debug)
	c.Version = getEnv("VERSION", c.Version)
	c.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	// Application paths
	c.LogDir = getEnv("LOG_DIR", c.LogDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.StaticDir = getEnv("STATIC_DIR", c.StaticDir)

	// CORS
	c.CORS.Enabled = getEnvAsBool("CORS_ENABLED", c.CORS.Enabled)
	c.CORS.AllowedOrigins = getEnvAsStringSlice("CORS_ALLOWED_ORIGINS", c.CORS.AllowedOrigins)
	c.CORS.AllowedMethods = getEnvAsStringSlice("CORS_ALLOWED_METHODS", c.CORS.AllowedMethods)
	c.CORS.AllowedHeaders = getEnvAsStringSlice("CORS_ALLOWED_HEADERS", c.CORS.AllowedHeaders)
	c.CORS.ExposedHeaders = getEnvAsStringSlice("CORS_EXPOSED_HEADERS", c.CORS.ExposedHeaders)
	c.CORS.AllowCredentials = getEnvAsBool("CORS_ALLOW_CREDENTIALS", c.CORS.AllowCredentials)
	c.CORS.MaxAge = getEnvAsInt("CORS_MAX_AGE", c.CORS.MaxAge)

	// Rate limiting
	c.RateLimit.Enabled = getEnvAsBool("RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RequestsPerMinute = getEnvAsInt("RATE_LIMIT_RPM", c.RateLimit.RequestsPerMinute)
	c.RateLimit.BurstSize = getEnvAsInt("RATE_LIMIT_BURST", c.RateLimit.BurstSize)

	// Transcript store
	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.Dir = getEnv("STORE_DIR", c.Store.Dir)
	c.Store.SQLitePath = getEnv("DB_PATH", c.Store.SQLitePath)
	c.Store.RedisAddr = getEnv("REDIS_ADDR", c.Store.RedisAddr)
	c.Store.RedisPassword = getEnv("REDIS_PASSWORD", c.Store.RedisPassword)
	c.Store.RedisDB = getEnvAsInt("REDIS_DB", c.Store.RedisDB)
	c.Store.RedisKey = getEnv("REDIS_KEY", c.Store.RedisKey)
	c.Store.Spaces.Endpoint = getEnv("SPACES_ENDPOINT", c.Store.Spaces.Endpoint)
	c.Store.Spaces.Region = getEnv("SPACES_REGION", c.Store.Spaces.Region)
	c.Store.Spaces.Bucket = getEnv("SPACES_BUCKET", c.Store.Spaces.Bucket)
	c.Store.Spaces.AccessKey = getEnv("SPACES_ACCESS_KEY", c.Store.Spaces.AccessKey)
	c.Store.Spaces.SecretKey = getEnv("SPACES_SECRET_KEY", c.Store.Spaces.SecretKey)
	c.Store.Spaces.Key = getEnv("SPACES_KEY", c.Store.Spaces.Key)
	c.Store.Spaces.PathStyle = getEnvAsBool("SPACES_PATH_STYLE", c.Store.Spaces.PathStyle)

	// Models
	c.Models.Dir = getEnv("MODELS_DIR", c.Models.Dir)
	c.Models.ManifestPath = getEnv("MODELS_MANIFEST", c.Models.ManifestPath)
	c.Models.Backend = getEnv("INFERENCE_BACKEND", c.Models.Backend)
	c.Models.SummaryBackend = getEnv("SUMMARY_BACKEND", c.Models.SummaryBackend)
	c.Models.ONNXLibraryPath = getEnv("ONNXRUNTIME_LIB", c.Models.ONNXLibraryPath)
	c.Models.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.Models.OpenAI.APIKey)
	c.Models.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.Models.OpenAI.BaseURL)
	c.Models.OpenAI.Model = getEnv("OPENAI_MODEL", c.Models.OpenAI.Model)

	// Python scripts
	c.Scripts.PythonPath = getEnv("PYTHON_PATH", c.Scripts.PythonPath)
	c.Scripts.ScriptsPath = getEnv("SCRIPTS_PATH", c.Scripts.ScriptsPath)
	c.Scripts.Timeout = getEnvAsDuration("SCRIPT_TIMEOUT", c.Scripts.Timeout)
	c.Scripts.Environment = getEnvAsStringSlice("SCRIPT_ENV", c.Scripts.Environment)
	c.Scripts.Preload = getEnvAsBool("SCRIPT_PRELOAD", c.Scripts.Preload)

	c.Transcript.Languages = getEnvAsStringSlice("TRANSCRIPT_LANGUAGES", c.Transcript.Languages)
	c.Transcript.FetchTimeout = getEnvAsDuration("TRANSCRIPT_FETCH_TIMEOUT", c.Transcript.FetchTimeout)

	c.QA.ChunkSize = getEnvAsInt("QA_CHUNK_SIZE", c.QA.ChunkSize)
	c.QA.Concurrency = getEnvAsInt("QA_CONCURRENCY", c.QA.Concurrency)
}

// ModelPath joins a per-task model directory onto Models.Dir unless it is absolute.
func (c *Config) ModelPath(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.Models.Dir, dir)
}

func (c *Config) Validate() error {
	if err := validatePaths(c); err != nil {
		return err
	}

	if err := validateTimeouts(c); err != nil {
		return err
	}

	if err := validateServices(c); err != nil {
		return err
	}

	return nil
}

func validatePaths(c *Config) error {
	if c.Store.Dir == "" {
		c.Store.Dir = c.DataDir
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = filepath.Join(c.DataDir, "transcript.db")
	}

	paths := []struct {
		path string
		name string
	}{
		{c.LogDir, "log directory"},
		{c.DataDir, "data directory"},
		{c.Store.Dir, "store directory"},
	}

	for _, p := range paths {
		if err := os.MkdirAll(p.path, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p.name, err)
		}
	}

	return nil
}

func validateTimeouts(c *Config) error {
	if c.ReadTimeout <= 0 {
		return errors.New("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be positive")
	}
	if c.Scripts.Timeout <= 0 {
		return errors.New("script timeout must be positive")
	}
	return nil
}

func validateServices(c *Config) error {
	switch c.Store.Backend {
	case StoreFile, StoreSQLite, StoreRedis:
	case StoreSpaces:
		if c.Store.Spaces.Bucket == "" {
			return errors.New("spaces store requires SPACES_BUCKET")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Models.Backend {
	case BackendScripts, BackendONNX:
	default:
		return fmt.Errorf("unknown inference backend %q", c.Models.Backend)
	}

	switch c.Models.SummaryBackend {
	case BackendScripts:
	case BackendOpenAI:
		if c.Models.OpenAI.APIKey == "" && c.Models.OpenAI.BaseURL == "" {
			return errors.New("openai summary backend requires OPENAI_API_KEY or OPENAI_BASE_URL")
		}
	default:
		return fmt.Errorf("unknown summary backend %q", c.Models.SummaryBackend)
	}

	if c.QA.ChunkSize <= 0 {
		return errors.New("qa chunk size must be positive")
	}
	if c.QA.Concurrency <= 0 {
		c.QA.Concurrency = 1
	}
	return nil
}

// Helper functions for reading environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid integer, using default")
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid boolean, using default")
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid duration, using default")
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		if value = strings.TrimSpace(value); value != "" {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts
		}
	}
	return defaultValue
}
