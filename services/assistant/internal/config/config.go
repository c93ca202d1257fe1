package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
	"gotovo/pkg/usage"
)

const defaultConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	ServiceTokenSecret string   `yaml:"serviceTokenSecret"`
	AllowedCallers     []string `yaml:"allowedCallers"`

	Limits                 usage.Limits `yaml:"limits"`
	SolveRateLimit         int          `yaml:"solveRateLimit"`
	SolveRateWindowSeconds int          `yaml:"solveRateWindowSeconds"`

	GenerationProvider string `yaml:"generationProvider"`
	GenerationBaseURL  string `yaml:"generationBaseURL"`
	GenerationAPIKey   string `yaml:"generationAPIKey"`
	Models             Models `yaml:"models"`

	EmbeddingProvider string `yaml:"embeddingProvider"`
	EmbeddingBaseURL  string `yaml:"embeddingBaseURL"`
	EmbeddingAPIKey   string `yaml:"embeddingAPIKey"`
	EmbeddingModel    string `yaml:"embeddingModel"`
	EmbeddingDim      int    `yaml:"embeddingDim"`

	RetrievalTopK      int `yaml:"retrievalTopK"`
	RetrievalTimeoutMs int `yaml:"retrievalTimeoutMs"`
}

// Models overrides the model picked per funding tier. Empty entries keep
// the built-in routing table.
type Models struct {
	Free      string `yaml:"free"`
	Trial     string `yaml:"trial"`
	PaidLight string `yaml:"paidLight"`
	PaidHeavy string `yaml:"paidHeavy"`
}

// ConfigPath returns ASSISTANT_CONFIG or config.yaml.
func ConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("ASSISTANT_CONFIG")); v != "" {
		return v
	}
	return defaultConfigPath
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{Limits: usage.DefaultLimits()}
	if path == "" {
		path = defaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("GOTOVO_SERVICE_TOKEN_SECRET"); v != "" {
		cfg.ServiceTokenSecret = v
	}
	if v := os.Getenv("ASSISTANT_ALLOWED_CALLERS"); v != "" {
		cfg.AllowedCallers = splitList(v)
	}
	if v := os.Getenv("FREEMIUM_DAILY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.FreeDaily = n
		}
	}
	if v := os.Getenv("PRO_TRIAL_DAILY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.TrialDaily = n
		}
	}
	if v := os.Getenv("SUBSCRIPTION_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.SubscriptionMonthly = n
		}
	}
	if v := os.Getenv("TRIAL_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.TrialWindowDays = n
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.GenerationAPIKey == "" {
			cfg.GenerationAPIKey = v
		}
		if cfg.EmbeddingAPIKey == "" {
			cfg.EmbeddingAPIKey = v
		}
	}
	if v := os.Getenv("EMBED_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("GOTOVO_EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingDim = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SolveRateLimit == 0 {
		cfg.SolveRateLimit = 20
	}
	if cfg.SolveRateWindowSeconds == 0 {
		cfg.SolveRateWindowSeconds = 60
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 1536
	}
	if cfg.RetrievalTopK == 0 {
		cfg.RetrievalTopK = 5
	}
	if cfg.RetrievalTimeoutMs == 0 {
		cfg.RetrievalTimeoutMs = 3000
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if len(strings.TrimSpace(cfg.ServiceTokenSecret)) < 32 {
		return errors.New("config: serviceTokenSecret of at least 32 bytes is required (set in config.yaml or GOTOVO_SERVICE_TOKEN_SECRET)")
	}
	if len(cfg.AllowedCallers) == 0 {
		return errors.New("config: allowedCallers is required (set in config.yaml or ASSISTANT_ALLOWED_CALLERS)")
	}
	if cfg.Limits.FreeDaily < 0 || cfg.Limits.TrialDaily < 0 || cfg.Limits.SubscriptionMonthly < 0 || cfg.Limits.TrialWindowDays < 0 {
		return errors.New("config: limits must be >= 0")
	}
	if cfg.SolveRateLimit < 0 || cfg.SolveRateWindowSeconds < 0 {
		return errors.New("config: solveRateLimit and solveRateWindowSeconds must be >= 0")
	}
	if cfg.EmbeddingDim < 0 {
		return errors.New("config: embeddingDim must be > 0 (set in config.yaml or GOTOVO_EMBEDDING_DIM)")
	}
	if cfg.RetrievalTopK < 0 || cfg.RetrievalTimeoutMs < 0 {
		return errors.New("config: retrievalTopK and retrievalTimeoutMs must be >= 0")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
