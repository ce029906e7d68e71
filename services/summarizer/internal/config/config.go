package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, overridable via SUMMARIZER_CONFIG_FILE.
const ConfigPath = "services/summarizer/config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	StoreBackend  string `yaml:"storeBackend"`
	UsageBackend  string `yaml:"usageBackend"`
	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	SessionBackend string `yaml:"sessionBackend"`
	SessionSecret  string `yaml:"sessionSecret"`
	SessionTTL     string `yaml:"sessionTTL"`
	CookieSecure   bool   `yaml:"cookieSecure"`
	AdminUsername  string `yaml:"adminUsername"`
	AdminPassword  string `yaml:"adminPassword"`

	PolicyPath          string `yaml:"policyPath"`
	DetectorFailureMode string `yaml:"detectorFailureMode"`
	DetectorTimeout     string `yaml:"detectorTimeout"`
	DetectorConcurrency int    `yaml:"detectorConcurrency"`
	CompletionTimeout   string `yaml:"completionTimeout"`
	TokenFlushInterval  string `yaml:"tokenFlushInterval"`

	PromptGuardURL             string `yaml:"promptGuardURL"`
	AzureContentSafetyEndpoint string `yaml:"azureContentSafetyEndpoint"`
	AzureContentSafetyKey      string `yaml:"azureContentSafetyKey"`
	AWSRegion                  string `yaml:"awsRegion"`
	AWSAccessKeyID             string `yaml:"awsAccessKeyId"`
	AWSSecretAccessKey         string `yaml:"awsSecretAccessKey"`
	AWSGuardrailID             string `yaml:"awsGuardrailId"`
	AWSGuardrailVersion        string `yaml:"awsGuardrailVersion"`

	OpenAIBaseURL   string `yaml:"openaiBaseURL"`
	OpenAIAPIKey    string `yaml:"openaiAPIKey"`
	TogetherBaseURL string `yaml:"togetherBaseURL"`
	TogetherAPIKey  string `yaml:"togetherAPIKey"`
	LlamaCppBaseURL string `yaml:"llamaCppBaseURL"`
	OllamaBaseURL   string `yaml:"ollamaBaseURL"`
	GeminiBaseURL   string `yaml:"geminiBaseURL"`
	GeminiAPIKey    string `yaml:"geminiAPIKey"`

	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
	TrustedProxies             []string `yaml:"trustedProxies"`
	CORSOrigins                []string `yaml:"corsOrigins"`
}

// Load reads config from path (defaults to SUMMARIZER_CONFIG_FILE, then ConfigPath).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("SUMMARIZER_CONFIG_FILE")
	}
	if path == "" {
		path = ConfigPath
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
	overrides := []struct {
		env string
		dst *string
	}{
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"REDIS_ADDR", &cfg.RedisAddr},
		{"REDIS_PASSWORD", &cfg.RedisPassword},
		{"SESSION_SECRET", &cfg.SessionSecret},
		{"ADMIN_USERNAME", &cfg.AdminUsername},
		{"ADMIN_PASSWORD", &cfg.AdminPassword},
		{"OPENAI_API_KEY", &cfg.OpenAIAPIKey},
		{"TOGETHER_API_KEY", &cfg.TogetherAPIKey},
		{"GEMINI_API_KEY", &cfg.GeminiAPIKey},
		{"AZURE_AI_CONTENT_SAFETY_ENDPOINT", &cfg.AzureContentSafetyEndpoint},
		{"AZURE_AI_CONTENT_SAFETY_KEY", &cfg.AzureContentSafetyKey},
		{"AWS_REGION", &cfg.AWSRegion},
		{"AWS_ACCESS_KEY_ID", &cfg.AWSAccessKeyID},
		{"AWS_SECRET_ACCESS_KEY", &cfg.AWSSecretAccessKey},
		{"AWS_GUARDRAIL_ID", &cfg.AWSGuardrailID},
		{"AWS_GUARDRAIL_VERSION", &cfg.AWSGuardrailVersion},
		{"DETECTOR_FAILURE_MODE", &cfg.DetectorFailureMode},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
	if v := os.Getenv("SUMMARIZER_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SUMMARIZER_REGISTER_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RegisterRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SUMMARIZER_COOKIE_SECURE"); v != "" {
		cfg.CookieSecure = v == "true"
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "postgres"
	}
	if cfg.UsageBackend == "" {
		cfg.UsageBackend = "database"
	}
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = "jwt"
	}
	if cfg.AdminUsername == "" {
		cfg.AdminUsername = "admin"
	}
	if cfg.DetectorFailureMode == "" {
		cfg.DetectorFailureMode = "open"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.StoreBackend {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for the postgres store (set DATABASE_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown storeBackend %q", cfg.StoreBackend)
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting and session revocation")
	}
	switch cfg.UsageBackend {
	case "database", "redis":
	default:
		return fmt.Errorf("config: unknown usageBackend %q", cfg.UsageBackend)
	}
	switch cfg.SessionBackend {
	case "jwt":
		if len(cfg.SessionSecret) < 32 {
			return errors.New("config: sessionSecret must be at least 32 bytes (set SESSION_SECRET)")
		}
	case "redis":
	default:
		return fmt.Errorf("config: unknown sessionBackend %q", cfg.SessionBackend)
	}
	if cfg.AdminPassword == "" {
		return errors.New("config: adminPassword is required (set ADMIN_PASSWORD)")
	}
	switch cfg.DetectorFailureMode {
	case "open", "closed":
	default:
		return fmt.Errorf("config: detectorFailureMode must be open or closed, got %q", cfg.DetectorFailureMode)
	}
	for name, raw := range map[string]string{
		"sessionTTL":         cfg.SessionTTL,
		"detectorTimeout":    cfg.DetectorTimeout,
		"completionTimeout":  cfg.CompletionTimeout,
		"tokenFlushInterval": cfg.TokenFlushInterval,
	} {
		if _, err := ParseDuration(name, raw); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if cfg.DetectorConcurrency < 0 {
		return errors.New("config: detectorConcurrency must be >= 0")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.RegisterRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

// ParseDuration parses an optional duration field; empty means zero.
func ParseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}
