package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, overridable by STORY_CONFIG.
var ConfigPath = defaultConfigPath()

func defaultConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("STORY_CONFIG")); v != "" {
		return v
	}
	return "config.yaml"
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                   string   `yaml:"port"`
	LogLevel               string   `yaml:"logLevel"`
	AIProvider             string   `yaml:"aiProvider"`
	GeminiAPIKey           string   `yaml:"geminiAPIKey"`
	VisionModel            string   `yaml:"visionModel"`
	StoryModel             string   `yaml:"storyModel"`
	OpenAIBaseURL          string   `yaml:"openaiBaseURL"`
	OpenAIAPIKey           string   `yaml:"openaiAPIKey"`
	ModelTimeoutSeconds    int      `yaml:"modelTimeoutSeconds"`
	MaxUploadBytes         int64    `yaml:"maxUploadBytes"`
	MaxImageBytes          int64    `yaml:"maxImageBytes"`
	MaxImages              int      `yaml:"maxImages"`
	DescribeConcurrency    int      `yaml:"describeConcurrency"`
	DescribeRatePerSecond  float64  `yaml:"describeRatePerSecond"`
	DatabaseURL            string   `yaml:"databaseURL"`
	StorageBackend         string   `yaml:"storageBackend"`
	StorageDir             string   `yaml:"storageDir"`
	MinioEndpoint          string   `yaml:"minioEndpoint"`
	MinioAccessKey         string   `yaml:"minioAccessKey"`
	MinioSecretKey         string   `yaml:"minioSecretKey"`
	MinioBucket            string   `yaml:"minioBucket"`
	MinioUseSSL            bool     `yaml:"minioUseSSL"`
	RedisAddr              string   `yaml:"redisAddr"`
	RedisPassword          string   `yaml:"redisPassword"`
	UploadDailyLimit       int      `yaml:"uploadDailyLimit"` // negative disables the quota
	RetentionHours         float64  `yaml:"retentionHours"`
	CleanupIntervalSeconds int      `yaml:"cleanupIntervalSeconds"`
	CleanupRetrySeconds    int      `yaml:"cleanupRetrySeconds"`
	CleanupQueue           string   `yaml:"cleanupQueue"`
	DuplicateMarkerPolicy  string   `yaml:"duplicateMarkerPolicy"`
	TrustedProxies         []string `yaml:"trustedProxies"`
	CORSAllowedOrigins     []string `yaml:"corsAllowedOrigins"`
}

// Load reads config from path (defaults to ConfigPath).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
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
	// Override with environment variables
	if v := os.Getenv("STORY_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STORY_AI_PROVIDER"); v != "" {
		cfg.AIProvider = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("STORY_VISION_MODEL"); v != "" {
		cfg.VisionModel = v
	}
	if v := os.Getenv("STORY_STORY_MODEL"); v != "" {
		cfg.StoryModel = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("STORY_STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = v
	}
	if v := os.Getenv("STORY_STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("STORY_CLEANUP_QUEUE"); v != "" {
		cfg.CleanupQueue = v
	}
	if v := os.Getenv("STORY_DUPLICATE_MARKER_POLICY"); v != "" {
		cfg.DuplicateMarkerPolicy = v
	}
	if v := os.Getenv("STORY_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	if v := os.Getenv("STORY_CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitList(v)
	}
	if v := os.Getenv("STORY_MODEL_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ModelTimeoutSeconds = n
		}
	}
	if v := os.Getenv("STORY_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("STORY_MAX_IMAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxImageBytes = n
		}
	}
	if v := os.Getenv("STORY_MAX_IMAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxImages = n
		}
	}
	if v := os.Getenv("STORY_DESCRIBE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DescribeConcurrency = n
		}
	}
	if v := os.Getenv("STORY_DESCRIBE_RATE_PER_SECOND"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DescribeRatePerSecond = n
		}
	}
	if v := os.Getenv("STORY_UPLOAD_DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UploadDailyLimit = n
		}
	}
	if v := os.Getenv("STORY_RETENTION_HOURS"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RetentionHours = n
		}
	}
	if v := os.Getenv("STORY_CLEANUP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CleanupIntervalSeconds = n
		}
	}
	if v := os.Getenv("STORY_CLEANUP_RETRY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CleanupRetrySeconds = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.AIProvider == "" {
		cfg.AIProvider = "gemini"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = "gemini-2.0-flash"
	}
	if cfg.StoryModel == "" {
		cfg.StoryModel = cfg.VisionModel
	}
	if cfg.ModelTimeoutSeconds == 0 {
		cfg.ModelTimeoutSeconds = 120
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 500 << 20
	}
	if cfg.MaxImageBytes == 0 {
		cfg.MaxImageBytes = 25 << 20
	}
	if cfg.MaxImages == 0 {
		cfg.MaxImages = 200
	}
	if cfg.DescribeConcurrency == 0 {
		cfg.DescribeConcurrency = 4
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "local"
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = "data/stories"
	}
	if cfg.UploadDailyLimit == 0 {
		cfg.UploadDailyLimit = 10
	}
	if cfg.RetentionHours == 0 {
		cfg.RetentionHours = 4
	}
	if cfg.CleanupIntervalSeconds == 0 {
		cfg.CleanupIntervalSeconds = 60
	}
	if cfg.CleanupQueue == "" {
		cfg.CleanupQueue = "memory"
	}
	if cfg.DuplicateMarkerPolicy == "" {
		cfg.DuplicateMarkerPolicy = "last-wins"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or STORY_PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch cfg.AIProvider {
	case "gemini":
	case "openai":
		if strings.TrimSpace(cfg.OpenAIBaseURL) == "" {
			return errors.New("config: openaiBaseURL is required when aiProvider=openai")
		}
	default:
		return fmt.Errorf("config: unsupported aiProvider %q (gemini|openai)", cfg.AIProvider)
	}
	switch cfg.StorageBackend {
	case "local":
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required when storageBackend=minio")
		}
	default:
		return fmt.Errorf("config: unsupported storageBackend %q (local|minio)", cfg.StorageBackend)
	}
	switch cfg.CleanupQueue {
	case "memory":
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required when cleanupQueue=redis")
		}
	default:
		return fmt.Errorf("config: unsupported cleanupQueue %q (memory|redis)", cfg.CleanupQueue)
	}
	switch cfg.DuplicateMarkerPolicy {
	case "last-wins", "first-wins", "reject", "keep-all":
	default:
		return fmt.Errorf("config: unsupported duplicateMarkerPolicy %q", cfg.DuplicateMarkerPolicy)
	}
	if cfg.ModelTimeoutSeconds < 0 {
		return errors.New("config: modelTimeoutSeconds must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 || cfg.MaxImageBytes < 0 || cfg.MaxImages < 0 {
		return errors.New("config: upload limits must be >= 0")
	}
	if cfg.DescribeConcurrency < 1 {
		return errors.New("config: describeConcurrency must be >= 1")
	}
	if cfg.DescribeRatePerSecond < 0 {
		return errors.New("config: describeRatePerSecond must be >= 0")
	}
	if cfg.RetentionHours <= 0 {
		return errors.New("config: retentionHours must be > 0")
	}
	if cfg.CleanupIntervalSeconds < 0 || cfg.CleanupRetrySeconds < 0 {
		return errors.New("config: cleanup intervals must be >= 0")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
