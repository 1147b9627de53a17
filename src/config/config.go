package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	APIKeyPathEnvVar = "OPENAI_API_KEY_FILE"
	APIKeyEnvVar     = "OPENAI_API_KEY"
	EnvFileEnvVar    = "MANGA_DISSECTOR_ENV"

	DefaultModel   = "gpt-4o-mini"
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultHotkey  = "Alt+M"
)

type LoadOptions struct {
	APIKeyPathOverride string
	EnvFileOverride    string
}

type Config struct {
	APIKey     string
	APIKeyPath string
	Model      string
	BaseURL    string
	Hotkey     string

	EnableFileLogging bool
	LogDir            string
	AnalyzeDeadline   time.Duration

	CropPadding  float64
	MinCanvasDim int
	MaxCanvasDim int
	JPEGQuality  int
	MinSelection float64

	SettleDelay  time.Duration
	ReleaseDelay time.Duration
	DismissDelay time.Duration

	BrowserURL      string
	BrowserStartURL string
	BrowserHeadless bool

	DebugCropDir    string
	CopyTranslation bool
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Sources in priority order:
	// 1) .env next to the executable
	// 2) otherwise the file named by MANGA_DISSECTOR_ENV
	// Real environment variables win over both.
	envPath := resolveEnvPath(opts)
	dotenvValues := readDotenvValues(envPath)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	apiKeyPath := resolveAPIKeyPath(opts, dotenvValues)

	cfg := &Config{
		APIKey:     resolveAPIKey(apiKeyPath),
		APIKeyPath: apiKeyPath,
		Model:      getEnvWithDefault("MODEL", DefaultModel),
		BaseURL:    getEnvWithDefault("API_BASE_URL", DefaultBaseURL),
		Hotkey:     getEnvWithDefault("HOTKEY", DefaultHotkey),

		EnableFileLogging: getBool("ENABLE_FILE_LOGGING"),
		LogDir:            os.Getenv("LOG_DIR"),
		AnalyzeDeadline:   time.Duration(getInt("ANALYZE_DEADLINE_SEC", 30)) * time.Second,

		CropPadding:  getFloat("CROP_PADDING_PX", 5),
		MinCanvasDim: getInt("MIN_CANVAS_DIM", 200),
		MaxCanvasDim: getInt("MAX_CANVAS_DIM", 4096),
		JPEGQuality:  getInt("JPEG_QUALITY", 95),
		MinSelection: getFloat("MIN_SELECTION_PX", 20),

		SettleDelay:  getMillis("SETTLE_DELAY_MS", 50),
		ReleaseDelay: getMillis("RELEASE_DELAY_MS", 500),
		DismissDelay: getMillis("DISMISS_DELAY_MS", 100),

		BrowserURL:      os.Getenv("BROWSER_URL"),
		BrowserStartURL: os.Getenv("BROWSER_START_URL"),
		BrowserHeadless: getBool("BROWSER_HEADLESS"),

		DebugCropDir:    os.Getenv("DEBUG_CROP_DIR"),
		CopyTranslation: getBool("COPY_TRANSLATION"),
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 95
	}

	return cfg, nil
}

func resolveEnvPath(opts LoadOptions) string {
	if p := strings.TrimSpace(opts.EnvFileOverride); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if execPath, err := os.Executable(); err == nil {
		exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(exeEnv); err == nil {
			return exeEnv
		}
	}

	if alt := os.Getenv(EnvFileEnvVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func readDotenvValues(envPath string) map[string]string {
	if envPath == "" {
		return map[string]string{}
	}

	values, err := godotenv.Read(envPath)
	if err != nil {
		return map[string]string{}
	}

	return values
}

// DefaultAPIKeyPath is <user config dir>/manga-dissector/api_key.
func DefaultAPIKeyPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "manga-dissector", "api_key")
}

func resolveAPIKeyPath(opts LoadOptions, dotenvValues map[string]string) string {
	keyPath := DefaultAPIKeyPath()

	if envPath := strings.TrimSpace(os.Getenv(APIKeyPathEnvVar)); envPath != "" {
		keyPath = envPath
	}

	if dotenvPath := strings.TrimSpace(dotenvValues[APIKeyPathEnvVar]); dotenvPath != "" {
		keyPath = dotenvPath
	}

	if overridePath := strings.TrimSpace(opts.APIKeyPathOverride); overridePath != "" {
		keyPath = overridePath
	}

	return keyPath
}

func resolveAPIKey(keyPath string) string {
	if data, err := os.ReadFile(keyPath); err == nil {
		if fileKey := strings.TrimSpace(string(data)); fileKey != "" {
			return fileKey
		}
	}

	return strings.TrimSpace(os.Getenv(APIKeyEnvVar))
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func getInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			return f
		}
	}
	return def
}

func getMillis(key string, def int) time.Duration {
	return time.Duration(getInt(key, def)) * time.Millisecond
}
