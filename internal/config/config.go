package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the server.
type Config struct {
	HTTPAddr string
	Env      string
	DataDir  string
	DBPath   string
	MediaDir string

	JWTSecret    string
	TokenTTLMins int

	LLMProvider string
	LLMModel    string
	LLMAPIKey   string

	SpeechAPIKey string
	STTModel     string
	TTSModel     string
	TTSVoice     string

	HistoryDepth int
}

// Load reads configuration from environment variables, loading a .env file
// first if one is present.
func Load() Config {
	_ = godotenv.Load()

	dataDir := getEnv("CALLIOPE_DATA_DIR", "data")
	apiKey := getEnv("OPENAI_API_KEY", "")
	cfg := Config{
		HTTPAddr: getEnv("CALLIOPE_HTTP_ADDR", ":8080"),
		Env:      getEnv("ENV", "development"),
		DataDir:  dataDir,
		DBPath:   getEnv("CALLIOPE_DB_PATH", filepath.Join(dataDir, "calliope.db")),
		MediaDir: getEnv("CALLIOPE_MEDIA_DIR", filepath.Join(dataDir, "media")),

		JWTSecret:    getEnv("CALLIOPE_JWT_SECRET", ""),
		TokenTTLMins: getEnvInt("CALLIOPE_TOKEN_TTL_MINUTES", 24*60),

		LLMProvider: getEnv("CALLIOPE_LLM_PROVIDER", "openai-chat"),
		LLMModel:    getEnv("CALLIOPE_LLM_MODEL", "gpt-4o"),
		LLMAPIKey:   getEnv("CALLIOPE_LLM_API_KEY", apiKey),

		SpeechAPIKey: getEnv("CALLIOPE_SPEECH_API_KEY", apiKey),
		STTModel:     getEnv("CALLIOPE_STT_MODEL", "gpt-4o-mini-transcribe"),
		TTSModel:     getEnv("CALLIOPE_TTS_MODEL", "gpt-4o-mini-tts"),
		TTSVoice:     getEnv("CALLIOPE_TTS_VOICE", "alloy"),

		HistoryDepth: getEnvInt("CALLIOPE_HISTORY_DEPTH", 10),
	}

	if cfg.Env == "production" {
		if cfg.JWTSecret == "" {
			panic("CALLIOPE_JWT_SECRET is required in production")
		}
		if cfg.LLMAPIKey == "" {
			panic("CALLIOPE_LLM_API_KEY or OPENAI_API_KEY is required in production")
		}
	}
	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
