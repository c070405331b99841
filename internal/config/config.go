package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Port        string
	DatabaseURL string
	DataPath    string
	LogDir      string

	// Worker pool behind the async task endpoints.
	WorkerPoolSize     int
	TaskQueueHighwater int
	TaskResultTTL      time.Duration

	// Cap on a single optimizer solve.
	OptimizerTimeLimit time.Duration

	// Largest trial count the synchronous simulate endpoint accepts;
	// anything bigger must go through the async path.
	SyncTrialCap int
}

// Load loads the configuration from .env files and environment variables.
func Load() (*AppConfig, error) {
	// 1. Try to load from the executable's directory
	exePath, err := os.Executable()
	exeDir := ""
	if err == nil {
		exeDir = filepath.Dir(exePath)
		envPath := filepath.Join(exeDir, ".env")
		if err := godotenv.Load(envPath); err == nil {
			log.Debug().Str("path", envPath).Msg("Loaded configuration from binary directory")
		}
	}

	// 2. Fallback to current working directory (useful for development/go run)
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found in working directory, relying on environment variables or binary-relative .env")
	}

	// 3. Resolve Data Paths
	dataPath := os.Getenv("DATA_PATH")
	if dataPath == "" {
		if exeDir != "" {
			dataPath = exeDir
		} else {
			dataPath = "."
		}
	}

	logDir := filepath.Join(dataPath, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Warn().Err(err).Str("path", logDir).Msg("Failed to create log directory")
	}

	cfg := &AppConfig{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        getEnv("DB_URL", filepath.Join(dataPath, "flowcast.db")),
		DataPath:           dataPath,
		LogDir:             logDir,
		WorkerPoolSize:     getEnvInt("WORKER_POOL_SIZE", 0), // 0 = NumCPU
		TaskQueueHighwater: getEnvInt("TASK_QUEUE_HIGHWATER", 1000),
		TaskResultTTL:      time.Duration(getEnvInt("TASK_RESULT_TTL_SECONDS", 3600)) * time.Second,
		OptimizerTimeLimit: time.Duration(getEnvInt("MILP_TIME_LIMIT_SECONDS", 10)) * time.Second,
		SyncTrialCap:       getEnvInt("SYNC_TRIAL_CAP", 5000),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
