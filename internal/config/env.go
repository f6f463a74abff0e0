package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvConfigPath    = "TXGUARD_CONFIG"
	EnvLogLevel      = "TXGUARD_LOG_LEVEL"
	EnvLogFormat     = "TXGUARD_LOG_FORMAT"
	EnvStorageDriver = "TXGUARD_STORAGE_DRIVER"
	EnvStorageDSN    = "TXGUARD_STORAGE_DSN"
	EnvKafkaBrokers  = "TXGUARD_KAFKA_BROKERS"
)

// LoadDotEnv reads .env files into the process environment. Variables that
// are already set win, and a missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	present := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// ApplyEnv overlays TXGUARD_* variables onto cfg. Setting a storage
// driver or DSN turns the report archive on.
func ApplyEnv(cfg *Config) {
	if v := getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv(EnvLogFormat); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv(EnvStorageDriver); v != "" {
		cfg.Storage.Driver = v
		cfg.Storage.Enabled = true
	}
	if v := getenv(EnvStorageDSN); v != "" {
		cfg.Storage.DSN = v
		cfg.Storage.Enabled = true
	}
	if v := getenv(EnvKafkaBrokers); v != "" {
		brokers := make([]string, 0)
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		cfg.Ingest.Kafka.Brokers = brokers
	}
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
