package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	InvalidRowFail = "fail"
	InvalidRowSkip = "skip"

	MissingProfileFail = "fail"
	MissingProfileSelf = "self"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Batch     BatchConfig     `json:"batch" yaml:"batch"`
	Simulate  SimulateConfig  `json:"simulate" yaml:"simulate"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
}

type DetectionConfig struct {
	MaxTransactionAmount float64       `json:"max_transaction_amount" yaml:"max_transaction_amount"`
	DailyLimit           float64       `json:"daily_limit" yaml:"daily_limit"`
	AmountMultiplier     float64       `json:"amount_multiplier" yaml:"amount_multiplier"`
	KnownLocations       []string      `json:"known_locations" yaml:"known_locations"`
	StrictLocations      bool          `json:"strict_locations" yaml:"strict_locations"`
	SafeHourStart        int           `json:"safe_hour_start" yaml:"safe_hour_start"`
	SafeHourEnd          int           `json:"safe_hour_end" yaml:"safe_hour_end"`
	Weights              WeightsConfig `json:"weights" yaml:"weights"`
	SuspiciousThreshold  int           `json:"suspicious_threshold" yaml:"suspicious_threshold"`
	FraudThreshold       int           `json:"fraud_threshold" yaml:"fraud_threshold"`
}

type WeightsConfig struct {
	UnusualAmount   int `json:"unusual_amount" yaml:"unusual_amount"`
	UnusualTime     int `json:"unusual_time" yaml:"unusual_time"`
	UnknownLocation int `json:"unknown_location" yaml:"unknown_location"`
}

func (w WeightsConfig) Sum() int {
	return w.UnusualAmount + w.UnusualTime + w.UnknownLocation
}

type BatchConfig struct {
	OnInvalidRow string `json:"on_invalid_row" yaml:"on_invalid_row"`
	MaxRows      int    `json:"max_rows" yaml:"max_rows"`
	// MaxBytes caps one batch payload on the TCP, Kafka and inbox surfaces.
	// REST uses ingest.rest.max_body_bytes.
	MaxBytes int64 `json:"max_bytes" yaml:"max_bytes"`
}

type SimulateConfig struct {
	MissingProfile string `json:"missing_profile" yaml:"missing_profile"`
	Merchant       string `json:"merchant" yaml:"merchant"`
	Category       string `json:"category" yaml:"category"`
}

type IngestConfig struct {
	REST  RESTConfig  `json:"rest" yaml:"rest"`
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
	Inbox InboxConfig `json:"inbox" yaml:"inbox"`
	TCP   TCPConfig   `json:"tcp" yaml:"tcp"`
}

type RESTConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Addr         string `json:"addr" yaml:"addr"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type InboxConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Dir     string `json:"dir" yaml:"dir"`
}

// TCPConfig accepts one batch per connection, terminated by the client
// closing its write side.
type TCPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
	// AllowConfigUpdates enables PUT /v1/config/detection. Off by default so
	// the detection config stays fixed for the life of the process.
	AllowConfigUpdates bool `json:"allow_config_updates" yaml:"allow_config_updates"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

// ConfigurationError reports one invalid setting.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		MaxTransactionAmount: 80000,
		DailyLimit:           150000,
		AmountMultiplier:     3,
		KnownLocations:       []string{"chennai", "coimbatore", "bangalore", "hyderabad"},
		SafeHourStart:        6,
		SafeHourEnd:          22,
		Weights:              WeightsConfig{UnusualAmount: 35, UnusualTime: 25, UnknownLocation: 30},
		SuspiciousThreshold:  40,
		FraudThreshold:       70,
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Detection: DefaultDetection(),
		Batch:     BatchConfig{OnInvalidRow: InvalidRowFail, MaxRows: 100000, MaxBytes: 10 << 20},
		Simulate:  SimulateConfig{MissingProfile: MissingProfileFail, Merchant: "SIMULATED", Category: "SIMULATED"},
		Ingest: IngestConfig{
			REST:  RESTConfig{Enabled: true, Addr: ":8080", MaxBodyBytes: 10 << 20},
			Kafka: KafkaConfig{Enabled: false},
			Inbox: InboxConfig{Enabled: false},
			TCP:   TCPConfig{Enabled: false, Addr: ":9070"},
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:txguard.db?_pragma=busy_timeout(5000)"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Save writes cfg as YAML, e.g. to seed a config file from the defaults.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Parse decodes JSON or YAML over the defaults and validates the result.
func Parse(content []byte) (*Config, error) {
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	cfg := DefaultConfig()
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode config: %w", decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.Batch.OnInvalidRow == "" {
		cfg.Batch.OnInvalidRow = InvalidRowFail
	}
	if cfg.Simulate.MissingProfile == "" {
		cfg.Simulate.MissingProfile = MissingProfileFail
	}
	if cfg.Simulate.Merchant == "" {
		cfg.Simulate.Merchant = "SIMULATED"
	}
	if cfg.Simulate.Category == "" {
		cfg.Simulate.Category = "SIMULATED"
	}
	if cfg.Batch.MaxBytes <= 0 {
		cfg.Batch.MaxBytes = 10 << 20
	}
	if cfg.Ingest.REST.MaxBodyBytes <= 0 {
		cfg.Ingest.REST.MaxBodyBytes = 10 << 20
	}
	cfg.Batch.OnInvalidRow = strings.ToLower(strings.TrimSpace(cfg.Batch.OnInvalidRow))
	cfg.Simulate.MissingProfile = strings.ToLower(strings.TrimSpace(cfg.Simulate.MissingProfile))
	locations := make([]string, 0, len(cfg.Detection.KnownLocations))
	for _, loc := range cfg.Detection.KnownLocations {
		loc = strings.ToLower(strings.TrimSpace(loc))
		if loc != "" {
			locations = append(locations, loc)
		}
	}
	cfg.Detection.KnownLocations = locations
}

// Validate returns every problem found, joined; each one is a *ConfigurationError.
func Validate(cfg *Config) error {
	var errs []error
	errs = append(errs, ValidateDetection(cfg.Detection)...)

	switch cfg.Batch.OnInvalidRow {
	case InvalidRowFail, InvalidRowSkip:
	default:
		errs = append(errs, invalid("batch.on_invalid_row", "must be %q or %q, got %q", InvalidRowFail, InvalidRowSkip, cfg.Batch.OnInvalidRow))
	}
	if cfg.Batch.MaxRows < 0 {
		errs = append(errs, invalid("batch.max_rows", "must be >= 0"))
	}
	switch cfg.Simulate.MissingProfile {
	case MissingProfileFail, MissingProfileSelf:
	default:
		errs = append(errs, invalid("simulate.missing_profile", "must be %q or %q, got %q", MissingProfileFail, MissingProfileSelf, cfg.Simulate.MissingProfile))
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		errs = append(errs, invalid("api.addr", "required when api.enabled is true"))
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		errs = append(errs, invalid("ingest.rest.addr", "required when ingest.rest.enabled is true"))
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			errs = append(errs, invalid("ingest.kafka", "requires brokers, topic, group_id"))
		}
	}
	if cfg.Ingest.Inbox.Enabled && strings.TrimSpace(cfg.Ingest.Inbox.Dir) == "" {
		errs = append(errs, invalid("ingest.inbox.dir", "required when ingest.inbox.enabled is true"))
	}
	if cfg.Ingest.TCP.Enabled && strings.TrimSpace(cfg.Ingest.TCP.Addr) == "" {
		errs = append(errs, invalid("ingest.tcp.addr", "required when ingest.tcp.enabled is true"))
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			errs = append(errs, invalid("storage.driver", "unsupported driver %q", cfg.Storage.Driver))
		}
	}
	return errors.Join(errs...)
}

func ValidateDetection(d DetectionConfig) []error {
	var errs []error
	if d.MaxTransactionAmount <= 0 {
		errs = append(errs, invalid("detection.max_transaction_amount", "must be > 0"))
	}
	if d.DailyLimit <= 0 {
		errs = append(errs, invalid("detection.daily_limit", "must be > 0"))
	}
	if d.AmountMultiplier <= 0 {
		errs = append(errs, invalid("detection.amount_multiplier", "must be > 0"))
	}
	if d.StrictLocations && len(d.KnownLocations) == 0 {
		errs = append(errs, invalid("detection.known_locations", "must not be empty when strict_locations is true"))
	}
	if d.SafeHourStart < 0 || d.SafeHourStart > 23 {
		errs = append(errs, invalid("detection.safe_hour_start", "must be within [0,23]"))
	}
	if d.SafeHourEnd < 0 || d.SafeHourEnd > 23 {
		errs = append(errs, invalid("detection.safe_hour_end", "must be within [0,23]"))
	}
	if d.SafeHourStart > d.SafeHourEnd {
		errs = append(errs, invalid("detection.safe_hour_start", "must not exceed safe_hour_end"))
	}
	if d.Weights.UnusualAmount < 0 || d.Weights.UnusualTime < 0 || d.Weights.UnknownLocation < 0 {
		errs = append(errs, invalid("detection.weights", "must be >= 0"))
	}
	if d.Weights.Sum() > 100 {
		errs = append(errs, invalid("detection.weights", "must sum to at most 100, got %d", d.Weights.Sum()))
	}
	if d.SuspiciousThreshold <= 0 {
		errs = append(errs, invalid("detection.suspicious_threshold", "must be > 0"))
	}
	if d.FraudThreshold < d.SuspiciousThreshold || d.FraudThreshold > 100 {
		errs = append(errs, invalid("detection.fraud_threshold", "must be within [suspicious_threshold,100]"))
	}
	return errs
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
