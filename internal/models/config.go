package models

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v2"

	"artvault/internal/naming"
)

type Config struct {
	ServerAddr   string `yaml:"server_addr" env:"ARTVAULT_SERVER_ADDR"`
	DatabaseURL  string `yaml:"database_url" env:"ARTVAULT_DATABASE_URL"`
	KafkaBroker  string `yaml:"kafka_broker" env:"ARTVAULT_KAFKA_BROKER"`
	KafkaTopic   string `yaml:"kafka_topic" env:"ARTVAULT_KAFKA_TOPIC"`
	KafkaGroupID string `yaml:"kafka_group_id" env:"ARTVAULT_KAFKA_GROUP_ID"`
	BaseDir      string `yaml:"base_dir" env:"ARTVAULT_BASE_DIR"`
	LogMode      string `yaml:"log_mode" env:"ARTVAULT_LOG_MODE"`

	SKUPrefix      string `yaml:"sku_prefix" env:"ARTVAULT_SKU_PREFIX"`
	SKUDigits      int    `yaml:"sku_digits" env:"ARTVAULT_SKU_DIGITS"`
	SKUTrackerPath string `yaml:"sku_tracker_path" env:"ARTVAULT_SKU_TRACKER_PATH"`
	RegistryPath   string `yaml:"registry_path" env:"ARTVAULT_REGISTRY_PATH"`

	JPEGQuality     int    `yaml:"jpeg_quality" env:"ARTVAULT_JPEG_QUALITY"`
	ThumbLongEdge   int    `yaml:"thumb_long_edge" env:"ARTVAULT_THUMB_LONG_EDGE"`
	AnalyseLongEdge int    `yaml:"analyse_long_edge" env:"ARTVAULT_ANALYSE_LONG_EDGE"`
	MockupThumbEdge int    `yaml:"mockup_thumb_edge" env:"ARTVAULT_MOCKUP_THUMB_EDGE"`
	PreviewLongEdge int    `yaml:"preview_long_edge" env:"ARTVAULT_PREVIEW_LONG_EDGE"`
	WatermarkText   string `yaml:"watermark_text" env:"ARTVAULT_WATERMARK_TEXT"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes" env:"ARTVAULT_MAX_UPLOAD_BYTES"`
	InboxEnabled    bool   `yaml:"inbox_enabled" env:"ARTVAULT_INBOX_ENABLED"`

	OperatorUser         string        `yaml:"operator_user" env:"ARTVAULT_OPERATOR_USER"`
	OperatorPasswordHash string        `yaml:"operator_password_hash" env:"ARTVAULT_OPERATOR_PASSWORD_HASH"`
	JWTSecret            string        `yaml:"jwt_secret" env:"ARTVAULT_JWT_SECRET"`
	TokenTTL             time.Duration `yaml:"token_ttl" env:"ARTVAULT_TOKEN_TTL"`
}

// LoadConfig reads the YAML file at path (a missing file is not an error),
// applies ARTVAULT_* environment overrides and fills defaults.
func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.applyDefaults()

	if err := naming.ValidatePrefix(cfg.SKUPrefix); err != nil {
		return nil, fmt.Errorf("%s: sku_prefix: %w", op, err)
	}
	if cfg.OperatorPasswordHash != "" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("%s: jwt_secret is required when operator_password_hash is set", op)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = "artvault-jobs"
	}
	if c.KafkaGroupID == "" {
		c.KafkaGroupID = "artvault-workers"
	}
	if c.BaseDir == "" {
		c.BaseDir = "data"
	}
	if c.LogMode == "" {
		c.LogMode = "development"
	}
	if c.SKUPrefix == "" {
		c.SKUPrefix = "RJC"
	}
	if c.SKUDigits <= 0 {
		c.SKUDigits = 5
	}
	if c.SKUTrackerPath == "" {
		c.SKUTrackerPath = filepath.Join(c.BaseDir, "settings", "sku_tracker.json")
	}
	if c.RegistryPath == "" {
		c.RegistryPath = filepath.Join(c.BaseDir, "settings", "artwork-master-listing.json")
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = 95
	}
	if c.ThumbLongEdge <= 0 {
		c.ThumbLongEdge = 2000
	}
	if c.AnalyseLongEdge <= 0 {
		c.AnalyseLongEdge = 3800
	}
	if c.MockupThumbEdge <= 0 {
		c.MockupThumbEdge = 500
	}
	if c.PreviewLongEdge <= 0 {
		c.PreviewLongEdge = 1200
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 100 << 20
	}
	if c.OperatorUser == "" {
		c.OperatorUser = "operator"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 12 * time.Hour
	}
}

// AuthEnabled reports whether protected routes require a login token.
func (c *Config) AuthEnabled() bool {
	return c.OperatorPasswordHash != ""
}
