package pulse

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds the SDK's boot configuration. Values come from an optional
// TOML file overridden by PULSE_* environment variables.
type Config struct {
	AppID          string `toml:"app_id"`          // PULSE_APP_ID
	RulesURL       string `toml:"rules_url"`       // PULSE_RULES_URL (http(s):// or s3://)
	PrivacyDefault string `toml:"privacy_default"` // PULSE_PRIVACY (default "optunknown")
	StorageDir     string `toml:"storage_dir"`     // PULSE_STORAGE_DIR (default ".pulse")
	NATSURL        string `toml:"nats_url"`        // PULSE_NATS_URL (optional, empty = no bridge)
	S3Region       string `toml:"s3_region"`       // PULSE_S3_REGION (default "us-east-1")
	S3Endpoint     string `toml:"s3_endpoint"`     // PULSE_S3_ENDPOINT (custom endpoint for MinIO)
	LogLevel       string `toml:"log_level"`       // PULSE_LOG_LEVEL (default "info")
}

// configFile is consulted when PULSE_CONFIG is unset.
const configFile = "pulse.toml"

// LoadConfig reads the TOML config file (PULSE_CONFIG or ./pulse.toml, if
// present), then applies environment overrides and defaults.
func LoadConfig() (*Config, error) {
	c := &Config{}

	path := os.Getenv("PULSE_CONFIG")
	explicit := path != ""
	if path == "" {
		path = configFile
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	overrideEnv(&c.AppID, "PULSE_APP_ID")
	overrideEnv(&c.RulesURL, "PULSE_RULES_URL")
	overrideEnv(&c.PrivacyDefault, "PULSE_PRIVACY")
	overrideEnv(&c.StorageDir, "PULSE_STORAGE_DIR")
	overrideEnv(&c.NATSURL, "PULSE_NATS_URL")
	overrideEnv(&c.S3Region, "PULSE_S3_REGION")
	overrideEnv(&c.S3Endpoint, "PULSE_S3_ENDPOINT")
	overrideEnv(&c.LogLevel, "PULSE_LOG_LEVEL")

	c.applyDefaults()
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.PrivacyDefault == "" {
		c.PrivacyDefault = "optunknown"
	}
	if c.StorageDir == "" {
		c.StorageDir = ".pulse"
	}
	if c.S3Region == "" {
		c.S3Region = "us-east-1"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func overrideEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
