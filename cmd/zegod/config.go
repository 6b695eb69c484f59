package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ebarrios/zegod/zego"
)

// Config holds the daemon configuration. Flags override whatever the
// YAML file sets.
type Config struct {
	// Connection string: socket://[host]:[port] or a serial device path.
	Connection string `yaml:"connection"`
	// HTTP bind address, e.g. ":8429". Empty disables the API.
	HTTP string `yaml:"http"`

	Poll struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"poll"`

	Sensor struct {
		Timeout     time.Duration `yaml:"timeout"`
		SettleDelay time.Duration `yaml:"settle_delay"`
		WriteDelay  time.Duration `yaml:"write_delay"`
	} `yaml:"sensor"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Poll.Interval = zego.DefaultPollInterval
	cfg.Sensor.Timeout = zego.DefaultTimeout
	cfg.Sensor.SettleDelay = zego.DefaultSettleDelay
	cfg.Sensor.WriteDelay = zego.DefaultWriteDelay
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// loadConfig reads path over the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
