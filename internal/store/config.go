package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Provider struct {
		Mode           string `yaml:"mode"`
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		CacheTTLSecs   int    `yaml:"cache_ttl_seconds"`
	} `yaml:"provider"`
	Compute struct {
		WorkgroupSize      int `yaml:"workgroup_size"`
		ElemsPerInvocation int `yaml:"elems_per_invocation"`
	} `yaml:"compute"`
	Calc struct {
		DefaultPeriod int `yaml:"default_period"`
	} `yaml:"calc"`
	RunLog struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"runlog"`
	Watch struct {
		Enabled     bool `yaml:"enabled"`
		PollSeconds int  `yaml:"poll_seconds"`
	} `yaml:"watch"`
}

func (c *Config) Validate() error {
	if c.Provider.Mode != "STATIC" && c.Provider.Mode != "HTTP" {
		return fmt.Errorf("invalid provider.mode '%s': must be 'STATIC' or 'HTTP'", c.Provider.Mode)
	}
	if c.Provider.Mode == "HTTP" && c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required when provider.mode is 'HTTP'")
	}
	if c.Provider.TimeoutSeconds <= 0 {
		return fmt.Errorf("provider.timeout_seconds must be positive, got %d", c.Provider.TimeoutSeconds)
	}
	if c.Compute.WorkgroupSize <= 0 {
		return fmt.Errorf("compute.workgroup_size must be positive, got %d", c.Compute.WorkgroupSize)
	}
	if c.Calc.DefaultPeriod < 1 {
		return fmt.Errorf("calc.default_period must be at least 1, got %d", c.Calc.DefaultPeriod)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Provider.Mode == "" {
		c.Provider.Mode = "STATIC"
	}
	if c.Provider.TimeoutSeconds == 0 {
		c.Provider.TimeoutSeconds = 10
	}
	if c.Provider.CacheTTLSecs == 0 {
		c.Provider.CacheTTLSecs = 300
	}
	if c.Compute.WorkgroupSize == 0 {
		c.Compute.WorkgroupSize = 256
	}
	if c.Compute.ElemsPerInvocation == 0 {
		c.Compute.ElemsPerInvocation = 1
	}
	if c.Calc.DefaultPeriod == 0 {
		c.Calc.DefaultPeriod = 14
	}
	if c.RunLog.Dir == "" {
		c.RunLog.Dir = "logs"
	}
	if c.RunLog.RetentionDays == 0 {
		c.RunLog.RetentionDays = 14
	}
	if c.Watch.PollSeconds == 0 {
		c.Watch.PollSeconds = 2
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
