package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/webriots/filament"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk scheduler configuration. Command line flags take
// precedence over it.
type Config struct {
	Name         string `yaml:"name"`
	LogLevel     string `yaml:"log_level"`
	OffloadLimit int    `yaml:"offload_limit"`
	PollBatch    int    `yaml:"poll_batch"`
}

// LoadConfig reads a YAML config file. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML config data. Empty input yields the zero Config.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse config: %w", filament.ErrUsage, err)
	}
	if cfg.OffloadLimit < 0 || cfg.PollBatch < 0 {
		return nil, fmt.Errorf("%w: config limits must not be negative", filament.ErrUsage)
	}
	return cfg, nil
}

func (c *Config) options() []filament.Option {
	var opts []filament.Option
	if c.Name != "" {
		opts = append(opts, filament.WithName(c.Name))
	}
	if c.OffloadLimit > 0 {
		opts = append(opts, filament.WithOffloadLimit(c.OffloadLimit))
	}
	if c.PollBatch > 0 {
		opts = append(opts, filament.WithPollBatch(c.PollBatch))
	}
	return opts
}
