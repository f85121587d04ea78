// Licensed under the Apache License, Version 2.0
// Details: https://raw.githubusercontent.com/square/tokenbucket/master/LICENSE

// Package config implements configuration for a bucket registry.
package config

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultBucketName         = "___DEFAULT_BUCKET___"
	DynamicBucketTemplateName = "___DYNAMIC_BUCKET_TPL___"
)

// Config describes the buckets a registry serves: named buckets, an optional
// fallback bucket for unknown names, and an optional template from which
// buckets are created on demand. A config may have a fallback bucket or a
// dynamic bucket template, but not both.
type Config struct {
	Buckets               map[string]*BucketConfig `yaml:",flow"`
	DefaultBucket         *BucketConfig            `yaml:"default_bucket,flow"`
	DynamicBucketTemplate *BucketConfig            `yaml:"dynamic_bucket_template,flow"`
	MaxDynamicBuckets     int                      `yaml:"max_dynamic_buckets"`
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{default: %v, template: %v, buckets: %v}",
		c.DefaultBucket, c.DynamicBucketTemplate, c.Buckets)
}

// AddBucket registers a named bucket config, and returns the Config for
// chaining.
func (c *Config) AddBucket(name string, b *BucketConfig) *Config {
	c.Buckets[name] = b
	b.Name = name
	return c
}

// ApplyDefaults fills in defaults on every bucket config, and names buckets
// after their map keys. It returns the Config for chaining.
func (c *Config) ApplyDefaults() *Config {
	if c.Buckets == nil {
		c.Buckets = make(map[string]*BucketConfig)
	}

	if c.DefaultBucket != nil {
		c.DefaultBucket.ApplyDefaults()
		c.DefaultBucket.Name = DefaultBucketName
	}

	if c.DynamicBucketTemplate != nil {
		c.DynamicBucketTemplate.ApplyDefaults()
		c.DynamicBucketTemplate.Name = DynamicBucketTemplateName
	}

	for name, b := range c.Buckets {
		b.ApplyDefaults()
		b.Name = name
	}

	return c
}

// Validate checks a Config after defaults have been applied.
func (c *Config) Validate() error {
	if c.DefaultBucket != nil && c.DynamicBucketTemplate != nil {
		return fmt.Errorf("config is not allowed to have a default bucket as well as a dynamic bucket template")
	}

	if c.MaxDynamicBuckets < 0 {
		return fmt.Errorf("max_dynamic_buckets must not be negative; got %v", c.MaxDynamicBuckets)
	}

	if c.DefaultBucket != nil {
		if err := c.DefaultBucket.Validate(); err != nil {
			return err
		}
	}

	if c.DynamicBucketTemplate != nil {
		if err := c.DynamicBucketTemplate.Validate(); err != nil {
			return err
		}
	}

	for name, b := range c.Buckets {
		if name == "" {
			return fmt.Errorf("bucket names must not be empty")
		}

		if err := b.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// ToYAML renders the config.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// BucketConfig describes a single bucket. One token accrues every
// RefreshIntervalMillis, up to MaxCapacity.
type BucketConfig struct {
	// RefreshIntervalMillis is the accrual period per token. 0 means the
	// default (20ms, i.e. 50 tokens per second).
	RefreshIntervalMillis int64 `yaml:"refresh_interval_ms"`

	// MaxCapacity bounds how many tokens the bucket holds. 0 means the
	// default (100).
	MaxCapacity int64 `yaml:"max_capacity"`

	// InitialCapacity seeds the bucket. 0 starts empty; negative starts full.
	InitialCapacity int64 `yaml:"initial_capacity"`

	// WaitTimeoutMillis is how long callers may be made to wait for tokens
	// before giving up. 0 means the default (1000).
	WaitTimeoutMillis int64 `yaml:"wait_timeout_ms"`

	// MaxIdleMillis is how long the bucket may go unused before it is
	// garbage collected. 0 means the default (-1, never collected).
	MaxIdleMillis int64 `yaml:"max_idle_ms"`

	// MaxTokensPerRequest caps a single request, and must not exceed
	// MaxCapacity. 0 means the default (MaxCapacity).
	MaxTokensPerRequest int64 `yaml:"max_tokens_per_request"`

	Name string `yaml:"-"`
}

func (b *BucketConfig) String() string {
	return fmt.Sprint(*b)
}

// ApplyDefaults fills in defaults for unset fields, and returns the
// BucketConfig for chaining.
func (b *BucketConfig) ApplyDefaults() *BucketConfig {
	if b.RefreshIntervalMillis == 0 {
		b.RefreshIntervalMillis = 20
	}

	if b.MaxCapacity == 0 {
		b.MaxCapacity = 100
	}

	if b.InitialCapacity < 0 {
		b.InitialCapacity = b.MaxCapacity
	}

	if b.WaitTimeoutMillis == 0 {
		b.WaitTimeoutMillis = 1000
	}

	if b.MaxIdleMillis == 0 {
		b.MaxIdleMillis = -1
	}

	if b.MaxTokensPerRequest == 0 {
		b.MaxTokensPerRequest = b.MaxCapacity
	}

	return b
}

// Validate checks a BucketConfig after defaults have been applied. Bucket
// construction performs the authoritative clock checks; this catches plain
// misconfiguration early.
func (b *BucketConfig) Validate() error {
	if b.RefreshIntervalMillis <= 0 {
		return fmt.Errorf("bucket %v: refresh_interval_ms must be positive; got %v",
			b.Name, b.RefreshIntervalMillis)
	}

	if b.MaxCapacity < 0 {
		return fmt.Errorf("bucket %v: max_capacity must not be negative; got %v",
			b.Name, b.MaxCapacity)
	}

	if b.MaxCapacity > 0 && b.RefreshIntervalMillis > math.MaxInt64/int64(time.Millisecond)/b.MaxCapacity {
		return fmt.Errorf("bucket %v: refresh_interval_ms %v times max_capacity %v overflows",
			b.Name, b.RefreshIntervalMillis, b.MaxCapacity)
	}

	if b.WaitTimeoutMillis < 0 {
		return fmt.Errorf("bucket %v: wait_timeout_ms must not be negative; got %v",
			b.Name, b.WaitTimeoutMillis)
	}

	if b.MaxTokensPerRequest < 1 || b.MaxTokensPerRequest > b.MaxCapacity {
		return fmt.Errorf("bucket %v: max_tokens_per_request must be between 1 and max_capacity; got %v",
			b.Name, b.MaxTokensPerRequest)
	}

	return nil
}

// RefreshInterval returns the accrual period as a time.Duration.
func (b *BucketConfig) RefreshInterval() time.Duration {
	return time.Duration(b.RefreshIntervalMillis) * time.Millisecond
}

// WaitTimeout returns the wait cap as a time.Duration.
func (b *BucketConfig) WaitTimeout() time.Duration {
	return time.Duration(b.WaitTimeoutMillis) * time.Millisecond
}

// MaxIdle returns the garbage collection threshold as a time.Duration.
// Non-positive means the bucket is never collected.
func (b *BucketConfig) MaxIdle() time.Duration {
	return time.Duration(b.MaxIdleMillis) * time.Millisecond
}

// NewConfig creates an empty config.
func NewConfig() *Config {
	return &Config{Buckets: make(map[string]*BucketConfig)}
}

// NewDefaultBucketConfig creates a bucket config with defaults applied: 50
// tokens per second, capacity 100, starting full.
func NewDefaultBucketConfig() *BucketConfig {
	b := &BucketConfig{InitialCapacity: -1}
	return b.ApplyDefaults()
}

// FromFile reads, defaults and validates a YAML config from a file.
func FromFile(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("unable to open file %v: %v", filename, err)
	}

	return FromYAML(b)
}

// FromReader reads, defaults and validates a YAML config from a reader.
func FromReader(r io.Reader) (*Config, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unable to read config: %v", err)
	}

	return FromYAML(b)
}

// FromYAML parses a YAML config, applies defaults and validates it.
func FromYAML(b []byte) (*Config, error) {
	cfg := NewConfig()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("unable to read YAML: %v", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
