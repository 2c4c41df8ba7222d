// Package config loads the queue-manager CLI configuration from YAML and
// the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvURLs names the environment variable holding comma separated endpoints.
const EnvURLs = "QUEUE_MANAGER_URLS"

// ErrNoURLs is returned by Validate when no broker endpoint is configured.
var ErrNoURLs = errors.New("config: no broker urls configured")

// Config is the file format of the CLI.
type Config struct {
	URLs []string `yaml:"urls"`

	Exchange       string                 `yaml:"exchange"`
	ExchangeKind   string                 `yaml:"exchange_kind"`
	Queue          string                 `yaml:"queue"`
	QueueArguments map[string]interface{} `yaml:"queue_arguments"`
	RoutingKey     string                 `yaml:"routing_key"`
	Declare        bool                   `yaml:"declare"`
	Durable        bool                   `yaml:"durable"`

	PrefetchCount     int           `yaml:"prefetch_count"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	HandlerTimeout    time.Duration `yaml:"handler_timeout"`
	ConsumerTagPrefix string        `yaml:"consumer_tag_prefix"`
	ConnectionName    string        `yaml:"connection_name"`
	ConfirmDelivery   bool          `yaml:"confirm_delivery"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	PubSub PubSub `yaml:"pubsub"`
}

// PubSub configures the cloud Pub/Sub transport.
type PubSub struct {
	Project         string `yaml:"project"`
	Topic           string `yaml:"topic"`
	Subscription    string `yaml:"subscription"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Declare:           true,
		PrefetchCount:     1,
		ReconnectDelay:    5 * time.Second,
		ConnectTimeout:    30 * time.Second,
		ConsumerTagPrefix: "queue-manager",
		ConnectionName:    "queue-manager",
		ConfirmDelivery:   true,
		LogLevel:          "info",
	}
}

// Parse decodes data on top of the defaults. Unknown keys are an error.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// ApplyEnv fills URLs from the environment when the file set none.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if len(c.URLs) > 0 {
		return
	}
	raw, ok := lookup(EnvURLs)
	if !ok {
		return
	}
	c.URLs = SplitURLs(raw)
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if len(c.URLs) == 0 {
		return ErrNoURLs
	}
	if c.PrefetchCount < 1 {
		return fmt.Errorf("config: prefetch_count must be at least 1, got %d", c.PrefetchCount)
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("config: reconnect_delay must not be negative, got %s", c.ReconnectDelay)
	}
	return nil
}

// SplitURLs splits a comma separated endpoint list, dropping blanks.
func SplitURLs(raw string) []string {
	var urls []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
