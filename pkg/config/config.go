// Package config is the single entry point for all configuration: one
// YAML file describing the server, the model providers, the knowledge
// services and the turn pipeline. Every section implements SetDefaults
// and Validate. Timeouts are expressed in seconds.
package config

import (
	"fmt"
	"time"

	"github.com/kletsmajoor/klets/pkg/mcp"
	"github.com/kletsmajoor/klets/pkg/pipeline"
)

// Config is the complete application configuration.
type Config struct {
	Name string `yaml:"name,omitempty"`

	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Bridge    BridgeConfig    `yaml:"mcp"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	FAQ       FAQConfig       `yaml:"faq"`
	Pipeline  pipeline.Config `yaml:"pipeline"`
}

func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "klets"
	}
	c.Server.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Bridge.SetDefaults()
	c.Sessions.SetDefaults()
	c.Pipeline.SetDefaults()
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config validation failed: %w", err)
	}
	return nil
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30
	}
	if c.WriteTimeout == 0 {
		// Turns can run several model calls back to back.
		c.WriteTimeout = 120
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// Address returns the listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LLMConfig configures the chat-completions provider.
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	Host        string  `yaml:"host"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     int     `yaml:"timeout"` // seconds
	MaxRetries  int     `yaml:"max_retries"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2000
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
}

func (c *LLMConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required (set LLM_API_KEY or llm.api_key)")
	}
	return nil
}

// EmbedderConfig configures the embeddings provider used by the FAQ
// match engine. Optional: without it the FAQ engine is disabled.
type EmbedderConfig struct {
	APIKey    string `yaml:"api_key"`
	Host      string `yaml:"host"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
	Timeout   int    `yaml:"timeout"` // seconds
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
}

// Enabled reports whether an embedder is configured at all.
func (c *EmbedderConfig) Enabled() bool {
	return c.APIKey != ""
}

// RetrievalConfig points at the document-retrieval service.
type RetrievalConfig struct {
	BaseURL    string `yaml:"base_url"`
	MaxResults int    `yaml:"max_results"`
	Timeout    int    `yaml:"timeout"` // seconds
}

func (c *RetrievalConfig) SetDefaults() {
	if c.MaxResults == 0 {
		c.MaxResults = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

// Enabled reports whether a retrieval backend is configured.
func (c *RetrievalConfig) Enabled() bool {
	return c.BaseURL != ""
}

// BridgeConfig points at the rule-execution bridge endpoint.
type BridgeConfig struct {
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout"` // seconds
}

func (c *BridgeConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

// Enabled reports whether a bridge endpoint is configured.
func (c *BridgeConfig) Enabled() bool {
	return c.URL != ""
}

// ClientConfig converts to the bridge client's configuration.
func (c *BridgeConfig) ClientConfig() mcp.Config {
	return mcp.Config{
		URL:     c.URL,
		Timeout: time.Duration(c.Timeout) * time.Second,
	}
}

// SessionsConfig configures session persistence.
type SessionsConfig struct {
	Dir string `yaml:"dir"`
}

func (c *SessionsConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = "./sessions"
	}
}

// FAQConfig configures the FAQ semantic match engine.
type FAQConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// Enabled reports whether a FAQ file is configured.
func (c *FAQConfig) Enabled() bool {
	return c.Path != ""
}
