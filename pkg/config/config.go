package config

import (
	"time"

	"github.com/cognidesk/cognidesk/pkg/batch"
	"github.com/cognidesk/cognidesk/pkg/citation"
	"github.com/cognidesk/cognidesk/pkg/conversation"
	"github.com/cognidesk/cognidesk/pkg/document"
	"github.com/cognidesk/cognidesk/pkg/embedding"
	"github.com/cognidesk/cognidesk/pkg/fault"
	"github.com/cognidesk/cognidesk/pkg/indexing"
	"github.com/cognidesk/cognidesk/pkg/llm"
	"github.com/cognidesk/cognidesk/pkg/nlu"
	"github.com/cognidesk/cognidesk/pkg/observability"
	"github.com/cognidesk/cognidesk/pkg/orchestrator"
	"github.com/cognidesk/cognidesk/pkg/search"
	"github.com/cognidesk/cognidesk/pkg/tool"
	"github.com/cognidesk/cognidesk/pkg/vector"

	"github.com/cognidesk/cognidesk/pkg/kvstore"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host            string        `yaml:"host,omitempty"`
	Port            int           `yaml:"port,omitempty"`
	ReadTimeout     time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"write_timeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// MaxUploadBytes bounds multipart document uploads (default: 32 MiB).
	MaxUploadBytes int64 `yaml:"max_upload_bytes,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		// Streaming turns can outlive ordinary request timeouts.
		c.WriteTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 32 << 20
	}
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	File   string `yaml:"file,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// Config is the full application configuration.
type Config struct {
	Server        ServerConfig         `yaml:"server,omitempty"`
	Logging       LoggingConfig        `yaml:"logging,omitempty"`
	Redis         kvstore.RedisConfig  `yaml:"redis,omitempty"`
	LLM           llm.Config           `yaml:"llm,omitempty"`
	Embedding     embedding.Config     `yaml:"embedding,omitempty"`
	Vector        vector.Config        `yaml:"vector,omitempty"`
	Search        search.Config        `yaml:"search,omitempty"`
	Citations     citation.Config      `yaml:"citations,omitempty"`
	NLU           nlu.Config           `yaml:"nlu,omitempty"`
	Conversation  conversation.Config  `yaml:"conversation,omitempty"`
	Tools         tool.Config          `yaml:"tools,omitempty"`
	Document      document.Config      `yaml:"document,omitempty"`
	Indexing      indexing.Config      `yaml:"indexing,omitempty"`
	Batch         batch.Config         `yaml:"batch,omitempty"`
	Orchestrator  orchestrator.Config  `yaml:"orchestrator,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty"`
}

// SetDefaults applies component defaults bottom-up.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Logging.SetDefaults()
	c.Redis.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedding.SetDefaults()
	c.Vector.SetDefaults()
	c.Search.SetDefaults()
	c.Citations.SetDefaults()
	c.NLU.SetDefaults()
	c.Conversation.SetDefaults()
	c.Tools.SetDefaults()
	c.Document.SetDefaults()
	c.Indexing.SetDefaults()
	c.Batch.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks cross-component consistency after defaults are applied.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fault.Validation("config", "server port %d out of range", c.Server.Port)
	}
	if err := c.Vector.Validate(); err != nil {
		return err
	}
	for _, def := range c.Tools.Tools {
		if def.Name == "" {
			return fault.Validation("config", "tool definition missing name")
		}
		if def.Endpoint == "" {
			return fault.Validation("config", "tool %s missing endpoint", def.Name)
		}
	}
	for _, src := range c.Batch.Sources {
		if src.Name == "" {
			return fault.Validation("config", "batch source missing name")
		}
		switch src.Type {
		case batch.SourceCRM, batch.SourceERP:
		default:
			return fault.Validation("config", "batch source %s has unknown type %q", src.Name, src.Type)
		}
	}
	return nil
}
