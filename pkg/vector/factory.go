package vector

import "fmt"

// Config selects and configures a vector provider.
type Config struct {
	// Provider is "qdrant" or "chromem" (default: "chromem").
	Provider string `yaml:"provider"`

	// Collection is the default collection name.
	Collection string `yaml:"collection"`

	Qdrant  QdrantConfig  `yaml:"qdrant,omitempty"`
	Chromem ChromemConfig `yaml:"chromem,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "chromem"
	}
	if c.Collection == "" {
		c.Collection = "documents"
	}
}

func (c *Config) Validate() error {
	switch c.Provider {
	case "qdrant", "chromem", "":
		return nil
	default:
		return fmt.Errorf("unknown vector provider: %q", c.Provider)
	}
}

// NewProvider creates a vector provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "qdrant":
		return NewQdrantProvider(cfg.Qdrant)
	default:
		return NewChromemProvider(cfg.Chromem)
	}
}
