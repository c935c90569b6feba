package document

import "time"

// Document is the unit of ingestion. The (source_system, record_id) metadata
// pair forms the natural key for sync from external systems.
type Document struct {
	ID        string                 `json:"id"`
	Content   string                 `json:"content"`
	Source    string                 `json:"source"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Chunk is one window of a processed document, ready for embedding.
type Chunk struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	Index          int `json:"chunk_index"`
	WordCount      int `json:"word_count"`
	StartWordIndex int `json:"start_word_index"`
	EndWordIndex   int `json:"end_word_index"`
}

// Config controls chunking.
type Config struct {
	// ChunkSize is the window size in words (default: 200).
	ChunkSize int `yaml:"chunk_size,omitempty"`

	// ChunkOverlap is the number of words shared between consecutive
	// chunks (default: 30).
	ChunkOverlap int `yaml:"chunk_overlap,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 200
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap == 0 && c.ChunkSize > 30 {
		c.ChunkOverlap = 30
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 4
	}
}
