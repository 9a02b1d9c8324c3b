package kb

import (
	"fmt"
	"time"

	"github.com/openmined/kbsync/internal/utils"
)

const (
	DefaultCollection   = "document"
	DefaultNamespace    = "public"
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
	DefaultTimeout      = 60 * time.Second
)

type Config struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Collection        string        `mapstructure:"collection"`
	Namespace         string        `mapstructure:"namespace"`
	NamespacePassword string        `mapstructure:"namespace_password"`
	ChunkSize         int           `mapstructure:"chunk_size"`
	ChunkOverlap      int           `mapstructure:"chunk_overlap"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url required")
	}
	if !utils.IsValidURL(c.BaseURL) {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}
	if c.ChunkSize < 0 || c.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_size and chunk_overlap must not be negative")
	}
	if c.ChunkSize > 0 && c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Collection == "" {
		out.Collection = DefaultCollection
	}
	if out.Namespace == "" {
		out.Namespace = DefaultNamespace
	}
	if out.ChunkSize <= 0 {
		out.ChunkSize = DefaultChunkSize
	}
	if out.ChunkOverlap <= 0 {
		out.ChunkOverlap = DefaultChunkOverlap
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	return out
}

// Chunking returns the configured split parameters
func (c *Config) Chunking() Chunking {
	d := c.withDefaults()
	return Chunking{Size: d.ChunkSize, Overlap: d.ChunkOverlap}
}
