package pagecache

import (
	"fmt"

	units "github.com/docker/go-units"
)

// Defaults applied by [Config] for unset fields.
const (
	DefaultMemory     = "8M"
	DefaultPageSize   = 8192
	DefaultMaxCursors = 64
)

// Config sizes a [PageCache].
//
// Zero values mean "use the default"; see [DefaultConfig].
type Config struct {
	// Memory is the cache budget as a human size ("8M", "512KiB", "1g").
	Memory string `json:"memory,omitempty"`

	// PageSize is the size of one cached page in bytes.
	PageSize int `json:"page_size,omitempty"`

	// MaxCursors caps concurrently open cursor tracers.
	MaxCursors int `json:"max_cursors,omitempty"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Memory:     DefaultMemory,
		PageSize:   DefaultPageSize,
		MaxCursors: DefaultMaxCursors,
	}
}

// withDefaults fills unset fields without overriding explicit ones.
func (c Config) withDefaults() Config {
	if c.Memory == "" {
		c.Memory = DefaultMemory
	}

	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}

	if c.MaxCursors == 0 {
		c.MaxCursors = DefaultMaxCursors
	}

	return c
}

// MemoryBytes parses Memory. Binary multipliers apply, so "8M" is 8 MiB.
func (c Config) MemoryBytes() (int64, error) {
	c = c.withDefaults()

	n, err := units.RAMInBytes(c.Memory)
	if err != nil {
		return 0, fmt.Errorf("%w: memory %q: %w", ErrInvalidConfig, c.Memory, err)
	}

	return n, nil
}

// MaxPages returns how many pages fit in the memory budget.
func (c Config) MaxPages() (int, error) {
	c = c.withDefaults()

	if err := c.validate(); err != nil {
		return 0, err
	}

	mem, err := c.MemoryBytes()
	if err != nil {
		return 0, err
	}

	pages := mem / int64(c.PageSize)
	if pages < 1 {
		return 0, fmt.Errorf("%w: memory %s is smaller than one %d byte page",
			ErrInvalidConfig, units.BytesSize(float64(mem)), c.PageSize)
	}

	return int(pages), nil
}

func (c Config) validate() error {
	if c.PageSize < 0 {
		return fmt.Errorf("%w: page_size must be > 0, got %d", ErrInvalidConfig, c.PageSize)
	}

	if c.MaxCursors < 0 {
		return fmt.Errorf("%w: max_cursors must be > 0, got %d", ErrInvalidConfig, c.MaxCursors)
	}

	return nil
}

// String describes the resolved configuration.
func (c Config) String() string {
	c = c.withDefaults()

	return fmt.Sprintf("memory=%s page_size=%s max_cursors=%d",
		c.Memory, units.BytesSize(float64(c.PageSize)), c.MaxCursors)
}
