package chunkuploader

import (
	"time"
)

const (
	// MaxChunkSize is the largest chunk AIP Console accepts in a single PATCH request.
	MaxChunkSize int64 = 50 * 1024 * 1024
	// DefaultChunkSize is used when no chunk size is requested.
	DefaultChunkSize int64 = 10 * 1024 * 1024

	// DefaultPollInterval is the pause between two extraction requests.
	DefaultPollInterval = 10 * time.Second
	// DefaultNotifyThreshold is how long the poller waits before reporting that extraction is still running.
	DefaultNotifyThreshold = 5 * time.Minute
)

// Config holds configuration for the chunk uploader.
// It is resolved once and passed around by value, an upload never changes it.
type Config struct {
	// ChunkSize is the number of bytes sent per chunk request.
	// Always within [1, MaxChunkSize].
	ChunkSize int64

	// PollInterval is the pause between extraction requests.
	// Default: 10 seconds
	PollInterval time.Duration

	// NotifyThreshold is the accumulated wait after which a progress notification is emitted.
	// Default: 5 minutes
	NotifyThreshold time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:       DefaultChunkSize,
		PollInterval:    DefaultPollInterval,
		NotifyThreshold: DefaultNotifyThreshold,
	}
}

// NewConfig returns the default configuration with the chunk size resolved from requestedChunkSize.
func NewConfig(requestedChunkSize int64) Config {
	config := DefaultConfig()
	config.ChunkSize = ResolveChunkSize(requestedChunkSize)
	return config
}

// ResolveChunkSize clamps the requested chunk size to MaxChunkSize.
// A non-positive value means no explicit size was requested and DefaultChunkSize is used.
func ResolveChunkSize(requested int64) int64 {
	if requested <= 0 {
		return DefaultChunkSize
	}
	if requested > MaxChunkSize {
		return MaxChunkSize
	}
	return requested
}

// TotalChunks returns ceil(totalSize / chunkSize).
func TotalChunks(totalSize, chunkSize int64) int {
	if totalSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((totalSize + chunkSize - 1) / chunkSize)
}

func (c Config) withDefaults() Config {
	c.ChunkSize = ResolveChunkSize(c.ChunkSize)
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.NotifyThreshold <= 0 {
		c.NotifyThreshold = DefaultNotifyThreshold
	}
	return c
}
