package webhook

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxBodySize caps receiver request bodies when no limit is configured.
const DefaultMaxBodySize int64 = 1 << 20

// DefaultReceiverPath is where the reference receiver listens.
const DefaultReceiverPath = "/webhooks"

// ReceiverConfig configures the reference receiver.
type ReceiverConfig struct {
	Listen      string
	Path        string
	Secret      string
	Tolerance   time.Duration
	MaxBodySize int64
}

func (c ReceiverConfig) withDefaults() ReceiverConfig {
	if c.Path == "" {
		c.Path = DefaultReceiverPath
	}
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	return c
}

// ParseByteSize parses size strings like "1MB", "512KB", "2048576" to bytes.
// Returns DefaultMaxBodySize if empty.
func ParseByteSize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
