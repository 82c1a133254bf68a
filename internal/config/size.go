package config

import (
	"fmt"
	"strings"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// ByteSize is a file size that accepts plain byte counts as well as
// quantities such as "10MiB" or "512Ki".
type ByteSize int64

// UnmarshalYAML parses integer and textual sizes.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid size: expected a scalar")
	}
	size, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// MarshalYAML renders the size in binary units when that is exact.
func (b ByteSize) MarshalYAML() (any, error) {
	if b <= 0 {
		return int64(b), nil
	}
	human := units.BytesSize(float64(b))
	if parsed, err := ParseSize(human); err == nil && parsed == int64(b) {
		return human, nil
	}
	return int64(b), nil
}

// ParseSize converts a textual size like "10MiB" into bytes. An empty string
// yields zero.
func ParseSize(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	lower := strings.ToLower(trimmed)
	for _, suffix := range []string{"ki", "mi", "gi", "ti", "pi"} {
		if strings.HasSuffix(lower, suffix) {
			trimmed += "B"
			break
		}
	}
	size, err := units.RAMInBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", value, err)
	}
	if size < 0 {
		return 0, fmt.Errorf("invalid size %q: must be non-negative", value)
	}
	return size, nil
}
