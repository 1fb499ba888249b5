package types

import "fmt"

// Limits for the custom metadata map.
const (
	MaxCustomEntries  = 32
	MaxCustomKeyLen   = 64
	MaxCustomValueLen = 1024
)

// Custom is a bounded string map for caller-defined metadata.
type Custom map[string]string

// Validate enforces the entry, key and value limits.
func (c Custom) Validate() error {
	if len(c) > MaxCustomEntries {
		return fmt.Errorf("custom metadata has %d entries, max %d", len(c), MaxCustomEntries)
	}
	for k, v := range c {
		if k == "" {
			return fmt.Errorf("custom metadata key must not be empty")
		}
		if len(k) > MaxCustomKeyLen {
			return fmt.Errorf("custom metadata key %q exceeds %d bytes", k, MaxCustomKeyLen)
		}
		if len(v) > MaxCustomValueLen {
			return fmt.Errorf("custom metadata value for %q exceeds %d bytes", k, MaxCustomValueLen)
		}
	}
	return nil
}
