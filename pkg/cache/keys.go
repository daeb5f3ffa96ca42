package cache

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxKeyLength is the longest accepted key in bytes, prefix excluded.
const MaxKeyLength = 512

// ValidateKey checks a caller supplied key.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key is %d bytes, limit is %d", ErrInvalidKey, len(key), MaxKeyLength)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: key is not valid UTF-8", ErrInvalidKey)
	}
	if i := strings.IndexFunc(key, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}); i >= 0 {
		return fmt.Errorf("%w: whitespace or control character at byte %d", ErrInvalidKey, i)
	}
	return nil
}

// ValidatePrefix checks a prefix given to DeleteByPrefix. It follows the key
// rules, so an empty prefix is rejected.
func ValidatePrefix(prefix string) error {
	if err := ValidateKey(prefix); err != nil {
		return fmt.Errorf("prefix: %w", err)
	}
	return nil
}

type keyspace string

func (ns keyspace) qualify(key string) string {
	return string(ns) + key
}

func (ns keyspace) qualifyAll(keys []string) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := ValidateKey(k); err != nil {
			return nil, err
		}
		out = append(out, ns.qualify(k))
	}
	return out, nil
}
