// Package bytesize provides a byte count type that reads and writes
// human-readable sizes such as "1MiB", "512KB" or plain "1048576".
package bytesize

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ByteSize is a size in bytes.
//
// Parsing accepts plain numbers, SI units (kB, MB, GB: ×1000) and IEC units
// (KiB, MiB, GiB: ×1024). Short suffixes ("Mi", "k") and lowercase are
// accepted.
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
)

// Parse converts a human-readable size into a ByteSize.
func Parse(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("invalid byte size %q: must not be negative", s)
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// String renders the size with IEC units, e.g. "1.0 MiB".
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Uint64 returns the size as uint64.
func (b ByteSize) Uint64() uint64 { return uint64(b) }

// Int64 returns the size as int64.
func (b ByteSize) Int64() int64 { return int64(b) }

// MarshalText renders the size exactly, using the largest IEC unit that
// divides it ("1MiB", "1536"), so values round-trip without rounding.
func (b ByteSize) MarshalText() ([]byte, error) {
	for _, u := range []struct {
		size ByteSize
		name string
	}{{GiB, "GiB"}, {MiB, "MiB"}, {KiB, "KiB"}} {
		if b != 0 && b%u.size == 0 {
			return []byte(fmt.Sprintf("%d%s", uint64(b/u.size), u.name)), nil
		}
	}
	return []byte(fmt.Sprintf("%d", uint64(b))), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}
