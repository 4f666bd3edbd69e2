// Package bytesize parses and formats human-readable byte sizes used in the
// configuration file, such as frame limits ("64Ki", "1MB").
package bytesize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes.
//
// Accepted input: plain numbers (1024), binary units Ki/Mi/Gi/Ti with an
// optional trailing B (x1024), decimal units K/M/G/T with an optional
// trailing B (x1000), and B. Fractions are allowed ("1.5Mi").
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

var sizePattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)

var multipliers = map[string]ByteSize{
	"": B, "b": B,
	"k": KB, "kb": KB,
	"m": MB, "mb": MB,
	"g": GB, "gb": GB,
	"t": TB, "tb": TB,
	"ki": KiB, "kib": KiB,
	"mi": MiB, "mib": MiB,
	"gi": GiB, "gib": GiB,
	"ti": TiB, "tib": TiB,
}

// binaryUnits is ordered from largest to smallest for Format.
var binaryUnits = []struct {
	suffix string
	size   ByteSize
}{
	{"Ti", TiB},
	{"Gi", GiB},
	{"Mi", MiB},
	{"Ki", KiB},
}

// ParseByteSize parses s into a ByteSize.
func ParseByteSize(s string) (ByteSize, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}

	mult, ok := multipliers[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit: %q", m[2])
	}

	if strings.Contains(m[1], ".") {
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in byte size: %q", m[1])
		}
		return ByteSize(f * float64(mult)), nil
	}

	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in byte size: %q", m[1])
	}
	if n > math.MaxUint64/uint64(mult) {
		return 0, fmt.Errorf("byte size overflows: %q", s)
	}
	return ByteSize(n) * mult, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalYAML writes the exact Format form so saved files stay readable
// and parse back to the same value.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.Format(), nil
}

// Format returns the shortest exact representation: the largest binary unit
// dividing b ("64Ki"), or the plain number of bytes.
func (b ByteSize) Format() string {
	if b == 0 {
		return "0"
	}
	for _, u := range binaryUnits {
		if b%u.size == 0 {
			return strconv.FormatUint(uint64(b/u.size), 10) + u.suffix
		}
	}
	return strconv.FormatUint(uint64(b), 10)
}

// String returns an approximate human-readable size, for logs.
func (b ByteSize) String() string {
	for _, u := range binaryUnits {
		if b >= u.size {
			return fmt.Sprintf("%.2f%sB", float64(b)/float64(u.size), u.suffix)
		}
	}
	return fmt.Sprintf("%dB", b)
}

// Int returns b as an int, saturating at math.MaxInt.
func (b ByteSize) Int() int {
	if uint64(b) > math.MaxInt {
		return math.MaxInt
	}
	return int(b)
}
