package runlog

import (
	"fmt"

	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// Compression selects how rotated history files are stored.
type Compression string

const (
	Gzip Compression = "gzip"
	Zstd Compression = "zstd"
)

var compressionToString = map[Compression]string{
	Gzip: "gzip",
	Zstd: "zstd",
}

var compressionToExt = map[Compression]string{
	Gzip: ".jsonl.gz",
	Zstd: ".jsonl.zst",
}

var stringToCompression map[string]Compression

func init() {
	stringToCompression = util.InvertMap(compressionToString)
}

func (c Compression) String() string {
	if str, ok := compressionToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_compression(%s)", string(c))
}

// ParseCompression parses a compression name. Empty means Gzip.
func ParseCompression(s string) (Compression, error) {
	if s == "" {
		return Gzip, nil
	}
	if c, ok := stringToCompression[s]; ok {
		return c, nil
	}
	return "", fmt.Errorf("invalid history compression: %q. Must be 'gzip' or 'zstd'", s)
}
