package container

import (
	"strings"

	"github.com/apache/arrow/go/v14/parquet/compress"

	sperrors "github.com/schlafly/bayestar/pkg/errors"
)

// Compression selects the Parquet codec used for dataset members.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionGzip
	CompressionLZ4
	CompressionZstd
	CompressionBrotli
)

func (c Compression) String() string {
	names := []string{"none", "snappy", "gzip", "lz4", "zstd", "brotli"}
	if int(c) < len(names) {
		return names[c]
	}
	return "unknown"
}

// ParseCompression parses a codec name. The empty string selects zstd.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "zstd", "":
		return CompressionZstd, nil
	case "gzip":
		return CompressionGzip, nil
	case "brotli":
		return CompressionBrotli, nil
	case "snappy":
		return CompressionSnappy, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, sperrors.New(sperrors.CodeInvalidCompression, "unknown compression codec").
			WithContext("codec", s)
	}
}

// MaxLevel returns the strongest level the codec accepts, or 0 for codecs
// without levels.
func (c Compression) MaxLevel() int {
	switch c {
	case CompressionZstd:
		return 22
	case CompressionGzip:
		return 9
	case CompressionBrotli:
		return 11
	default:
		return 0
	}
}

func (c Compression) codec() compress.Compression {
	switch c {
	case CompressionSnappy:
		return compress.Codecs.Snappy
	case CompressionGzip:
		return compress.Codecs.Gzip
	case CompressionLZ4:
		return compress.Codecs.Lz4
	case CompressionZstd:
		return compress.Codecs.Zstd
	case CompressionBrotli:
		return compress.Codecs.Brotli
	default:
		return compress.Codecs.Uncompressed
	}
}
