package backup

import (
	"compress/gzip"
	"io"
	"path"
	"strings"

	"github.com/ZakirC4/papermc-setup/internal/config"
)

func normalizeCompression(cfg config.CompressionConfig) config.CompressionConfig {
	compressionType := strings.ToLower(strings.TrimSpace(cfg.Type))
	if compressionType != "none" {
		compressionType = "gzip"
	}

	level := cfg.Level
	if level == 0 {
		level = 6
	}
	if level < 1 {
		level = 1
	}
	if level > 9 {
		level = 9
	}

	return config.CompressionConfig{
		Type:  compressionType,
		Level: level,
	}
}

func compressionArchiveExtension(cfg config.CompressionConfig) string {
	switch normalizeCompression(cfg).Type {
	case "none":
		return "tar"
	default:
		return "tar.gz"
	}
}

func detectCompressionFromFilename(filename string) config.CompressionConfig {
	base := strings.ToLower(path.Base(filename))
	if strings.HasSuffix(base, ".tar") {
		return config.CompressionConfig{Type: "none"}
	}
	return config.CompressionConfig{Type: "gzip", Level: 6}
}

// nopWriteCloser lets uncompressed archives share the gzip code path
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func newCompressor(w io.Writer, cfg config.CompressionConfig) (io.WriteCloser, error) {
	cfg = normalizeCompression(cfg)
	if cfg.Type == "none" {
		return nopWriteCloser{w}, nil
	}
	return gzip.NewWriterLevel(w, cfg.Level)
}

func newDecompressor(r io.Reader, cfg config.CompressionConfig) (io.ReadCloser, error) {
	if normalizeCompression(cfg).Type == "none" {
		return io.NopCloser(r), nil
	}
	return gzip.NewReader(r)
}
