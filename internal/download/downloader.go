package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrChecksumMismatch is returned when a downloaded file does not match the expected digest
var ErrChecksumMismatch = errors.New("checksum mismatch")

// progressStep is how many bytes pass between progress reports when the length is unknown
const progressStep = 256 * 1024

// Progress describes a running transfer. Percent is -1 when the total length is unknown.
type Progress struct {
	Bytes   int64   `json:"bytes"`
	Total   int64   `json:"total"`
	Percent float64 `json:"percent"`
}

// Result describes a completed download
type Result struct {
	Path   string `json:"path"`
	Bytes  int64  `json:"bytes"`
	SHA256 string `json:"sha256"`
}

// Downloader fetches files over HTTP
type Downloader struct {
	client    *http.Client
	userAgent string
}

// NewDownloader creates a downloader. A zero timeout means no overall limit.
func NewDownloader(timeout time.Duration, userAgent string) *Downloader {
	return &Downloader{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Fetch downloads url into dest. The body is written to dest.part and renamed once complete.
func (d *Downloader) Fetch(ctx context.Context, url, dest string, progress func(Progress)) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid download url: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	partPath := dest + ".part"
	file, err := os.Create(partPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", partPath, err)
	}

	hasher := sha256.New()
	counter := &progressWriter{total: resp.ContentLength, report: progress}
	written, copyErr := io.Copy(io.MultiWriter(file, hasher, counter), resp.Body)
	closeErr := file.Close()

	if copyErr != nil || closeErr != nil {
		os.Remove(partPath)
		if copyErr != nil {
			return nil, fmt.Errorf("download interrupted: %w", copyErr)
		}
		return nil, fmt.Errorf("failed to write %s: %w", partPath, closeErr)
	}

	if resp.ContentLength > 0 && written != resp.ContentLength {
		os.Remove(partPath)
		return nil, fmt.Errorf("download truncated: got %d of %d bytes", written, resp.ContentLength)
	}

	if err := os.Rename(partPath, dest); err != nil {
		os.Remove(partPath)
		return nil, fmt.Errorf("failed to move download into place: %w", err)
	}

	counter.finish()

	return &Result{
		Path:   dest,
		Bytes:  written,
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// VerifySHA256 compares a result against an expected hex digest. An empty digest always matches.
func VerifySHA256(result *Result, expected string) error {
	if expected == "" || result == nil {
		return nil
	}
	if !strings.EqualFold(result.SHA256, expected) {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, result.SHA256)
	}
	return nil
}

// progressWriter reports whole-percent changes, or every progressStep bytes when the length is unknown
type progressWriter struct {
	total   int64
	written int64
	last    int64
	report  func(Progress)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.report == nil {
		return len(b), nil
	}

	if p.total > 0 {
		pct := p.written * 100 / p.total
		if pct != p.last {
			p.last = pct
			p.emit()
		}
	} else if p.written-p.last >= progressStep {
		p.last = p.written
		p.emit()
	}
	return len(b), nil
}

func (p *progressWriter) finish() {
	if p.report != nil {
		p.emit()
	}
}

func (p *progressWriter) emit() {
	percent := float64(-1)
	if p.total > 0 {
		percent = float64(p.written) * 100 / float64(p.total)
	}
	p.report(Progress{Bytes: p.written, Total: p.total, Percent: percent})
}
