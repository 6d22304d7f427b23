package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDownloaderFetchWritesFileAndReportsProgress(t *testing.T) {
	body := strings.Repeat("paper", 100000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "papermc-test" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(body))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "nested", "paper.jar")
	var reports []Progress
	result, err := NewDownloader(10*time.Second, "papermc-test").Fetch(context.Background(), server.URL, dest, func(p Progress) {
		reports = append(reports, p)
	})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("failed to read download: %v", err)
	}
	if string(data) != body {
		t.Fatalf("downloaded content mismatch")
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Fatalf("expected part file to be gone, got %v", err)
	}

	sum := sha256.Sum256([]byte(body))
	if result.SHA256 != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected sha256 %s", result.SHA256)
	}
	if result.Bytes != int64(len(body)) {
		t.Fatalf("unexpected size %d", result.Bytes)
	}

	if len(reports) == 0 {
		t.Fatalf("expected progress reports")
	}
	last := reports[len(reports)-1]
	if last.Bytes != int64(len(body)) {
		t.Fatalf("final progress should cover the whole body, got %+v", last)
	}
	if last.Total > 0 && last.Percent != 100 {
		t.Fatalf("expected 100 percent, got %v", last.Percent)
	}
	if last.Total <= 0 && last.Percent != -1 {
		t.Fatalf("expected unknown percent, got %v", last.Percent)
	}
}

func TestDownloaderFetchRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "paper.jar")
	if _, err := NewDownloader(0, "").Fetch(context.Background(), server.URL, dest, nil); err == nil {
		t.Fatalf("expected error for 404")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("destination should not exist after failure")
	}
}

func TestDownloaderFetchHonoursContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewDownloader(0, "").Fetch(ctx, server.URL, filepath.Join(t.TempDir(), "x.jar"), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestVerifySHA256(t *testing.T) {
	result := &Result{SHA256: "abcdef"}
	if err := VerifySHA256(result, ""); err != nil {
		t.Fatalf("empty digest should match: %v", err)
	}
	if err := VerifySHA256(result, "ABCDEF"); err != nil {
		t.Fatalf("digest comparison should ignore case: %v", err)
	}
	if err := VerifySHA256(result, "000000"); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestCatalogLookup(t *testing.T) {
	catalog := NewCatalog(map[string]string{"Geyser": "https://example.com/geyser.jar", "floodgate": "https://example.com/fg.jar"})

	name, url, err := catalog.Lookup(" GEYSER ")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if name != "geyser" || url != "https://example.com/geyser.jar" {
		t.Fatalf("unexpected lookup result %s %s", name, url)
	}

	if _, _, err := catalog.Lookup("essentials"); !errors.Is(err, ErrUnknownPlugin) {
		t.Fatalf("expected ErrUnknownPlugin, got %v", err)
	}

	names := catalog.Names()
	if len(names) != 2 || names[0] != "floodgate" || names[1] != "geyser" {
		t.Fatalf("unexpected names %v", names)
	}
}
