package backup

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZakirC4/papermc-setup/internal/config"
)

func TestLocalDestinationUploadDownloadDelete(t *testing.T) {
	ld := NewLocalDestination(t.TempDir() + "/backups")

	files, err := ld.List()
	if err != nil || len(files) != 0 {
		t.Fatalf("expected empty listing for missing dir, got %v %v", files, err)
	}

	content := []byte("backup-data")
	name := "backup_2026-10-15_12-00-00.tar.gz"
	if err := ld.Upload(name, bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if err := ld.Upload("backup_short.tar.gz", bytes.NewReader(content), 99); err == nil {
		t.Fatalf("expected size mismatch error")
	}
	if ld.Exists("backup_short.tar.gz") {
		t.Fatalf("failed upload should be removed")
	}

	var buf bytes.Buffer
	if err := ld.Download(name, &buf); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), content) {
		t.Fatalf("downloaded content mismatch")
	}

	files, err = ld.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(files) != 1 || files[0].Filename != name {
		t.Fatalf("unexpected listing %v", files)
	}

	if err := ld.Delete(name); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if ld.Exists(name) {
		t.Fatalf("expected backup file to be removed")
	}
	if err := ld.Delete(name); err != nil {
		t.Fatalf("expected deleting a missing file to succeed, got %v", err)
	}
}

func TestLocalDestinationIgnoresPartialUploads(t *testing.T) {
	dir := t.TempDir()
	ld := NewLocalDestination(dir)
	if err := os.WriteFile(filepath.Join(dir, "backup_2026-10-15_12-00-00.tar.gz.part"), []byte("partial"), 0644); err != nil {
		t.Fatalf("failed to write partial file: %v", err)
	}

	files, err := ld.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected partial upload to be hidden, got %v", files)
	}
}

func TestNewDestinationInvalidType(t *testing.T) {
	_, err := NewDestination(&DestinationConfig{BackupDestination: config.BackupDestination{Type: "invalid"}})
	if err == nil {
		t.Fatalf("expected error for invalid destination type")
	}
}

func TestNewS3DestinationRequiresBucket(t *testing.T) {
	if _, err := NewDestination(&DestinationConfig{BackupDestination: config.BackupDestination{Type: "s3", Region: "us-east-1"}}); err == nil {
		t.Fatalf("expected error without bucket")
	}

	dest, err := NewDestination(&DestinationConfig{BackupDestination: config.BackupDestination{
		Type:       "s3",
		Bucket:     "worlds",
		Region:     "us-east-1",
		Endpoint:   "http://127.0.0.1:9000",
		PathPrefix: "papermc",
	}})
	if err != nil {
		t.Fatalf("failed to create s3 destination: %v", err)
	}
	defer dest.Close()
	if dest.GetType() != "s3" {
		t.Fatalf("unexpected type %s", dest.GetType())
	}
	if key := dest.(*S3Destination).key("../backup_x.tar.gz"); key != "papermc/backup_x.tar.gz" {
		t.Fatalf("unexpected object key %s", key)
	}
}

func TestSFTPDestinationRequiresAuth(t *testing.T) {
	cfg := &DestinationConfig{
		BackupDestination: config.BackupDestination{Type: "sftp", Host: "127.0.0.1", Port: 1, Username: "backup"},
		KnownHostsPath:    t.TempDir() + "/known_hosts",
	}
	if _, err := NewDestination(cfg); err == nil {
		t.Fatalf("expected error without credentials")
	}
}
