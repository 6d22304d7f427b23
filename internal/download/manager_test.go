package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZakirC4/papermc-setup/internal/config"
	"github.com/ZakirC4/papermc-setup/internal/database"
	"github.com/ZakirC4/papermc-setup/internal/provision"
)

func newTestManager(t *testing.T, handler http.Handler) (*Manager, *config.Config, *database.DB) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	root := t.TempDir()
	db, err := database.NewDB(filepath.Join(root, "data", "test.db"))
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}

	cfg := config.Default()
	cfg.Storage.ServerDir = filepath.Join(root, "server")
	cfg.Game.Executable = "paper.jar"
	cfg.Downloads.ServerURL = server.URL + "/paper.jar"
	cfg.Downloads.Plugins = map[string]string{"geyser": server.URL + "/geyser.jar"}

	return NewManager(cfg, db.DB), cfg, db
}

func TestManagerServerJobProvisions(t *testing.T) {
	gate := make(chan struct{})
	mgr, cfg, db := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-gate
		w.Write([]byte("jar-bytes"))
	}))

	job, err := mgr.SubmitServer("admin")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	events, unsubscribe := mgr.Subscribe(job.ID)
	defer unsubscribe()
	close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	final, err := mgr.Wait(ctx, job.ID)
	if err != nil {
		t.Fatalf("job failed: %v", err)
	}
	if final.Status != StatusComplete || final.SHA256 == "" {
		t.Fatalf("unexpected final job %+v", final)
	}

	if _, err := os.Stat(filepath.Join(cfg.Storage.ServerDir, "paper.jar")); err != nil {
		t.Fatalf("expected server jar: %v", err)
	}
	accepted, err := provision.EULAAccepted(cfg.Storage.ServerDir)
	if err != nil || !accepted {
		t.Fatalf("expected EULA to be accepted, got %v %v", accepted, err)
	}

	var status string
	var bytes int64
	if err := db.QueryRow(`SELECT status, bytes FROM download_jobs WHERE id = ?`, job.ID).Scan(&status, &bytes); err != nil {
		t.Fatalf("failed to read job row: %v", err)
	}
	if status != string(StatusComplete) || bytes != int64(len("jar-bytes")) {
		t.Fatalf("unexpected job row %s %d", status, bytes)
	}

	sawStatus := false
	for len(events) > 0 {
		ev := <-events
		if ev.Event == "status" && ev.Data == string(StatusComplete) {
			sawStatus = true
		}
	}
	if !sawStatus {
		t.Fatalf("expected a complete status event")
	}
}

func TestManagerPluginJobAndFailures(t *testing.T) {
	mgr, cfg, _ := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/geyser.jar" {
			w.Write([]byte("plugin"))
			return
		}
		http.NotFound(w, r)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := mgr.SubmitPlugin("Geyser", "admin")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := mgr.Wait(ctx, job.ID); err != nil {
		t.Fatalf("plugin job failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Storage.ServerDir, "plugins", "geyser.jar")); err != nil {
		t.Fatalf("expected plugin jar: %v", err)
	}

	if _, err := mgr.SubmitPlugin("unknown", "admin"); !errors.Is(err, ErrUnknownPlugin) {
		t.Fatalf("expected ErrUnknownPlugin, got %v", err)
	}

	serverJob, err := mgr.SubmitServer("admin")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	final, err := mgr.Wait(ctx, serverJob.ID)
	if err == nil || final.Status != StatusFailed {
		t.Fatalf("expected failed job, got %+v %v", final, err)
	}

	if _, err := mgr.GetJob("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if jobs := mgr.ListJobs(10); len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
}
