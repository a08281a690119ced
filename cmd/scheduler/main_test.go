package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/coaching-scheduler/internal/config"
	httptransport "github.com/example/coaching-scheduler/internal/http"
	"github.com/example/coaching-scheduler/internal/metrics"
	"github.com/example/coaching-scheduler/internal/notify"
	"github.com/example/coaching-scheduler/internal/persistence/memory"
)

func testConfig() config.Config {
	return config.Config{
		StorageDriver:        config.DriverMemory,
		VideoBaseURL:         "https://meet.example.com/rooms",
		VideoSecret:          "test-secret",
		OutboxSchedule:       "@every 1h",
		OutboxBatchSize:      10,
		OutboxMaxAttempts:    3,
		OutboxLease:          time.Minute,
		CollaboratorTimeout:  time.Second,
		CalendarFetchTimeout: time.Second,
		CacheTTL:             time.Minute,
		CacheSize:            16,
		ReferenceTimezone:    "UTC",
		ReferenceLocation:    time.UTC,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStore_Memory(t *testing.T) {
	t.Parallel()

	store, err := openStore(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("openStore returned error: %v", err)
	}
	defer store.Close()

	if _, ok := store.(*memory.Storage); !ok {
		t.Fatalf("expected memory storage, got %T", store)
	}
	if healthCheck(store) != nil {
		t.Fatalf("expected no health check for in-memory storage")
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig()
	cfg.StorageDriver = config.DriverSQLite
	cfg.DatabaseDSN = filepath.Join(t.TempDir(), "coaching.db")

	store, err := openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("openStore returned error: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Migrations are idempotent across restarts.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	check := healthCheck(store)
	if check == nil {
		t.Fatalf("expected a health check for sqlite storage")
	}
	if err := check(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
}

func TestOpenStore_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.StorageDriver = "mongo"
	if _, err := openStore(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "mongo") {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
}

func TestNewPublisher_FallsBackToLogging(t *testing.T) {
	t.Parallel()

	publisher, closeFn, err := newPublisher(testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("newPublisher returned error: %v", err)
	}
	if _, ok := publisher.(notify.LogPublisher); !ok {
		t.Fatalf("expected log publisher without NATS, got %T", publisher)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close returned error: %v", err)
	}
}

func TestWire_RejectsInvalidVideoSettings(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.VideoBaseURL = "not a url"
	_, err := wire(cfg, memory.New(), notify.LogPublisher{Logger: discardLogger()}, metrics.New(prometheus.NewRegistry()), discardLogger(), time.Now)
	if err == nil {
		t.Fatalf("expected wiring to fail for an invalid video base url")
	}
}

func TestWire_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := memory.New()
	registry := prometheus.NewRegistry()
	app, err := wire(testConfig(), store, notify.LogPublisher{Logger: discardLogger()}, metrics.New(registry), discardLogger(), clock)
	if err != nil {
		t.Fatalf("wire returned error: %v", err)
	}
	server := httptest.NewServer(app.router(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), healthCheck(store)))
	defer server.Close()

	health, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", health.StatusCode)
	}

	body := `{"title":"Kickoff","start":"2026-03-03T10:00:00Z","end":"2026-03-03T11:00:00Z","is_free":true,"guest_ids":["client-a"]}`
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/meetings", strings.NewReader(body))
	req.Header.Set(httptransport.HeaderUserID, "coach-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /meetings: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created struct {
		Meeting struct {
			ID           string `json:"id"`
			CoachID      string `json:"coach_id"`
			Participants []struct {
				PersonID string `json:"person_id"`
			} `json:"participants"`
		} `json:"meeting"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Meeting.ID == "" || created.Meeting.CoachID != "coach-1" || len(created.Meeting.Participants) != 2 {
		t.Fatalf("unexpected meeting: %+v", created.Meeting)
	}

	if _, err := app.dispatcher.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	stored, err := store.GetMeeting(ctx, created.Meeting.ID)
	if err != nil {
		t.Fatalf("GetMeeting: %v", err)
	}
	if stored.VideoLink == nil || !strings.HasPrefix(*stored.VideoLink, "https://meet.example.com/rooms") {
		t.Fatalf("expected the outbox to attach a video link, got %v", stored.VideoLink)
	}

	metricsResp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	metricsResp.Body.Close()
	if metricsResp.StatusCode != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", metricsResp.StatusCode)
	}
}
