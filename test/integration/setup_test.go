//go:build integration

// Package integration_test contains end-to-end tests for the playerstats
// service. Events enter over HTTP, are aggregated in memory and flushed to an
// in-memory SQLite store through the real worker pool and scheduler.
package integration_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bryonbaker/playerstats/internal/accumulator"
	"github.com/bryonbaker/playerstats/internal/api"
	"github.com/bryonbaker/playerstats/internal/config"
	"github.com/bryonbaker/playerstats/internal/database"
	"github.com/bryonbaker/playerstats/internal/flush"
	"github.com/bryonbaker/playerstats/internal/ingest"
	"github.com/bryonbaker/playerstats/internal/metrics"
	"github.com/bryonbaker/playerstats/internal/models"
	"github.com/bryonbaker/playerstats/internal/retry"
	"github.com/bryonbaker/playerstats/internal/scheduler"
	"github.com/bryonbaker/playerstats/internal/session"
	"github.com/bryonbaker/playerstats/internal/workerpool"
)

const adminToken = "integration-secret"

// clock is a settable time source shared by the session tracker and store.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingStore fails UpsertIncrement for one column and delegates everything
// else to the wrapped store.
type failingStore struct {
	database.DataStore
	column models.StatKind
}

func (f *failingStore) UpsertIncrement(ctx context.Context, id uuid.UUID, name string, column models.StatKind, delta float64) error {
	if column == f.column {
		return fmt.Errorf("simulated: %w", database.ErrStoreUnavailable)
	}
	return f.DataStore.UpsertIncrement(ctx, id, name, column, delta)
}

// testEnv bundles a fully wired service behind an httptest server.
type testEnv struct {
	Store    *database.SQLStore
	Acc      *accumulator.Store
	Sessions *session.Tracker
	Pool     *workerpool.Pool
	Sched    *scheduler.Scheduler
	Ingestor *ingest.Ingestor
	Clock    *clock
	Server   *httptest.Server
	Config   *config.Config
}

type envOption func(*config.Config, *database.DataStore)

// withFailingColumn makes every upsert of column fail.
func withFailingColumn(column models.StatKind) envOption {
	return func(_ *config.Config, ds *database.DataStore) {
		*ds = &failingStore{DataStore: *ds, column: column}
	}
}

func setupTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	clk := &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}

	cfg := &config.Config{}
	cfg.Storage.Driver = config.DriverSQLite
	cfg.Storage.DSN = ":memory:"
	cfg.Flush.Interval.Duration = time.Hour
	cfg.AdminToken = adminToken
	cfg.ApplyDefaults()

	store, err := database.NewSQLStore(cfg.Storage.Driver, cfg.Storage.DSN, database.Options{
		PreserveFirstJoin: cfg.Sessions.PreserveFirstJoin,
		Now:               clk.Now,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var ds database.DataStore = store
	for _, opt := range opts {
		opt(cfg, &ds)
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	acc := accumulator.New()
	sessions := session.NewTracker(clk.Now)
	pool := workerpool.New(cfg.Flush.Workers, cfg.Flush.QueueSize, m, logger)
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	worker := flush.NewWorker(acc, ds, pool, retry.FromConfig(cfg.Retry), cfg, m, logger)
	sched := scheduler.NewScheduler(worker, cfg, m, logger)
	ingestor := ingest.NewIngestor(acc, sessions, worker, pool, m, logger)

	server := metrics.NewServer(0, cfg.Metrics.Path, cfg.Health.LivenessPath, cfg.Health.ReadinessPath, registry)
	server.Handle(cfg.Ingress.EventsPath, api.NewEventsHandler(ingestor, cfg.Ingress.MaxInFlight, m, logger))
	server.Handle(cfg.Ingress.FlushPath, api.NewFlushHandler(sched, cfg.AdminToken, logger))

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		Store:    store,
		Acc:      acc,
		Sessions: sessions,
		Pool:     pool,
		Sched:    sched,
		Ingestor: ingestor,
		Clock:    clk,
		Server:   ts,
		Config:   cfg,
	}
}

// post sends one event and requires it to be accepted.
func (e *testEnv) post(t *testing.T, body string) {
	t.Helper()
	resp, err := http.Post(e.Server.URL+e.Config.Ingress.EventsPath, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode, "event %s", body)
}

// event formats a single-player event body.
func event(typ models.EventType, id uuid.UUID, name string) string {
	return fmt.Sprintf(`{"type":%q,"player":{"id":%q,"name":%q}}`, typ, id, name)
}

// manualFlush calls the operator flush endpoint.
func (e *testEnv) manualFlush(t *testing.T) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.Server.URL+e.Config.Ingress.FlushPath, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// waitForRow polls the store until cond holds for the player's row.
func (e *testEnv) waitForRow(t *testing.T, id uuid.UUID, cond func(*models.PlayerRow) bool) *models.PlayerRow {
	t.Helper()
	var row *models.PlayerRow
	require.Eventually(t, func() bool {
		r, err := e.Store.GetPlayer(context.Background(), id)
		if err != nil {
			return false
		}
		row = r
		return cond(r)
	}, 2*time.Second, 10*time.Millisecond)
	return row
}
