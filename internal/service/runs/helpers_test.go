package runs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/evalcore/internal/cache"
	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/platform/sqldb"
	"github.com/animus-labs/evalcore/internal/repo"
	"github.com/animus-labs/evalcore/internal/repo/tables"
	"github.com/animus-labs/evalcore/internal/tablestore"
	"github.com/animus-labs/evalcore/internal/upstream"
	"github.com/stretchr/testify/require"
)

type fakeEnricher struct {
	mu       sync.Mutex
	err      error
	requests []upstream.EnrichmentRequest
}

func (f *fakeEnricher) RequestEnrichment(_ context.Context, req upstream.EnrichmentRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.err
}

func (f *fakeEnricher) calls() []upstream.EnrichmentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upstream.EnrichmentRequest(nil), f.requests...)
}

type fakeMirror struct {
	mu       sync.Mutex
	statuses []string
}

func (f *fakeMirror) SetStatus(_ context.Context, _ string, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

// racingRuns lets a test slip a competing write in before the next Replace.
type racingRuns struct {
	repo.RunRepository
	beforeReplace func()
}

func (r *racingRuns) Replace(ctx context.Context, run domain.EvaluationRun) (domain.EvaluationRun, error) {
	if hook := r.beforeReplace; hook != nil {
		r.beforeReplace = nil
		hook()
	}
	return r.RunRepository.Replace(ctx, run)
}

type harness struct {
	svc      *Service
	runs     *racingRuns
	datasets *tables.DatasetStore
	metrics  *tables.MetricsConfigurationStore
	enricher *fakeEnricher
	mirror   *fakeMirror
	cache    *cache.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := sqldb.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := tablestore.New(db)
	require.NoError(t, store.Migrate(ctx))

	mem := cache.NewMemory(0)
	t.Cleanup(mem.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		runs:     &racingRuns{RunRepository: tables.NewRunStore(store)},
		datasets: tables.NewDatasetStore(store),
		metrics:  tables.NewMetricsConfigurationStore(store),
		enricher: &fakeEnricher{},
		mirror:   &fakeMirror{},
		cache:    mem,
	}
	svc, err := New(Deps{
		Runs:     h.runs,
		Datasets: h.datasets,
		Metrics:  h.metrics,
		History:  tables.NewStatusHistoryStore(store),
		Enricher: h.enricher,
		Mirror:   h.mirror,
		Cache:    cache.NewAside(mem, cache.DefaultTTLs(), logger),
		Logger:   logger,
	}, Options{DispatchTimeout: time.Second})
	require.NoError(t, err)
	h.svc = svc

	require.NoError(t, h.datasets.Create(ctx, domain.Dataset{
		DatasetID: "D1", AgentID: "agent-1", DatasetName: "faq", DatasetType: "Golden",
		ContainerName: "agent-1", BlobFilePath: "datasets/Golden_faq_D1.json",
	}))
	require.NoError(t, h.metrics.Create(ctx, domain.MetricsConfiguration{
		ConfigurationID: "M1", AgentID: "agent-1", ConfigurationName: "default", EnvironmentName: "prod",
		ContainerName: "agent-1", BlobFilePath: "metrics-configurations/default_prod_M1.json",
	}))
	return h
}

func validInput() CreateRunInput {
	return CreateRunInput{
		AgentID:                "agent-1",
		DataSetID:              "D1",
		MetricsConfigurationID: "M1",
		EnvironmentID:          "env-1",
		AgentSchemaName:        "sales",
		EvalRunName:            "nightly",
	}
}

var errUpstreamDown = errors.New("upstream down")
