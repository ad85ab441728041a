package artifacts

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/animus-labs/evalcore/internal/cache"
	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/platform/sqldb"
	"github.com/animus-labs/evalcore/internal/queue"
	"github.com/animus-labs/evalcore/internal/repo"
	"github.com/animus-labs/evalcore/internal/repo/tables"
	"github.com/animus-labs/evalcore/internal/service/runs"
	"github.com/animus-labs/evalcore/internal/storage/blobstore"
	"github.com/animus-labs/evalcore/internal/tablestore"
	"github.com/animus-labs/evalcore/internal/upstream"
	"github.com/stretchr/testify/require"
)

type okEnricher struct{}

func (okEnricher) RequestEnrichment(context.Context, upstream.EnrichmentRequest) error { return nil }

// contendedKeys lets a competing writer take a business key just before
// the service tries to reserve it.
type contendedKeys struct {
	repo.BusinessKeyRepository
	beforeReserve func(ctx context.Context, agentID, key string)
}

func (c *contendedKeys) Reserve(ctx context.Context, agentID, key, ownerID string) error {
	if hook := c.beforeReserve; hook != nil {
		c.beforeReserve = nil
		hook(ctx, agentID, key)
	}
	return c.BusinessKeyRepository.Reserve(ctx, agentID, key, ownerID)
}

type harness struct {
	svc   *Service
	runs  *runs.Service
	blobs *blobstore.MemoryStore
	queue *queue.Queue
	keys  *contendedKeys
	mem   *cache.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := sqldb.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := tablestore.New(db)
	require.NoError(t, store.Migrate(ctx))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(db, logger)
	require.NoError(t, q.Migrate(ctx))

	mem := cache.NewMemory(0)
	t.Cleanup(mem.Close)
	aside := cache.NewAside(mem, cache.DefaultTTLs(), logger)

	datasets := tables.NewDatasetStore(store)
	metrics := tables.NewMetricsConfigurationStore(store)
	runSvc, err := runs.New(runs.Deps{
		Runs:     tables.NewRunStore(store),
		Datasets: datasets,
		Metrics:  metrics,
		History:  tables.NewStatusHistoryStore(store),
		Enricher: okEnricher{},
		Cache:    aside,
		Logger:   logger,
	}, runs.Options{DispatchTimeout: time.Second})
	require.NoError(t, err)

	h := &harness{
		runs:  runSvc,
		blobs: blobstore.NewMemoryStore(),
		queue: q,
		keys:  &contendedKeys{BusinessKeyRepository: tables.NewBusinessKeyStore(store)},
		mem:   mem,
	}
	svc, err := NewService(Deps{
		Datasets:  datasets,
		Metrics:   metrics,
		Keys:      h.keys,
		Blobs:     h.blobs,
		Runs:      runSvc,
		Publisher: q,
		Cache:     aside,
		Logger:    logger,
	}, Options{})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func sampleRecords(queries ...string) []domain.DatasetRecord {
	out := make([]domain.DatasetRecord, 0, len(queries))
	for _, q := range queries {
		out = append(out, domain.DatasetRecord{Query: q, GroundTruth: "answer to " + q})
	}
	return out
}

// newRun saves a dataset and metrics configuration for agent-1 and creates
// a run against them that has been handed to enrichment.
func (h *harness) newRun(t *testing.T) domain.EvaluationRun {
	t.Helper()
	ctx := context.Background()
	ds, err := h.svc.SaveDataset(ctx, "agent-1", "faq", "Golden", sampleRecords("q1"), "alice")
	require.NoError(t, err)
	mc, err := h.svc.SaveMetricsConfiguration(ctx, "agent-1", "default", "prod", "", []domain.MetricConfig{{MetricName: "groundedness", Threshold: 0.7}}, "alice")
	require.NoError(t, err)
	run, err := h.runs.CreateRunWait(ctx, runs.CreateRunInput{
		AgentID:                "agent-1",
		DataSetID:              ds.ID,
		MetricsConfigurationID: mc.ID,
		EnvironmentID:          "env-1",
		AgentSchemaName:        "sales",
		EvalRunName:            "nightly",
	}, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusEnrichingDataset, run.Status)
	return run
}
