package runs

import (
	"context"
	"testing"
	"time"

	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRunDispatchesEnrichment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	in := validInput()
	in.AgentID = "  agent-1 "
	run, err := h.svc.CreateRun(ctx, in, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, run.EvalRunID)
	assert.Equal(t, domain.StatusRequestSubmitted, run.Status)
	assert.Equal(t, "agent-1", run.ContainerName)
	assert.Equal(t, "evaluation-results/", run.ResultsPathPrefix)
	assert.Equal(t, "alice", run.LastUpdatedBy)
	assert.False(t, run.StartedAt.IsZero())
	assert.Nil(t, run.CompletedAt)

	h.svc.Wait()
	calls := h.enricher.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, run.EvalRunID, calls[0].EvalRunID)
	assert.Equal(t, "D1", calls[0].DatasetID)
	assert.Equal(t, "sales", calls[0].AgentSchemaName)

	got, err := h.svc.GetRun(ctx, "agent-1", run.EvalRunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEnrichingDataset, got.Status)
}

func TestCreateRunUpstreamFailureKeepsRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enricher.err = errUpstreamDown

	run, err := h.svc.CreateRunWait(ctx, validInput(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRequestSubmitted, run.Status)

	got, err := h.svc.GetRun(ctx, "agent-1", run.EvalRunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRequestSubmitted, got.Status)
}

func TestCreateRunWaitReportsDispatch(t *testing.T) {
	h := newHarness(t)
	run, err := h.svc.CreateRunWait(context.Background(), validInput(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEnrichingDataset, run.Status)
	assert.Equal(t, SystemActor, run.LastUpdatedBy)
}

func TestCreateRunReferenceValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.datasets.Create(ctx, domain.Dataset{
		DatasetID: "D2", AgentID: "agent-2", DatasetName: "other", DatasetType: "Golden", BlobFilePath: "datasets/x.json",
	}))

	tests := map[string]func(*CreateRunInput){
		"missing dataset":        func(in *CreateRunInput) { in.DataSetID = "nope" },
		"missing metrics config": func(in *CreateRunInput) { in.MetricsConfigurationID = "nope" },
		"dataset of other agent": func(in *CreateRunInput) { in.DataSetID = "D2" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, err := h.svc.CreateRun(ctx, in, "alice")
			assert.ErrorIs(t, err, domain.ErrReferenceValidation)
		})
	}

	runs, err := h.svc.ListRuns(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Empty(t, h.enricher.calls())
}

func TestCreateRunInvalidInput(t *testing.T) {
	h := newHarness(t)
	in := validInput()
	in.AgentID = "   "
	_, err := h.svc.CreateRun(context.Background(), in, "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStatusChainAlwaysAdvances(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enricher.err = errUpstreamDown
	run, err := h.svc.CreateRunWait(ctx, validInput(), "alice")
	require.NoError(t, err)

	for _, status := range []string{"EnrichingDataset", "DatasetEnrichmentCompleted", "EvalRunStarted", "EvalRunCompleted"} {
		updated, err := h.svc.UpdateStatus(ctx, "agent-1", run.EvalRunID, status, "engine")
		require.NoError(t, err, status)
		assert.Equal(t, status, string(updated.Status))
	}

	final, err := h.svc.GetRun(ctx, "agent-1", run.EvalRunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEvalRunCompleted, final.Status)
	require.NotNil(t, final.CompletedAt)

	history, err := h.svc.StatusHistory(ctx, run.EvalRunID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, domain.StatusRequestSubmitted, history[0].To)
	assert.Equal(t, domain.StatusEvalRunStarted, history[4].From)
	assert.Equal(t, domain.StatusEvalRunCompleted, history[4].To)
}

func TestFailingACompletedRunKeepsCompletedAt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enricher.err = errUpstreamDown
	run, err := h.svc.CreateRunWait(ctx, validInput(), "alice")
	require.NoError(t, err)

	completedAt := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	h.svc.now = func() time.Time { return completedAt }
	completed, err := h.svc.UpdateStatus(ctx, "agent-1", run.EvalRunID, "EvalRunCompleted", "engine")
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)

	h.svc.now = func() time.Time { return completedAt.Add(time.Hour) }
	failed, err := h.svc.MarkFailed(ctx, "agent-1", run.EvalRunID, "operator")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEvalRunFailed, failed.Status)
	require.NotNil(t, failed.CompletedAt)
	assert.True(t, completedAt.Equal(*failed.CompletedAt))
	assert.True(t, completedAt.Add(time.Hour).Equal(failed.LastUpdatedOn))
}

func TestUpdateStatusGuards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enricher.err = errUpstreamDown
	run, err := h.svc.CreateRunWait(ctx, validInput(), "alice")
	require.NoError(t, err)

	_, err = h.svc.UpdateStatus(ctx, "agent-1", run.EvalRunID, "Finished", "engine")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	updated, err := h.svc.UpdateStatus(ctx, "agent-1", run.EvalRunID, "evalrunstarted", "engine")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEvalRunStarted, updated.Status)

	_, err = h.svc.UpdateStatus(ctx, "agent-1", run.EvalRunID, "EnrichingDataset", "engine")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	same, err := h.svc.UpdateStatus(ctx, "agent-1", run.EvalRunID, "EvalRunStarted", "engine")
	require.NoError(t, err)
	assert.Equal(t, updated.LastUpdatedOn, same.LastUpdatedOn, "same-status write is a no-op")

	_, err = h.svc.UpdateStatus(ctx, "agent-1", run.EvalRunID, "EvalRunCompleted", "engine")
	require.NoError(t, err)
	_, err = h.svc.UpdateStatus(ctx, "agent-1", run.EvalRunID, "EvalRunStarted", "engine")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	failed, err := h.svc.MarkFailed(ctx, "agent-1", run.EvalRunID, "engine")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEvalRunFailed, failed.Status)

	again, err := h.svc.MarkFailed(ctx, "agent-1", run.EvalRunID, "engine")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEvalRunFailed, again.Status)

	_, err = h.svc.UpdateStatus(ctx, "agent-1", run.EvalRunID, "EvalRunCompleted", "engine")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.svc.UpdateStatus(ctx, "agent-1", "missing", "EvalRunStarted", "engine")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.svc.UpdateStatus(ctx, "agent-2", run.EvalRunID, "EvalRunStarted", "engine")
	assert.ErrorIs(t, err, domain.ErrNotFound, "lookups are partition scoped")
}

func TestUpdateStatusRetriesOnConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enricher.err = errUpstreamDown
	run, err := h.svc.CreateRunWait(ctx, validInput(), "alice")
	require.NoError(t, err)

	h.runs.beforeReplace = func() {
		current, err := h.runs.Get(ctx, "agent-1", run.EvalRunID)
		require.NoError(t, err)
		current.Status = domain.StatusEvalRunStarted
		_, err = h.runs.RunRepository.Replace(ctx, current)
		require.NoError(t, err)
	}

	_, err = h.svc.UpdateStatus(ctx, "agent-1", run.EvalRunID, "EnrichingDataset", "platform")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "decision is re-made against the winning write")

	got, err := h.svc.GetRun(ctx, "agent-1", run.EvalRunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEvalRunStarted, got.Status)
}

func TestReadsStayCoherentWithWrites(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enricher.err = errUpstreamDown
	run, err := h.svc.CreateRunWait(ctx, validInput(), "alice")
	require.NoError(t, err)

	cached, err := h.svc.GetRun(ctx, "agent-1", run.EvalRunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRequestSubmitted, cached.Status)
	list, err := h.svc.ListRuns(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = h.svc.UpdateStatus(ctx, "agent-1", run.EvalRunID, "EvalRunStarted", "engine")
	require.NoError(t, err)

	fresh, err := h.svc.GetRun(ctx, "agent-1", run.EvalRunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEvalRunStarted, fresh.Status)
	list, err = h.svc.ListRuns(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEvalRunStarted, list[0].Status)

	found, err := h.svc.FindRun(ctx, run.EvalRunID)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", found.AgentID)
	found, err = h.svc.FindRun(ctx, run.EvalRunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEvalRunStarted, found.Status)

	_, err = h.svc.FindRun(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListRunsByStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enricher.err = errUpstreamDown
	a, err := h.svc.CreateRunWait(ctx, validInput(), "alice")
	require.NoError(t, err)
	_, err = h.svc.CreateRunWait(ctx, validInput(), "alice")
	require.NoError(t, err)
	_, err = h.svc.UpdateStatus(ctx, "agent-1", a.EvalRunID, "DatasetEnrichmentCompleted", "platform")
	require.NoError(t, err)

	ready, err := h.svc.ListRunsByStatus(ctx, domain.StatusDatasetEnrichmentCompleted, repo.RunCursor{}, 0)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, a.EvalRunID, ready[0].EvalRunID)
}

func TestStatusMirroredUpstream(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enricher.err = errUpstreamDown
	run, err := h.svc.CreateRunWait(ctx, validInput(), "alice")
	require.NoError(t, err)

	_, err = h.svc.MarkFailed(ctx, "agent-1", run.EvalRunID, "engine")
	require.NoError(t, err)
	h.svc.Wait()

	h.mirror.mu.Lock()
	defer h.mirror.mu.Unlock()
	assert.Equal(t, []string{"EvalRunFailed"}, h.mirror.statuses)
}

func TestEnrichWithNames(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enricher.err = errUpstreamDown
	run, err := h.svc.CreateRunWait(ctx, validInput(), "alice")
	require.NoError(t, err)

	enriched := h.svc.EnrichWithNames(ctx, run)
	require.NotNil(t, enriched.DataSetName)
	require.NotNil(t, enriched.MetricsConfigurationName)
	assert.Equal(t, "faq", *enriched.DataSetName)
	assert.Equal(t, "default", *enriched.MetricsConfigurationName)

	require.NoError(t, h.metrics.Delete(ctx, "agent-1", "M1"))
	require.NoError(t, h.cache.Remove(ctx, "metricsconfig:M1"))

	partial := h.svc.EnrichWithNames(ctx, run)
	require.NotNil(t, partial.DataSetName)
	assert.Nil(t, partial.MetricsConfigurationName, "failed join leaves the name nil")
}
