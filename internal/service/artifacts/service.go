// Package artifacts manages the stored artifacts around evaluation runs:
// datasets, metrics configurations and enriched datasets. Content lives in
// the object store, metadata in the table store, and both are fronted by the
// cache-aside layer.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/evalcore/internal/cache"
	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/repo"
	"github.com/animus-labs/evalcore/internal/storage/blobstore"
	"github.com/google/uuid"
)

const (
	DefaultDatasetsFolder  = "datasets"
	DefaultMetricsFolder   = "metrics-configurations"
	DefaultProcessingQueue = "eval-processing-requests"

	defaultMaxSaveAttempts = 3
)

type SaveStatus string

const (
	SaveCreated SaveStatus = "created"
	SaveUpdated SaveStatus = "updated"
)

type SaveResult struct {
	ID     string     `json:"id"`
	Status SaveStatus `json:"status"`
}

// RunTracker is the part of the run orchestrator artifacts depend on.
type RunTracker interface {
	FindRun(ctx context.Context, evalRunID string) (domain.EvaluationRun, error)
	UpdateStatus(ctx context.Context, agentID, evalRunID, newStatus, actor string) (domain.EvaluationRun, error)
}

type Publisher interface {
	PublishJSON(ctx context.Context, queueName, dedupeKey string, v any) (string, error)
}

// ContentFetcher downloads dataset content held by the upstream platform.
type ContentFetcher interface {
	FetchDatasetContent(ctx context.Context, datasetID string) (json.RawMessage, error)
}

type Deps struct {
	Datasets  repo.DatasetRepository
	Metrics   repo.MetricsConfigurationRepository
	Keys      repo.BusinessKeyRepository
	Blobs     blobstore.Store
	Runs      RunTracker
	Publisher Publisher
	Fetcher   ContentFetcher
	Cache     *cache.Aside
	Logger    *slog.Logger
}

type Options struct {
	DatasetsFolder  string
	MetricsFolder   string
	ProcessingQueue string
	MaxSaveAttempts int
}

type Service struct {
	datasets  repo.DatasetRepository
	metrics   repo.MetricsConfigurationRepository
	keys      repo.BusinessKeyRepository
	blobs     blobstore.Store
	runs      RunTracker
	publisher Publisher
	fetcher   ContentFetcher
	cache     *cache.Aside
	logger    *slog.Logger

	datasetsFolder  string
	metricsFolder   string
	processingQueue string
	maxSaveAttempts int
	now             func() time.Time
	newID           func() string
}

func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Datasets == nil {
		return nil, errors.New("dataset repository is required")
	}
	if deps.Metrics == nil {
		return nil, errors.New("metrics configuration repository is required")
	}
	if deps.Keys == nil {
		return nil, errors.New("business key repository is required")
	}
	if deps.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if deps.Runs == nil {
		return nil, errors.New("run tracker is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(opts.DatasetsFolder) == "" {
		opts.DatasetsFolder = DefaultDatasetsFolder
	}
	if strings.TrimSpace(opts.MetricsFolder) == "" {
		opts.MetricsFolder = DefaultMetricsFolder
	}
	if strings.TrimSpace(opts.ProcessingQueue) == "" {
		opts.ProcessingQueue = DefaultProcessingQueue
	}
	if opts.MaxSaveAttempts <= 0 {
		opts.MaxSaveAttempts = defaultMaxSaveAttempts
	}
	return &Service{
		datasets:        deps.Datasets,
		metrics:         deps.Metrics,
		keys:            deps.Keys,
		blobs:           deps.Blobs,
		runs:            deps.Runs,
		publisher:       deps.Publisher,
		fetcher:         deps.Fetcher,
		cache:           deps.Cache,
		logger:          logger.With("component", "artifacts"),
		datasetsFolder:  opts.DatasetsFolder,
		metricsFolder:   opts.MetricsFolder,
		processingQueue: opts.ProcessingQueue,
		maxSaveAttempts: opts.MaxSaveAttempts,
		now:             time.Now,
		newID:           uuid.NewString,
	}, nil
}

// ownedContent is the cached form of artifact content. The owner is kept
// so that a cache hit cannot leak content across agents.
type ownedContent[T any] struct {
	AgentID string `json:"agentId"`
	Content T      `json:"content"`
}

// upsertPlan describes one business-key upsert. Content is written before
// metadata, so a crash can orphan a blob but never leaves metadata pointing
// at nothing.
type upsertPlan struct {
	entity    string
	agentID   string
	key       string
	container string
	content   []byte
	// pathFor derives the blob path of a new entity.
	pathFor func(id string) string
	// existingPath returns the stored blob path, or ErrNotFound when the
	// reservation exists but its metadata row does not (yet).
	existingPath func(ctx context.Context, id string) (string, error)
	// putMetadata creates or touches the metadata row.
	putMetadata func(ctx context.Context, id, path string, created bool) error
}

func (s *Service) upsert(ctx context.Context, plan upsertPlan) (SaveResult, error) {
	for attempt := 1; attempt <= s.maxSaveAttempts; attempt++ {
		ownerID, err := s.keys.Lookup(ctx, plan.agentID, plan.key)
		switch {
		case err == nil:
			return s.overwrite(ctx, plan, ownerID)
		case !errors.Is(err, domain.ErrNotFound):
			return SaveResult{}, domain.NewStorageError("lookup", plan.entity, plan.key, err)
		}

		id := s.newID()
		path := plan.pathFor(id)
		if err := s.blobs.Write(ctx, plan.container, path, plan.content); err != nil {
			return SaveResult{}, domain.NewStorageError("write", plan.entity+" content", id, err)
		}
		err = s.keys.Reserve(ctx, plan.agentID, plan.key, id)
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Info("lost create race, retrying as update", "entity", plan.entity, "key", plan.key, "attempt", attempt)
			s.deleteBlobQuietly(ctx, plan.container, path)
			continue
		}
		if err != nil {
			s.deleteBlobQuietly(ctx, plan.container, path)
			return SaveResult{}, domain.NewStorageError("reserve", plan.entity, plan.key, err)
		}
		if err := plan.putMetadata(ctx, id, path, true); err != nil {
			if relErr := s.keys.Release(ctx, plan.agentID, plan.key); relErr != nil {
				s.logger.Warn("release reservation failed", "key", plan.key, "error", relErr)
			}
			s.deleteBlobQuietly(ctx, plan.container, path)
			return SaveResult{}, domain.NewStorageError("create", plan.entity, id, err)
		}
		return SaveResult{ID: id, Status: SaveCreated}, nil
	}
	return SaveResult{}, fmt.Errorf("save %s %s: %w", plan.entity, plan.key, domain.ErrConflict)
}

func (s *Service) overwrite(ctx context.Context, plan upsertPlan, id string) (SaveResult, error) {
	path, err := plan.existingPath(ctx, id)
	created := false
	if errors.Is(err, domain.ErrNotFound) {
		// Reserved by a create that has not written metadata yet.
		path, created = plan.pathFor(id), true
	} else if err != nil {
		return SaveResult{}, domain.NewStorageError("get", plan.entity, id, err)
	}
	if err := s.blobs.Write(ctx, plan.container, path, plan.content); err != nil {
		return SaveResult{}, domain.NewStorageError("write", plan.entity+" content", id, err)
	}
	if err := plan.putMetadata(ctx, id, path, created); err != nil {
		return SaveResult{}, domain.NewStorageError("update", plan.entity, id, err)
	}
	return SaveResult{ID: id, Status: SaveUpdated}, nil
}

// readContent loads and decodes a blob that metadata says must exist.
func readContent[T any](ctx context.Context, s *Service, entity, id, container, path string) (T, error) {
	var out T
	raw, err := s.blobs.Read(ctx, container, path)
	if errors.Is(err, blobstore.ErrNotFound) {
		return out, &domain.StorageError{Op: "read", Entity: entity + " content", ID: id, Err: fmt.Errorf("%s/%s: %w", container, path, domain.ErrMissingContent)}
	}
	if err != nil {
		return out, domain.NewStorageError("read", entity+" content", id, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, domain.NewStorageError("decode", entity+" content", id, err)
	}
	return out, nil
}

func (s *Service) deleteBlobQuietly(ctx context.Context, container, path string) {
	err := s.blobs.Delete(ctx, container, path)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		s.logger.Warn("blob cleanup failed", "container", container, "path", path, "error", err)
	}
}

func (s *Service) releaseKey(ctx context.Context, agentID, key, ownerID string) {
	current, err := s.keys.Lookup(ctx, agentID, key)
	if err != nil || current != ownerID {
		return
	}
	if err := s.keys.Release(ctx, agentID, key); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("release reservation failed", "agent_id", agentID, "key", key, "error", err)
	}
}

func (s *Service) ttls() cache.TTLs {
	if s.cache == nil {
		return cache.DefaultTTLs()
	}
	return s.cache.TTLs
}

func notFound(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, domain.ErrNotFound)
}

// checkContainer rejects agents whose container the blob store cannot hold.
func (s *Service) checkContainer(agentID, container string) error {
	checker, ok := s.blobs.(blobstore.ContainerChecker)
	if !ok {
		return nil
	}
	if err := checker.CheckContainer(container); err != nil {
		return fmt.Errorf("agent %q: %w", agentID, err)
	}
	return nil
}

func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, name)
		}
	}
	return nil
}

func actorOrSystem(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "system"
	}
	return actor
}
