package services

import (
	"context"
	"encoding/json"
	"fmt"

	"dashboard-backend/internal/models"
	"dashboard-backend/pkg/cache"
	"dashboard-backend/pkg/tasks"
)

// RecordSource is the aggregation backend the coordinator computes
// dashboards from. The Mongo repository implements it; tests use a
// stub.
type RecordSource interface {
	AggregateDashboard(ctx context.Context, namespace string, filters map[string]string, report func(current, total int, note string)) (*models.DashboardPayload, error)
	SampleDashboard(ctx context.Context, namespace string, filters map[string]string, limit int64) (*models.DashboardPayload, error)
}

// DashboardService is the read-path coordinator. It decides between
// serving a fresh cached payload, serving a stale one while a
// background recomputation runs, and computing a bounded-cost
// approximation on a miss. The read path never waits for the full
// aggregation.
type DashboardService struct {
	store        cache.Store
	orchestrator *tasks.Orchestrator
	records      RecordSource
	sampleLimit  int64
}

func NewDashboardService(store cache.Store, orchestrator *tasks.Orchestrator, records RecordSource, sampleLimit int64) *DashboardService {
	if sampleLimit <= 0 {
		sampleLimit = 200
	}
	return &DashboardService{
		store:        store,
		orchestrator: orchestrator,
		records:      records,
		sampleLimit:  sampleLimit,
	}
}

// Resolve returns the best immediately available payload for a
// dashboard plus the cache status describing how it was produced.
func (s *DashboardService) Resolve(ctx context.Context, namespace string, filters map[string]string) (json.RawMessage, models.CacheStatus, error) {
	key := cache.BuildKey(namespace, filters)

	entry, found := s.store.Get(key)
	if found {
		switch entry.Freshness {
		case cache.FreshnessFresh:
			return entry.Payload, models.CacheStatus{IsCached: true}, nil
		case cache.FreshnessStale:
			taskID := s.submitRecompute(key, namespace, filters)
			return entry.Payload, models.CacheStatus{IsCached: true, IsStale: true, TaskID: taskID}, nil
		}
	}

	return s.resolveMissing(ctx, key, namespace, filters)
}

// Refresh unconditionally takes the miss path: a cheap approximation
// now and a full recomputation in the background, regardless of the
// entry's current freshness.
func (s *DashboardService) Refresh(ctx context.Context, namespace string, filters map[string]string) (json.RawMessage, models.CacheStatus, error) {
	key := cache.BuildKey(namespace, filters)
	return s.resolveMissing(ctx, key, namespace, filters)
}

func (s *DashboardService) resolveMissing(ctx context.Context, key, namespace string, filters map[string]string) (json.RawMessage, models.CacheStatus, error) {
	taskID := s.submitRecompute(key, namespace, filters)
	status := models.CacheStatus{IsImmediate: true, TaskID: taskID}

	sample, err := s.records.SampleDashboard(ctx, namespace, filters, s.sampleLimit)
	if err != nil {
		// The task handle is still usable; the caller just has no
		// immediate payload to show.
		return nil, status, fmt.Errorf("immediate approximation failed: %w", err)
	}

	payload, err := json.Marshal(sample)
	if err != nil {
		return nil, status, fmt.Errorf("failed to encode approximation: %w", err)
	}
	return payload, status, nil
}

func (s *DashboardService) submitRecompute(key, namespace string, filters map[string]string) string {
	fn := func(ctx context.Context, report tasks.ProgressFunc) (json.RawMessage, error) {
		result, err := s.records.AggregateDashboard(ctx, namespace, filters, report)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}
	return s.orchestrator.Submit(key, fn)
}

// TaskStatus exposes orchestrator task snapshots to the status
// endpoint.
func (s *DashboardService) TaskStatus(taskID string) (tasks.Snapshot, error) {
	return s.orchestrator.Status(taskID)
}

// CancelTask requests best-effort cancellation of a running task.
func (s *DashboardService) CancelTask(taskID string) error {
	return s.orchestrator.Cancel(taskID)
}
