package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"dashboard-backend/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const maxChartBuckets = 20

// RecordRepository reads project records from MongoDB. The full
// dashboard aggregation runs as pipeline stages with progress
// reporting; the capped-sample variant bounds its cost by a row limit
// and is what keeps the read path fast on a cache miss.
type RecordRepository struct {
	collection *mongo.Collection
}

func NewRecordRepository(db *mongo.Database) *RecordRepository {
	return &RecordRepository{
		collection: db.Collection("records"),
	}
}

// AggregateDashboard computes the complete dashboard payload. This is
// the expensive path and only ever runs inside a background task.
func (r *RecordRepository) AggregateDashboard(ctx context.Context, namespace string, filters map[string]string, report func(current, total int, note string)) (*models.DashboardPayload, error) {
	match := buildMatch(filters)

	report(1, 4, "counting records")
	total, err := r.collection.CountDocuments(ctx, match)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	report(2, 4, "aggregating by status")
	statusGroups, err := r.groupByStatus(ctx, match)
	if err != nil {
		return nil, err
	}

	report(3, 4, "aggregating project costs")
	costSeries, err := r.costByProject(ctx, match)
	if err != nil {
		return nil, err
	}

	report(4, 4, "collecting alerts")
	alerts, err := r.blockedAlerts(ctx, match)
	if err != nil {
		return nil, err
	}

	payload := &models.DashboardPayload{
		Namespace:     namespace,
		StatusCounts:  make(map[string]int64, len(statusGroups)),
		CostByProject: costSeries,
		Alerts:        alerts,
		GeneratedAt:   time.Now(),
	}
	payload.KPIs.TotalRecords = total
	for _, g := range statusGroups {
		payload.StatusCounts[g.Status] = g.Count
		payload.KPIs.TotalCost += g.Cost
		payload.KPIs.TotalHours += g.Hours
		if g.Status == models.StatusBlocked {
			payload.KPIs.BlockedCount = g.Count
		}
	}
	if total > 0 {
		payload.KPIs.AverageCost = payload.KPIs.TotalCost / float64(total)
	}
	return payload, nil
}

// SampleDashboard folds the KPIs from a capped sample of records. Cost
// is bounded by the limit, not the collection size.
func (r *RecordRepository) SampleDashboard(ctx context.Context, namespace string, filters map[string]string, limit int64) (*models.DashboardPayload, error) {
	match := buildMatch(filters)

	opts := options.Find().
		SetLimit(limit).
		SetSort(bson.D{{Key: "updatedAt", Value: -1}})

	cursor, err := r.collection.Find(ctx, match, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to sample records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.ProjectRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode sampled records: %w", err)
	}

	return FoldRecords(namespace, records, true), nil
}

type statusGroup struct {
	Status string  `bson:"_id"`
	Count  int64   `bson:"count"`
	Cost   float64 `bson:"cost"`
	Hours  float64 `bson:"hours"`
}

func (r *RecordRepository) groupByStatus(ctx context.Context, match bson.M) ([]statusGroup, error) {
	pipeline := []bson.M{
		{"$match": match},
		{"$group": bson.M{
			"_id":   "$status",
			"count": bson.M{"$sum": 1},
			"cost":  bson.M{"$sum": "$cost"},
			"hours": bson.M{"$sum": "$hours"},
		}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by status: %w", err)
	}
	defer cursor.Close(ctx)

	var groups []statusGroup
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("failed to decode status groups: %w", err)
	}
	return groups, nil
}

func (r *RecordRepository) costByProject(ctx context.Context, match bson.M) ([]models.SeriesPoint, error) {
	pipeline := []bson.M{
		{"$match": match},
		{"$group": bson.M{
			"_id":  "$projectId",
			"cost": bson.M{"$sum": "$cost"},
		}},
		{"$sort": bson.M{"cost": -1}},
		{"$limit": maxChartBuckets},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate project costs: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ProjectID string  `bson:"_id"`
		Cost      float64 `bson:"cost"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode project costs: %w", err)
	}

	series := make([]models.SeriesPoint, 0, len(rows))
	for _, row := range rows {
		series = append(series, models.SeriesPoint{Label: row.ProjectID, Value: row.Cost})
	}
	return series, nil
}

func (r *RecordRepository) blockedAlerts(ctx context.Context, match bson.M) ([]models.AlertItem, error) {
	blocked := bson.M{"status": models.StatusBlocked}
	for k, v := range match {
		if k != "status" {
			blocked[k] = v
		}
	}

	opts := options.Find().SetLimit(maxChartBuckets)
	cursor, err := r.collection.Find(ctx, blocked, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find blocked records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.ProjectRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode blocked records: %w", err)
	}

	alerts := make([]models.AlertItem, 0, len(records))
	for _, rec := range records {
		alerts = append(alerts, blockedAlert(rec))
	}
	return alerts, nil
}

// FoldRecords builds a dashboard payload from an in-memory record
// slice. Shared by the capped-sample path and the service tests.
func FoldRecords(namespace string, records []models.ProjectRecord, partial bool) *models.DashboardPayload {
	payload := &models.DashboardPayload{
		Namespace:    namespace,
		StatusCounts: make(map[string]int64),
		Partial:      partial,
		SampleSize:   int64(len(records)),
		GeneratedAt:  time.Now(),
	}

	costs := make(map[string]float64)
	for _, rec := range records {
		payload.KPIs.TotalRecords++
		payload.KPIs.TotalCost += rec.Cost
		payload.KPIs.TotalHours += rec.Hours
		payload.StatusCounts[rec.Status]++
		costs[rec.ProjectID] += rec.Cost

		if rec.Status == models.StatusBlocked {
			payload.KPIs.BlockedCount++
			if len(payload.Alerts) < maxChartBuckets {
				payload.Alerts = append(payload.Alerts, blockedAlert(rec))
			}
		}
	}
	if payload.KPIs.TotalRecords > 0 {
		payload.KPIs.AverageCost = payload.KPIs.TotalCost / float64(payload.KPIs.TotalRecords)
	}

	for project, cost := range costs {
		payload.CostByProject = append(payload.CostByProject, models.SeriesPoint{Label: project, Value: cost})
	}
	sort.Slice(payload.CostByProject, func(i, j int) bool {
		return payload.CostByProject[i].Value > payload.CostByProject[j].Value
	})
	if len(payload.CostByProject) > maxChartBuckets {
		payload.CostByProject = payload.CostByProject[:maxChartBuckets]
	}
	return payload
}

func blockedAlert(rec models.ProjectRecord) models.AlertItem {
	return models.AlertItem{
		RecordID: rec.RecordID,
		Message:  fmt.Sprintf("Record %s is blocked", rec.RecordID),
		Severity: "warning",
	}
}

// buildMatch translates dashboard filter parameters into a Mongo
// filter document. Unknown parameters are ignored rather than passed
// through to the query.
func buildMatch(filters map[string]string) bson.M {
	match := bson.M{}
	if v, ok := filters["project"]; ok && v != "" {
		match["projectId"] = v
	}
	if v, ok := filters["status"]; ok && v != "" {
		match["status"] = v
	}
	if v, ok := filters["owner"]; ok && v != "" {
		match["owner"] = v
	}
	if v, ok := filters["period"]; ok && v != "" {
		if d := parsePeriod(v); d > 0 {
			match["updatedAt"] = bson.M{"$gte": time.Now().Add(-d)}
		}
	}
	return match
}

// parsePeriod understands the external system's period shorthand
// ("30D", "12H") plus Go duration strings.
func parsePeriod(s string) time.Duration {
	upper := strings.ToUpper(s)
	if n, err := strconv.Atoi(strings.TrimSuffix(upper, "D")); err == nil && strings.HasSuffix(upper, "D") {
		return time.Duration(n) * 24 * time.Hour
	}
	if n, err := strconv.Atoi(strings.TrimSuffix(upper, "H")); err == nil && strings.HasSuffix(upper, "H") {
		return time.Duration(n) * time.Hour
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 0
}
