package models

import "time"

// KPISet holds the headline numbers shown at the top of a dashboard.
type KPISet struct {
	TotalRecords int64   `json:"totalRecords"`
	TotalCost    float64 `json:"totalCost"`
	AverageCost  float64 `json:"averageCost"`
	TotalHours   float64 `json:"totalHours"`
	BlockedCount int64   `json:"blockedCount"`
}

// SeriesPoint is one labelled value in a chart series.
type SeriesPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// AlertItem is a record-level warning surfaced on the dashboard.
type AlertItem struct {
	RecordID string `json:"recordId"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // "warning" or "critical"
}

// DashboardPayload is the computed result a dashboard request serves.
// Partial payloads come from the capped-sample approximation and carry
// the sample size they were folded from.
type DashboardPayload struct {
	Namespace     string           `json:"namespace"`
	KPIs          KPISet           `json:"kpis"`
	StatusCounts  map[string]int64 `json:"statusCounts"`
	CostByProject []SeriesPoint    `json:"costByProject"`
	Alerts        []AlertItem      `json:"alerts"`
	Partial       bool             `json:"partial"`
	SampleSize    int64            `json:"sampleSize,omitempty"`
	GeneratedAt   time.Time        `json:"generatedAt"`
}

// CacheStatus describes how a dashboard response was produced and, when
// a background recomputation is running, the task handle to poll.
type CacheStatus struct {
	IsCached    bool   `json:"isCached"`
	IsImmediate bool   `json:"isImmediate"`
	IsStale     bool   `json:"isStale"`
	TaskID      string `json:"taskId,omitempty"`
}
