package invalidation

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"dashboard-backend/pkg/cache"

	"github.com/go-playground/validator/v10"
)

// Change types accepted from the external data source.
const (
	ChangeRecordUpdated  = "record-updated"
	ChangeBulkImport     = "bulk-import"
	ChangeProjectUpdated = "project-updated"
	ChangeCostUpdated    = "cost-updated"
	ChangeTest           = "test"
)

// ErrBadWebhookKey rejects events whose key does not match the
// configured secret. Nothing about the event is recorded.
var ErrBadWebhookKey = errors.New("invalidation: webhook key mismatch")

// Event is an external change notification. The schema is strict: an
// unknown change type or a missing field rejects the whole event with
// no partial invalidation.
type Event struct {
	WebhookKey      string                 `json:"webhook_key" validate:"required"`
	ChangeType      string                 `json:"change_type" validate:"required,oneof=record-updated bulk-import project-updated cost-updated test"`
	AffectedRecords []string               `json:"affected_records"`
	SourceSystem    string                 `json:"source_system" validate:"required"`
	Timestamp       string                 `json:"timestamp" validate:"required"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// Result reports what an accepted event did to the store.
type Result struct {
	Patterns    []string `json:"patterns"`
	MarkedStale int      `json:"markedStale"`
}

// AuditRecord is one accepted event in the bounded audit trail.
type AuditRecord struct {
	ChangeType      string    `json:"changeType"`
	SourceSystem    string    `json:"sourceSystem"`
	AffectedRecords []string  `json:"affectedRecords,omitempty"`
	Patterns        []string  `json:"patterns"`
	MarkedStale     int       `json:"markedStale"`
	AppliedAt       time.Time `json:"appliedAt"`
}

// Notifier pushes invalidation events to connected dashboard clients.
type Notifier interface {
	NotifyInvalidation(changeType string, patterns, affectedRecords []string)
}

// changePatterns maps each change type to the key patterns it
// invalidates. "test" resolves to nothing; it is a connectivity ping.
var changePatterns = map[string][]string{
	ChangeRecordUpdated:  {cache.NamespaceManager + ":*", cache.NamespaceProject + ":*"},
	ChangeBulkImport:     {cache.NamespaceManager + ":*", cache.NamespaceProject + ":*", cache.NamespaceCost + ":*"},
	ChangeProjectUpdated: {cache.NamespaceProject + ":*", cache.NamespaceManager + ":*"},
	ChangeCostUpdated:    {cache.NamespaceManager + ":*", cache.NamespaceCost + ":*"},
	ChangeTest:           {},
}

const auditLimit = 100

// Dispatcher authenticates and applies external change notifications
// against the cache store. It only transitions freshness state;
// recomputation is left to the next read, which keeps the webhook
// path cheap.
type Dispatcher struct {
	secret   []byte
	store    cache.Store
	validate *validator.Validate
	notifier Notifier

	mu    sync.Mutex
	audit []AuditRecord
}

func NewDispatcher(secret string, store cache.Store) *Dispatcher {
	return &Dispatcher{
		secret:   []byte(secret),
		store:    store,
		validate: validator.New(),
	}
}

// SetNotifier attaches the push channel for client-facing events.
func (d *Dispatcher) SetNotifier(n Notifier) {
	d.notifier = n
}

// Apply validates and applies one event. Applying the same event more
// than once leaves payloads and freshness in the same end state as
// applying it once.
func (d *Dispatcher) Apply(event *Event) (Result, error) {
	if subtle.ConstantTimeCompare([]byte(event.WebhookKey), d.secret) != 1 {
		// Security event only; no payload contents, no audit entry,
		// no store mutation.
		log.Printf("Rejected webhook call with invalid key from source %q", event.SourceSystem)
		return Result{}, ErrBadWebhookKey
	}

	if err := d.validate.Struct(event); err != nil {
		return Result{}, err
	}

	patterns := changePatterns[event.ChangeType]
	result := Result{Patterns: patterns}
	for _, pattern := range patterns {
		marked, err := d.store.MarkStale(pattern)
		if err != nil {
			return Result{}, fmt.Errorf("failed to invalidate %s: %w", pattern, err)
		}
		result.MarkedStale += marked
	}

	d.recordAudit(event, result)

	if d.notifier != nil && event.ChangeType != ChangeTest {
		d.notifier.NotifyInvalidation(event.ChangeType, patterns, event.AffectedRecords)
	}
	return result, nil
}

// AuditTrail returns the most recent accepted events, newest last.
func (d *Dispatcher) AuditTrail() []AuditRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]AuditRecord, len(d.audit))
	copy(out, d.audit)
	return out
}

func (d *Dispatcher) recordAudit(event *Event, result Result) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.audit = append(d.audit, AuditRecord{
		ChangeType:      event.ChangeType,
		SourceSystem:    event.SourceSystem,
		AffectedRecords: event.AffectedRecords,
		Patterns:        result.Patterns,
		MarkedStale:     result.MarkedStale,
		AppliedAt:       time.Now(),
	})
	if len(d.audit) > auditLimit {
		d.audit = d.audit[len(d.audit)-auditLimit:]
	}
}
