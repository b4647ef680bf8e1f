package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ProjectRecord is a single work record in the external planning system.
// Records are edited out-of-band; the webhook tells us when that happens.
type ProjectRecord struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RecordID  string             `bson:"recordId" json:"recordId"` // external identifier, e.g. "EDP-005"
	ProjectID string             `bson:"projectId" json:"projectId"`
	Title     string             `bson:"title" json:"title"`
	Status    string             `bson:"status" json:"status"` // planned, active, blocked, done
	Owner     string             `bson:"owner" json:"owner"`
	Cost      float64            `bson:"cost" json:"cost"`
	Hours     float64            `bson:"hours" json:"hours"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// Record statuses
const (
	StatusPlanned = "planned"
	StatusActive  = "active"
	StatusBlocked = "blocked"
	StatusDone    = "done"
)
