package models

import "time"

// ChangeStatus is the publish state of a staged change event.
type ChangeStatus string

// Change statuses.
const (
	ChangePending   ChangeStatus = "pending"
	ChangePublished ChangeStatus = "published"
	ChangeFailed    ChangeStatus = "failed"
)

// ChangeRecord is a change event written by the engine, staged in the
// transaction that performed the write and published to the change stream
// once committed. Seq orders records by insertion.
type ChangeRecord struct {
	Seq         uint64       `gorm:"primaryKey;autoIncrement" json:"seq"`
	ChangeID    string       `gorm:"not null;uniqueIndex;size:64" json:"changeId"`
	Path        string       `gorm:"not null;size:255" json:"path"`
	Payload     string       `gorm:"type:text;not null" json:"payload"`
	Status      ChangeStatus `gorm:"not null;size:20;index" json:"status"`
	Attempts    int          `gorm:"not null;default:0" json:"attempts"`
	LastError   string       `gorm:"type:text" json:"lastError,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	PublishedAt *time.Time   `json:"publishedAt,omitempty"`
}

// TableName specifies the table name for ChangeRecord model.
func (ChangeRecord) TableName() string {
	return "change_outbox"
}
