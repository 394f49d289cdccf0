package entity

import (
	"time"

	"github.com/google/uuid"
)

// VMEvent is an audit row appended for every lifecycle event consumed from
// the event queue. Rows are append-only.
type VMEvent struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	VMID       uuid.UUID `json:"vm_id" gorm:"type:uuid;not null;index"`
	Event      string    `json:"event" gorm:"not null"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null"`
}
