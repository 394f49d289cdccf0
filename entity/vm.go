package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type VMStatus string

const (
	StatusPending  VMStatus = "pending"
	StatusCreated  VMStatus = "created"
	StatusDeleting VMStatus = "deleting"
	StatusDeleted  VMStatus = "deleted"
	StatusFailed   VMStatus = "failed"
)

// vmTransitions is the lifecycle state machine. A VM enters "pending" on
// insert and only ever moves forward: "deleted" and "failed" are terminal.
// "deleting" may re-enter itself so an interrupted decommission can be
// retried by the caller.
var vmTransitions = map[VMStatus][]VMStatus{
	StatusPending:  {StatusCreated, StatusFailed},
	StatusCreated:  {StatusDeleting},
	StatusDeleting: {StatusDeleting, StatusDeleted, StatusFailed},
	StatusDeleted:  {},
	StatusFailed:   {},
}

func (s VMStatus) Valid() bool {
	_, ok := vmTransitions[s]
	return ok
}

func (s VMStatus) Terminal() bool {
	return s == StatusDeleted || s == StatusFailed
}

func (s VMStatus) CanTransition(next VMStatus) bool {
	for _, allowed := range vmTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// VM is the authoritative record of a virtual machine. The ID is minted by
// this service at creation time; the compute backend never assigns ids.
// Labels keep the caller's order and may contain duplicates.
type VM struct {
	ID        uuid.UUID                   `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string                      `json:"name" gorm:"not null"`
	CPUCores  int                         `json:"cpu_cores" gorm:"not null"`
	MemoryMB  int                         `json:"memory" gorm:"not null"`
	DiskGB    int                         `json:"disk_size" gorm:"not null"`
	PublicIP  string                      `json:"public_ip,omitempty"`
	HostNode  string                      `json:"host_node,omitempty"`
	Labels    datatypes.JSONSlice[string] `json:"labels"`
	Status    VMStatus                    `json:"status" gorm:"type:varchar(16);not null;index"`
	CreatedAt time.Time                   `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time                   `json:"updated_at" gorm:"not null"`
}

// TransitionTo applies a lifecycle transition, bumping UpdatedAt. It is the
// only sanctioned way to change Status.
func (v *VM) TransitionTo(next VMStatus, now time.Time) error {
	if !v.Status.CanTransition(next) {
		return fmt.Errorf("invalid vm status transition %q -> %q", v.Status, next)
	}
	v.Status = next
	v.UpdatedAt = now
	return nil
}
