package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DealAction is the kind of change recorded in the deal audit trail
type DealAction string

const (
	DealActionCreated           DealAction = "created"
	DealActionParticipantJoined DealAction = "participant_joined"
	DealActionStatusChanged     DealAction = "status_changed"
	DealActionUpdated           DealAction = "updated"
	DealActionDeleted           DealAction = "deleted"
)

// DealHistory is an append-only audit record written in the same transaction as the change it describes
type DealHistory struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	DealID     uuid.UUID              `gorm:"type:uuid;not null;index" json:"deal_id"`
	ActionType DealAction             `gorm:"type:varchar(32);not null" json:"action_type"`
	ActorPhone string                 `gorm:"type:varchar(32)" json:"actor_phone,omitempty"`
	OldStatus  DealStatus             `gorm:"type:varchar(20)" json:"old_status,omitempty"`
	NewStatus  DealStatus             `gorm:"type:varchar(20)" json:"new_status,omitempty"`
	Details    map[string]interface{} `gorm:"serializer:json" json:"details,omitempty"`
}

// BeforeCreate assigns a UUID so inserts never depend on database-side defaults
func (h *DealHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}
