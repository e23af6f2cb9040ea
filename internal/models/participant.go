package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentStatus is tracked only; settlement happens elsewhere
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// RefundStatusInitiated is written by the sweeper on every participant of a failed deal
const RefundStatusInitiated = "initiated"

// Participant is one phone identity's enrollment in a deal.
// The unique index on (deal_id, phone_number) backs the duplicate check inside the join transaction.
type Participant struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DealID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_participants_deal_phone,priority:1" json:"deal_id"`

	PhoneNumber   string          `gorm:"type:varchar(32);not null;uniqueIndex:idx_participants_deal_phone,priority:2;index" json:"phone_number"`
	UserName      string          `gorm:"type:varchar(255)" json:"user_name,omitempty"`
	Quantity      int             `gorm:"not null;default:1" json:"quantity"`
	PaymentStatus PaymentStatus   `gorm:"type:varchar(20);not null;default:'pending'" json:"payment_status"`
	AmountPaid    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount_paid"`
	RefundStatus  *string         `gorm:"type:varchar(20)" json:"refund_status,omitempty"`
	JoinedAt      time.Time       `gorm:"index" json:"joined_at"`

	// Relationships
	Deal *Deal `gorm:"foreignKey:DealID;constraint:OnDelete:CASCADE" json:"deal,omitempty"`
}

// BeforeCreate assigns a UUID so inserts never depend on database-side defaults
func (p *Participant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// NewParticipant builds the enrollment record for a join: one unit, payment pending,
// and the deal's group price captured at join time.
func NewParticipant(deal Deal, phone, userName string, now time.Time) Participant {
	return Participant{
		DealID:        deal.ID,
		PhoneNumber:   phone,
		UserName:      userName,
		Quantity:      1,
		PaymentStatus: PaymentStatusPending,
		AmountPaid:    deal.GroupPrice,
		JoinedAt:      now,
	}
}
