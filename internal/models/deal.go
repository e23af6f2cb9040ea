package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DealStatus represents where a deal is in its lifecycle
type DealStatus string

const (
	DealStatusScheduled DealStatus = "scheduled"
	DealStatusActive    DealStatus = "active"
	DealStatusCompleted DealStatus = "completed"
	DealStatusFailed    DealStatus = "failed"
)

// IsTerminal reports whether the status can no longer change
func (s DealStatus) IsTerminal() bool {
	return s == DealStatusCompleted || s == DealStatusFailed
}

// Valid reports whether s is one of the known statuses
func (s DealStatus) Valid() bool {
	switch s {
	case DealStatusScheduled, DealStatusActive, DealStatusCompleted, DealStatusFailed:
		return true
	}
	return false
}

// Deal is a group-buying offer with a participant range, a price and a time window.
// CurrentParticipants is the authoritative participant counter and only moves while the deal is active.
type Deal struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ProductName         string          `gorm:"type:varchar(255);not null" json:"product_name"`
	Description         string          `gorm:"type:text" json:"description"`
	OriginalPrice       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"original_price"`
	GroupPrice          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"group_price"`
	MinParticipants     int             `gorm:"not null" json:"min_participants"`
	MaxParticipants     int             `gorm:"not null" json:"max_participants"`
	CurrentParticipants int             `gorm:"not null;default:0" json:"current_participants"`
	Status              DealStatus      `gorm:"type:varchar(20);not null;index:idx_deals_status_end_time,priority:1" json:"status"`
	StartTime           time.Time       `json:"start_time"`
	EndTime             time.Time       `gorm:"index:idx_deals_status_end_time,priority:2" json:"end_time"`
	EndedAt             *time.Time      `json:"ended_at,omitempty"`
}

// BeforeCreate assigns a UUID so inserts never depend on database-side defaults
func (d *Deal) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// IsFull reports whether no more participants can join
func (d Deal) IsFull() bool {
	return d.CurrentParticipants >= d.MaxParticipants
}

// QuorumMet reports whether the minimum participant count has been reached
func (d Deal) QuorumMet() bool {
	return d.CurrentParticipants >= d.MinParticipants
}

// IsExpired reports whether the deal window has closed at the given time
func (d Deal) IsExpired(now time.Time) bool {
	return d.EndTime.Before(now)
}

// ProgressPercentage is the share of max capacity already taken, 0-100
func (d Deal) ProgressPercentage() float64 {
	if d.MaxParticipants <= 0 {
		return 0
	}
	p := float64(d.CurrentParticipants) / float64(d.MaxParticipants) * 100
	if p > 100 {
		return 100
	}
	return p
}

// TimeRemaining returns the time left until end_time, never negative
func (d Deal) TimeRemaining(now time.Time) time.Duration {
	if left := d.EndTime.Sub(now); left > 0 {
		return left
	}
	return 0
}
