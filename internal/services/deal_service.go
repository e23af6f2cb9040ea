package services

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
)

// CreateDealInput is the admin request to open a deal
type CreateDealInput struct {
	ProductName     string          `json:"product_name"`
	Description     string          `json:"description"`
	OriginalPrice   decimal.Decimal `json:"original_price"`
	GroupPrice      decimal.Decimal `json:"group_price"`
	MinParticipants int             `json:"min_participants"`
	MaxParticipants int             `json:"max_participants"`
	StartTime       *time.Time      `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
}

func positiveAmount(value interface{}) error {
	if d, ok := value.(decimal.Decimal); !ok || !d.IsPositive() {
		return errors.New("must be greater than 0")
	}
	return nil
}

func (in CreateDealInput) Validate(now time.Time) error {
	start := now
	if in.StartTime != nil {
		start = *in.StartTime
	}
	return validation.ValidateStruct(&in,
		validation.Field(&in.ProductName, validation.Required, validation.Length(1, 255)),
		validation.Field(&in.OriginalPrice, validation.By(positiveAmount)),
		validation.Field(&in.GroupPrice, validation.By(positiveAmount)),
		validation.Field(&in.MinParticipants, validation.Required, validation.Min(1)),
		validation.Field(&in.MaxParticipants, validation.Required, validation.Min(in.MinParticipants)),
		validation.Field(&in.EndTime, validation.Required, validation.By(func(interface{}) error {
			if !in.EndTime.After(start) {
				return errors.New("must be after start_time")
			}
			return nil
		})),
	)
}

// UpdateDealInput changes selected fields of a deal; nil fields are left alone
type UpdateDealInput struct {
	ProductName     *string            `json:"product_name"`
	Description     *string            `json:"description"`
	OriginalPrice   *decimal.Decimal   `json:"original_price"`
	GroupPrice      *decimal.Decimal   `json:"group_price"`
	MinParticipants *int               `json:"min_participants"`
	MaxParticipants *int               `json:"max_participants"`
	Status          *models.DealStatus `json:"status"`
	EndTime         *time.Time         `json:"end_time"`
}

// fields validates the update against the current deal and returns the column changes
func (in UpdateDealInput) fields(current models.Deal) (map[string]interface{}, error) {
	next := current
	out := map[string]interface{}{}

	if in.ProductName != nil {
		next.ProductName = *in.ProductName
		out["product_name"] = *in.ProductName
	}
	if in.Description != nil {
		out["description"] = *in.Description
	}
	if in.OriginalPrice != nil {
		next.OriginalPrice = *in.OriginalPrice
		out["original_price"] = *in.OriginalPrice
	}
	if in.GroupPrice != nil {
		next.GroupPrice = *in.GroupPrice
		out["group_price"] = *in.GroupPrice
	}
	if in.MinParticipants != nil {
		next.MinParticipants = *in.MinParticipants
		out["min_participants"] = *in.MinParticipants
	}
	if in.MaxParticipants != nil {
		next.MaxParticipants = *in.MaxParticipants
		out["max_participants"] = *in.MaxParticipants
	}
	if in.Status != nil {
		next.Status = *in.Status
		out["status"] = *in.Status
	}
	if in.EndTime != nil {
		next.EndTime = *in.EndTime
		out["end_time"] = *in.EndTime
	}

	err := validation.ValidateStruct(&next,
		validation.Field(&next.ProductName, validation.Required, validation.Length(1, 255)),
		validation.Field(&next.OriginalPrice, validation.By(positiveAmount)),
		validation.Field(&next.GroupPrice, validation.By(positiveAmount)),
		validation.Field(&next.MinParticipants, validation.Min(1)),
		validation.Field(&next.MaxParticipants, validation.Min(next.MinParticipants), validation.Min(current.CurrentParticipants)),
		validation.Field(&next.Status, validation.By(func(interface{}) error {
			if !next.Status.Valid() {
				return errors.New("must be one of scheduled, active, completed, failed")
			}
			if current.Status.IsTerminal() && next.Status != current.Status {
				return errors.New(msgStatusFrozen)
			}
			return nil
		})),
	)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("no fields to update")
	}
	return out, nil
}

// DealProgress is the public status view of one deal
type DealProgress struct {
	Deal        models.Deal `json:"deal"`
	Progress    float64     `json:"progress_percentage"`
	MinutesLeft int64       `json:"minutes_left"`
	QuorumMet   bool        `json:"quorum_met"`
	IsExpired   bool        `json:"is_expired"`
}

// DealService backs the admin API
type DealService struct {
	store  DealStore
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewDealService(store DealStore, logger logrus.FieldLogger) *DealService {
	return &DealService{store: store, logger: logger, now: time.Now}
}

// Create opens a deal. It starts active unless start_time is in the future.
func (s *DealService) Create(ctx context.Context, in CreateDealInput) (*models.Deal, error) {
	now := s.now().UTC()
	if err := in.Validate(now); err != nil {
		return nil, InvalidInput(err.Error(), err)
	}

	deal := &models.Deal{
		ProductName:     in.ProductName,
		Description:     in.Description,
		OriginalPrice:   in.OriginalPrice,
		GroupPrice:      in.GroupPrice,
		MinParticipants: in.MinParticipants,
		MaxParticipants: in.MaxParticipants,
		Status:          models.DealStatusActive,
		StartTime:       now,
		EndTime:         in.EndTime.UTC(),
	}
	if in.StartTime != nil {
		deal.StartTime = in.StartTime.UTC()
		if deal.StartTime.After(now) {
			deal.Status = models.DealStatusScheduled
		}
	}

	if err := s.store.CreateDeal(ctx, deal); err != nil {
		return nil, classifyStoreError(err)
	}
	dealEvent(s.logger, "deal.create", "admin", deal.ID.String(), string(deal.Status)).Info("deal created")
	return deal, nil
}

func (s *DealService) Update(ctx context.Context, id uuid.UUID, in UpdateDealInput) (*models.Deal, error) {
	current, err := s.store.GetDeal(ctx, id)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	fields, err := in.fields(*current)
	if err != nil {
		return nil, InvalidInput(err.Error(), err)
	}
	if st, ok := fields["status"].(models.DealStatus); ok && st.IsTerminal() && current.EndedAt == nil {
		fields["ended_at"] = s.now().UTC()
	}

	deal, err := s.store.UpdateDeal(ctx, id, fields)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	dealEvent(s.logger, "deal.update", "admin", id.String(), string(deal.Status)).Info("deal updated")
	return deal, nil
}

func (s *DealService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteDeal(ctx, id); err != nil {
		return classifyStoreError(err)
	}
	dealEvent(s.logger, "deal.delete", "admin", id.String(), "deleted").Info("deal deleted")
	return nil
}

func (s *DealService) Get(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	deal, err := s.store.GetDeal(ctx, id)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return deal, nil
}

func (s *DealService) List(ctx context.Context, status string) ([]models.Deal, error) {
	st := models.DealStatus(status)
	if status != "" && !st.Valid() {
		return nil, InvalidInput("status must be one of scheduled, active, completed, failed", nil)
	}
	deals, err := s.store.ListDeals(ctx, st)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return deals, nil
}

// ListActive returns active deals oldest first, in /join index order
func (s *DealService) ListActive(ctx context.Context, limit int) ([]models.Deal, error) {
	deals, err := s.store.ListActiveDeals(ctx, limit)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return deals, nil
}

func (s *DealService) Participants(ctx context.Context, id uuid.UUID) ([]models.Participant, error) {
	if _, err := s.store.GetDeal(ctx, id); err != nil {
		return nil, classifyStoreError(err)
	}
	participants, err := s.store.ListParticipants(ctx, id, "")
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return participants, nil
}

func (s *DealService) ParticipationsByPhone(ctx context.Context, phone string) ([]models.Participant, error) {
	participants, err := s.store.ListParticipationsByPhone(ctx, phone)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return participants, nil
}

func (s *DealService) Progress(ctx context.Context, id uuid.UUID) (*DealProgress, error) {
	deal, err := s.store.GetDeal(ctx, id)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	now := s.now()
	return &DealProgress{
		Deal:        *deal,
		Progress:    deal.ProgressPercentage(),
		MinutesLeft: int64(deal.TimeRemaining(now) / time.Minute),
		QuorumMet:   deal.QuorumMet(),
		IsExpired:   deal.IsExpired(now),
	}, nil
}
