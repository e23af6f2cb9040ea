package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
)

// JoinResult describes a successful enrollment
type JoinResult struct {
	DealID          uuid.UUID       `json:"deal_id"`
	DealName        string          `json:"deal_name"`
	GroupPrice      decimal.Decimal `json:"group_price"`
	NewCount        int             `json:"current_participants"`
	MaxParticipants int             `json:"max_participants"`
}

// JoinService enrolls phone identities into deals
type JoinService struct {
	store   DealStore
	logger  logrus.FieldLogger
	metrics *Metrics
	now     func() time.Time
}

// NewJoinService creates the join engine on top of a deal store
func NewJoinService(store DealStore, logger logrus.FieldLogger, metrics *Metrics) *JoinService {
	return &JoinService{
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// ResolveDealID maps a chat identifier to a deal id. A digit string is a 1-based
// position in the active deals ordered oldest first, read fresh on every call.
// Anything else must be a canonical UUID and is used as-is without touching the store.
func (s *JoinService) ResolveDealID(ctx context.Context, identifier string) (uuid.UUID, error) {
	identifier = strings.TrimSpace(identifier)

	if isDigits(identifier) {
		position, err := strconv.Atoi(identifier)
		if err != nil || position <= 0 {
			return uuid.Nil, newDealError(ErrInvalidDealIndex, err)
		}
		deals, err := s.store.ListActiveDeals(ctx, 0)
		if err != nil {
			return uuid.Nil, newDealError(ErrStoreUnavailable, err)
		}
		if position > len(deals) {
			return uuid.Nil, newDealError(ErrInvalidDealIndex, nil)
		}
		return deals[position-1].ID, nil
	}

	if id, ok := parseDealID(identifier); ok {
		return id, nil
	}
	return uuid.Nil, newDealError(ErrInvalidDealFormat, nil)
}

// Join resolves the identifier and enrolls actorPhone into that deal
func (s *JoinService) Join(ctx context.Context, identifier, actorPhone string) (*JoinResult, error) {
	dealID, err := s.ResolveDealID(ctx, identifier)
	if err != nil {
		s.record(actorPhone, "", err)
		return nil, err
	}
	return s.JoinByID(ctx, dealID, actorPhone, "")
}

// JoinByID enrolls a phone into a known deal. The store repeats the capacity and
// duplicate guards inside its transaction; concurrent joins that pass the checks
// here are still rejected there.
func (s *JoinService) JoinByID(ctx context.Context, dealID uuid.UUID, actorPhone, userName string) (*JoinResult, error) {
	result, err := s.join(ctx, dealID, actorPhone, userName)
	s.record(actorPhone, dealID.String(), err)
	return result, err
}

func (s *JoinService) join(ctx context.Context, dealID uuid.UUID, actorPhone, userName string) (*JoinResult, error) {
	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	if deal.Status != models.DealStatusActive {
		return nil, newDealError(ErrDealNotFound, nil)
	}

	// members of a full deal are told they already joined rather than that it is full
	existing, err := s.store.ListParticipants(ctx, dealID, actorPhone)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	if len(existing) > 0 {
		return nil, newDealError(ErrAlreadyJoined, nil)
	}
	if deal.IsFull() {
		return nil, newDealError(ErrDealFull, nil)
	}

	participant := models.NewParticipant(*deal, actorPhone, userName, s.now().UTC())
	newCount, err := s.store.JoinDeal(ctx, dealID, &participant)
	if err != nil {
		return nil, classifyStoreError(err)
	}

	return &JoinResult{
		DealID:          deal.ID,
		DealName:        deal.ProductName,
		GroupPrice:      deal.GroupPrice,
		NewCount:        newCount,
		MaxParticipants: deal.MaxParticipants,
	}, nil
}

func (s *JoinService) record(actor, dealID string, err error) {
	outcome := "joined"
	if err != nil {
		outcome = string(CodeOf(err))
	}
	s.metrics.observeJoin(outcome)

	entry := dealEvent(s.logger, "deal.join", actor, dealID, outcome)
	switch {
	case err == nil:
		entry.Info("participant joined deal")
	case HTTPStatus(err) >= 500:
		entry.WithError(err).Error("join failed")
	default:
		entry.Info("join rejected")
	}
}

// classifyStoreError keeps typed errors and labels everything else STORE_UNAVAILABLE
func classifyStoreError(err error) error {
	var de *DealError
	if errors.As(err, &de) {
		return err
	}
	return newDealError(ErrStoreUnavailable, err)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseDealID accepts only the canonical 36 character form of an RFC 4122 UUID
func parseDealID(s string) (uuid.UUID, bool) {
	if len(s) != 36 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil || id.Variant() != uuid.RFC4122 {
		return uuid.Nil, false
	}
	if v := id.Version(); v < 1 || v > 5 {
		return uuid.Nil, false
	}
	return id, true
}
