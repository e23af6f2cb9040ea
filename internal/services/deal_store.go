package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
)

// DealStore is the persistence boundary for deals and participants.
// Every method opens, acts and releases within the call.
type DealStore interface {
	// ListActiveDeals returns active deals oldest first; limit <= 0 means all.
	ListActiveDeals(ctx context.Context, limit int) ([]models.Deal, error)
	// ListDeals returns deals newest first, optionally filtered by status.
	ListDeals(ctx context.Context, status models.DealStatus) ([]models.Deal, error)
	// GetDeal returns ErrDealNotFound when the deal does not exist.
	GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	CreateDeal(ctx context.Context, deal *models.Deal) error
	// UpdateDeal applies fields in one guarded statement: max_participants may not
	// drop below the live counter and a completed or failed deal keeps its status.
	// A rejected guard returns an ErrInvalidInput error.
	UpdateDeal(ctx context.Context, id uuid.UUID, fields map[string]interface{}) (*models.Deal, error)
	DeleteDeal(ctx context.Context, id uuid.UUID) error

	// ListParticipants returns a deal's participants, narrowed to one phone when phone is set.
	ListParticipants(ctx context.Context, dealID uuid.UUID, phone string) ([]models.Participant, error)
	// ListParticipationsByPhone returns a phone's enrollments with their deals, most recent first.
	ListParticipationsByPhone(ctx context.Context, phone string) ([]models.Participant, error)

	// JoinDeal increments the counter only while the deal is active and below capacity,
	// inserts the participant and records history in one transaction. It returns the
	// new participant count, or ErrDealNotFound, ErrDealFull or ErrAlreadyJoined when
	// the guard rejects the join.
	JoinDeal(ctx context.Context, dealID uuid.UUID, participant *models.Participant) (int, error)

	ListExpiredActiveDeals(ctx context.Context, now time.Time) ([]models.Deal, error)
	// FinalizeDeal moves an active deal holding exactly expectedParticipants to
	// outcome and returns the participants read inside the same transaction. It
	// reports false when the deal left active or its count moved since it was read.
	// On failure every participant gets refund_status=initiated.
	FinalizeDeal(ctx context.Context, dealID uuid.UUID, expectedParticipants int, outcome models.DealStatus, now time.Time) ([]models.Participant, bool, error)

	ListDueScheduledDeals(ctx context.Context, now time.Time) ([]models.Deal, error)
	// ActivateDeal moves a scheduled deal to active; false when it was not scheduled.
	ActivateDeal(ctx context.Context, dealID uuid.UUID, now time.Time) (bool, error)

	Ping(ctx context.Context) error
}

// GormDealStore implements DealStore on postgres through gorm
type GormDealStore struct {
	db *gorm.DB
}

// NewGormDealStore creates a store on an open gorm connection
func NewGormDealStore(db *gorm.DB) *GormDealStore {
	return &GormDealStore{db: db}
}

func (s *GormDealStore) ListActiveDeals(ctx context.Context, limit int) ([]models.Deal, error) {
	var deals []models.Deal
	q := s.db.WithContext(ctx).
		Where("status = ?", models.DealStatusActive).
		Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&deals).Error; err != nil {
		return nil, errors.Wrap(err, "list active deals")
	}
	return deals, nil
}

func (s *GormDealStore) ListDeals(ctx context.Context, status models.DealStatus) ([]models.Deal, error) {
	var deals []models.Deal
	q := s.db.WithContext(ctx).Order("created_at desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&deals).Error; err != nil {
		return nil, errors.Wrap(err, "list deals")
	}
	return deals, nil
}

func (s *GormDealStore) GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	var deal models.Deal
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&deal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newDealError(ErrDealNotFound, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get deal %s", id)
	}
	return &deal, nil
}

func (s *GormDealStore) CreateDeal(ctx context.Context, deal *models.Deal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(deal).Error; err != nil {
			return errors.Wrap(err, "create deal")
		}
		return writeHistory(tx, models.DealHistory{
			DealID:     deal.ID,
			ActionType: models.DealActionCreated,
			NewStatus:  deal.Status,
			Details:    map[string]interface{}{"product_name": deal.ProductName},
		})
	})
}

func (s *GormDealStore) UpdateDeal(ctx context.Context, id uuid.UUID, fields map[string]interface{}) (*models.Deal, error) {
	var updated models.Deal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Deal
		if err := tx.Where("id = ?", id).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newDealError(ErrDealNotFound, nil)
			}
			return errors.Wrapf(err, "load deal %s", id)
		}

		q := tx.Model(&models.Deal{}).Where("id = ?", id)
		if limit, ok := fields["max_participants"]; ok {
			q = q.Where("current_participants <= ?", limit)
		}
		if st, ok := fields["status"]; ok {
			q = q.Where("(status = ? OR status NOT IN ?)", st, terminalStatuses)
		}
		res := q.Updates(fields)
		if res.Error != nil {
			return errors.Wrapf(res.Error, "update deal %s", id)
		}
		if res.RowsAffected == 0 {
			return rejectedUpdate(tx, id, fields)
		}

		changed := make([]string, 0, len(fields))
		for k := range fields {
			changed = append(changed, k)
		}
		entry := models.DealHistory{
			DealID:     id,
			ActionType: models.DealActionUpdated,
			OldStatus:  current.Status,
			NewStatus:  current.Status,
			Details:    map[string]interface{}{"fields": changed},
		}
		if st, ok := fields["status"].(models.DealStatus); ok && st != current.Status {
			entry.ActionType = models.DealActionStatusChanged
			entry.NewStatus = st
		}
		if err := writeHistory(tx, entry); err != nil {
			return err
		}

		if err := tx.Where("id = ?", id).First(&updated).Error; err != nil {
			return errors.Wrapf(err, "reload deal %s", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

var terminalStatuses = []models.DealStatus{models.DealStatusCompleted, models.DealStatusFailed}

const (
	msgStatusFrozen       = "status cannot change once the deal is completed or failed"
	msgCapacityBelowCount = "max_participants cannot be below current participants"
)

// rejectedUpdate explains why the guarded update matched no row
func rejectedUpdate(tx *gorm.DB, id uuid.UUID, fields map[string]interface{}) error {
	var deal models.Deal
	err := tx.Select("id", "status", "current_participants").Where("id = ?", id).First(&deal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newDealError(ErrDealNotFound, nil)
	}
	if err != nil {
		return errors.Wrapf(err, "load deal %s", id)
	}
	if st, ok := fields["status"].(models.DealStatus); ok && deal.Status.IsTerminal() && st != deal.Status {
		return InvalidInput(msgStatusFrozen, nil)
	}
	return InvalidInput(msgCapacityBelowCount, nil)
}

func (s *GormDealStore) DeleteDeal(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&models.Deal{})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "delete deal %s", id)
		}
		if res.RowsAffected == 0 {
			return newDealError(ErrDealNotFound, nil)
		}
		return writeHistory(tx, models.DealHistory{DealID: id, ActionType: models.DealActionDeleted})
	})
}

func (s *GormDealStore) ListParticipants(ctx context.Context, dealID uuid.UUID, phone string) ([]models.Participant, error) {
	var participants []models.Participant
	q := s.db.WithContext(ctx).Where("deal_id = ?", dealID)
	if phone != "" {
		q = q.Where("phone_number = ?", phone)
	}
	if err := q.Order("joined_at asc").Find(&participants).Error; err != nil {
		return nil, errors.Wrapf(err, "list participants of deal %s", dealID)
	}
	return participants, nil
}

func (s *GormDealStore) ListParticipationsByPhone(ctx context.Context, phone string) ([]models.Participant, error) {
	var participants []models.Participant
	err := s.db.WithContext(ctx).
		Preload("Deal").
		Where("phone_number = ?", phone).
		Order("joined_at desc").
		Find(&participants).Error
	if err != nil {
		return nil, errors.Wrap(err, "list participations by phone")
	}
	return participants, nil
}

func (s *GormDealStore) JoinDeal(ctx context.Context, dealID uuid.UUID, participant *models.Participant) (int, error) {
	var newCount int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Deal{}).
			Where("id = ? AND status = ? AND current_participants < max_participants", dealID, models.DealStatusActive).
			Updates(map[string]interface{}{
				"current_participants": gorm.Expr("current_participants + ?", 1),
				"updated_at":           participant.JoinedAt,
			})
		if res.Error != nil {
			return newDealError(ErrCounterUpdateFailed, res.Error)
		}
		if res.RowsAffected == 0 {
			return rejectedJoin(tx, dealID)
		}

		participant.DealID = dealID
		if err := tx.Create(participant).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return newDealError(ErrAlreadyJoined, err)
			}
			return newDealError(ErrInsertFailed, err)
		}

		var deal models.Deal
		if err := tx.Select("id", "current_participants", "status").Where("id = ?", dealID).First(&deal).Error; err != nil {
			return newDealError(ErrCounterUpdateFailed, err)
		}
		newCount = deal.CurrentParticipants

		return writeHistory(tx, models.DealHistory{
			DealID:     dealID,
			ActionType: models.DealActionParticipantJoined,
			ActorPhone: participant.PhoneNumber,
			Details:    map[string]interface{}{"participant_id": participant.ID.String(), "current_participants": newCount},
		})
	})
	if err != nil {
		return 0, err
	}
	return newCount, nil
}

// rejectedJoin explains why the guarded increment matched no row
func rejectedJoin(tx *gorm.DB, dealID uuid.UUID) error {
	var deal models.Deal
	err := tx.Select("id", "status", "current_participants", "max_participants").Where("id = ?", dealID).First(&deal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newDealError(ErrDealNotFound, nil)
	}
	if err != nil {
		return newDealError(ErrStoreUnavailable, err)
	}
	if deal.Status != models.DealStatusActive {
		return newDealError(ErrDealNotFound, nil)
	}
	return newDealError(ErrDealFull, nil)
}

func (s *GormDealStore) ListExpiredActiveDeals(ctx context.Context, now time.Time) ([]models.Deal, error) {
	var deals []models.Deal
	err := s.db.WithContext(ctx).
		Where("status = ? AND end_time < ?", models.DealStatusActive, now).
		Order("end_time asc").
		Find(&deals).Error
	if err != nil {
		return nil, errors.Wrap(err, "list expired active deals")
	}
	return deals, nil
}

func (s *GormDealStore) FinalizeDeal(ctx context.Context, dealID uuid.UUID, expectedParticipants int, outcome models.DealStatus, now time.Time) ([]models.Participant, bool, error) {
	if !outcome.IsTerminal() {
		return nil, false, errors.Errorf("finalize deal: %q is not a terminal status", outcome)
	}

	won := false
	var participants []models.Participant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Deal{}).
			Where("id = ? AND status = ? AND current_participants = ?", dealID, models.DealStatusActive, expectedParticipants).
			Updates(map[string]interface{}{
				"status":     outcome,
				"ended_at":   now,
				"updated_at": now,
			})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "finalize deal %s", dealID)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		won = true

		if outcome == models.DealStatusFailed {
			err := tx.Model(&models.Participant{}).
				Where("deal_id = ?", dealID).
				Update("refund_status", models.RefundStatusInitiated).Error
			if err != nil {
				return errors.Wrapf(err, "initiate refunds for deal %s", dealID)
			}
		}

		// joins need the deal active, so this list is final
		if err := tx.Where("deal_id = ?", dealID).Order("joined_at asc").Find(&participants).Error; err != nil {
			return errors.Wrapf(err, "list participants of deal %s", dealID)
		}

		return writeHistory(tx, models.DealHistory{
			DealID:     dealID,
			ActionType: models.DealActionStatusChanged,
			OldStatus:  models.DealStatusActive,
			NewStatus:  outcome,
			Details:    map[string]interface{}{"reason": "expired", "current_participants": expectedParticipants},
		})
	})
	if err != nil {
		return nil, false, err
	}
	return participants, won, nil
}

func (s *GormDealStore) ListDueScheduledDeals(ctx context.Context, now time.Time) ([]models.Deal, error) {
	var deals []models.Deal
	err := s.db.WithContext(ctx).
		Where("status = ? AND start_time <= ?", models.DealStatusScheduled, now).
		Order("start_time asc").
		Find(&deals).Error
	if err != nil {
		return nil, errors.Wrap(err, "list due scheduled deals")
	}
	return deals, nil
}

func (s *GormDealStore) ActivateDeal(ctx context.Context, dealID uuid.UUID, now time.Time) (bool, error) {
	won := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Deal{}).
			Where("id = ? AND status = ?", dealID, models.DealStatusScheduled).
			Updates(map[string]interface{}{"status": models.DealStatusActive, "updated_at": now})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "activate deal %s", dealID)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		won = true
		return writeHistory(tx, models.DealHistory{
			DealID:     dealID,
			ActionType: models.DealActionStatusChanged,
			OldStatus:  models.DealStatusScheduled,
			NewStatus:  models.DealStatusActive,
			Details:    map[string]interface{}{"reason": "start_time reached"},
		})
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (s *GormDealStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql db")
	}
	return sqlDB.PingContext(ctx)
}

// AnalyticsSnapshot aggregates dashboard figures in a handful of queries
func (s *GormDealStore) AnalyticsSnapshot(ctx context.Context) (*Analytics, error) {
	db := s.db.WithContext(ctx)
	out := &Analytics{DealsByStatus: map[string]int64{}, RevenueByMonth: []MonthlyRevenue{}}

	var byStatus []struct {
		Status string
		Count  int64
	}
	if err := db.Model(&models.Deal{}).Select("status, count(*) AS count").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, errors.Wrap(err, "count deals by status")
	}
	for _, row := range byStatus {
		out.DealsByStatus[row.Status] = row.Count
		out.TotalDeals += row.Count
	}
	out.ActiveDeals = out.DealsByStatus[string(models.DealStatusActive)]

	if err := db.Model(&models.Participant{}).Count(&out.TotalParticipants).Error; err != nil {
		return nil, errors.Wrap(err, "count participants")
	}

	var revenue struct{ Total decimal.Decimal }
	if err := db.Model(&models.Participant{}).Select("COALESCE(SUM(amount_paid), 0) AS total").Scan(&revenue).Error; err != nil {
		return nil, errors.Wrap(err, "sum revenue")
	}
	out.TotalRevenue = revenue.Total

	err := db.Raw(`SELECT to_char(date_trunc('month', d.ended_at), 'YYYY-MM') AS month,
		COALESCE(SUM(p.amount_paid), 0) AS revenue
		FROM participants p JOIN deals d ON d.id = p.deal_id
		WHERE d.status = ? AND d.ended_at IS NOT NULL AND d.deleted_at IS NULL
		GROUP BY 1 ORDER BY 1`, models.DealStatusCompleted).Scan(&out.RevenueByMonth).Error
	if err != nil {
		return nil, errors.Wrap(err, "revenue by month")
	}

	out.SuccessRate = successRate(out.DealsByStatus)
	return out, nil
}

func writeHistory(tx *gorm.DB, entry models.DealHistory) error {
	if err := tx.Create(&entry).Error; err != nil {
		return errors.Wrapf(err, "write %s history for deal %s", entry.ActionType, entry.DealID)
	}
	return nil
}
