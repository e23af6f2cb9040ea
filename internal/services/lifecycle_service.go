package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
)

const (
	sweepLockKey     = "groupbuy:lock:deal_sweep"
	finalizeAttempts = 3
)

// Locker guards a sweep run across processes. release is nil when ok is false.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// SweepReport summarises one sweeper run
type SweepReport struct {
	LockBusy            bool `json:"lock_busy"`
	Expired             int  `json:"expired"`
	Completed           int  `json:"completed"`
	Failed              int  `json:"failed"`
	AlreadyFinalized    int  `json:"already_finalized"`
	Errors              int  `json:"errors"`
	NotificationsSent   int  `json:"notifications_sent"`
	NotificationsFailed int  `json:"notifications_failed"`

	mu sync.Mutex
}

func (r *SweepReport) add(fn func(r *SweepReport)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

// ToMap is stored as the scheduled task result
func (r *SweepReport) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"lock_busy":            r.LockBusy,
		"expired":              r.Expired,
		"completed":            r.Completed,
		"failed":               r.Failed,
		"already_finalized":    r.AlreadyFinalized,
		"errors":               r.Errors,
		"notifications_sent":   r.NotificationsSent,
		"notifications_failed": r.NotificationsFailed,
	}
}

// LifecycleService finalizes expired deals and activates scheduled ones
type LifecycleService struct {
	store       DealStore
	messenger   Messenger
	replies     *Replies
	locker      Locker
	logger      logrus.FieldLogger
	metrics     *Metrics
	concurrency int
	now         func() time.Time
}

// LifecycleOption customises a LifecycleService
type LifecycleOption func(*LifecycleService)

// WithLocker makes each sweep take a cross-process lock first
func WithLocker(l Locker) LifecycleOption {
	return func(s *LifecycleService) { s.locker = l }
}

// WithConcurrency bounds how many deals are finalized at once
func WithConcurrency(n int) LifecycleOption {
	return func(s *LifecycleService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMetrics records finalizations and notifications
func WithMetrics(m *Metrics) LifecycleOption {
	return func(s *LifecycleService) { s.metrics = m }
}

func NewLifecycleService(store DealStore, messenger Messenger, replies *Replies, logger logrus.FieldLogger, opts ...LifecycleOption) *LifecycleService {
	s := &LifecycleService{
		store:       store,
		messenger:   messenger,
		replies:     replies,
		logger:      logger,
		concurrency: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepExpired finalizes every active deal whose end_time has passed. Deals are
// handled independently: an error on one is logged and counted, the rest continue.
// Only the caller whose status transition wins sends notifications, so overlapping
// runs never notify twice.
func (s *LifecycleService) SweepExpired(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, sweepLockKey, 5*time.Minute)
		if err != nil {
			// the compare-and-set transition still prevents double processing
			s.logger.WithError(err).WithField(FieldEvent, "deal.sweep").Warn("sweep lock unavailable, continuing without it")
		} else if !ok {
			report.LockBusy = true
			dealEvent(s.logger, "deal.sweep", "sweeper", "", "lock_busy").Info("another sweep is running")
			return report, nil
		} else {
			defer release()
		}
	}

	now := s.now().UTC()
	deals, err := s.store.ListExpiredActiveDeals(ctx, now)
	if err != nil {
		return nil, newDealError(ErrStoreUnavailable, err)
	}
	report.Expired = len(deals)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, deal := range deals {
		deal := deal
		g.Go(func() error {
			s.finalize(gctx, deal, now, report)
			return nil
		})
	}
	_ = g.Wait()

	dealEvent(s.logger, "deal.sweep", "sweeper", "", "done").
		WithFields(logrus.Fields(report.ToMap())).
		Info("expired deal sweep finished")
	return report, nil
}

// finalize retries when a join moves the counter between the read and the
// transition, so quorum is decided on the count that is actually finalized.
func (s *LifecycleService) finalize(ctx context.Context, deal models.Deal, now time.Time, report *SweepReport) {
	dealID := deal.ID.String()

	var (
		outcome      models.DealStatus
		notice       string
		participants []models.Participant
		won          bool
	)
	for attempt := 0; attempt < finalizeAttempts; attempt++ {
		outcome = models.DealStatusCompleted
		notice = s.replies.DealSucceededNotice(deal)
		if !deal.QuorumMet() {
			outcome = models.DealStatusFailed
			notice = s.replies.DealFailedNotice(deal)
		}

		var err error
		participants, won, err = s.store.FinalizeDeal(ctx, deal.ID, deal.CurrentParticipants, outcome, now)
		if err != nil {
			dealEvent(s.logger, "deal.finalize", "sweeper", dealID, string(CodeStoreUnavailable)).
				WithError(err).Error("failed to finalize deal, deal skipped")
			report.add(func(r *SweepReport) { r.Errors++ })
			return
		}
		if won {
			break
		}

		fresh, err := s.store.GetDeal(ctx, deal.ID)
		if err != nil && CodeOf(err) != CodeDealNotFound {
			dealEvent(s.logger, "deal.finalize", "sweeper", dealID, string(CodeStoreUnavailable)).
				WithError(err).Error("failed to re-read deal, deal skipped")
			report.add(func(r *SweepReport) { r.Errors++ })
			return
		}
		if err != nil || fresh.Status != models.DealStatusActive {
			dealEvent(s.logger, "deal.finalize", "sweeper", dealID, "already_finalized").Info("deal already finalized elsewhere")
			report.add(func(r *SweepReport) { r.AlreadyFinalized++ })
			return
		}
		if !fresh.IsExpired(now) {
			dealEvent(s.logger, "deal.finalize", "sweeper", dealID, "extended").Info("deal end moved while finalizing, skipped")
			return
		}
		dealEvent(s.logger, "deal.finalize", "sweeper", dealID, "count_changed").
			WithField("participants", fresh.CurrentParticipants).
			Info("participants changed during finalize, retrying")
		deal = *fresh
	}
	if !won {
		dealEvent(s.logger, "deal.finalize", "sweeper", dealID, "contended").
			Warn("deal kept changing, left for the next sweep")
		report.add(func(r *SweepReport) { r.Errors++ })
		return
	}

	s.metrics.observeFinalized(string(outcome))
	dealEvent(s.logger, "deal.finalize", "sweeper", dealID, string(outcome)).
		WithField("participants", len(participants)).
		Info("deal finalized")

	sent, failed := 0, 0
	for _, p := range participants {
		err := s.messenger.SendMessage(ctx, p.PhoneNumber, notice)
		s.metrics.observeNotification(string(outcome), err)
		if err != nil {
			failed++
			dealEvent(s.logger, "deal.notify", p.PhoneNumber, dealID, string(CodeMessagingFailed)).
				WithError(err).Warn("failed to notify participant")
			continue
		}
		sent++
	}

	report.add(func(r *SweepReport) {
		if outcome == models.DealStatusFailed {
			r.Failed++
		} else {
			r.Completed++
		}
		r.NotificationsSent += sent
		r.NotificationsFailed += failed
	})
}

// ActivateScheduled moves scheduled deals whose start_time has passed to active
// and returns how many this call activated.
func (s *LifecycleService) ActivateScheduled(ctx context.Context) (int, error) {
	now := s.now().UTC()
	deals, err := s.store.ListDueScheduledDeals(ctx, now)
	if err != nil {
		return 0, newDealError(ErrStoreUnavailable, err)
	}

	activated := 0
	for _, deal := range deals {
		won, err := s.store.ActivateDeal(ctx, deal.ID, now)
		if err != nil {
			dealEvent(s.logger, "deal.activate", "scheduler", deal.ID.String(), string(CodeStoreUnavailable)).
				WithError(err).Error("failed to activate deal")
			continue
		}
		if won {
			activated++
			s.metrics.observeActivated()
			dealEvent(s.logger, "deal.activate", "scheduler", deal.ID.String(), string(models.DealStatusActive)).Info("deal activated")
		}
	}
	return activated, nil
}
