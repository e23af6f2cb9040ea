package services

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
)

const analyticsCacheKey = "groupbuy:analytics:v1"

// Analytics is the admin dashboard summary
type Analytics struct {
	TotalDeals        int64            `json:"totalDeals"`
	ActiveDeals       int64            `json:"activeDeals"`
	TotalParticipants int64            `json:"totalParticipants"`
	TotalRevenue      decimal.Decimal  `json:"totalRevenue"`
	SuccessRate       float64          `json:"successRate"`
	DealsByStatus     map[string]int64 `json:"dealsByStatus"`
	RevenueByMonth    []MonthlyRevenue `json:"revenueByMonth"`
}

// MonthlyRevenue is the participant revenue of deals completed in one month (YYYY-MM)
type MonthlyRevenue struct {
	Month   string          `json:"month"`
	Revenue decimal.Decimal `json:"revenue"`
}

// AnalyticsSource computes a fresh snapshot
type AnalyticsSource interface {
	AnalyticsSnapshot(ctx context.Context) (*Analytics, error)
}

// AnalyticsService serves analytics, cached in redis when a cache is configured
type AnalyticsService struct {
	source AnalyticsSource
	cache  *RedisCache
	ttl    time.Duration
}

func NewAnalyticsService(source AnalyticsSource, cache *RedisCache) *AnalyticsService {
	return &AnalyticsService{source: source, cache: cache, ttl: time.Minute}
}

func (s *AnalyticsService) Get(ctx context.Context) (*Analytics, error) {
	if s.cache == nil {
		return s.fetch(ctx)
	}
	return GetOrSet(s.cache, ctx, analyticsCacheKey, s.ttl, func() (*Analytics, error) {
		return s.fetch(ctx)
	})
}

// Invalidate drops the cached snapshot after a write that changes the figures
func (s *AnalyticsService) Invalidate(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, analyticsCacheKey)
	}
}

func (s *AnalyticsService) fetch(ctx context.Context) (*Analytics, error) {
	a, err := s.source.AnalyticsSnapshot(ctx)
	if err != nil {
		return nil, newDealError(ErrStoreUnavailable, err)
	}
	return a, nil
}

// successRate is completed deals as a percentage of finished deals, one decimal place
func successRate(byStatus map[string]int64) float64 {
	completed := byStatus[string(models.DealStatusCompleted)]
	finished := completed + byStatus[string(models.DealStatusFailed)]
	if finished == 0 {
		return 0
	}
	return math.Round(float64(completed)/float64(finished)*1000) / 10
}
