package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services/servicestest"
)

const (
	phoneP = "whatsapp:+919800000001"
	phoneQ = "whatsapp:+919800000002"
	phoneR = "whatsapp:+919800000003"
)

func activeDeal(name string, min, max, current int) models.Deal {
	return models.Deal{
		ProductName:         name,
		OriginalPrice:       decimal.NewFromInt(1000),
		GroupPrice:          decimal.NewFromInt(750),
		MinParticipants:     min,
		MaxParticipants:     max,
		CurrentParticipants: current,
		Status:              models.DealStatusActive,
		StartTime:           time.Now().Add(-time.Hour),
		EndTime:             time.Now().Add(24 * time.Hour),
	}
}

func newJoinService(store services.DealStore) *services.JoinService {
	return services.NewJoinService(store, services.NewNopLogger(), nil)
}

func TestJoin_SucceedsAndIncrementsByOne(t *testing.T) {
	for _, current := range []int{0, 1, 4} {
		store := servicestest.NewMemoryStore()
		deal := store.AddDeal(activeDeal("Rice 25kg", 2, 5, current))

		res, err := newJoinService(store).Join(context.Background(), deal.ID.String(), phoneP)
		require.NoError(t, err)

		assert.Equal(t, current+1, res.NewCount)
		assert.Equal(t, current+1, store.Deal(deal.ID).CurrentParticipants)
		assert.Equal(t, "Rice 25kg", res.DealName)
		assert.Equal(t, 5, res.MaxParticipants)
		assert.True(t, decimal.NewFromInt(750).Equal(res.GroupPrice))

		participants := store.Participants(deal.ID)
		require.Len(t, participants, 1)
		assert.Equal(t, phoneP, participants[0].PhoneNumber)
		assert.Equal(t, 1, participants[0].Quantity)
		assert.Equal(t, models.PaymentStatusPending, participants[0].PaymentStatus)
		assert.True(t, deal.GroupPrice.Equal(participants[0].AmountPaid))
	}
}

func TestJoin_FullDealLeavesStateUnchanged(t *testing.T) {
	store := servicestest.NewMemoryStore()
	deal := store.AddDeal(activeDeal("Olive Oil", 1, 2, 2))

	_, err := newJoinService(store).Join(context.Background(), deal.ID.String(), phoneR)

	assert.True(t, errors.Is(err, services.ErrDealFull))
	assert.Equal(t, 2, store.Deal(deal.ID).CurrentParticipants)
	assert.Empty(t, store.Participants(deal.ID))
	assert.Zero(t, store.Calls("JoinDeal"))
}

func TestJoin_RepeatJoinWritesNothing(t *testing.T) {
	store := servicestest.NewMemoryStore()
	deal := store.AddDeal(activeDeal("Basmati", 1, 10, 0))
	svc := newJoinService(store)

	_, err := svc.Join(context.Background(), deal.ID.String(), phoneP)
	require.NoError(t, err)

	_, err = svc.Join(context.Background(), deal.ID.String(), phoneP)
	assert.True(t, errors.Is(err, services.ErrAlreadyJoined))
	assert.Equal(t, 1, store.Calls("JoinDeal"))
	assert.Equal(t, 1, store.Deal(deal.ID).CurrentParticipants)
	assert.Len(t, store.Participants(deal.ID), 1)
}

func TestJoin_InactiveOrMissingDeal(t *testing.T) {
	store := servicestest.NewMemoryStore()
	closed := activeDeal("Closed", 1, 5, 1)
	closed.Status = models.DealStatusCompleted
	closed = store.AddDeal(closed)
	scheduled := activeDeal("Later", 1, 5, 0)
	scheduled.Status = models.DealStatusScheduled
	scheduled = store.AddDeal(scheduled)

	svc := newJoinService(store)
	for _, id := range []uuid.UUID{closed.ID, scheduled.ID, uuid.New()} {
		_, err := svc.Join(context.Background(), id.String(), phoneP)
		assert.Equal(t, services.CodeDealNotFound, services.CodeOf(err))
	}
	assert.Zero(t, store.Calls("JoinDeal"))
}

func TestResolveDealID_NumericIndex(t *testing.T) {
	store := servicestest.NewMemoryStore()
	first := store.AddDeal(activeDeal("First", 1, 5, 0))
	inactive := activeDeal("Inactive", 1, 5, 0)
	inactive.Status = models.DealStatusFailed
	store.AddDeal(inactive)
	second := store.AddDeal(activeDeal("Second", 1, 5, 0))

	svc := newJoinService(store)
	tests := []struct {
		identifier string
		want       uuid.UUID
		wantErr    error
	}{
		{identifier: "1", want: first.ID},
		{identifier: "2", want: second.ID},
		{identifier: "02", want: second.ID},
		{identifier: "3", wantErr: services.ErrInvalidDealIndex},
		{identifier: "0", wantErr: services.ErrInvalidDealIndex},
		{identifier: "99999999999999999999999", wantErr: services.ErrInvalidDealIndex},
	}

	for _, tt := range tests {
		t.Run(tt.identifier, func(t *testing.T) {
			got, err := svc.ResolveDealID(context.Background(), tt.identifier)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveDealID_RecomputedEveryCall(t *testing.T) {
	store := servicestest.NewMemoryStore()
	first := store.AddDeal(activeDeal("First", 1, 5, 0))
	svc := newJoinService(store)

	got, err := svc.ResolveDealID(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got)

	_, err = store.UpdateDeal(context.Background(), first.ID, map[string]interface{}{"status": models.DealStatusCompleted})
	require.NoError(t, err)
	second := store.AddDeal(activeDeal("Second", 1, 5, 0))

	got, err = svc.ResolveDealID(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got)
	assert.Equal(t, 2, store.Calls("ListActiveDeals"))
}

func TestResolveDealID_BadFormatNeverQueriesStore(t *testing.T) {
	store := servicestest.NewMemoryStore()
	svc := newJoinService(store)

	for _, identifier := range []string{
		"abc",
		"-1",
		"1.5",
		"3f2504e0-4f89-41d3-9a0c",
		"3f2504e04f8941d39a0c0305e82c3301",
		"{3f2504e0-4f89-41d3-9a0c-0305e82c3301}",
		"00000000-0000-0000-0000-000000000000",
		"zzzzzzzz-zzzz-zzzz-zzzz-zzzzzzzzzzzz",
	} {
		_, err := svc.Join(context.Background(), identifier, phoneP)
		assert.True(t, errors.Is(err, services.ErrInvalidDealFormat), "identifier %q: %v", identifier, err)
	}
	assert.Zero(t, store.TotalCalls())
}

func TestJoin_StoreFailures(t *testing.T) {
	store := servicestest.NewMemoryStore()
	deal := store.AddDeal(activeDeal("Ghee", 1, 5, 0))
	svc := newJoinService(store)

	store.FailOn("ListActiveDeals", errors.New("connection refused"))
	_, err := svc.Join(context.Background(), "1", phoneP)
	assert.Equal(t, services.CodeStoreUnavailable, services.CodeOf(err))

	store.FailOn("JoinDeal", services.ErrInsertFailed)
	_, err = svc.Join(context.Background(), deal.ID.String(), phoneP)
	assert.Equal(t, services.CodeInsertFailed, services.CodeOf(err))
}

// Scenario: Deal A has room for one more. P joins and fills it, P again is
// already joined, Q finds it full.
func TestJoin_DealAScenario(t *testing.T) {
	store := servicestest.NewMemoryStore()
	dealA := store.AddDeal(activeDeal("Deal A", 1, 2, 1))
	store.AddParticipant(models.Participant{DealID: dealA.ID, PhoneNumber: phoneR, Quantity: 1})
	svc := newJoinService(store)

	res, err := svc.Join(context.Background(), dealA.ID.String(), phoneP)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NewCount)
	assert.Equal(t, 2, store.Deal(dealA.ID).CurrentParticipants)

	_, err = svc.Join(context.Background(), dealA.ID.String(), phoneP)
	assert.True(t, errors.Is(err, services.ErrAlreadyJoined))

	_, err = svc.Join(context.Background(), dealA.ID.String(), phoneQ)
	assert.True(t, errors.Is(err, services.ErrDealFull))
	assert.Equal(t, 2, store.Deal(dealA.ID).CurrentParticipants)
}

// Scenario: "/join 1" with one active deal maps to it, "/join 5" with two is out of range.
func TestJoin_IndexScenario(t *testing.T) {
	store := servicestest.NewMemoryStore()
	only := store.AddDeal(activeDeal("Only", 1, 5, 0))
	svc := newJoinService(store)

	res, err := svc.Join(context.Background(), "1", phoneP)
	require.NoError(t, err)
	assert.Equal(t, only.ID, res.DealID)

	store.AddDeal(activeDeal("Another", 1, 5, 0))
	_, err = svc.Join(context.Background(), "5", phoneP)
	assert.True(t, errors.Is(err, services.ErrInvalidDealIndex))
}

func TestJoin_ConcurrentJoinsNeverOverbook(t *testing.T) {
	store := servicestest.NewMemoryStore()
	deal := store.AddDeal(activeDeal("Hot deal", 1, 3, 0))
	svc := newJoinService(store)

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Join(context.Background(), deal.ID.String(), "whatsapp:+91990000"+uuid.NewString()[:4])
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	joined := 0
	for err := range results {
		if err == nil {
			joined++
			continue
		}
		assert.True(t, errors.Is(err, services.ErrDealFull) || errors.Is(err, services.ErrAlreadyJoined), "unexpected %v", err)
	}
	assert.LessOrEqual(t, joined, 3)
	assert.Equal(t, joined, store.Deal(deal.ID).CurrentParticipants)
	assert.Len(t, store.Participants(deal.ID), joined)
}
