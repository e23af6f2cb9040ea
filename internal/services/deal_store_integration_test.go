package services_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"golang.org/x/sync/errgroup"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services/servicestest"
)

// startPostgres runs a throwaway postgres, or reuses GROUPBUY_TEST_DSN when set
func startPostgres(t *testing.T) *services.GormDealStore {
	t.Helper()
	if os.Getenv("GROUPBUY_INTEGRATION") != "1" {
		t.Skip("set GROUPBUY_INTEGRATION=1 to run postgres integration tests")
	}
	ctx := context.Background()

	dsn := os.Getenv("GROUPBUY_TEST_DSN")
	if dsn == "" {
		pgC, err := postgres.Run(ctx,
			"postgres:16",
			postgres.WithDatabase("groupbuy"),
			postgres.WithUsername("groupbuy"),
			postgres.WithPassword("groupbuy"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

		dsn, err = pgC.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	logger := services.NewNopLogger()
	db, err := services.InitDB(dsn, "silent", logger)
	require.NoError(t, err)
	require.NoError(t, services.AutoMigrate(db, logger))
	return services.NewGormDealStore(db)
}

func TestIntegration_ConcurrentJoinsNeverOverbook(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	deal := activeDeal("Integration Rice", 2, 5, 0)
	require.NoError(t, store.CreateDeal(ctx, &deal))

	join := newJoinService(store)
	var joined, full int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 20; i++ {
		phone := fmt.Sprintf("whatsapp:+9198000%05d", i)
		g.Go(func() error {
			_, err := join.JoinByID(gctx, deal.ID, phone, "")
			switch {
			case err == nil:
				atomic.AddInt64(&joined, 1)
			case services.CodeOf(err) == services.CodeDealFull:
				atomic.AddInt64(&full, 1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 5, joined)
	assert.EqualValues(t, 15, full)

	stored, err := store.GetDeal(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.CurrentParticipants)

	participants, err := store.ListParticipants(ctx, deal.ID, "")
	require.NoError(t, err)
	assert.Len(t, participants, 5)
}

func TestIntegration_SamePhoneJoinsOnce(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	deal := activeDeal("Integration Oil", 1, 10, 0)
	require.NoError(t, store.CreateDeal(ctx, &deal))

	join := newJoinService(store)
	var joined int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			if _, err := join.JoinByID(gctx, deal.ID, phoneP, ""); err == nil {
				atomic.AddInt64(&joined, 1)
			} else if services.CodeOf(err) != services.CodeAlreadyJoined {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, joined)
	stored, err := store.GetDeal(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentParticipants)
}

func TestIntegration_OverlappingSweepsNotifyOnce(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	deal := activeDeal("Integration Tea", 3, 10, 0)
	deal.EndTime = time.Now().Add(-time.Minute)
	require.NoError(t, store.CreateDeal(ctx, &deal))
	_, err := store.JoinDeal(ctx, deal.ID, ptr(models.NewParticipant(deal, phoneP, "", time.Now())))
	require.NoError(t, err)

	messenger := servicestest.NewRecordingMessenger()
	lifecycle := services.NewLifecycleService(store, messenger, services.NewReplies(""), services.NewNopLogger(), services.WithConcurrency(4))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 3; i++ {
		g.Go(func() error {
			_, err := lifecycle.SweepExpired(gctx)
			return err
		})
	}
	require.NoError(t, g.Wait())

	stored, err := store.GetDeal(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusFailed, stored.Status)
	assert.Len(t, messenger.SentTo(phoneP), 1)

	participants, err := store.ListParticipants(ctx, deal.ID, "")
	require.NoError(t, err)
	require.Len(t, participants, 1)
	require.NotNil(t, participants[0].RefundStatus)
	assert.Equal(t, "initiated", *participants[0].RefundStatus)
}

func ptr[T any](v T) *T { return &v }
