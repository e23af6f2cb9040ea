package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
)

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), GormConfig("silent"))
	require.NoError(t, err)
	return db, mock
}

func newMockStore(t *testing.T) (*GormDealStore, sqlmock.Sqlmock) {
	db, mock := newMockGorm(t)
	return NewGormDealStore(db), mock
}

func TestGormDealStore_JoinDeal_Success(t *testing.T) {
	store, mock := newMockStore(t)
	dealID := uuid.New()
	p := models.NewParticipant(models.Deal{ID: dealID, GroupPrice: decimal.NewFromInt(499)}, "whatsapp:+919876543210", "", time.Now())

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "deals" SET .*current_participants.*current_participants < max_participants`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "participants"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM "deals"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "current_participants", "status"}).AddRow(dealID.String(), 2, "active"))
	mock.ExpectExec(`INSERT INTO "deal_histories"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	count, err := store.JoinDeal(context.Background(), dealID, &p)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDealStore_JoinDeal_GuardRejects(t *testing.T) {
	tests := []struct {
		name     string
		rows     *sqlmock.Rows
		wantCode ErrorCode
	}{
		{
			name:     "full",
			rows:     sqlmock.NewRows([]string{"id", "status", "current_participants", "max_participants"}).AddRow(uuid.NewString(), "active", 2, 2),
			wantCode: CodeDealFull,
		},
		{
			name:     "no longer active",
			rows:     sqlmock.NewRows([]string{"id", "status", "current_participants", "max_participants"}).AddRow(uuid.NewString(), "failed", 1, 2),
			wantCode: CodeDealNotFound,
		},
		{
			name:     "missing",
			rows:     sqlmock.NewRows([]string{"id", "status", "current_participants", "max_participants"}),
			wantCode: CodeDealNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			p := models.Participant{PhoneNumber: "whatsapp:+919876543210", JoinedAt: time.Now()}

			mock.ExpectBegin()
			mock.ExpectExec(`UPDATE "deals" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(`SELECT .* FROM "deals"`).WillReturnRows(tt.rows)
			mock.ExpectRollback()

			_, err := store.JoinDeal(context.Background(), uuid.New(), &p)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, CodeOf(err))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormDealStore_JoinDeal_DuplicateRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	p := models.Participant{PhoneNumber: "whatsapp:+919876543210", JoinedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "deals" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "participants"`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	_, err := store.JoinDeal(context.Background(), uuid.New(), &p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyJoined))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDealStore_JoinDeal_InsertFailure(t *testing.T) {
	store, mock := newMockStore(t)
	p := models.Participant{PhoneNumber: "whatsapp:+919876543210", JoinedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "deals" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "participants"`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.JoinDeal(context.Background(), uuid.New(), &p)
	assert.Equal(t, CodeInsertFailed, CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDealStore_FinalizeDeal(t *testing.T) {
	now := time.Now()
	participantCols := []string{"id", "deal_id", "phone_number", "refund_status"}

	t.Run("failed deal initiates refunds", func(t *testing.T) {
		store, mock := newMockStore(t)
		dealID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "deals" SET .*"status"=.*WHERE \(id = \$\d+ AND status = \$\d+ AND current_participants = \$\d+\)`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE "participants" SET "refund_status"=\$1 WHERE deal_id = \$2`).
			WithArgs(models.RefundStatusInitiated, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectQuery(`SELECT \* FROM "participants" WHERE deal_id = \$1 ORDER BY joined_at asc`).
			WillReturnRows(sqlmock.NewRows(participantCols).
				AddRow(uuid.NewString(), dealID.String(), "whatsapp:+919800000001", "initiated").
				AddRow(uuid.NewString(), dealID.String(), "whatsapp:+919800000002", "initiated"))
		mock.ExpectExec(`INSERT INTO "deal_histories"`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		participants, won, err := store.FinalizeDeal(context.Background(), dealID, 2, models.DealStatusFailed, now)
		require.NoError(t, err)
		assert.True(t, won)
		require.Len(t, participants, 2)
		assert.Equal(t, "whatsapp:+919800000002", participants[1].PhoneNumber)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completed deal leaves refunds alone", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "deals" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT \* FROM "participants"`).WillReturnRows(sqlmock.NewRows(participantCols))
		mock.ExpectExec(`INSERT INTO "deal_histories"`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, won, err := store.FinalizeDeal(context.Background(), uuid.New(), 0, models.DealStatusCompleted, now)
		require.NoError(t, err)
		assert.True(t, won)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status or count moved writes nothing", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "deals" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		participants, won, err := store.FinalizeDeal(context.Background(), uuid.New(), 1, models.DealStatusFailed, now)
		require.NoError(t, err)
		assert.False(t, won)
		assert.Empty(t, participants)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("participant read failure rolls back", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "deals" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT \* FROM "participants"`).WillReturnError(errors.New("timeout"))
		mock.ExpectRollback()

		_, won, err := store.FinalizeDeal(context.Background(), uuid.New(), 3, models.DealStatusCompleted, now)
		assert.Error(t, err)
		assert.False(t, won)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non terminal outcome rejected", func(t *testing.T) {
		store, mock := newMockStore(t)

		_, _, err := store.FinalizeDeal(context.Background(), uuid.New(), 0, models.DealStatusActive, now)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormDealStore_ActivateDeal(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "deals" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "deal_histories"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	won, err := store.ActivateDeal(context.Background(), uuid.New(), time.Now())
	require.NoError(t, err)
	assert.True(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDealStore_ListActiveDeals(t *testing.T) {
	store, mock := newMockStore(t)
	id1, id2 := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "deals" WHERE status = \$1 .*ORDER BY created_at asc LIMIT`).
		WithArgs(models.DealStatusActive, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_name", "status", "max_participants"}).
			AddRow(id1.String(), "Rice 25kg", "active", 10).
			AddRow(id2.String(), "Olive Oil", "active", 5))

	deals, err := store.ListActiveDeals(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, deals, 2)
	assert.Equal(t, id1, deals[0].ID)
	assert.Equal(t, "Olive Oil", deals[1].ProductName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDealStore_GetDeal(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT \* FROM "deals"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.GetDeal(context.Background(), uuid.New())
		assert.True(t, errors.Is(err, ErrDealNotFound))
	})

	t.Run("store error is wrapped", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT \* FROM "deals"`).WillReturnError(errors.New("connection refused"))

		_, err := store.GetDeal(context.Background(), uuid.New())
		require.Error(t, err)
		assert.Equal(t, CodeStoreUnavailable, CodeOf(err))
		assert.Contains(t, err.Error(), "get deal")
	})
}

func TestGormDealStore_DeleteDeal_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "deals" SET "deleted_at"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.DeleteDeal(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, ErrDealNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDealStore_UpdateDeal_Guards(t *testing.T) {
	dealCols := []string{"id", "status", "current_participants", "max_participants"}

	t.Run("capacity below live count", func(t *testing.T) {
		store, mock := newMockStore(t)
		dealID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "deals"`).
			WillReturnRows(sqlmock.NewRows(dealCols).AddRow(dealID.String(), "active", 3, 5))
		mock.ExpectExec(`UPDATE "deals" SET .*current_participants <= \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT .* FROM "deals"`).
			WillReturnRows(sqlmock.NewRows(dealCols).AddRow(dealID.String(), "active", 4, 5))
		mock.ExpectRollback()

		_, err := store.UpdateDeal(context.Background(), dealID, map[string]interface{}{"max_participants": 3})
		assert.Equal(t, CodeInvalidInput, CodeOf(err))
		assert.Contains(t, err.Error(), "below current participants")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("finished deal keeps its status", func(t *testing.T) {
		store, mock := newMockStore(t)
		dealID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "deals"`).
			WillReturnRows(sqlmock.NewRows(dealCols).AddRow(dealID.String(), "completed", 4, 5))
		mock.ExpectExec(`UPDATE "deals" SET .*status = \$\d+ OR status NOT IN`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT .* FROM "deals"`).
			WillReturnRows(sqlmock.NewRows(dealCols).AddRow(dealID.String(), "completed", 4, 5))
		mock.ExpectRollback()

		_, err := store.UpdateDeal(context.Background(), dealID, map[string]interface{}{"status": models.DealStatusActive})
		assert.Equal(t, CodeInvalidInput, CodeOf(err))
		assert.Contains(t, err.Error(), "cannot change")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
