package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"polarsync/internal/types"
)

// Note: mockDBTX and mockRow are defined in payment_repo_test.go and reused here.

// scanTestUser populates the scan destinations in userColumns order.
func scanTestUser(u types.User) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = u.ID
		*dest[1].(*string) = u.Email
		setOptStr(dest[2], u.Name)
		setOptStr(dest[3], u.CustomerID)
		*dest[4].(*types.SubscriptionTier) = u.Tier
		setOptStr(dest[5], u.SubscriptionID)
		*dest[6].(**time.Time) = u.SubscriptionEndsAt
		*dest[7].(*types.StringList) = u.PaymentIDs
		*dest[8].(*time.Time) = u.CreatedAt
		*dest[9].(*time.Time) = u.UpdatedAt
		return nil
	}
}

func TestUserRepository_GetByEmail_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stored := types.User{
		ID:         "user_1",
		Email:      "a@x.com",
		Tier:       types.TierPro,
		PaymentIDs: types.StringList{"pay_1"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	row := &mockRow{scanFn: scanTestUser(stored)}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"a@x.com"}).Return(row)

	u, err := repo.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "user_1", u.ID)
	assert.Equal(t, types.TierPro, u.Tier)
	assert.True(t, u.PaymentIDs.Contains("pay_1"))
}

func TestUserRepository_GetByEmail_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"nobody@x.com"}).Return(row)

	_, err := repo.GetByEmail(context.Background(), "nobody@x.com")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}

func TestUserRepository_Create_DuplicateEmail(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	pgErr := &pgconn.PgError{Code: "23505"}
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, pgErr)

	err := repo.Create(context.Background(), &types.User{ID: "user_1", Email: "a@x.com", Tier: types.TierFree})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictEmail, appErr.Code)
}

func TestUserRepository_GetOrCreate_ExistingUser(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	stored := types.User{ID: "user_1", Email: "a@x.com", Tier: types.TierFree}
	row := &mockRow{scanFn: scanTestUser(stored)}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"a@x.com"}).Return(row)

	u, err := repo.GetOrCreate(context.Background(), &types.User{ID: "user_new", Email: "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "user_1", u.ID, "existing record wins over a fresh insert")

	// No insert should have happened.
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestUserRepository_GetOrCreate_NewUser(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	// First lookup misses, insert succeeds, second lookup returns the row.
	missRow := &mockRow{scanErr: pgx.ErrNoRows}
	created := types.User{ID: "user_new", Email: "b@x.com", Tier: types.TierFree}
	hitRow := &mockRow{scanFn: scanTestUser(created)}

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"B@X.com"}).
		Return(missRow).Once()
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"b@x.com"}).
		Return(hitRow)

	u, err := repo.GetOrCreate(context.Background(), &types.User{ID: "user_new", Email: "B@X.com"})
	require.NoError(t, err)
	assert.Equal(t, "user_new", u.ID)
	assert.Equal(t, types.TierFree, u.Tier)
	db.AssertExpectations(t)
}

func TestUserRepository_GetOrCreate_LostInsertRace(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	missRow := &mockRow{scanErr: pgx.ErrNoRows}
	winner := types.User{ID: "user_winner", Email: "c@x.com", Tier: types.TierFree}
	hitRow := &mockRow{scanFn: scanTestUser(winner)}

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"c@x.com"}).
		Return(missRow).Once()
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"})
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"c@x.com"}).
		Return(hitRow)

	u, err := repo.GetOrCreate(context.Background(), &types.User{ID: "user_loser", Email: "c@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "user_winner", u.ID, "a lost insert race attaches to the winner's record")
}

func TestUserRepository_Update_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Update(context.Background(), &types.User{ID: "user_missing", Tier: types.TierFree})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}
