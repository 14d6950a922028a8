package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"polarsync/internal/types"
)

// UserRepository provides data access for the users table. Users here are
// projections of provider events keyed by case-normalized email; they carry
// no credentials and are never deleted by the reconciliation core.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `u.id, u.email, u.name, u.customer_id, u.tier,
	u.subscription_id, u.subscription_ends_at, u.payment_ids, u.created_at, u.updated_at`

// scanUser scans a single user row into a types.User struct.
// The columns must match the order defined in userColumns.
func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var (
		name           *string
		customerID     *string
		subscriptionID *string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&name,
		&customerID,
		&u.Tier,
		&subscriptionID,
		&u.SubscriptionEndsAt,
		&u.PaymentIDs,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if name != nil {
		u.Name = *name
	}
	if customerID != nil {
		u.CustomerID = *customerID
	}
	if subscriptionID != nil {
		u.SubscriptionID = *subscriptionID
	}
	return &u, nil
}

// GetByEmail retrieves a user by email, case-insensitively.
// Returns ErrCodeNotFoundUser if no user exists.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.email = LOWER($1)`,
		email,
	)
	return r.scanOne(row)
}

// GetByCustomerID retrieves a user by the provider customer identifier.
func (r *UserRepository) GetByCustomerID(ctx context.Context, customerID string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.customer_id = $1`,
		customerID,
	)
	return r.scanOne(row)
}

// Create inserts a new user row. The email is lower-cased before storage;
// a duplicate email returns ErrCodeConflictEmail so callers can fall back
// to the existing record (idempotent creation).
func (r *UserRepository) Create(ctx context.Context, u *types.User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, email, name, customer_id, tier,
		 subscription_id, subscription_ends_at, payment_ids, created_at, updated_at)
		 VALUES ($1, LOWER($2), $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()), NOW())`,
		u.ID,
		u.Email,
		nilIfEmpty(u.Name),
		nilIfEmpty(u.CustomerID),
		u.Tier,
		nilIfEmpty(u.SubscriptionID),
		u.SubscriptionEndsAt,
		u.PaymentIDs,
		nilIfZeroTime(u.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictEmail, "user already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create user", err)
	}
	return nil
}

// GetOrCreate returns the user for the given email, creating a free-tier
// record if none exists yet. Creation is idempotent: losing a race to
// another insert falls back to reading the winner's row.
func (r *UserRepository) GetOrCreate(ctx context.Context, u *types.User) (*types.User, error) {
	existing, err := r.GetByEmail(ctx, u.Email)
	if err == nil {
		return existing, nil
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundUser {
		return nil, err
	}

	u.Email = strings.ToLower(u.Email)
	if u.Tier == "" {
		u.Tier = types.TierFree
	}
	if createErr := r.Create(ctx, u); createErr != nil {
		if errors.As(createErr, &appErr) && appErr.Code == types.ErrCodeConflictEmail {
			return r.GetByEmail(ctx, u.Email)
		}
		return nil, createErr
	}
	return r.GetByEmail(ctx, u.Email)
}

// Update persists the projected fields of a user row.
func (r *UserRepository) Update(ctx context.Context, u *types.User) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET name = $1, customer_id = $2, tier = $3,
		 subscription_id = $4, subscription_ends_at = $5, payment_ids = $6, updated_at = NOW()
		 WHERE id = $7`,
		nilIfEmpty(u.Name),
		nilIfEmpty(u.CustomerID),
		u.Tier,
		nilIfEmpty(u.SubscriptionID),
		u.SubscriptionEndsAt,
		u.PaymentIDs,
		u.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update user", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

func (r *UserRepository) scanOne(row pgx.Row) (*types.User, error) {
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}
