package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"polarsync/internal/types"
)

// PaymentRepository provides data access for the payments table. One row per
// checkout attempt; rows are never hard-deleted by the reconciliation core.
type PaymentRepository struct {
	db DBTX
}

// NewPaymentRepository creates a new PaymentRepository backed by the given
// database connection (pool or transaction).
func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// paymentColumns defines the standard set of columns selected for payment
// queries. Used consistently across all query methods to avoid column drift.
const paymentColumns = `p.id, p.checkout_id, p.customer_id, p.customer_email, p.product_id,
	p.product_name, p.amount, p.currency, p.status, p.event_type,
	p.discount_code, p.discount_id, p.discount_amount, p.discount_type, p.original_amount,
	p.feature_date, p.app_name, p.metadata, p.created_at, p.updated_at`

// scanPayment scans a single payment row into a types.Payment struct.
// The columns must match the order defined in paymentColumns. Uses nullable
// scan targets for columns that may be NULL in the database.
func scanPayment(row pgx.Row) (*types.Payment, error) {
	var p types.Payment
	var (
		checkoutID     *string
		customerID     *string
		customerEmail  *string
		productID      *string
		productName    *string
		currency       *string
		discountCode   *string
		discountID     *string
		discountAmount *int64
		discountType   *string
		originalAmount *int64
		featureDate    *string
		appName        *string
	)
	err := row.Scan(
		&p.ID,
		&checkoutID,
		&customerID,
		&customerEmail,
		&productID,
		&productName,
		&p.Amount,
		&currency,
		&p.Status,
		&p.EventType,
		&discountCode,
		&discountID,
		&discountAmount,
		&discountType,
		&originalAmount,
		&featureDate,
		&appName,
		&p.Metadata,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if checkoutID != nil {
		p.CheckoutID = *checkoutID
	}
	if customerID != nil {
		p.CustomerID = *customerID
	}
	if customerEmail != nil {
		p.CustomerEmail = *customerEmail
	}
	if productID != nil {
		p.ProductID = *productID
	}
	if productName != nil {
		p.ProductName = *productName
	}
	if currency != nil {
		p.Currency = *currency
	}
	if discountCode != nil {
		p.DiscountCode = *discountCode
	}
	if discountID != nil {
		p.DiscountID = *discountID
	}
	if discountAmount != nil {
		p.DiscountAmount = *discountAmount
	}
	if discountType != nil {
		p.DiscountType = types.DiscountType(*discountType)
	}
	if originalAmount != nil {
		p.OriginalAmount = *originalAmount
	}
	if featureDate != nil {
		p.FeatureDate = *featureDate
	}
	if appName != nil {
		p.AppName = *appName
	}
	return &p, nil
}

// Create inserts a new payment row. checkout_id is NULL for payments born
// from standalone order or subscription events and carries a partial unique
// index when present; a duplicate returns ErrCodeConflictCheckoutID so
// callers can distinguish redelivery from storage failure.
func (r *PaymentRepository) Create(ctx context.Context, p *types.Payment) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO payments (id, checkout_id, customer_id, customer_email, product_id,
		 product_name, amount, currency, status, event_type,
		 discount_code, discount_id, discount_amount, discount_type, original_amount,
		 feature_date, app_name, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		         $11, $12, $13, $14, $15, $16, $17, $18, COALESCE($19, NOW()), NOW())`,
		p.ID,
		nilIfEmpty(p.CheckoutID),
		nilIfEmpty(p.CustomerID),
		nilIfEmpty(p.CustomerEmail),
		nilIfEmpty(p.ProductID),
		nilIfEmpty(p.ProductName),
		p.Amount,
		nilIfEmpty(p.Currency),
		p.Status,
		p.EventType,
		nilIfEmpty(p.DiscountCode),
		nilIfEmpty(p.DiscountID),
		nilIfZero(p.DiscountAmount),
		nilIfEmpty(string(p.DiscountType)),
		nilIfZero(p.OriginalAmount),
		nilIfEmpty(p.FeatureDate),
		nilIfEmpty(p.AppName),
		p.Metadata,
		nilIfZeroTime(p.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictCheckoutID, "payment for checkout already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create payment", err)
	}
	return nil
}

// Update persists the mutable fields of a payment row. The checkout id and
// creation timestamp are immutable once assigned.
func (r *PaymentRepository) Update(ctx context.Context, p *types.Payment) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET customer_id = $1, customer_email = $2, product_id = $3,
		 product_name = $4, amount = $5, currency = $6, status = $7, event_type = $8,
		 discount_code = $9, discount_id = $10, discount_amount = $11, discount_type = $12,
		 original_amount = $13, metadata = $14, updated_at = NOW()
		 WHERE id = $15`,
		nilIfEmpty(p.CustomerID),
		nilIfEmpty(p.CustomerEmail),
		nilIfEmpty(p.ProductID),
		nilIfEmpty(p.ProductName),
		p.Amount,
		nilIfEmpty(p.Currency),
		p.Status,
		p.EventType,
		nilIfEmpty(p.DiscountCode),
		nilIfEmpty(p.DiscountID),
		nilIfZero(p.DiscountAmount),
		nilIfEmpty(string(p.DiscountType)),
		nilIfZero(p.OriginalAmount),
		p.Metadata,
		p.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update payment", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPayment, "payment not found", nil)
	}
	return nil
}

// GetByID retrieves a payment by its local record id.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*types.Payment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments p WHERE p.id = $1`,
		id,
	)
	return r.scanOne(row, "failed to retrieve payment")
}

// GetByCheckoutID retrieves a payment by the provider-assigned checkout id.
func (r *PaymentRepository) GetByCheckoutID(ctx context.Context, checkoutID string) (*types.Payment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments p WHERE p.checkout_id = $1`,
		checkoutID,
	)
	return r.scanOne(row, "failed to retrieve payment by checkout id")
}

// GetByOrderID retrieves a payment by the order id stored in its metadata bag.
func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*types.Payment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments p WHERE p.metadata->>'orderId' = $1`,
		orderID,
	)
	return r.scanOne(row, "failed to retrieve payment by order id")
}

// GetBySubscriptionID retrieves a payment by the subscription id stored in
// its metadata bag.
func (r *PaymentRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*types.Payment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments p WHERE p.metadata->>'subscriptionId' = $1`,
		subscriptionID,
	)
	return r.scanOne(row, "failed to retrieve payment by subscription id")
}

// ListByEmail returns all payments recorded for an email address, newest
// first. Abandoned (pending) checkouts are included; the completed-only view
// is ListCompletedByEmail.
func (r *PaymentRepository) ListByEmail(ctx context.Context, email string) ([]*types.Payment, error) {
	return r.list(ctx,
		`SELECT `+paymentColumns+` FROM payments p
		 WHERE LOWER(p.customer_email) = LOWER($1)
		 ORDER BY p.created_at DESC`,
		email,
	)
}

// ListCompletedByEmail returns only successfully completed payments for an
// email address. Pending and failed checkout attempts are excluded.
func (r *PaymentRepository) ListCompletedByEmail(ctx context.Context, email string) ([]*types.Payment, error) {
	return r.list(ctx,
		`SELECT `+paymentColumns+` FROM payments p
		 WHERE LOWER(p.customer_email) = LOWER($1) AND p.status = 'completed'
		 ORDER BY p.created_at DESC`,
		email,
	)
}

func (r *PaymentRepository) list(ctx context.Context, sql string, args ...any) ([]*types.Payment, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list payments", err)
	}
	defer rows.Close()

	var payments []*types.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan payment row", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate payment rows", err)
	}
	return payments, nil
}

func (r *PaymentRepository) scanOne(row pgx.Row, failMsg string) (*types.Payment, error) {
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPayment, "payment not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, failMsg, err)
	}
	return p, nil
}
