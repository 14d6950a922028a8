package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/zstd"

	"polarsync/internal/types"
)

// WebhookEventRepository records every verified inbound event by provider
// event id. It serves two purposes: duplicate detection ahead of the state
// machine, and an audit trail of the exact raw payloads received. Payloads
// are stored zstd-compressed; they are small JSON documents that compress
// well and are only read back for debugging and replay.
type WebhookEventRepository struct {
	db      DBTX
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewWebhookEventRepository creates a WebhookEventRepository. The zstd
// encoder/decoder are stateless once constructed and safe for concurrent use
// via EncodeAll/DecodeAll.
func NewWebhookEventRepository(db DBTX) (*WebhookEventRepository, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create zstd encoder", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create zstd decoder", err)
	}
	return &WebhookEventRepository{db: db, encoder: enc, decoder: dec}, nil
}

// Record inserts a journal row for the event and returns the outcome now on
// record. A fresh insert returns the given outcome. A provider event id seen
// before returns the prior delivery's stored outcome together with
// ErrCodeConflictEventProcessed, so callers can distinguish a delivery that
// finished from one whose work was lost and must run again.
func (r *WebhookEventRepository) Record(ctx context.Context, eventID string, eventType string, outcome types.EventOutcome, payload []byte) (types.EventOutcome, error) {
	compressed := r.encoder.EncodeAll(payload, nil)

	var stored types.EventOutcome
	err := r.db.QueryRow(ctx,
		`INSERT INTO webhook_events (event_id, event_type, outcome, payload_zstd, received_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (event_id) DO NOTHING
		 RETURNING outcome`,
		eventID,
		eventType,
		outcome,
		compressed,
	).Scan(&stored)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to record webhook event", err)
	}

	// Conflict: the row exists, read what the prior delivery left behind.
	err = r.db.QueryRow(ctx,
		`SELECT outcome FROM webhook_events WHERE event_id = $1`,
		eventID,
	).Scan(&stored)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to read prior webhook event outcome", err)
	}
	return stored, types.NewAppError(types.ErrCodeConflictEventProcessed, "webhook event already recorded", nil)
}

// UpdateOutcome rewrites the outcome of a journal row after processing
// finishes. The row is inserted before the state machine runs (to win the
// dedupe race), so the final outcome is patched in afterwards.
func (r *WebhookEventRepository) UpdateOutcome(ctx context.Context, eventID string, outcome types.EventOutcome) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_events SET outcome = $1 WHERE event_id = $2`,
		outcome,
		eventID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update webhook event outcome", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundEvent, "webhook event not found", nil)
	}
	return nil
}

// GetPayload returns the decompressed raw payload of a recorded event.
// Used by operational tooling for replay and debugging.
func (r *WebhookEventRepository) GetPayload(ctx context.Context, eventID string) ([]byte, error) {
	var compressed []byte
	err := r.db.QueryRow(ctx,
		`SELECT payload_zstd FROM webhook_events WHERE event_id = $1`,
		eventID,
	).Scan(&compressed)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve webhook event payload", err)
	}

	payload, err := r.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decompress webhook event payload", err)
	}
	return payload, nil
}
