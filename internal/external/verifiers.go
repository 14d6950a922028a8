package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"polarsync/internal/types"
)

// webhookTimestampTolerance bounds how far a delivery's timestamp may drift
// from local time. Deliveries outside the window are rejected to defeat
// replay of captured payloads.
const webhookTimestampTolerance = 5 * time.Minute

// secretPrefix marks a base64-encoded signing secret as issued by the
// provider dashboard.
const secretPrefix = "whsec_"

// PolarWebhookVerifier implements WebhookVerifier for the provider's
// standard-webhooks signature scheme: HMAC-SHA256 over
// "{id}.{timestamp}.{body}" with a shared base64 secret, delivered as one
// or more space-separated "v1,<base64>" entries in the signature header.
//
// Verification operates on the exact bytes received; any re-serialization
// of the body before this gate breaks the signature.
type PolarWebhookVerifier struct {
	// now is overridable for tests; defaults to time.Now.
	now func() time.Time
}

// NewPolarWebhookVerifier creates a verifier using the wall clock.
func NewPolarWebhookVerifier() *PolarWebhookVerifier {
	return &PolarWebhookVerifier{now: time.Now}
}

// Verify checks the delivery's signature headers against the raw payload.
func (v *PolarWebhookVerifier) Verify(payload []byte, headers WebhookHeaders, secret string) error {
	if secret == "" {
		return types.NewAppError(types.ErrCodeInternalConfigSecret, "webhook signing secret is not configured", nil)
	}
	if headers.ID == "" || headers.Timestamp == "" || headers.Signature == "" {
		return types.NewAppError(types.ErrCodeAuthSignatureMissing, "missing webhook signature headers", nil)
	}

	if err := v.checkTimestamp(headers.Timestamp); err != nil {
		return err
	}

	key, err := decodeSecret(secret)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(headers.ID))
	mac.Write([]byte("."))
	mac.Write([]byte(headers.Timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	// The header may carry several versioned signatures; any matching v1
	// entry authenticates the delivery.
	for _, entry := range strings.Fields(headers.Signature) {
		version, sig, found := strings.Cut(entry, ",")
		if !found || version != "v1" {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, got) {
			return nil
		}
	}

	return types.NewAppError(types.ErrCodeAuthSignatureInvalid, "webhook signature mismatch", nil)
}

func (v *PolarWebhookVerifier) checkTimestamp(raw string) error {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return types.NewAppError(types.ErrCodeAuthSignatureInvalid, "malformed webhook timestamp", err)
	}

	now := time.Now()
	if v.now != nil {
		now = v.now()
	}
	drift := now.Sub(time.Unix(seconds, 0))
	if drift > webhookTimestampTolerance || drift < -webhookTimestampTolerance {
		return types.NewAppError(types.ErrCodeAuthTimestampStale, "webhook timestamp outside tolerance", nil)
	}
	return nil
}

// decodeSecret strips the whsec_ prefix and base64-decodes the signing key.
func decodeSecret(secret string) ([]byte, error) {
	trimmed := strings.TrimPrefix(secret, secretPrefix)
	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalConfigSecret, "webhook signing secret is not valid base64", err)
	}
	return key, nil
}

// Compile-time assertion that PolarWebhookVerifier satisfies WebhookVerifier.
var _ WebhookVerifier = (*PolarWebhookVerifier)(nil)
