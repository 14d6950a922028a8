package types

// redactedPlaceholder replaces secret material wherever a credential would
// otherwise surface in logs or serialized output.
const redactedPlaceholder = "***REDACTED***"

// redactedJSON is the placeholder pre-encoded as a JSON string.
var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds credential material loaded from the environment: the
// webhook signing secret, the payment provider access token, the email
// provider API key, the database URL. It satisfies fmt.Stringer and
// json.Marshaler with a redacted placeholder, so a config struct dumped
// into a structured log line or an API response never leaks the value.
//
// Unmask returns the plaintext for the few places that genuinely need it.
type SecretString string

// String returns the redacted placeholder. Invoked by the fmt verbs and
// anything else that honors fmt.Stringer.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON encodes the redacted placeholder instead of the value.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the plaintext value. Call sites are limited to wiring the
// secret into its consumer: an Authorization header, a signature check, a
// connection string.
func (s SecretString) Unmask() string {
	return string(s)
}
