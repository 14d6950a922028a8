package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// These ensure all JSONB types implement both sql.Scanner and driver.Valuer,
// catching any method signature drift at compile time rather than at runtime.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*PaymentMetadata)(nil)
	_ driver.Valuer = PaymentMetadata(nil)
	_ sql.Scanner   = (*StringList)(nil)
	_ driver.Valuer = StringList(nil)
)

// PaymentMetadata is the open-ended provider-identifier bag stored as JSONB
// on a Payment row.
type PaymentMetadata map[string]any

// StringList is a JSONB-stored list of record references with set-like
// append semantics.
type StringList []string

// scanJSONB is a generic helper that scans a JSONB database value into a Go pointer.
// It handles nil values, []byte, and string representations from different database drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (m *PaymentMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	return scanJSONB(m, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (m PaymentMetadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// GetString returns the metadata entry under key as a string, or "" when the
// entry is absent or not a string. Event processing reads identifiers back
// out of the bag defensively.
func (m PaymentMetadata) GetString(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Clone returns a shallow copy of the bag. The ledger's pure transition
// functions never mutate their input.
func (m PaymentMetadata) Clone() PaymentMetadata {
	if m == nil {
		return nil
	}
	out := make(PaymentMetadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	return scanJSONB(l, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Contains reports whether id is already present in the list.
func (l StringList) Contains(id string) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

// Append returns the list with id added at most once.
func (l StringList) Append(id string) StringList {
	if l.Contains(id) {
		return l
	}
	return append(l, id)
}
