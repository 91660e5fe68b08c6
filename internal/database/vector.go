package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Vector is an embedding persisted as a JSON text column.
type Vector []float32

// Value implements driver.Valuer.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, fmt.Errorf("failed to encode vector: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (v *Vector) Scan(src any) error {
	var raw []byte
	switch s := src.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		raw = []byte(s)
	case []byte:
		raw = s
	default:
		return fmt.Errorf("cannot scan %T into Vector", src)
	}

	var out []float32
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode vector: %w", err)
	}
	*v = out
	return nil
}
