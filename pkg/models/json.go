package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSON-backed array column types. They work with both PostgreSQL JSONB and
// SQLite JSON columns, which keeps the test database embeddable.

// StringArray stores a string slice as JSON.
type StringArray []string

// Scan implements the sql.Scanner interface.
func (s *StringArray) Scan(value interface{}) error {
	return scanJSON(value, (*[]string)(s))
}

// Value implements the driver.Valuer interface.
func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Int64Array stores an int64 slice as JSON. Used for amounts-in-cents.
type Int64Array []int64

// Scan implements the sql.Scanner interface.
func (a *Int64Array) Scan(value interface{}) error {
	return scanJSON(value, (*[]int64)(a))
}

// Value implements the driver.Valuer interface.
func (a Int64Array) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// Float32Array stores a float32 slice as JSON. Used for embedding vectors.
type Float32Array []float32

// Scan implements the sql.Scanner interface.
func (a *Float32Array) Scan(value interface{}) error {
	return scanJSON(value, (*[]float32)(a))
}

// Value implements the driver.Valuer interface.
func (a Float32Array) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// Float64Array stores a float64 slice as JSON. Used for bounding boxes.
type Float64Array []float64

// Scan implements the sql.Scanner interface.
func (a *Float64Array) Scan(value interface{}) error {
	return scanJSON(value, (*[]float64)(a))
}

// Value implements the driver.Valuer interface.
func (a Float64Array) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// TimeArray stores a time slice as JSON (RFC 3339 strings).
type TimeArray []time.Time

// Scan implements the sql.Scanner interface.
func (a *TimeArray) Scan(value interface{}) error {
	return scanJSON(value, (*[]time.Time)(a))
}

// Value implements the driver.Valuer interface.
func (a TimeArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal JSON value: unsupported type %T", value)
	}

	return json.Unmarshal(bytes, dest)
}
