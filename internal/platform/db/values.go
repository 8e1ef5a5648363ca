package db

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const DateLayout = "2006-01-02"

// NormalizeValue turns driver values into JSON-friendly ones: numerics
// become float64 and times become RFC3339 strings, or plain dates when
// dateOnly is set and the value has no clock part.
func NormalizeValue(v interface{}, dateOnly bool) interface{} {
	switch x := v.(type) {
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case time.Time:
		if dateOnly && x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(DateLayout)
		}
		return x.UTC().Format(time.RFC3339)
	case [16]byte:
		return pgtype.UUID{Bytes: x, Valid: true}.String()
	}
	return v
}
