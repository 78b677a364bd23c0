package logging

import "time"

// Field is a typed key-value pair attached to a log entry.  Using a concrete
// struct rather than variadic interface{} arguments keeps the API explicit and
// lets the zap implementation translate without reflection on the hot path.
type Field struct {
	Key   string
	Value interface{}
}

// String constructs a Field with a string value.
func String(key, val string) Field { return Field{Key: key, Value: val} }

// Strings constructs a Field with a string-slice value, used for category and
// source lists in assessment logs.
func Strings(key string, val []string) Field { return Field{Key: key, Value: val} }

// Int constructs a Field with an int value.
func Int(key string, val int) Field { return Field{Key: key, Value: val} }

// Int64 constructs a Field with an int64 value.
func Int64(key string, val int64) Field { return Field{Key: key, Value: val} }

// Float64 constructs a Field with a float64 value.
func Float64(key string, val float64) Field { return Field{Key: key, Value: val} }

// Bool constructs a Field with a bool value.
func Bool(key string, val bool) Field { return Field{Key: key, Value: val} }

// Duration constructs a Field with a time.Duration value.
func Duration(key string, val time.Duration) Field { return Field{Key: key, Value: val} }

// Time constructs a Field with a time.Time value.
func Time(key string, val time.Time) Field { return Field{Key: key, Value: val} }

// Err constructs a Field that captures an error under the canonical key
// "error".  If err is nil the field value is the string "<nil>".
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Any constructs a Field with an arbitrary value.  Use this only when none of
// the typed constructors apply; the logger falls back to zap.Any.
func Any(key string, val interface{}) Field { return Field{Key: key, Value: val} }
