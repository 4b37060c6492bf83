package logging

import "time"

// Field represents a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

// String returns a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Strings returns a string slice field.
func Strings(key string, values []string) Field { return Field{Key: key, Value: values} }

// Int returns an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 returns an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Float64 returns a float64 field.
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

// Bool returns a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration renders the duration in its human readable form.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Any attaches an arbitrary JSON-serialisable value.
func Any(key string, value any) Field { return Field{Key: key, Value: value} }

// Error returns an error field. Nil errors are kept as null.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Session tags a log line with the owning experiment session.
func Session(id string) Field { return Field{Key: "session_id", Value: id} }

// Trial tags a log line with the ordinal of the trial in flight.
func Trial(ordinal int) Field { return Field{Key: "trial", Value: ordinal} }
