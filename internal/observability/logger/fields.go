package logger

import (
	"time"

	"go.uber.org/zap"
)

// Standard fields — HTTP.

// RequestID creates a field for the request ID.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method creates a field for the HTTP method.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path creates a field for the request path.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status creates a field for the HTTP status code.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration creates a field for the request duration.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// ClientIP creates a field for the client IP address.
func ClientIP(v string) zap.Field {
	return zap.String("client_ip", v)
}

// Standard fields — domain.

// PrincipalID creates a field for the authenticating principal.
func PrincipalID(v string) zap.Field {
	return zap.String("principal_id", v)
}

// ChannelID creates a field for a communication channel ID.
func ChannelID(v string) zap.Field {
	return zap.String("channel_id", v)
}

// Standard fields — system.

// Component creates a field for the component/module.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op creates a field for the current operation.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Layer creates a field for the layer (controller, service, repository).
func Layer(v string) zap.Field {
	return zap.String("layer", v)
}

// Err creates a field for an error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Bytes creates a field for the response size.
func Bytes(v int) zap.Field {
	return zap.Int("bytes", v)
}

// DurationMs creates a field for a duration in milliseconds.
func DurationMs(v int64) zap.Field {
	return zap.Int64("duration_ms", v)
}

// Generic fields.

// Key creates a generic key field.
func Key(v string) zap.Field {
	return zap.String("key", v)
}

// String creates a generic string field.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int creates a generic int field.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool creates a generic bool field.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}

// Any creates a field for an arbitrary value.
func Any(key string, v interface{}) zap.Field {
	return zap.Any(key, v)
}
