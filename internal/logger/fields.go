package logger

import "log/slog"

// Field keys. Use these consistently so logs can be queried across services.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	KeyService      = "service"
	KeyConnectionID = "connection_id"
	KeyRequestID    = "request_id"
	KeyClientIP     = "client_ip"
	KeyAddr         = "addr"
	KeyPort         = "port"

	KeyPool     = "pool"
	KeyInstance = "instance"
	KeyPass     = "pass"
	KeyOutcome  = "outcome"
	KeyBytes    = "bytes"

	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

func Service(name string) slog.Attr {
	return slog.String(KeyService, name)
}

func ConnectionID(id string) slog.Attr {
	return slog.String(KeyConnectionID, id)
}

func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

func ClientIP(ip string) slog.Attr {
	return slog.String(KeyClientIP, ip)
}

func Addr(addr string) slog.Attr {
	return slog.String(KeyAddr, addr)
}

func Port(port int) slog.Attr {
	return slog.Int(KeyPort, port)
}

func Pool(name string) slog.Attr {
	return slog.String(KeyPool, name)
}

func Instance(i int) slog.Attr {
	return slog.Int(KeyInstance, i)
}

func Outcome(tag string) slog.Attr {
	return slog.String(KeyOutcome, tag)
}

func Bytes(n int) slog.Attr {
	return slog.Int(KeyBytes, n)
}

func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns an error attribute; a nil error yields an empty attribute that
// handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
