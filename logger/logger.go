package logger

// Logger is the structured logging surface the engine writes to.
// keyvals alternate key, value; a trailing odd key is ignored.
type Logger interface {
	Error(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}
