package core

// Logger is the app-wide logging contract. Implementations may forward
// entries to an error tracker in addition to the standard output.
// Extra args may include an error, a context map or the acting user.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
