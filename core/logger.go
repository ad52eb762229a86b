package core

// Logger is implemented by the services that ship application logs.
// expected args: error, map[string]interface{}, session identity values
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
