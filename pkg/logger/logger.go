package logger

import "sync"

// LoggerInstance defines the interface for logging backends.
type LoggerInstance interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

// Logger holds multiple logging backends and dispatches log calls to all of them.
type Logger struct {
	instances []LoggerInstance
}

var (
	mu        sync.RWMutex
	singleton *Logger
)

func getSingleton() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return singleton
}

// Init initializes the global logger with one or more logging backends.
// Calls made before Init are dropped, which keeps library code quiet in tests.
func Init(instances ...LoggerInstance) {
	mu.Lock()
	defer mu.Unlock()
	singleton = &Logger{
		instances: instances,
	}
}

func dispatch(fn func(LoggerInstance)) {
	logger := getSingleton()
	if logger == nil {
		return
	}
	for _, instance := range logger.instances {
		fn(instance)
	}
}

// Log writes a message at the default log level to all configured backends.
func Log(message string, keyvals ...any) {
	dispatch(func(i LoggerInstance) { i.Log(message, keyvals...) })
}

// Info writes a message at INFO level to all configured backends.
func Info(message string, keyvals ...any) {
	dispatch(func(i LoggerInstance) { i.Info(message, keyvals...) })
}

// Warn writes a message at WARN level to all configured backends.
func Warn(message string, keyvals ...any) {
	dispatch(func(i LoggerInstance) { i.Warn(message, keyvals...) })
}

// Error writes a message at ERROR level to all configured backends.
func Error(message string, keyvals ...any) {
	dispatch(func(i LoggerInstance) { i.Error(message, keyvals...) })
}

// Debug writes a message at DEBUG level to all configured backends.
func Debug(message string, keyvals ...any) {
	dispatch(func(i LoggerInstance) { i.Debug(message, keyvals...) })
}

// Fatal writes a message at FATAL level and terminates the program.
func Fatal(message string, keyvals ...any) {
	dispatch(func(i LoggerInstance) { i.Fatal(message, keyvals...) })
}

// Component is a logger that prefixes every call with a "component" key.
// Pipeline stages hold one so their lines can be filtered per stage.
type Component struct {
	name string
	base []any
}

// For returns a Component logger for the named stage with optional fixed keyvals.
func For(name string, keyvals ...any) Component {
	return Component{name: name, base: keyvals}
}

// With returns a copy of c with extra fixed keyvals appended.
func (c Component) With(keyvals ...any) Component {
	base := make([]any, 0, len(c.base)+len(keyvals))
	base = append(base, c.base...)
	base = append(base, keyvals...)
	return Component{name: c.name, base: base}
}

func (c Component) kv(keyvals []any) []any {
	out := make([]any, 0, 2+len(c.base)+len(keyvals))
	out = append(out, "component", c.name)
	out = append(out, c.base...)
	return append(out, keyvals...)
}

func (c Component) Debug(message string, keyvals ...any) { Debug(message, c.kv(keyvals)...) }
func (c Component) Info(message string, keyvals ...any)  { Info(message, c.kv(keyvals)...) }
func (c Component) Warn(message string, keyvals ...any)  { Warn(message, c.kv(keyvals)...) }
func (c Component) Error(message string, keyvals ...any) { Error(message, c.kv(keyvals)...) }
