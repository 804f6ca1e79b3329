package logging

// Level describes the chosen log level.
type Level int

const (
	// NONE means no logging.
	NONE Level = iota
	// DEBUG turns on debug logs - its generally too much for production in normal
	// conditions but can help when developing and investigating problems in production.
	DEBUG
	// INFO logs useful operational information without implying anything is
	// actually broken.
	INFO
	// ERROR level logs only failures that mean a layer isn't working and
	// likely need operator attention to recover from.
	ERROR
)

// levelToString has matches between Level and its string representation.
var levelToString = map[Level]string{
	NONE:  "none",
	DEBUG: "debug",
	INFO:  "info",
	ERROR: "error",
}

// StringToLevel ...
var StringToLevel = map[string]Level{
	"none":  NONE,
	"debug": DEBUG,
	"info":  INFO,
	"error": ERROR,
}

// LevelString transforms Level to its string representation.
func LevelString(l Level) string {
	if t, ok := levelToString[l]; ok {
		return t
	}
	return ""
}

// Entry represents log entry.
type Entry struct {
	Level   Level
	Message string
	Fields  map[string]interface{}
}

// NewEntry helps to create Entry.
func NewEntry(level Level, message string, fields ...map[string]interface{}) Entry {
	var f map[string]interface{}
	if len(fields) > 0 {
		f = fields[0]
	}
	return Entry{
		Level:   level,
		Message: message,
		Fields:  f,
	}
}

// Logger can log entries.
type Logger interface {
	Log(entry Entry)
	Enabled(Level) bool
}

// Handler handles log entries in whatever way it wants.
type Handler func(Entry)

// New creates Logger instance with selected Level and Handler.
func New(level Level, handler Handler) *HandlerLogger {
	return &HandlerLogger{
		level:   level,
		handler: handler,
	}
}

// HandlerLogger calls provided Handler func when Entry received.
type HandlerLogger struct {
	level   Level
	handler Handler
}

// Log calls log handler with provided Entry.
func (l *HandlerLogger) Log(entry Entry) {
	if l == nil {
		return
	}
	if l.level != NONE && entry.Level >= l.level && l.handler != nil {
		l.handler(entry)
	}
}

// Enabled reports whether entries of the given level would be logged.
func (l *HandlerLogger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return l.level != NONE && level >= l.level
}