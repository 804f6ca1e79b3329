package logging

import "github.com/rs/zerolog"

// NewZerologHandler adapts a zerolog.Logger into a logging.Handler, so
// callers get structured, leveled JSON logs out of the box while the
// engines themselves stay coupled only to the Logger/Entry contract above.
func NewZerologHandler(z zerolog.Logger) Handler {
	return func(e Entry) {
		var ev *zerolog.Event
		switch e.Level {
		case DEBUG:
			ev = z.Debug()
		case INFO:
			ev = z.Info()
		case ERROR:
			ev = z.Error()
		default:
			return
		}
		for k, v := range e.Fields {
			ev = ev.Interface(k, v)
		}
		ev.Msg(e.Message)
	}
}
