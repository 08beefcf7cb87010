package obs

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ZerologLogger adapts the package-level zerolog logger to the Logger
// interface used across docstore/vectorengine/aiclient/hub.
type ZerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger wraps the given zerolog.Logger. Passing the zero value
// uses the global logger configured by observability.InitLogger.
func NewZerologLogger(l *zerolog.Logger) *ZerologLogger {
	if l == nil {
		return &ZerologLogger{l: log.Logger}
	}
	return &ZerologLogger{l: *l}
}

func (z *ZerologLogger) event(e *zerolog.Event, msg string, fields map[string]any) {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

func (z *ZerologLogger) Info(msg string, fields map[string]any)  { z.event(z.l.Info(), msg, fields) }
func (z *ZerologLogger) Error(msg string, fields map[string]any) { z.event(z.l.Error(), msg, fields) }
func (z *ZerologLogger) Debug(msg string, fields map[string]any) { z.event(z.l.Debug(), msg, fields) }
func (z *ZerologLogger) Warn(msg string, fields map[string]any)  { z.event(z.l.Warn(), msg, fields) }
