package emit

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogEmitter implements Emitter by writing each event as a structured zap
// log entry.
//
// node_error events are logged at error level, node_start at debug level and
// everything else at info level. Meta entries become individual fields.
//
// Example output (JSON encoder):
//
//	{"level":"info","ts":"...","msg":"node_end","run_id":"run-001","step":1,"node_id":"architect","duration_ms":812}
type LogEmitter struct {
	logger *zap.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger discards all events.
func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger}
}

// Emit writes the event to the logger.
func (l *LogEmitter) Emit(event Event) {
	level := zapcore.InfoLevel
	switch event.Msg {
	case "node_error":
		level = zapcore.ErrorLevel
	case "node_start":
		level = zapcore.DebugLevel
	}

	ce := l.logger.Check(level, event.Msg)
	if ce == nil {
		return
	}

	fields := make([]zap.Field, 0, 3+len(event.Meta))
	fields = append(fields,
		zap.String("run_id", event.RunID),
		zap.Int("step", event.Step),
		zap.String("node_id", event.NodeID),
	)
	for k, v := range event.Meta {
		fields = append(fields, zap.Any(k, v))
	}
	ce.Write(fields...)
}
