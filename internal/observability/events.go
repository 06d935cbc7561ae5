package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nedpals/nfcard/nfc"
)

// EventLogger is an nfc.EventSink that logs every read event. Encounter
// boundaries log at info, technology results at debug, and failed
// technologies at warn.
type EventLogger struct {
	logger *zap.Logger
}

func NewEventLogger(logger *zap.Logger) *EventLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventLogger{logger: logger.Named("engine")}
}

func (l *EventLogger) HandleReadEvent(ev nfc.ReadEvent) {
	fields := []zap.Field{
		zap.String("encounter", ev.EncounterID.String()),
		zap.Stringer("uid", ev.TagID),
	}
	if ev.Source != "" {
		fields = append(fields, zap.String("source", ev.Source))
	}

	switch ev.Kind {
	case nfc.EventEncounterStarted:
		fields = append(fields, zap.Stringer("technologies", ev.Technologies))
		l.logger.Info("Encounter started", fields...)
	case nfc.EventTechnologyRead:
		fields = append(fields,
			zap.Stringer("technology", ev.Technology),
			zap.Duration("duration", ev.Duration),
		)
		if ev.Result.OK() {
			fields = append(fields, zap.Stringer("payload", ev.Result.Payload))
			l.logger.Debug("Technology read", fields...)
			return
		}
		fields = append(fields, zap.Stringer("reason", ev.Result.Reason()))
		if ev.Result.Failure != nil && ev.Result.Failure.Err != nil {
			fields = append(fields, zap.Error(ev.Result.Failure.Err))
		}
		l.logger.Warn("Technology read failed", fields...)
	case nfc.EventEncounterComplete:
		fields = append(fields, zap.Duration("duration", ev.Duration))
		if ev.Report != nil {
			fields = append(fields,
				zap.Int("entries", ev.Report.Len()),
				zap.Int("failures", ev.Report.Failures()),
			)
		}
		l.logger.Info("Encounter complete", fields...)
	}
}

// LogReport writes a finished report at info level, one line per entry.
func LogReport(logger *zap.Logger, report *nfc.TagReport) {
	if report == nil {
		return
	}
	base := []zap.Field{
		zap.String("encounter", report.EncounterID.String()),
		zap.Stringer("uid", report.TagID),
	}
	logger.Info("Tag report", append(base, zap.String("summary", report.Summary()))...)
	for _, e := range report.Entries() {
		fields := append(append([]zap.Field(nil), base...), zap.Stringer("technology", e.Technology))
		level := zapcore.InfoLevel
		if e.Result.OK() {
			fields = append(fields, zap.Stringer("payload", e.Result.Payload))
		} else {
			level = zapcore.WarnLevel
			fields = append(fields, zap.Stringer("reason", e.Result.Reason()))
		}
		if ce := logger.Check(level, "Report entry"); ce != nil {
			ce.Write(fields...)
		}
	}
}
