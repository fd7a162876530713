package logging

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"
)

// TaskLogger implements backlite.Logger. Backlite passes key/value pairs
// after the message.
type TaskLogger struct {
	log *zerolog.Logger
}

func NewTaskLogger(l *zerolog.Logger) *TaskLogger {
	return &TaskLogger{log: l}
}

func (t *TaskLogger) Info(message string, params ...any) {
	t.log.Info().Fields(params).Msg(message)
}

func (t *TaskLogger) Error(message string, params ...any) {
	t.log.Error().Fields(params).Msg(message)
}

type gormWriter struct {
	log *zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Debug().Msg(fmt.Sprintf(format, args...))
}

// GormLogger returns a gorm logger that writes through l at the given gorm
// level. Record-not-found is never logged; it is an expected outcome for
// cache lookups.
func GormLogger(l *zerolog.Logger, level logger.LogLevel) logger.Interface {
	return logger.New(gormWriter{log: l}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// GormLevel maps a zerolog level name to the closest gorm level.
func GormLevel(level string) logger.LogLevel {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return logger.Warn
	}
	switch {
	case lvl <= zerolog.DebugLevel:
		return logger.Info
	case lvl == zerolog.InfoLevel, lvl == zerolog.WarnLevel:
		return logger.Warn
	case lvl == zerolog.Disabled:
		return logger.Silent
	default:
		return logger.Error
	}
}
