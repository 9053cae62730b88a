package v1

import (
	"bytes"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Logger is a thin wrapper around zerolog providing the printf style helpers
// the rest of the codebase expects. The embedded zerolog.Logger is exported so
// callers can use the structured API directly when they need fields.
type Logger struct {
	zerolog.Logger
}

func levelFromConfig() zerolog.Level {
	if viper.GetBool("debug") {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// NewLogger returns a console logger writing to stderr. Log level honors the
// global debug flag.
func NewLogger() Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr}
	return Logger{zerolog.New(w).With().Timestamp().Logger().Level(levelFromConfig())}
}

// NewWriterLogger returns a logger writing to the given writers. Used to
// duplicate operator facing output into the session log file.
func NewWriterLogger(writers ...io.Writer) Logger {
	return Logger{zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger().Level(levelFromConfig())}
}

// NewBufferLogger returns a logger writing into the given buffer, used in tests.
func NewBufferLogger(b *bytes.Buffer) Logger {
	return Logger{zerolog.New(b).With().Timestamp().Logger()}
}

// NewNullLogger returns a logger that discards everything.
func NewNullLogger() Logger {
	return Logger{zerolog.New(io.Discard)}
}

func (l *Logger) SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return
	}
	l.Logger = l.Logger.Level(lvl)
}

func (l Logger) Infof(tpl string, args ...interface{})  { l.Logger.Info().Msgf(tpl, args...) }
func (l Logger) Info(msg string)                        { l.Logger.Info().Msg(msg) }
func (l Logger) Debugf(tpl string, args ...interface{}) { l.Logger.Debug().Msgf(tpl, args...) }
func (l Logger) Debug(msg string)                       { l.Logger.Debug().Msg(msg) }
func (l Logger) Warnf(tpl string, args ...interface{})  { l.Logger.Warn().Msgf(tpl, args...) }
func (l Logger) Warn(msg string)                        { l.Logger.Warn().Msg(msg) }
func (l Logger) Errorf(tpl string, args ...interface{}) { l.Logger.Error().Msgf(tpl, args...) }
func (l Logger) Error(msg string)                       { l.Logger.Error().Msg(msg) }
