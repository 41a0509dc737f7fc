// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes an optional rotating log file.
type FileConfig struct {
	Path       string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Setup configures the global logger from a verbosity count.
// 0 logs warnings, 1 info, 2 debug, 3 and above trace.
func Setup(verbosity int, file FileConfig) {
	zerolog.SetGlobalLevel(LevelFor(verbosity))

	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
	}}

	var fileErr error
	if file.Path != "" {
		if fileErr = os.MkdirAll(filepath.Dir(file.Path), 0o755); fileErr == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   file.Path,
				MaxSize:    file.MaxSize,
				MaxBackups: file.MaxBackups,
				MaxAge:     file.MaxAge,
				Compress:   file.Compress,
			})
		}
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	if verbosity >= 2 {
		log.Logger = log.Logger.With().Caller().Logger()
	}

	if fileErr != nil {
		log.Warn().Err(fileErr).Str("path", file.Path).Msg("Failed to create log directory, logging to console only")
	}
	log.Debug().Int("verbosity", verbosity).Str("logFile", file.Path).Msg("Logger initialized")
}

// LevelFor maps a verbosity count to a zerolog level.
func LevelFor(verbosity int) zerolog.Level {
	switch {
	case verbosity <= 0:
		return zerolog.WarnLevel
	case verbosity == 1:
		return zerolog.InfoLevel
	case verbosity == 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// GetLogger returns a logger tagged with the given component name.
func GetLogger(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
