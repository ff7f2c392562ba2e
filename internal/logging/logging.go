package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger: JSON lines in prod, console output elsewhere.
// Unknown levels fall back to info.
func New(w io.Writer, env string, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	invalid := err != nil || level == ""
	if invalid {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	switch env {
	case "prod":
		zerolog.TimeFieldFormat = time.RFC3339Nano
		logger = zerolog.New(w)
	default:
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen})
	}
	logger = logger.Level(lvl).With().Timestamp().Logger()

	if invalid && level != "" {
		logger.Warn().Str("value", level).Msg("invalid log level, using info")
	}
	return logger
}
