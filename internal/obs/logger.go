package obs

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger.  Development environments get the
// human-readable console writer; everything else writes JSON lines.
func NewLogger(service, level, env string) zerolog.Logger {
	return newLogger(os.Stdout, service, level, env)
}

func newLogger(w io.Writer, service, level, env string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", service).Logger()
}
