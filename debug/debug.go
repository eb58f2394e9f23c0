// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go — Cold-path logging helper
//
// Purpose:
//   - Logs infrequent control-plane events without touching the data path:
//     init phases, connection admission/eviction, ring fallbacks, counters.
//   - Backed by zerolog writing line-delimited records to stderr.
//
// Notes:
//   - Level honors the LOG_LEVEL environment variable
//     (trace|debug|info|warn|error); default is info.
//   - Keeps the DropMessage/DropError call shape so every call site stays a
//     single line with a tag and a payload.
//
// ⚠️ Never invoke in hot loops — use only for state changes and diagnostics.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import (
	"os"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	lvl := zerolog.InfoLevel
	if s := os.Getenv("LOG_LEVEL"); s != "" {
		if parsed, err := zerolog.ParseLevel(s); err == nil {
			lvl = parsed
		}
	}
	log = zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// DropError logs an error with a short tag. A nil error logs the tag alone,
// which is how periodic warnings without an error value are emitted.
func DropError(tag string, err error) {
	if err != nil {
		log.Error().Str("tag", tag).Err(err).Send()
		return
	}
	log.Error().Str("tag", tag).Send()
}

// DropMessage logs a tagged informational message. Used for cold paths only:
// init phases, topology, admission events, shutdown progress.
func DropMessage(tag, message string) {
	log.Info().Str("tag", tag).Msg(message)
}

// DropDebug logs at debug level; compiled in, filtered out unless LOG_LEVEL
// asks for it.
func DropDebug(tag, message string) {
	log.Debug().Str("tag", tag).Msg(message)
}
