package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TagApp adds an app field to every event of the global logger. Call it
// after logging is configured.
func TagApp(app string) zerolog.Logger {
	log.Logger = log.Logger.With().Str("app", app).Logger()
	return log.Logger
}
