package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger derives a logger tagged with the component name and, when
// set, the engine session id.
func ComponentLogger(component, session string) zerolog.Logger {
	ctx := log.Logger.With().Str("component", component)
	if session != "" {
		ctx = ctx.Str("session", session)
	}
	return ctx.Logger()
}
