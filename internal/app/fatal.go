package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// EngineHealth is the liveness signal of the media engine worker.
type EngineHealth interface {
	Died() <-chan struct{}
	Err() error
}

// ExitOnEngineDeath blocks until the engine dies or ctx is done. A dead engine
// cannot be replaced under live routers, so the process exits after grace and
// leaves the restart to its supervisor.
func ExitOnEngineDeath(ctx context.Context, engine EngineHealth, grace time.Duration, exit func(code int)) {
	select {
	case <-ctx.Done():
		return
	case <-engine.Died():
	}
	log.Error().Str("module", "app.fatal").Err(engine.Err()).Dur("grace", grace).Msg("media engine died, exiting")

	t := time.NewTimer(grace)
	defer t.Stop()
	<-t.C
	exit(1)
}
