package registry

import (
	"context"
	"log"

	"github.com/marketcalls/openalgo-sub002/internal/model"
)

// EventSource delivers refresh events published by other processes.
type EventSource interface {
	Subscribe(ctx context.Context, handle func(context.Context, model.RefreshEvent)) error
}

// Follow reloads the facade whenever another process announces a refresh
// of the shared store. Events from origin are skipped. Blocks until ctx is
// cancelled or the subscription fails.
func Follow(ctx context.Context, src EventSource, f *Facade, origin string) error {
	return src.Subscribe(ctx, func(ctx context.Context, ev model.RefreshEvent) {
		if ev.Origin != "" && ev.Origin == origin {
			return
		}
		st, err := f.Reload(ctx)
		if err != nil {
			log.Printf("[registry] reload after %s refresh %s failed: %v", ev.Broker, ev.RunID, err)
			return
		}
		log.Printf("[registry] reloaded after %s refresh %s from %s: generation %d, %d instruments",
			ev.Broker, ev.RunID, ev.Origin, st.Generation, st.TotalInstruments)
	})
}
