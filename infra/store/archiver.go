package store

import (
	"context"

	"github.com/emsgo/dispatch/core/events"
	"github.com/emsgo/dispatch/core/logger"
	"github.com/emsgo/dispatch/core/model"
	"github.com/emsgo/dispatch/core/relay"
)

// Archiver drains the dispatch-center event stream into the Archive. It runs
// as a background consumer so archiving never sits on the ingestion path; a
// saturated archiver sheds events like any other relay subscriber.
type Archiver struct {
	archive *Archive
	relay   *relay.Relay
	log     logger.Logger
}

// NewArchiver creates an Archiver writing to archive.
func NewArchiver(archive *Archive, rel *relay.Relay, log logger.Logger) *Archiver {
	return &Archiver{archive: archive, relay: rel, log: log}
}

// Run consumes events until the context is canceled or the bus closes.
func (a *Archiver) Run(ctx context.Context) {
	sub := a.relay.Subscribe(relay.TopicDispatchCenter)
	defer a.relay.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			env, ok := msg.(relay.Envelope)
			if !ok {
				continue
			}
			a.persist(ctx, env)
		}
	}
}

func (a *Archiver) persist(ctx context.Context, env relay.Envelope) {
	var err error
	switch p := env.Payload.(type) {
	case events.DispatchStatusChanged:
		err = a.archive.AppendStatusChange(ctx, p)
	case events.LocationUpdate:
		err = a.archive.AppendSample(ctx, model.TrackingSample{
			VehicleID:  p.VehicleID,
			DispatchID: p.DispatchID,
			Position:   p.Position,
			SpeedKmh:   p.SpeedKmh,
			HeadingDeg: p.HeadingDeg,
			Timestamp:  p.Timestamp,
		})
	default:
	}
	if err != nil && a.log != nil {
		a.log.Errorf("archiver: persist %s failed: %v", env.Type, err)
	}
}
