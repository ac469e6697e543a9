package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/emperorhan/rwa-custody/internal/domain/event"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/store"
)

const defaultRelayBatch = 256

// EventRelay copies the audit log of each asset onto a stream in sequence
// order. Progress is kept as a per-asset checkpoint on the transport, so an
// event that failed to go out is retried by the next sweep. Delivery is
// at-least-once; consumers dedupe on the envelope id.
type EventRelay struct {
	transport MessageTransport
	store     store.Store
	stream    string
	batch     int
	logger    *slog.Logger

	sweepMu sync.Mutex

	mu     sync.Mutex
	assets map[model.Address]struct{}
}

var _ store.EventPublisher = (*EventRelay)(nil)

func NewEventRelay(transport MessageTransport, st store.Store, stream string, logger *slog.Logger, assets ...model.Address) *EventRelay {
	r := &EventRelay{
		transport: transport,
		store:     st,
		stream:    stream,
		batch:     defaultRelayBatch,
		logger:    logger.With("component", "event_relay", "stream", stream),
		assets:    make(map[model.Address]struct{}),
	}
	for _, a := range assets {
		r.assets[a] = struct{}{}
	}
	return r
}

// Publish catches the stream up to env for env's asset.
func (r *EventRelay) Publish(ctx context.Context, env event.Envelope) error {
	r.track(env.Asset)
	return r.Sweep(ctx, env.Asset)
}

// CheckpointKey is where the last relayed sequence of asset is kept.
func (r *EventRelay) CheckpointKey(asset model.Address) string {
	return r.stream + ":checkpoint:" + asset.String()
}

// Sweep publishes every event of asset past its checkpoint.
func (r *EventRelay) Sweep(ctx context.Context, asset model.Address) error {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	key := r.CheckpointKey(asset)
	raw, err := r.transport.LoadStreamCheckpoint(ctx, key)
	if err != nil {
		return err
	}
	after, err := parseStreamOffset(raw)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", key, err)
	}

	for {
		var envs []event.Envelope
		err := r.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			envs, err = tx.ListEvents(ctx, asset, after, r.batch)
			return err
		})
		if err != nil {
			return fmt.Errorf("list events after %d: %w", after, err)
		}

		for _, env := range envs {
			if _, err := r.transport.PublishJSON(ctx, r.stream, env); err != nil {
				return fmt.Errorf("publish sequence %d: %w", env.Sequence, err)
			}
			after = env.Sequence
			if err := r.transport.PersistStreamCheckpoint(ctx, key, strconv.FormatInt(after, 10)); err != nil {
				return err
			}
		}
		if len(envs) < r.batch {
			return nil
		}
	}
}

// Run sweeps every known asset on each tick until ctx is done.
func (r *EventRelay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, asset := range r.trackedAssets() {
				if err := r.Sweep(ctx, asset); err != nil && ctx.Err() == nil {
					r.logger.Warn("relay sweep failed", "asset", asset.String(), "error", err)
				}
			}
		}
	}
}

func (r *EventRelay) track(asset model.Address) {
	r.mu.Lock()
	r.assets[asset] = struct{}{}
	r.mu.Unlock()
}

func (r *EventRelay) trackedAssets() []model.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Address, 0, len(r.assets))
	for a := range r.assets {
		out = append(out, a)
	}
	return out
}
