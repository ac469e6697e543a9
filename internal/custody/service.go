// Package custody is the service facade over the ledger, role registry and
// transfer gate. Each exported mutating method is one atomic unit of work
// against the store: its checks, writes and audit events commit together or
// not at all.
package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/emperorhan/rwa-custody/internal/alert"
	"github.com/emperorhan/rwa-custody/internal/circuitbreaker"
	"github.com/emperorhan/rwa-custody/internal/domain"
	"github.com/emperorhan/rwa-custody/internal/domain/event"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/gatekeeper"
	"github.com/emperorhan/rwa-custody/internal/ledger"
	"github.com/emperorhan/rwa-custody/internal/metrics"
	"github.com/emperorhan/rwa-custody/internal/rbac"
	"github.com/emperorhan/rwa-custody/internal/store"
	"github.com/emperorhan/rwa-custody/internal/tracing"
)

type Service struct {
	programs model.Programs
	store    store.Store
	ledger   *ledger.Ledger
	roles    *rbac.Registry
	gate     *gatekeeper.Gatekeeper

	publisher store.EventPublisher
	breaker   *circuitbreaker.Breaker
	alerter   alert.Alerter

	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*Service)

// WithPublisher forwards committed audit events to p after each commit.
func WithPublisher(p store.EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithAlerter(a alert.Alerter) Option {
	return func(s *Service) { s.alerter = a }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBreaker replaces the default publisher circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(s *Service) { s.breaker = b }
}

func New(programs model.Programs, st store.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		programs: programs,
		store:    st,
		alerter:  &alert.NoopAlerter{},
		logger:   logger.With("component", "custody"),
		tracer:   tracing.Tracer("custody"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			OnStateChange: func(from, to circuitbreaker.State) {
				metrics.PublisherCircuitState.Set(float64(to))
				s.logger.Warn("event publisher circuit changed", "from", from.String(), "to", to.String())
			},
		})
	}

	s.ledger = ledger.New(programs, logger, ledger.WithClock(s.now))
	s.roles = rbac.New(programs, s.now)
	s.gate = gatekeeper.New(programs, s.roles, s.now)
	s.ledger.RegisterHook(s.gate.Program(), s.gate)
	return s
}

// Programs returns the program ids the service derives addresses under.
func (s *Service) Programs() model.Programs { return s.programs }

// unit carries what one invocation produces besides store writes. It is
// rebuilt on every attempt of the unit of work.
type unit struct {
	asset    model.Address
	at       time.Time
	events   []*event.Envelope
	alerts   []alert.Alert
	onCommit []func()
}

func (u *unit) emit(ev event.Event) error {
	env, err := event.NewEnvelope(u.asset, ev, u.at)
	if err != nil {
		return err
	}
	u.events = append(u.events, &env)
	return nil
}

func (u *unit) alert(a alert.Alert) {
	a.Asset = u.asset.String()
	u.alerts = append(u.alerts, a)
}

func (u *unit) after(fn func()) { u.onCommit = append(u.onCommit, fn) }

func (u *unit) timestamp() int64 { return u.at.Unix() }

type opFunc func(ctx context.Context, tx store.Tx, u *unit) error

// run executes fn as one unit of work for asset, appends its events to the
// audit log inside the same transaction, and after commit publishes the events
// and raises alerts. Committed envelopes are returned with sequence numbers.
func (s *Service) run(ctx context.Context, op string, asset, caller model.Address, fn opFunc) ([]event.Envelope, error) {
	ctx, span := s.tracer.Start(ctx, "custody."+op, trace.WithAttributes(
		attribute.String("asset", asset.String()),
		attribute.String("caller", caller.String()),
	))
	start := time.Now()

	var u *unit
	err := s.store.Execute(ctx, asset, func(ctx context.Context, tx store.Tx) error {
		u = &unit{asset: asset, at: s.now().UTC()}
		if err := fn(ctx, tx, u); err != nil {
			return err
		}
		for _, env := range u.events {
			if err := tx.AppendEvent(ctx, env); err != nil {
				return fmt.Errorf("append %s: %w", env.Type, err)
			}
		}
		return nil
	})

	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = domain.KindOf(err)
	}
	metrics.OperationsTotal.WithLabelValues(op, result).Inc()
	tracing.End(span, err, attribute.String("result", result))

	if err != nil {
		level := slog.LevelWarn
		if result == "Internal" {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "operation rejected",
			"operation", op,
			"asset", asset.String(),
			"caller", caller.String(),
			"kind", result,
			"error", err,
		)
		return nil, err
	}

	committed := make([]event.Envelope, 0, len(u.events))
	for _, env := range u.events {
		committed = append(committed, *env)
	}
	s.logger.Info("operation committed",
		"operation", op,
		"asset", asset.String(),
		"caller", caller.String(),
		"events", len(committed),
	)

	for _, fn := range u.onCommit {
		fn()
	}
	s.publish(ctx, committed)
	s.notify(ctx, u.alerts)
	return committed, nil
}

// publish forwards committed envelopes to the stream. Failures never affect
// the operation outcome: the audit log in the store is authoritative and
// consumers can catch up from it.
func (s *Service) publish(ctx context.Context, envs []event.Envelope) {
	if s.publisher == nil {
		return
	}
	for _, env := range envs {
		err := s.breaker.Do(func() error { return s.publisher.Publish(ctx, env) })
		switch {
		case err == nil:
			metrics.EventsPublishedTotal.WithLabelValues("ok").Inc()
		case errors.Is(err, circuitbreaker.ErrCircuitOpen):
			metrics.EventsPublishedTotal.WithLabelValues("circuit_open").Inc()
			s.logger.Debug("event publish skipped, circuit open", "sequence", env.Sequence, "type", env.Type)
		default:
			metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
			s.logger.Warn("event publish failed", "sequence", env.Sequence, "type", env.Type, "error", err)
			if s.breaker.GetState() == circuitbreaker.StateOpen {
				s.notify(ctx, []alert.Alert{{
					Type:    alert.AlertTypeStreamDegraded,
					Asset:   env.Asset.String(),
					Title:   "Audit event stream unavailable",
					Message: fmt.Sprintf("publishing paused after repeated failures: %v", err),
					Fields:  map[string]string{"last_sequence": fmt.Sprint(env.Sequence)},
				}})
			}
		}
	}
}

func (s *Service) notify(ctx context.Context, alerts []alert.Alert) {
	for _, a := range alerts {
		if err := s.alerter.Send(ctx, a); err != nil {
			s.logger.Warn("alert delivery failed", "type", a.Type, "asset", a.Asset, "error", err)
		}
	}
}

// config loads the custody config or fails with NotFound for an asset that
// was never initialized.
func config(ctx context.Context, tx store.Tx, asset model.Address) (*model.CustodyConfig, error) {
	cfg, err := tx.GetCustodyConfig(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", asset, err)
	}
	return cfg, nil
}

func requireAdmin(cfg *model.CustodyConfig, caller model.Address) error {
	if caller != cfg.Admin {
		return fmt.Errorf("%s is not the admin: %w", caller, domain.ErrUnauthorized)
	}
	return nil
}

func requireActive(cfg *model.CustodyConfig) error {
	if cfg.Paused {
		return fmt.Errorf("asset %s: %w", cfg.Asset, domain.ErrContractPaused)
	}
	return nil
}

// noBalance maps a missing holder account to InsufficientBalance: an address
// that never held the asset has a balance of zero.
func noBalance(err error, owner model.Address) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%s holds nothing: %w", owner, domain.ErrInsufficientBalance)
	}
	return err
}
