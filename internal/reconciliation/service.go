// Package reconciliation cross-checks the ledger's running totals against
// the rows they summarize.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/emperorhan/rwa-custody/internal/alert"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/metrics"
	"github.com/emperorhan/rwa-custody/internal/store"
)

// Check names the invariant a snapshot covers.
type Check string

const (
	// CheckSupply compares mint supply with the sum of holder balances and
	// withheld fees.
	CheckSupply Check = "supply"
	// CheckEscrow compares a holder's escrowed total with its open
	// redemption requests.
	CheckEscrow Check = "escrow"
)

// SnapshotResult is one compared pair of totals.
type SnapshotResult struct {
	Check      Check         `json:"check"`
	Asset      model.Address `json:"asset"`
	Owner      string        `json:"owner,omitempty"`
	Recorded   string        `json:"recorded"`
	Computed   string        `json:"computed"`
	Difference string        `json:"difference"`
	IsMatch    bool          `json:"is_match"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// RunResult aggregates one reconciliation pass over an asset.
type RunResult struct {
	Asset      model.Address    `json:"asset"`
	Total      int              `json:"total"`
	Matched    int              `json:"matched"`
	Mismatched int              `json:"mismatched"`
	Snapshots  []SnapshotResult `json:"snapshots"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

func (r *RunResult) add(snap SnapshotResult) {
	r.Snapshots = append(r.Snapshots, snap)
	r.Total++
	if snap.IsMatch {
		r.Matched++
	} else {
		r.Mismatched++
	}
}

// Service reads a consistent view of the store and reports every total that
// disagrees with its parts. It never writes.
type Service struct {
	store   store.Store
	alerter alert.Alerter
	logger  *slog.Logger
	nowFunc func() time.Time
}

func NewService(st store.Store, alerter alert.Alerter, logger *slog.Logger) *Service {
	return &Service{
		store:   st,
		alerter: alerter,
		logger:  logger.With("component", "reconciliation"),
		nowFunc: time.Now,
	}
}

// Reconcile checks one asset. An asset that was never initialized surfaces
// the store's not-found error.
func (s *Service) Reconcile(ctx context.Context, asset model.Address) (*RunResult, error) {
	result := &RunResult{Asset: asset, StartedAt: s.nowFunc()}

	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := tx.GetMint(ctx, asset)
		if err != nil {
			return fmt.Errorf("get mint: %w", err)
		}
		accounts, err := tx.ListHolderAccounts(ctx, asset)
		if err != nil {
			return err
		}
		requests, err := tx.ListRedemptionRequests(ctx, asset, model.RedemptionFilter{})
		if err != nil {
			return err
		}

		now := s.nowFunc()
		held := new(big.Int)
		for _, a := range accounts {
			held.Add(held, new(big.Int).SetUint64(a.Amount))
			held.Add(held, new(big.Int).SetUint64(a.WithheldFees))
		}
		result.add(compare(CheckSupply, asset, "", new(big.Int).SetUint64(m.Supply), held, now))

		open := make(map[model.Address]*big.Int)
		for _, r := range requests {
			if r.Status.Terminal() {
				continue
			}
			sum, ok := open[r.Requester]
			if !ok {
				sum = new(big.Int)
				open[r.Requester] = sum
			}
			sum.Add(sum, new(big.Int).SetUint64(r.Amount))
		}
		for _, a := range accounts {
			sum, ok := open[a.Owner]
			if !ok {
				sum = new(big.Int)
			}
			delete(open, a.Owner)
			result.add(compare(CheckEscrow, asset, a.Owner.String(), new(big.Int).SetUint64(a.Escrowed), sum, now))
		}
		// Open requests whose requester has no account at all.
		for owner, sum := range open {
			result.add(compare(CheckEscrow, asset, owner.String(), new(big.Int), sum, now))
		}
		return nil
	})
	if err != nil {
		metrics.ReconciliationErrorsTotal.WithLabelValues(asset.String()).Inc()
		return nil, fmt.Errorf("reconcile %s: %w", asset, err)
	}
	result.FinishedAt = s.nowFunc()

	metrics.ReconciliationRunsTotal.WithLabelValues(asset.String()).Inc()
	if result.Mismatched > 0 {
		metrics.ReconciliationMismatchesTotal.WithLabelValues(asset.String()).Add(float64(result.Mismatched))
		s.sendAlert(ctx, result)
	}

	s.logger.Info("reconciliation completed",
		"asset", asset,
		"total", result.Total, "matched", result.Matched,
		"mismatched", result.Mismatched,
	)
	return result, nil
}

func compare(check Check, asset model.Address, owner string, recorded, computed *big.Int, at time.Time) SnapshotResult {
	diff := new(big.Int).Sub(recorded, computed)
	return SnapshotResult{
		Check:      check,
		Asset:      asset,
		Owner:      owner,
		Recorded:   recorded.String(),
		Computed:   computed.String(),
		Difference: diff.String(),
		IsMatch:    diff.Sign() == 0,
		CheckedAt:  at,
	}
}

func (s *Service) sendAlert(ctx context.Context, result *RunResult) {
	if s.alerter == nil {
		return
	}
	checks := make(map[Check]int)
	for _, snap := range result.Snapshots {
		if !snap.IsMatch {
			checks[snap.Check]++
		}
	}
	err := s.alerter.Send(ctx, alert.Alert{
		Type:    alert.AlertTypeReconcileMismatch,
		Asset:   result.Asset.String(),
		Title:   "Ledger reconciliation mismatch detected",
		Message: fmt.Sprintf("%d/%d checks disagree", result.Mismatched, result.Total),
		Fields: map[string]string{
			"supply_mismatches": fmt.Sprintf("%d", checks[CheckSupply]),
			"escrow_mismatches": fmt.Sprintf("%d", checks[CheckEscrow]),
		},
	})
	if err != nil {
		s.logger.Warn("reconciliation alert failed", "asset", result.Asset, "error", err)
	}
}

// ReconcileAll checks every initialized asset. A failing asset is logged and
// skipped so one broken asset does not hide the others.
func (s *Service) ReconcileAll(ctx context.Context) ([]*RunResult, error) {
	var assets []model.Address
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		assets, err = tx.ListAssets(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}

	results := make([]*RunResult, 0, len(assets))
	for _, asset := range assets {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, err := s.Reconcile(ctx, asset)
		if err != nil {
			s.logger.Warn("asset reconciliation failed", "asset", asset, "error", err)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// RunPeriodic reconciles every asset at the given interval until ctx is
// cancelled.
func (s *Service) RunPeriodic(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}

	s.logger.Info("periodic reconciliation started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("periodic reconciliation stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.ReconcileAll(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("periodic reconciliation failed", "error", err)
			}
		}
	}
}
