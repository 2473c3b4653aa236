package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lead-ledger/config"
	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"
	"lead-ledger/pkg/apperror"
	"lead-ledger/pkg/metrics"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// AuditSummary counts the outcome of one reconcile run.
type AuditSummary struct {
	Checked    int           `json:"checked"`
	Consistent int           `json:"consistent"`
	Repaired   int           `json:"repaired"`
	Mismatched int           `json:"mismatched"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

// ReconcileAuditor periodically reconciles every wallet as the system actor.
type ReconcileAuditor struct {
	ledger      ports.LedgerService
	walletRepo  ports.WalletRepository
	schedule    string
	concurrency int
	cron        *cron.Cron
	log         zerolog.Logger
	metrics     *metrics.Metrics

	// running guards against overlapping runs when a run outlasts the schedule.
	running sync.Mutex
}

func NewReconcileAuditor(
	ledger ports.LedgerService,
	walletRepo ports.WalletRepository,
	cfg config.ReconcileConfig,
	log zerolog.Logger,
	m *metrics.Metrics,
) *ReconcileAuditor {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &ReconcileAuditor{
		ledger:      ledger,
		walletRepo:  walletRepo,
		schedule:    cfg.Schedule,
		concurrency: concurrency,
		cron:        cron.New(),
		log:         log,
		metrics:     m,
	}
}

// Start registers the audit job and starts the scheduler.
func (a *ReconcileAuditor) Start() error {
	_, err := a.cron.AddFunc(a.schedule, func() {
		if _, err := a.RunOnce(context.Background()); err != nil {
			a.log.Error().Err(err).Msg("reconcile audit failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconcile audit %q: %w", a.schedule, err)
	}
	a.cron.Start()
	a.log.Info().Str("schedule", a.schedule).Int("concurrency", a.concurrency).Msg("reconcile auditor started")
	return nil
}

// Stop halts the scheduler. The returned context is done once a running audit finishes.
func (a *ReconcileAuditor) Stop() context.Context {
	return a.cron.Stop()
}

// RunOnce reconciles every wallet. Failures on one wallet do not stop the others.
func (a *ReconcileAuditor) RunOnce(ctx context.Context) (AuditSummary, error) {
	if !a.running.TryLock() {
		a.log.Warn().Msg("reconcile audit already running, skipping")
		return AuditSummary{}, nil
	}
	defer a.running.Unlock()

	start := time.Now()
	ids, err := a.walletRepo.ListIDs(ctx)
	if err != nil {
		return AuditSummary{}, fmt.Errorf("list wallets: %w", err)
	}

	var (
		mu      sync.Mutex
		summary AuditSummary
	)
	record := func(result string) {
		a.metrics.ReconcileResult(result)
		mu.Lock()
		defer mu.Unlock()
		summary.Checked++
		switch result {
		case "ok":
			summary.Consistent++
		case "repaired":
			summary.Repaired++
		case "mismatch":
			summary.Mismatched++
		default:
			summary.Failed++
		}
	}

	system := domain.SystemActor()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			record(a.reconcileWallet(gctx, system, id))
			return nil
		})
	}
	_ = g.Wait()

	summary.Duration = time.Since(start)
	a.metrics.ObserveReconcileRun(summary.Duration)

	a.log.Info().
		Int("checked", summary.Checked).
		Int("repaired", summary.Repaired).
		Int("mismatched", summary.Mismatched).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("reconcile audit completed")

	return summary, ctx.Err()
}

func (a *ReconcileAuditor) reconcileWallet(ctx context.Context, actor domain.Actor, id uuid.UUID) string {
	result, err := a.ledger.Reconcile(ctx, actor, id)
	switch {
	case apperror.HasCode(err, apperror.CodeReconcileMismatch):
		a.log.Error().Err(err).Str("wallet_id", id.String()).Msg("wallet needs operator attention")
		return "mismatch"
	case err != nil:
		a.log.Warn().Err(err).Str("wallet_id", id.String()).Msg("wallet reconcile failed")
		return "error"
	case result.Repaired:
		return "repaired"
	}
	return "ok"
}
